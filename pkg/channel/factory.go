package channel

import "context"

// ChannelFactory builds a new delivery channel for a channel name. It must be
// safe to call concurrently for different names and must not have side
// effects beyond allocating the channel.
type ChannelFactory interface {
	NewDeliveryChannel(ctx context.Context, name string) (DeliveryChannel, error)
}

// HandlerFactory optionally builds the message handler attached to a newly
// created channel. None means the transport delivers on its own.
type HandlerFactory interface {
	CreateDeliveryHandler(t ChannelType) (Optional[MessageHandler], error)
}

// ChannelFactoryFunc adapts a function to ChannelFactory.
type ChannelFactoryFunc func(ctx context.Context, name string) (DeliveryChannel, error)

func (f ChannelFactoryFunc) NewDeliveryChannel(ctx context.Context, name string) (DeliveryChannel, error) {
	return f(ctx, name)
}

// HandlerFactoryFunc adapts a function to HandlerFactory.
type HandlerFactoryFunc func(t ChannelType) (Optional[MessageHandler], error)

func (f HandlerFactoryFunc) CreateDeliveryHandler(t ChannelType) (Optional[MessageHandler], error) {
	return f(t)
}

// NoHandlers is a HandlerFactory that never attaches a handler.
var NoHandlers HandlerFactory = HandlerFactoryFunc(func(ChannelType) (Optional[MessageHandler], error) {
	return None[MessageHandler](), nil
})
