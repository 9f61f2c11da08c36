package node

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	libp2ppubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/encryption"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

// startLibP2P brings up the host and gossipsub router used by the libp2p
// transport, then keeps the configured peers connected in the background.
func (n *Node) startLibP2P(ctx context.Context) error {
	n.logger.ComponentInfo(logging.ComponentLibP2P, "Starting LibP2P host")

	identity, created, err := encryption.LoadOrCreate(n.config.Node.DataDir)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	if created {
		n.logger.ComponentInfo(logging.ComponentLibP2P, "Generated new node identity",
			zap.String("peer_id", identity.PeerID.String()))
	}

	listenAddrs, err := n.config.ParseMultiaddrs()
	if err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(identity.PrivateKey),
		libp2p.Security(noise.ID, noise.New),
		libp2p.DefaultMuxers,
		libp2p.ListenAddrs(listenAddrs...),
	)
	if err != nil {
		return err
	}
	n.host = h

	// The router lives as long as the host, not the start context.
	ps, err := libp2ppubsub.NewGossipSub(context.Background(), h,
		libp2ppubsub.WithPeerExchange(true),
		libp2ppubsub.WithFloodPublish(true),
	)
	if err != nil {
		return fmt.Errorf("failed to create pubsub: %w", err)
	}
	n.pubsub = ps

	peers := parsePeerAddrs(n.config.Node.BootstrapPeers)
	for _, info := range peers {
		n.host.Peerstore().AddAddrs(info.ID, info.Addrs, 24*time.Hour)
	}
	if len(peers) > 0 {
		n.connectToPeers(ctx, peers)

		peerCtx, cancel := context.WithCancel(context.Background())
		n.peerCancel = cancel
		n.peerLoopDone = make(chan struct{})
		go n.peerReconnectionLoop(peerCtx, peers)
	}

	n.logger.ComponentInfo(logging.ComponentLibP2P, "LibP2P host started",
		zap.String("peer_id", h.ID().String()),
		zap.Int("bootstrap_peers", len(peers)))
	return nil
}

func (n *Node) peerReconnectionLoop(ctx context.Context, peers []peer.AddrInfo) {
	defer close(n.peerLoopDone)

	interval := 5 * time.Second
	for {
		wait := 30 * time.Second
		if !n.hasPeerConnections(peers) {
			if n.connectToPeers(ctx, peers) == 0 {
				wait = addJitter(interval)
				interval = calculateNextBackoff(interval)
			} else {
				interval = 5 * time.Second
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connectToPeers dials every peer and returns how many connections succeeded.
func (n *Node) connectToPeers(ctx context.Context, peers []peer.AddrInfo) int {
	connected := 0
	for _, info := range peers {
		if info.ID == n.host.ID() {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := n.host.Connect(dialCtx, info)
		cancel()
		if err != nil {
			n.logger.ComponentDebug(logging.ComponentLibP2P, "Peer dial failed",
				zap.String("peer_id", info.ID.String()),
				zap.Error(err))
			continue
		}
		connected++
	}
	return connected
}

func (n *Node) hasPeerConnections(peers []peer.AddrInfo) bool {
	for _, info := range peers {
		if len(n.host.Network().ConnsToPeer(info.ID)) > 0 {
			return true
		}
	}
	return false
}

// PeerID returns the libp2p peer id, or "" when libp2p is not in use.
func (n *Node) PeerID() string {
	if n.host == nil {
		return ""
	}
	return n.host.ID().String()
}
