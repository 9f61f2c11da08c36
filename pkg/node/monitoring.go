package node

import (
	"context"
	"time"

	"github.com/mackerelio/go-osstat/cpu"
	"github.com/mackerelio/go-osstat/memory"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

// cpuUsagePercent returns the busy share of CPU time between two samples.
func cpuUsagePercent(before, after *cpu.Stats) (float64, bool) {
	if before == nil || after == nil || after.Total <= before.Total {
		return 0, false
	}
	idle := float64(after.Idle - before.Idle)
	total := float64(after.Total - before.Total)
	return (1.0 - idle/total) * 100.0, true
}

func memoryUsagePercent(mem *memory.Stats) (float64, bool) {
	if mem == nil || mem.Total == 0 {
		return 0, false
	}
	return float64(mem.Used) / float64(mem.Total) * 100.0, true
}

// startMonitoring logs node status every interval until Stop.
func (n *Node) startMonitoring(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	n.monitorCancel = cancel
	n.monitorDone = make(chan struct{})
	go n.monitorLoop(ctx, interval)
}

func (n *Node) monitorLoop(ctx context.Context, interval time.Duration) {
	defer close(n.monitorDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prevCPU, _ := cpu.Get()
	lastPeers := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fields := []zap.Field{
			zap.Int("channels", n.registry.Size()),
			zap.Bool("delivery_enabled", n.registry.Enabled()),
		}

		if n.host != nil {
			peers := len(n.host.Network().Peers())
			fields = append(fields, zap.Int("peers", peers))
			if peers != lastPeers {
				if peers == 0 && len(n.config.Node.BootstrapPeers) > 0 {
					n.logger.ComponentWarn(logging.ComponentLibP2P, "Node has no connected peers",
						zap.String("peer_id", n.host.ID().String()))
				} else if lastPeers >= 0 {
					n.logger.ComponentInfo(logging.ComponentLibP2P, "Peer count changed",
						zap.Int("current_peers", peers),
						zap.Int("previous_peers", lastPeers))
				}
				lastPeers = peers
			}
		}

		curCPU, err := cpu.Get()
		if err == nil {
			if pct, ok := cpuUsagePercent(prevCPU, curCPU); ok {
				fields = append(fields, zap.Float64("cpu_usage_percent", pct))
			}
			prevCPU = curCPU
		}
		if mem, err := memory.Get(); err == nil {
			if pct, ok := memoryUsagePercent(mem); ok {
				fields = append(fields, zap.Float64("memory_usage_percent", pct))
			}
		}

		n.logger.ComponentDebug(logging.ComponentNode, "Node status", fields...)
	}
}
