package node

import (
	"math"
	"testing"

	"github.com/mackerelio/go-osstat/cpu"
	"github.com/mackerelio/go-osstat/memory"
)

func TestCPUUsagePercent(t *testing.T) {
	tests := []struct {
		name   string
		before *cpu.Stats
		after  *cpu.Stats
		want   float64
		ok     bool
	}{
		{"half busy", &cpu.Stats{Idle: 100, Total: 200}, &cpu.Stats{Idle: 150, Total: 300}, 50, true},
		{"idle", &cpu.Stats{Idle: 100, Total: 200}, &cpu.Stats{Idle: 200, Total: 300}, 0, true},
		{"no progress", &cpu.Stats{Idle: 100, Total: 200}, &cpu.Stats{Idle: 100, Total: 200}, 0, false},
		{"missing sample", nil, &cpu.Stats{Total: 1}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := cpuUsagePercent(tt.before, tt.after)
			if ok != tt.ok || math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("cpuUsagePercent() = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestMemoryUsagePercent(t *testing.T) {
	if got, ok := memoryUsagePercent(&memory.Stats{Total: 400, Used: 100}); !ok || got != 25 {
		t.Fatalf("memoryUsagePercent() = %v, %v", got, ok)
	}
	if _, ok := memoryUsagePercent(&memory.Stats{}); ok {
		t.Fatal("zero total should not report usage")
	}
}
