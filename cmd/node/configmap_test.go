package main

import (
	"testing"

	"github.com/DeBrosOfficial/subchannel/pkg/config"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

func TestMapFlagsAndEnvToConfig(t *testing.T) {
	t.Setenv("SUBCHANNEL_TRANSPORT", "olric")
	t.Setenv("SUBCHANNEL_NODE_ID", "from-env")
	t.Setenv("SUBCHANNEL_DELIVERY_ENABLED", "off")

	cfg := config.DefaultConfig()
	MapFlagsAndEnvToConfig(cfg, NodeFlagValues{
		NodeID:     "from-flag",
		HTTPListen: "127.0.0.1:9090",
	}, logging.NewNopLogger())

	if cfg.Node.ID != "from-flag" {
		t.Fatalf("flag should win over env, got %q", cfg.Node.ID)
	}
	if cfg.Transport.Kind != config.TransportOlric {
		t.Fatalf("env transport not applied, got %q", cfg.Transport.Kind)
	}
	if cfg.Registry.SubscriptionMatchingEnabled {
		t.Fatal("SUBCHANNEL_DELIVERY_ENABLED=off should disable delivery")
	}
	if !cfg.HTTPGateway.Enabled || cfg.HTTPGateway.ListenAddr != "127.0.0.1:9090" {
		t.Fatalf("listen flag not applied: %+v", cfg.HTTPGateway)
	}
}

func TestIsTruthyEnv(t *testing.T) {
	cases := map[string]bool{"1": true, "TRUE": true, " yes ": true, "on": true, "0": false, "": false, "nope": false}
	for v, want := range cases {
		t.Setenv("SUBCHANNEL_TRUTHY", v)
		if got := isTruthyEnv("SUBCHANNEL_TRUTHY"); got != want {
			t.Errorf("isTruthyEnv(%q) = %v, want %v", v, got, want)
		}
	}
}
