package logging

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DeBrosOfficial/subchannel/pkg/config"
)

func TestComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, zapcore.DebugLevel)

	logger.ComponentWarn(ComponentRegistry, "Request to remove subscription that was not added",
		zap.String("subscription_id", "s1"))

	out := buf.String()
	if !strings.Contains(out, "[REGISTRY] Request to remove subscription that was not added") {
		t.Fatalf("missing component prefix: %q", out)
	}
	if !strings.Contains(out, `"subscription_id": "s1"`) {
		t.Fatalf("missing structured field: %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Fatalf("writer logger must not emit colors: %q", out)
	}
}

func TestWriterLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, zapcore.WarnLevel)

	logger.ComponentDebug(ComponentTransport, "hidden")
	logger.ComponentInfo(ComponentTransport, "hidden too")
	logger.ComponentError(ComponentTransport, "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("below-level entries were written: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("error entry missing: %q", out)
	}
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{"console", config.LoggingConfig{Level: "info", Format: "console"}, false},
		{"json to file", config.LoggingConfig{Level: "debug", Format: "json", OutputFile: filepath.Join(t.TempDir(), "node.log")}, false},
		{"bad level", config.LoggingConfig{Level: "loud", Format: "console"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewFromConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			logger.ComponentInfo(ComponentNode, "hello")
		})
	}
}

func TestNopLogger(t *testing.T) {
	NewNopLogger().ComponentError(ComponentGeneral, "nothing happens")
}
