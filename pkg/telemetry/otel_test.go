package telemetry

import (
	"context"
	"testing"

	"github.com/leraspizh/crypto-project/pkg/logger"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled ignores fields", Config{}, false},
		{"missing endpoint", Config{Enabled: true, ServiceName: "relay"}, true},
		{"missing service", Config{Enabled: true, Endpoint: "otel:4317"}, true},
		{"bad ratio", Config{Enabled: true, Endpoint: "otel:4317", ServiceName: "relay", SamplerRatio: 2}, true},
		{"ok", Config{Enabled: true, Endpoint: "otel:4317", ServiceName: "relay", SamplerRatio: 0.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	c := Config{SamplerRatio: 3}
	c.applyDefaults()
	if c.SamplerRatio != 1 {
		t.Errorf("SamplerRatio = %v; want 1", c.SamplerRatio)
	}
	if c.Timeout == 0 || c.ReconnectPeriod == 0 {
		t.Error("timeouts not defaulted")
	}
	if c.ServiceVersion != "dev" {
		t.Errorf("ServiceVersion = %q; want dev", c.ServiceVersion)
	}
}

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{}, logger.Nop())
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
