package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization = Bearer x ,tenant=vaults,,=nokey,novalue")
	if len(got) != 2 {
		t.Fatalf("expected 2 headers, got %v", got)
	}
	if got["authorization"] != "Bearer x" || got["tenant"] != "vaults" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", " collector:4318 ")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-key=abc")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")

	cfg := ConfigFromEnv("vaultd", "dev", true, false)
	if cfg.Endpoint != "collector:4318" || cfg.Insecure {
		t.Fatalf("unexpected transport config %+v", cfg)
	}
	if cfg.Headers["x-key"] != "abc" || !cfg.Traces || cfg.Metrics {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestInitDisabled(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
	shutdown, err := Init(context.Background(), Config{ServiceName: "vaultd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
