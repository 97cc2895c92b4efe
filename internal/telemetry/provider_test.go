package telemetry

import (
	"context"
	"testing"
)

func TestLoadSettings(t *testing.T) {
	t.Setenv("VITALS_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("VITALS_OTEL_ENABLED", "false")

	s, err := LoadSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Endpoint != "http://localhost:4318" || s.Enabled {
		t.Errorf("unexpected settings: %+v", s)
	}
}

func TestLoadSettings_EnabledByDefault(t *testing.T) {
	t.Setenv("VITALS_OTEL_ENDPOINT", "")

	s, err := LoadSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Enabled {
		t.Error("expected tracing enabled by default")
	}
}

func TestLoadSettings_BadBool(t *testing.T) {
	t.Setenv("VITALS_OTEL_ENABLED", "maybe")

	if _, err := LoadSettings(); err == nil {
		t.Fatal("expected error for malformed VITALS_OTEL_ENABLED")
	}
}

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("VITALS_OTEL_ENDPOINT", "")
	t.Setenv("VITALS_OTEL_ENABLED", "")

	shutdown, err := Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	shutdown, err := SetupWith(context.Background(), "test-service", Settings{
		Endpoint: "http://localhost:4318",
		Enabled:  false,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so no export actually happens.
	shutdown, err := SetupWith(context.Background(), "test-service", Settings{
		Endpoint: "http://192.0.2.1:4318",
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
