package telemetry

import (
	"context"
	"testing"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), "test", "0.0.0", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestExporterOptions(t *testing.T) {
	cases := map[string]int{
		"collector:4318":               2,
		"http://collector:4318":        2,
		"http://collector:4318/traces": 3,
		"https://collector.example":    1,
	}
	for endpoint, want := range cases {
		opts, err := exporterOptions(endpoint)
		if err != nil {
			t.Fatalf("%s: %v", endpoint, err)
		}
		if len(opts) != want {
			t.Fatalf("%s: expected %d options, got %d", endpoint, want, len(opts))
		}
	}
}
