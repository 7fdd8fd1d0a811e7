package runtime

import (
	"context"
	"testing"
)

func TestStartMetricsServerDisabledByDefault(t *testing.T) {
	m, srv, err := StartMetricsServer("")
	if err != nil {
		t.Fatalf("StartMetricsServer: %v", err)
	}
	if m != nil || srv != nil {
		t.Fatal("expected nil metrics and server when addr is empty")
	}
}

func TestStartMetricsServerListens(t *testing.T) {
	m, srv, err := StartMetricsServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("StartMetricsServer: %v", err)
	}
	if m == nil || srv == nil {
		t.Fatal("expected a non-nil metrics instance and server")
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
