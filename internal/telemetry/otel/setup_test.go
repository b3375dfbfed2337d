package otel

import (
	"context"
	"testing"
)

func TestNewProviders_EmptyEndpointIsNoop(t *testing.T) {
	p, err := NewProviders(context.Background(), "", "sessionguard-test", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if p.TracerProvider == nil || p.MeterProvider == nil || p.LoggerProvider == nil {
		t.Fatal("no-op providers should still be non-nil")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNewProviders_WhitespaceEndpointIsNoop(t *testing.T) {
	p, err := NewProviders(context.Background(), "   ", "sessionguard-test", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	if _, err := NewProviders(context.Background(), "http://", "sessionguard-test", false); err == nil {
		t.Fatal("NewProviders should reject an endpoint without a host")
	}
}

func TestNewAuditSink_NilProviderIsNoop(t *testing.T) {
	sink := NewAuditSink(nil)
	if sink == nil {
		t.Fatal("NewAuditSink(nil) should return a no-op sink, not nil")
	}
	if err := sink.Write(context.Background(), nil); err != nil {
		t.Errorf("Write: %v", err)
	}
}

func TestNewCacheObserver_NilProvider(t *testing.T) {
	if obs := NewCacheObserver(nil); obs != nil {
		t.Error("NewCacheObserver(nil) should return nil")
	}
}
