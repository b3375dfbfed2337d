package otel

import (
	"context"
	"log"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"sessionguard/agent/internal/cache"
)

// CacheObserver counts cache hits, misses, and background refresh
// outcomes as OTel counters. Implements cache.Observer.
type CacheObserver struct {
	hits      otelmetric.Int64Counter
	misses    otelmetric.Int64Counter
	refreshes otelmetric.Int64Counter
}

var _ cache.Observer = (*CacheObserver)(nil)

// NewCacheObserver builds the counters on the given MeterProvider.
// Returns nil (observer disabled) if provider is nil or any instrument
// fails to register.
func NewCacheObserver(provider otelmetric.MeterProvider) *CacheObserver {
	if provider == nil {
		return nil
	}
	meter := provider.Meter("sessionguard.cache")
	hits, err := meter.Int64Counter("cache.hits", otelmetric.WithDescription("Fresh cache reads served locally."))
	if err != nil {
		log.Printf("telemetry: cache.hits counter: %v", err)
		return nil
	}
	misses, err := meter.Int64Counter("cache.misses", otelmetric.WithDescription("Cache reads that required a fetch."))
	if err != nil {
		log.Printf("telemetry: cache.misses counter: %v", err)
		return nil
	}
	refreshes, err := meter.Int64Counter("cache.refreshes", otelmetric.WithDescription("Background refresh attempts by outcome."))
	if err != nil {
		log.Printf("telemetry: cache.refreshes counter: %v", err)
		return nil
	}
	return &CacheObserver{hits: hits, misses: misses, refreshes: refreshes}
}

// Hit implements cache.Observer.
func (o *CacheObserver) Hit(key string) {
	o.hits.Add(context.Background(), 1, otelmetric.WithAttributes(attribute.String("key", key)))
}

// Miss implements cache.Observer.
func (o *CacheObserver) Miss(key string) {
	o.misses.Add(context.Background(), 1, otelmetric.WithAttributes(attribute.String("key", key)))
}

// Refresh implements cache.Observer.
func (o *CacheObserver) Refresh(key string, ok bool) {
	o.refreshes.Add(context.Background(), 1, otelmetric.WithAttributes(
		attribute.String("key", key),
		attribute.Bool("ok", ok),
	))
}
