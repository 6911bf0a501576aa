package service

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TelemetrySummary bundles the raw stats and status blobs one camera
// published. Either may be nil when its key expired.
type TelemetrySummary struct {
	Stats  *json.RawMessage `json:"stats,omitempty"`
	Status *json.RawMessage `json:"status,omitempty"`
}

// TelemetryReader reads telemetry stored for any set of cameras.
type TelemetryReader interface {
	GetSummariesByID(ctx context.Context, ids []string) (map[string]*TelemetrySummary, error)
}

type TelemetrySummaryOptions struct {
	// TTL controls how long a result is served from memory; default 250ms.
	TTL time.Duration
	// RefreshTimeout bounds the store read for a single refresh; default 300ms.
	RefreshTimeout time.Duration
	// Allow serving stale on refresh error (graceful degrade).
	AllowStaleOnError bool
}

func (o *TelemetrySummaryOptions) setDefaults() {
	if o.TTL <= 0 {
		o.TTL = 250 * time.Millisecond
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = 300 * time.Millisecond
	}
}

// TelemetryResult lets the handler set cache headers.
type TelemetryResult struct {
	Data        map[string]*TelemetrySummary
	CacheHit    bool
	GeneratedAt time.Time
}

type telemetryEntry struct {
	data    map[string]*TelemetrySummary
	expires time.Time
	genAt   time.Time
}

// TelemetrySummaryService serves telemetry reads from a short-lived cache
// keyed by the requested camera set. Concurrent refreshes of the same set are
// coalesced. Reuse one instance per process.
type TelemetrySummaryService struct {
	log    *zap.Logger
	reader TelemetryReader
	opts   TelemetrySummaryOptions
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]telemetryEntry

	sg singleflight.Group
}

func NewTelemetrySummaryService(log *zap.Logger, reader TelemetryReader, opts TelemetrySummaryOptions) *TelemetrySummaryService {
	opts.setDefaults()
	return &TelemetrySummaryService{
		log:    log.Named("telemetry_summary"),
		reader: reader,
		opts:   opts,
		now:    time.Now,
		cache:  make(map[string]telemetryEntry),
	}
}

// Get returns telemetry for ids, from cache when fresh.
func (s *TelemetrySummaryService) Get(ctx context.Context, ids []string) (TelemetryResult, error) {
	key := cacheKey(ids)

	if res, ok := s.fresh(key); ok {
		return res, nil
	}

	v, err, _ := s.sg.Do(key, func() (any, error) {
		// Double-check freshness after we won the flight
		if res, ok := s.fresh(key); ok {
			return res, nil
		}

		ctx, cancel := context.WithTimeout(ctx, s.opts.RefreshTimeout)
		defer cancel()

		start := s.now()
		data, err := s.reader.GetSummariesByID(ctx, ids)
		if err != nil {
			if s.opts.AllowStaleOnError {
				s.mu.RLock()
				e, ok := s.cache[key]
				s.mu.RUnlock()
				if ok {
					s.log.Warn("telemetry refresh failed; serving stale", zap.Error(err))
					return TelemetryResult{Data: maps.Clone(e.data), CacheHit: true, GeneratedAt: e.genAt}, nil
				}
			}
			return nil, err
		}

		s.mu.Lock()
		s.evictLocked()
		s.cache[key] = telemetryEntry{data: data, expires: s.now().Add(s.opts.TTL), genAt: start}
		s.mu.Unlock()

		return TelemetryResult{Data: maps.Clone(data), GeneratedAt: start}, nil
	})
	if err != nil {
		return TelemetryResult{}, err
	}
	return v.(TelemetryResult), nil
}

func (s *TelemetrySummaryService) fresh(key string) (TelemetryResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[key]
	if !ok || !s.now().Before(e.expires) {
		return TelemetryResult{}, false
	}
	return TelemetryResult{Data: maps.Clone(e.data), CacheHit: true, GeneratedAt: e.genAt}, true
}

// evictLocked drops expired entries unless stale serving needs them.
func (s *TelemetrySummaryService) evictLocked() {
	if s.opts.AllowStaleOnError {
		return
	}
	now := s.now()
	for k, e := range s.cache {
		if !now.Before(e.expires) {
			delete(s.cache, k)
		}
	}
}

func (s *TelemetrySummaryService) Invalidate() {
	s.mu.Lock()
	clear(s.cache)
	s.mu.Unlock()
}

// cacheKey is order-insensitive: a,b and b,a share an entry.
func cacheKey(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return strings.Join(slices.Compact(sorted), ",")
}
