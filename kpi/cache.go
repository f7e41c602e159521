package kpi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ccmanuelf/kpi-operations-sub013/common"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/metrics"
)

// Backend stores serialized KPI results. Implementations must tolerate
// concurrent use; a failing backend degrades to recomputation, never to an
// error surfaced to the caller.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	DeletePrefix(ctx context.Context, prefix string)
}

// invalidations maps each event type to the indicators whose cached values
// it can change. The cache invalidator deletes "<tenant>:<kpi>:" prefixes
// for every listed indicator.
var invalidations = map[string][]domain.KPIID{
	domain.EventProductionEntryCreated:   {domain.KPIEfficiency, domain.KPIPerformance, domain.KPIAvailability, domain.KPIOEE},
	domain.EventDowntimeClosed:           {domain.KPIAvailability, domain.KPIEfficiency, domain.KPIOEE},
	domain.EventQualityRecorded:          {domain.KPIPPM, domain.KPIDPMO, domain.KPIFPY, domain.KPIRTY, domain.KPIOEE},
	domain.EventHoldCreated:              {domain.KPIWIPAging},
	domain.EventHoldResumed:              {domain.KPIWIPAging},
	domain.EventWorkOrderStatusChanged:   {domain.KPIWIPAging, domain.KPIOTD},
	domain.EventWorkOrderCreated:         {domain.KPIWIPAging, domain.KPIOTD},
	domain.EventAttendanceEntryCreated:   {domain.KPIAbsenteeism},
	domain.EventPartOpportunitiesCreated: {domain.KPIDPMO},
}

// cacheKey is "<tenant>:<kpi>:<window>:<fingerprint>". The fingerprint
// hashes the normalized filters so logically equal queries share an entry.
func cacheKey(clientID string, q Query) (string, error) {
	fp, err := hashstructure.Hash(struct {
		Shift, Product, WorkOrder, Equipment string
		Stage                                string
	}{q.ShiftID, q.ProductID, q.WorkOrderID, q.EquipmentID, string(q.Stage)}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%s:%x", clientID, q.KPI, windowTag(q.Window.From, q.Window.To), fp), nil
}

// LRUBackend is the default in-process backend, bounded by entry count.
type LRUBackend struct {
	cache *lru.Cache[string, []byte]
}

// NewLRUBackend builds the backend; evictions feed the metric.
func NewLRUBackend(maxEntries int, m *metrics.Metrics) (*LRUBackend, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	c, err := lru.NewWithEvict[string, []byte](maxEntries, func(string, []byte) {
		if m != nil {
			m.CacheEvictions.Inc()
		}
	})
	if err != nil {
		return nil, err
	}
	return &LRUBackend{cache: c}, nil
}

func (b *LRUBackend) Get(_ context.Context, key string) ([]byte, bool) {
	return b.cache.Get(key)
}

func (b *LRUBackend) Set(_ context.Context, key string, value []byte) {
	b.cache.Add(key, value)
}

func (b *LRUBackend) DeletePrefix(_ context.Context, prefix string) {
	for _, key := range b.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			b.cache.Remove(key)
		}
	}
}

// RedisBackend shares cached results across instances. Entries expire after
// the TTL; prefix deletes run SCAN+DEL so invalidation never blocks the
// server the way KEYS would.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend connects to the given URL (redis://...).
func NewRedisBackend(url string, ttl time.Duration) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisBackend{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) {
	if err := b.client.Set(ctx, key, value, b.ttl).Err(); err != nil {
		common.Logger.WithError(err).Warn("kpi cache write failed")
	}
}

func (b *RedisBackend) DeletePrefix(ctx context.Context, prefix string) {
	iter := b.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		common.Logger.WithError(err).Warn("kpi cache scan failed")
		return
	}
	if len(keys) > 0 {
		if err := b.client.Del(ctx, keys...).Err(); err != nil {
			common.Logger.WithError(err).Warn("kpi cache delete failed")
		}
	}
}

// Close releases the redis connection.
func (b *RedisBackend) Close() error { return b.client.Close() }

func encodeResult(r Result) ([]byte, error) { return json.Marshal(r) }
func decodeResult(b []byte) (Result, error) {
	var r Result
	err := json.Unmarshal(b, &r)
	return r, err
}
