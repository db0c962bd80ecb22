package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// PriceCache keeps entities' current price records warm in Redis. The ledger
// remains the source of truth: every append invalidates the entity's key
// before readers can observe the new record. A nil cache is a no-op.
type PriceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPriceCache instantiates the cache helper.
func NewPriceCache(client *redis.Client, ttl time.Duration) *PriceCache {
	return &PriceCache{client: client, ttl: ttl}
}

func currentKey(entityID int64) string {
	return fmt.Sprintf("pricing:current:%d", entityID)
}

type cachedRecord struct {
	ID            int64      `json:"id"`
	EntityID      int64      `json:"entity_id"`
	Kind          EntityKind `json:"kind"`
	Value         string     `json:"value"`
	Currency      string     `json:"currency"`
	EffectiveFrom time.Time  `json:"effective_from"`
	SourceRef     string     `json:"source_ref,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// GetCurrent loads the cached open record for the entity, when present.
func (c *PriceCache) GetCurrent(ctx context.Context, entityID int64) (PriceRecord, bool) {
	if c == nil || c.client == nil {
		return PriceRecord{}, false
	}
	raw, err := c.client.Get(ctx, currentKey(entityID)).Bytes()
	if err != nil {
		return PriceRecord{}, false
	}
	var cached cachedRecord
	if err := json.Unmarshal(raw, &cached); err != nil {
		return PriceRecord{}, false
	}
	rec, err := cached.toRecord()
	if err != nil {
		return PriceRecord{}, false
	}
	return rec, true
}

// SetCurrent stores an open record. Closed records are never cached.
func (c *PriceCache) SetCurrent(ctx context.Context, rec PriceRecord) {
	if c == nil || c.client == nil || !rec.Open() {
		return
	}
	cached := cachedRecord{
		ID:            rec.ID,
		EntityID:      rec.EntityID,
		Kind:          rec.Kind,
		Value:         rec.Value.String(),
		Currency:      rec.Currency,
		EffectiveFrom: rec.EffectiveFrom,
		SourceRef:     rec.SourceRef,
		CreatedAt:     rec.CreatedAt,
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, currentKey(rec.EntityID), raw, c.ttl).Err()
}

// Invalidate drops the entity's cached record. Best effort.
func (c *PriceCache) Invalidate(ctx context.Context, entityID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, currentKey(entityID)).Err()
}

func (c cachedRecord) toRecord() (PriceRecord, error) {
	value, err := decimal.NewFromString(c.Value)
	if err != nil {
		return PriceRecord{}, err
	}
	return PriceRecord{
		ID:            c.ID,
		EntityID:      c.EntityID,
		Kind:          c.Kind,
		Value:         value,
		Currency:      c.Currency,
		EffectiveFrom: c.EffectiveFrom,
		SourceRef:     c.SourceRef,
		CreatedAt:     c.CreatedAt,
	}, nil
}
