package pgcore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func init() {
	gob.Register(time.Time{})
	gob.Register([16]byte{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// ResultCache stores FetchAll results in Redis, keyed by statement text and
// arguments. It suits small, read-mostly lookups; it knows nothing about
// writes, so callers invalidate or rely on the TTL.
type ResultCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewResultCache returns a cache writing entries with the given TTL
// (no expiry when ttl <= 0).
func NewResultCache(client redis.Cmdable, ttl time.Duration) *ResultCache {
	return &ResultCache{client: client, ttl: ttl, prefix: "pgcore:rows:"}
}

type cachedRows struct {
	Columns []string
	Values  [][]any
}

// Key returns the Redis key used for st.
func (c *ResultCache) Key(st Statement) (string, error) {
	var buf bytes.Buffer
	key := struct {
		SQL  string
		Args []any
	}{st.sql, st.args}
	if err := gob.NewEncoder(&buf).Encode(key); err != nil {
		return "", fmt.Errorf("pgcore: arguments are not cacheable: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return c.prefix + hex.EncodeToString(sum[:]), nil
}

// Invalidate drops the cached result for st.
func (c *ResultCache) Invalidate(ctx context.Context, st Statement) error {
	key, err := c.Key(st)
	if err != nil {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}

// FetchAllCached returns the cached result for st when present, otherwise
// runs FetchAll on q and caches the rows. Redis failures fall back to the
// database; they are never returned. Values that cannot be encoded are
// simply not cached.
//
// Inside a transaction (a *Tx, or a *Handle with an active Tx) the cache is
// bypassed in both directions: the query must see the transaction's own
// uncommitted writes, and those must not leak to other readers.
func FetchAllCached(ctx context.Context, q Querier, c *ResultCache, st Statement) ([]Row, error) {
	if !st.valid() {
		return nil, fail(q, invalidStatement("fetch_all"))
	}
	if inTx(q) {
		return FetchAll(ctx, q, st)
	}
	key, keyErr := c.Key(st)
	if keyErr == nil {
		if rows, ok := c.load(ctx, key); ok {
			return rows, nil
		}
	}

	rows, err := FetchAll(ctx, q, st)
	if err != nil || keyErr != nil {
		return rows, err
	}
	c.store(ctx, key, rows)
	return rows, nil
}

func (c *ResultCache) load(ctx context.Context, key string) ([]Row, bool) {
	b, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var cr cachedRows
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&cr); err != nil {
		return nil, false
	}
	rows := make([]Row, 0, len(cr.Values))
	for _, vals := range cr.Values {
		if len(vals) != len(cr.Columns) {
			return nil, false
		}
		rows = append(rows, Row{columns: cr.Columns, values: vals})
	}
	return rows, true
}

func (c *ResultCache) store(ctx context.Context, key string, rows []Row) {
	cr := cachedRows{Values: make([][]any, len(rows))}
	for i, r := range rows {
		if i == 0 {
			cr.Columns = r.columns
		}
		cr.Values[i] = r.values
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cr); err != nil {
		return
	}
	ttl := c.ttl
	if ttl < 0 {
		ttl = 0
	}
	_ = c.client.Set(ctx, key, buf.Bytes(), ttl).Err()
}

func inTx(q Querier) bool {
	switch v := q.(type) {
	case *Tx:
		return true
	case *Handle:
		v.mu.Lock()
		defer v.mu.Unlock()
		return v.tx != nil
	}
	return false
}
