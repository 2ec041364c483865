package qcache

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryDriver is an in-process cache driver.
type MemoryDriver struct {
	mu    sync.Mutex
	items *gocache.Cache
}

// NewMemoryDriver returns an empty in-process driver. Expired items are
// purged every cleanup interval.
func NewMemoryDriver(cleanup time.Duration) *MemoryDriver {
	return &MemoryDriver{items: gocache.New(gocache.NoExpiration, cleanup)}
}

// expiration maps a zero or negative ttl to no expiry.
func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (d *MemoryDriver) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := d.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (d *MemoryDriver) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	d.items.Set(key, cp, expiration(ttl))
	return nil
}

func (d *MemoryDriver) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		d.items.Delete(k)
	}
	return nil
}

func (d *MemoryDriver) Expire(_ context.Context, key string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := d.items.Get(key); ok {
		d.items.Set(key, v, expiration(ttl))
	}
	return nil
}

func (d *MemoryDriver) Incr(_ context.Context, key string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	if v, ok := d.items.Get(key); ok {
		parsed, err := strconv.ParseInt(string(v.([]byte)), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	d.items.Set(key, []byte(strconv.FormatInt(n, 10)), gocache.NoExpiration)
	return n, nil
}
