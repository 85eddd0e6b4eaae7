package cache

import "time"

// Store is implemented by both Cache and Disk.
type Store[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	SetWithTTL(key string, value V, ttl time.Duration)
}

var (
	_ Store[int] = (*Cache[int])(nil)
	_ Store[int] = (*Disk[int])(nil)
)
