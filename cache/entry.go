package cache

import "time"

// Entry is a cached value together with the absolute time it expires at.
//
// Entries are replaced wholesale on every write and are never modified after
// construction; the tiers hand the same *Entry to every reader.
type Entry[V any] struct {
	Value      V         `json:"value" msgpack:"value" cbor:"value" yaml:"value"`
	Expiration time.Time `json:"expiration" msgpack:"expiration" cbor:"expiration" yaml:"expiration"`
}

// NewEntry returns an entry holding value that expires at expiration.
func NewEntry[V any](value V, expiration time.Time) *Entry[V] {
	return &Entry[V]{Value: value, Expiration: expiration}
}

// IsExpired reports whether the entry has expired as of now.
func (e *Entry[V]) IsExpired() bool {
	return e.ExpiredAt(time.Now())
}

// ExpiredAt reports whether the entry is expired at the given instant. An
// entry expires exactly at its Expiration.
func (e *Entry[V]) ExpiredAt(now time.Time) bool {
	return !e.Expiration.After(now)
}

// Invalid reports whether the entry has to be reloaded at now: it is missing
// or expired. When Invalid returns false, e is safe to dereference.
func Invalid[V any](e *Entry[V], now time.Time) bool {
	return e == nil || e.ExpiredAt(now)
}
