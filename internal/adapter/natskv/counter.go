package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// maxCASAttempts bounds the compare-and-swap retry loop under contention.
const maxCASAttempts = 128

// ErrContention is returned when a counter update loses the revision race
// maxCASAttempts times in a row.
var ErrContention = errors.New("natskv: counter contention")

// counterValue is the stored form of a counter. Counts never expire; only
// Set moves them backwards.
type counterValue struct {
	Value int64 `json:"v"`
}

// Counter implements counter.Cache on a JetStream KV bucket. Every write is
// a revision-checked update, so concurrent Incr calls from any replica yield
// distinct values.
type Counter struct {
	kv jetstream.KeyValue
}

// NewCounter creates a counter backed by kv.
func NewCounter(kv jetstream.KeyValue) *Counter {
	return &Counter{kv: kv}
}

// Incr adds one to key and returns the new value.
func (c *Counter) Incr(ctx context.Context, key string) (int64, error) {
	var out int64
	err := c.update(ctx, key, func(v *counterValue) {
		v.Value++
		out = v.Value
	})
	return out, err
}

// Get returns the value of key, or zero when absent.
func (c *Counter) Get(ctx context.Context, key string) (int64, error) {
	v, _, err := c.load(ctx, key)
	if err != nil {
		return 0, err
	}
	return v.Value, nil
}

// Set overwrites key with value.
func (c *Counter) Set(ctx context.Context, key string, value int64) error {
	data, err := json.Marshal(counterValue{Value: value})
	if err != nil {
		return err
	}
	if _, err := c.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("natskv set %s: %w", key, err)
	}
	return nil
}

// load reads key. rev is zero when the key does not exist.
func (c *Counter) load(ctx context.Context, key string) (counterValue, uint64, error) {
	entry, err := c.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return counterValue{}, 0, nil
	}
	if err != nil {
		return counterValue{}, 0, fmt.Errorf("natskv get %s: %w", key, err)
	}
	var v counterValue
	if err := json.Unmarshal(entry.Value(), &v); err != nil {
		return counterValue{}, 0, fmt.Errorf("natskv decode %s: %w", key, err)
	}
	return v, entry.Revision(), nil
}

// update applies fn under optimistic concurrency, creating key when missing.
func (c *Counter) update(ctx context.Context, key string, fn func(*counterValue)) error {
	for range maxCASAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, rev, err := c.load(ctx, key)
		if err != nil {
			return err
		}
		fn(&v)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}

		if rev == 0 {
			_, err = c.kv.Create(ctx, key, data)
		} else {
			_, err = c.kv.Update(ctx, key, data, rev)
		}
		if err == nil {
			return nil
		}
		if !isRevisionConflict(err) {
			return fmt.Errorf("natskv write %s: %w", key, err)
		}
	}
	return fmt.Errorf("%s: %w", key, ErrContention)
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
