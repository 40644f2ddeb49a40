// Package resolve guarantees a single canonical graph node per natural key.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yungbote/adgraph/internal/domain/migerr"
	"github.com/yungbote/adgraph/internal/graphstore"
	"github.com/yungbote/adgraph/internal/platform/logger"
	"github.com/yungbote/adgraph/internal/platform/retry"
)

// CanonicalKey identifies a canonical node: the instance of Type whose KeyAttr equals Value.
type CanonicalKey struct {
	Type    string
	KeyAttr string
	Value   any
}

func (k CanonicalKey) String() string {
	return fmt.Sprintf("%s/%s=%v", k.Type, k.KeyAttr, k.Value)
}

func (k CanonicalKey) valid() bool {
	if strings.TrimSpace(k.Type) == "" || strings.TrimSpace(k.KeyAttr) == "" || k.Value == nil {
		return false
	}
	if s, ok := k.Value.(string); ok && strings.TrimSpace(s) == "" {
		return false
	}
	return true
}

// Locker serializes work on one key across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Hooks observes resolver activity.
type Hooks interface {
	ObserveOperation(name, status string, dur time.Duration)
	IncConflict(name string)
	IncRetry(name string)
	IncCacheHit()
}

type noopHooks struct{}

func (noopHooks) ObserveOperation(string, string, time.Duration) {}
func (noopHooks) IncConflict(string)                             {}
func (noopHooks) IncRetry(string)                                {}
func (noopHooks) IncCacheHit()                                   {}

type Options struct {
	Retry  retry.Policy
	Locker Locker
	Hooks  Hooks
}

// Handle is the resolved canonical node. Created is true for exactly one caller per key: the one
// whose call inserted the node.
type Handle struct {
	ID      graphstore.ConceptID
	Created bool
}

type outcome struct {
	id      graphstore.ConceptID
	created bool
	claimed atomic.Bool
}

// claim hands out the created flag once.
func (o *outcome) claim() bool {
	return o.created && o.claimed.CompareAndSwap(false, true)
}

// Resolver is scoped to one run; its cache must not outlive the keyspace contents it describes.
type Resolver struct {
	log    *logger.Logger
	policy retry.Policy
	locker Locker
	hooks  Hooks

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]graphstore.ConceptID
}

func New(log *logger.Logger, opts Options) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	policy := opts.Retry
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 5
	}
	if policy.Retryable == nil {
		policy.Retryable = graphstore.IsTransient
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = noopHooks{}
	}
	return &Resolver{
		log:    log.With("component", "EntityResolver"),
		policy: policy,
		locker: opts.Locker,
		hooks:  hooks,
		cache:  map[string]graphstore.ConceptID{},
	}
}

func cacheKey(keyspace string, key CanonicalKey) string {
	return keyspace + "\x00" + key.String()
}

// GetOrCreate returns the canonical node for key, creating it with attrs when absent.
// Concurrent callers for the same key share one store round-trip.
func (r *Resolver) GetOrCreate(ctx context.Context, s graphstore.Session, key CanonicalKey, attrs map[string]any) (Handle, error) {
	const op = "resolve.get_or_create"
	if !key.valid() {
		return Handle{}, migerr.MalformedRecord(op, "canonical key incomplete: %s", key)
	}
	ck := cacheKey(s.Keyspace(), key)

	r.mu.RLock()
	id, ok := r.cache[ck]
	r.mu.RUnlock()
	if ok {
		r.hooks.IncCacheHit()
		return Handle{ID: id}, nil
	}

	// The shared lookup runs detached so one cancelled caller cannot fail the others waiting on it.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(ck, func() (any, error) {
		r.mu.RLock()
		id, ok := r.cache[ck]
		r.mu.RUnlock()
		if ok {
			return &outcome{id: id}, nil
		}
		out, err := r.resolve(shared, s, key, attrs)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[ck] = out.id
		r.mu.Unlock()
		return out, nil
	})
	select {
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Handle{}, res.Err
		}
		out := res.Val.(*outcome)
		return Handle{ID: out.id, Created: out.claim()}, nil
	}
}

func (r *Resolver) resolve(ctx context.Context, s graphstore.Session, key CanonicalKey, attrs map[string]any) (*outcome, error) {
	const op = "resolve.get_or_create"
	start := time.Now()

	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, s.Keyspace()+":"+key.String())
		if err != nil {
			r.hooks.ObserveOperation("resolve", "lock_failed", time.Since(start))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, migerr.StoreUnavailable(op, err)
		}
		defer unlock()
	}

	var out *outcome
	err := retry.Do(ctx, r.policy, func(attempt int) error {
		if attempt > 1 {
			r.hooks.IncRetry("resolve")
			r.log.Debug("retrying canonical lookup", "key", key.String(), "attempt", attempt)
		}
		var res *outcome
		err := graphstore.InTx(ctx, s, func(tx graphstore.Tx) error {
			var err error
			res, err = matchOrCreate(ctx, tx, key, attrs)
			return err
		})
		if err != nil {
			return graphstore.MapError(op, err)
		}
		out = res
		return nil
	})
	status := "ok"
	if err != nil {
		status = string(migerr.CodeOf(err))
		if migerr.IsCode(err, migerr.CodeDuplicateCanonicalKey) {
			r.hooks.IncConflict("resolve")
		}
	}
	r.hooks.ObserveOperation("resolve", status, time.Since(start))
	if err != nil {
		return nil, err
	}
	if out.created {
		r.log.Debug("canonical node created", "key", key.String(), "id", out.id)
	}
	return out, nil
}

func matchOrCreate(ctx context.Context, tx graphstore.Tx, key CanonicalKey, attrs map[string]any) (*outcome, error) {
	const op = "resolve.get_or_create"
	ids, err := tx.Match(ctx, graphstore.Query{
		Type:  key.Type,
		Attrs: map[string]any{key.KeyAttr: key.Value},
		Limit: 2,
	})
	if err != nil {
		return nil, err
	}
	switch len(ids) {
	case 0:
	case 1:
		return &outcome{id: ids[0]}, nil
	default:
		return nil, migerr.DuplicateCanonicalKey(op, "%d nodes share %s", len(ids), key)
	}

	id, err := tx.CreateEntity(ctx, key.Type)
	if err != nil {
		return nil, err
	}
	values := map[string]any{key.KeyAttr: key.Value}
	for k, v := range attrs {
		if v != nil && k != key.KeyAttr {
			values[k] = v
		}
	}
	labels := make([]string, 0, len(values))
	for k := range values {
		labels = append(labels, k)
	}
	slices.Sort(labels)
	for _, label := range labels {
		attr, err := tx.CreateAttribute(ctx, label, values[label])
		if err != nil {
			return nil, err
		}
		if err := tx.AttachAttribute(ctx, id, attr); err != nil {
			return nil, err
		}
	}
	return &outcome{id: id, created: true}, nil
}

// Forget drops every cached handle, e.g. after a keyspace was rebuilt.
func (r *Resolver) Forget() {
	r.mu.Lock()
	r.cache = map[string]graphstore.ConceptID{}
	r.mu.Unlock()
}
