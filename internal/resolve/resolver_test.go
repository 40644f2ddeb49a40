package resolve

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/adgraph/internal/domain/migerr"
	"github.com/yungbote/adgraph/internal/graphstore"
	"github.com/yungbote/adgraph/internal/graphstore/memstore"
	"github.com/yungbote/adgraph/internal/platform/logger"
	"github.com/yungbote/adgraph/internal/platform/retry"
	"github.com/yungbote/adgraph/internal/schema"
)

const keyspace = "acct-7"

func setup(t *testing.T) (*memstore.Store, graphstore.Session) {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	s, err := st.Session(ctx, keyspace)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	reg, err := schema.NewRegistry(logger.Nop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := reg.Apply(ctx, s, schema.SetShopping); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return st, s
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, JitterFrac: -1}
}

type spyHooks struct {
	retries   atomic.Int64
	conflicts atomic.Int64
	hits      atomic.Int64
}

func (h *spyHooks) ObserveOperation(string, string, time.Duration) {}
func (h *spyHooks) IncConflict(string)                             { h.conflicts.Add(1) }
func (h *spyHooks) IncRetry(string)                                { h.retries.Add(1) }
func (h *spyHooks) IncCacheHit()                                   { h.hits.Add(1) }

var brand = CanonicalKey{Type: "ProductDimension", KeyAttr: "dimension-type", Value: "BRAND"}

func TestConcurrentCallersShareOneNode(t *testing.T) {
	ctx := context.Background()
	st, s := setup(t)
	r := New(logger.Nop(), Options{Retry: fastPolicy(3)})

	const n = 32
	handles := make([]Handle, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			handles[i], errs[i] = r.GetOrCreate(ctx, s, brand, nil)
		}(i)
	}
	close(start)
	wg.Wait()

	created := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if handles[i].ID != handles[0].ID {
			t.Fatalf("caller %d: want=%s got=%s", i, handles[0].ID, handles[i].ID)
		}
		if handles[i].Created {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("created flags: want=1 got=%d", created)
	}
	if got := st.Count(keyspace, "ProductDimension"); got != 1 {
		t.Fatalf("ProductDimension nodes: want=1 got=%d", got)
	}
}

func TestFreshResolverReusesCommittedNode(t *testing.T) {
	ctx := context.Background()
	st, s := setup(t)

	first, err := New(logger.Nop(), Options{}).GetOrCreate(ctx, s, brand, nil)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	hooks := &spyHooks{}
	r := New(logger.Nop(), Options{Hooks: hooks})
	second, err := r.GetOrCreate(ctx, s, brand, nil)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.ID != first.ID || second.Created {
		t.Fatalf("second: want existing %s got=%+v", first.ID, second)
	}
	if _, err := r.GetOrCreate(ctx, s, brand, nil); err != nil {
		t.Fatalf("third: %v", err)
	}
	if hooks.hits.Load() != 1 {
		t.Fatalf("cache hits: want=1 got=%d", hooks.hits.Load())
	}
	if got := st.Count(keyspace, "ProductDimension"); got != 1 {
		t.Fatalf("ProductDimension nodes: want=1 got=%d", got)
	}
}

func TestAttributesAttachedOnCreate(t *testing.T) {
	ctx := context.Background()
	st, s := setup(t)
	r := New(logger.Nop(), Options{})

	h, err := r.GetOrCreate(ctx, s, CanonicalKey{Type: "Product", KeyAttr: "item-id", Value: "A"}, map[string]any{"title": "Acme Trail"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if v, _ := st.Attr(keyspace, h.ID, "item-id"); v != "A" {
		t.Fatalf("item-id: want=A got=%v", v)
	}
	if v, _ := st.Attr(keyspace, h.ID, "title"); v != "Acme Trail" {
		t.Fatalf("title: want=Acme Trail got=%v", v)
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	ctx := context.Background()
	st, s := setup(t)
	var commits atomic.Int64
	st.SetFault(func(op string) error {
		if op == "commit" && commits.Add(1) <= 2 {
			return graphstore.ErrUnavailable
		}
		return nil
	})
	hooks := &spyHooks{}
	r := New(logger.Nop(), Options{Retry: fastPolicy(5), Hooks: hooks})

	h, err := r.GetOrCreate(ctx, s, brand, nil)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !h.Created {
		t.Fatalf("want created handle")
	}
	if hooks.retries.Load() != 2 {
		t.Fatalf("retries: want=2 got=%d", hooks.retries.Load())
	}
	if got := st.Count(keyspace, "ProductDimension"); got != 1 {
		t.Fatalf("ProductDimension nodes: want=1 got=%d", got)
	}
}

func TestRetryExhaustionReturnsStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	st, s := setup(t)
	st.SetFault(func(op string) error {
		if op == "begin" {
			return graphstore.ErrUnavailable
		}
		return nil
	})
	r := New(logger.Nop(), Options{Retry: fastPolicy(3)})

	_, err := r.GetOrCreate(ctx, s, brand, nil)
	if !migerr.IsCode(err, migerr.CodeStoreUnavailable) {
		t.Fatalf("want store_unavailable got=%v", err)
	}
	if migerr.IsFatal(err) {
		t.Fatalf("store_unavailable must not be fatal")
	}
}

func TestDuplicateCanonicalNodesAreFatal(t *testing.T) {
	ctx := context.Background()
	_, s := setup(t)
	err := graphstore.InTx(ctx, s, func(tx graphstore.Tx) error {
		for i := 0; i < 2; i++ {
			id, err := tx.CreateEntity(ctx, "ProductDimension")
			if err != nil {
				return err
			}
			attr, err := tx.CreateAttribute(ctx, "dimension-type", "BRAND")
			if err != nil {
				return err
			}
			if err := tx.AttachAttribute(ctx, id, attr); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	hooks := &spyHooks{}
	_, err = New(logger.Nop(), Options{Hooks: hooks}).GetOrCreate(ctx, s, brand, nil)
	if !migerr.IsCode(err, migerr.CodeDuplicateCanonicalKey) || !migerr.IsFatal(err) {
		t.Fatalf("want fatal duplicate_canonical_key got=%v", err)
	}
	if hooks.conflicts.Load() != 1 {
		t.Fatalf("conflicts: want=1 got=%d", hooks.conflicts.Load())
	}
}

func TestIncompleteKeyIsMalformed(t *testing.T) {
	_, s := setup(t)
	_, err := New(logger.Nop(), Options{}).GetOrCreate(context.Background(), s, CanonicalKey{Type: "Product", KeyAttr: "item-id", Value: " "}, nil)
	if !migerr.IsCode(err, migerr.CodeMalformedRecord) {
		t.Fatalf("want malformed_record got=%v", err)
	}
}

type spyLocker struct {
	mu   sync.Mutex
	keys []string
}

func (l *spyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return func() {}, nil
}

func TestCrossProcessLockTakenPerKey(t *testing.T) {
	ctx := context.Background()
	_, s := setup(t)
	lk := &spyLocker{}
	r := New(logger.Nop(), Options{Locker: lk})

	for i := 0; i < 3; i++ {
		if _, err := r.GetOrCreate(ctx, s, brand, nil); err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
	}
	if len(lk.keys) != 1 || lk.keys[0] != keyspace+":ProductDimension/dimension-type=BRAND" {
		t.Fatalf("lock keys: got %v", lk.keys)
	}
}

// gateLocker holds the first Lock call until release is closed.
type gateLocker struct {
	calls   atomic.Int64
	entered chan struct{}
	release chan struct{}
}

func (l *gateLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.calls.Add(1) == 1 {
		close(l.entered)
		<-l.release
	}
	return func() {}, nil
}

func TestCancelledCallerDoesNotAbortSharedLookup(t *testing.T) {
	st, s := setup(t)
	lk := &gateLocker{entered: make(chan struct{}), release: make(chan struct{})}
	r := New(logger.Nop(), Options{Locker: lk})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := r.GetOrCreate(ctx, s, brand, nil)
		errc <- err
	}()
	<-lk.entered
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: want context.Canceled got=%v", err)
	}
	close(lk.release)

	h, err := r.GetOrCreate(context.Background(), s, brand, nil)
	if err != nil || h.ID == "" {
		t.Fatalf("second caller: handle=%+v err=%v", h, err)
	}
	if got := st.Count(keyspace, "ProductDimension"); got != 1 {
		t.Fatalf("ProductDimension nodes: want=1 got=%d", got)
	}
	if got := lk.calls.Load(); got != 1 {
		t.Fatalf("lock calls: want=1 got=%d", got)
	}
}

type errLocker struct{ err error }

func (l errLocker) Lock(context.Context, string) (func(), error) { return nil, l.err }

func TestLockWaitEndingOnContextIsNotStoreUnavailable(t *testing.T) {
	_, s := setup(t)
	_, err := New(logger.Nop(), Options{Locker: errLocker{context.DeadlineExceeded}}).GetOrCreate(context.Background(), s, brand, nil)
	if !errors.Is(err, context.DeadlineExceeded) || migerr.IsCode(err, migerr.CodeStoreUnavailable) {
		t.Fatalf("lock deadline: want context.DeadlineExceeded got=%v", err)
	}

	_, err = New(logger.Nop(), Options{Locker: errLocker{errors.New("redis: connection refused")}}).GetOrCreate(context.Background(), s, brand, nil)
	if !migerr.IsCode(err, migerr.CodeStoreUnavailable) {
		t.Fatalf("lock failure: want store_unavailable got=%v", err)
	}
}
