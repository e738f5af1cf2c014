package remotechange

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/cubby/internal/datastore"
	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/store"
)

type stubSource struct {
	mu        sync.Mutex
	observers map[int]func(datastore.Notification)
	next      int
	processed int
}

func newStubSource() *stubSource {
	return &stubSource{observers: map[int]func(datastore.Notification){}}
}

func (s *stubSource) Observe(fn func(datastore.Notification)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.observers[s.next] = fn
	return s.next
}

func (s *stubSource) Unobserve(token int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, token)
}

func (s *stubSource) ProcessPendingChanges(ctx context.Context) (datastore.Processed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	return datastore.Processed{}, nil
}

func (s *stubSource) post(n datastore.Notification) {
	s.mu.Lock()
	fns := make([]func(datastore.Notification), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

func (s *stubSource) observerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

func (s *stubSource) processedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed
}

var (
	privateID = StoreIdentity{Path: "/data/Private.sqlite", ID: "private-uuid"}
	sharedID  = StoreIdentity{Path: "/data/Shared.sqlite", ID: "shared-uuid"}
)

func newPipeline(src Source, debounce time.Duration) *Pipeline {
	return New(src, Options{Private: privateID, Shared: sharedID, Debounce: debounce})
}

func TestClassify(t *testing.T) {
	p := newPipeline(newStubSource(), 0)

	tests := []struct {
		name string
		n    datastore.Notification
		want []domain.Scope
	}{
		{"private by path", datastore.Notification{StorePath: privateID.Path}, []domain.Scope{domain.ScopePrivate}},
		{"shared by path", datastore.Notification{StorePath: sharedID.Path}, []domain.Scope{domain.ScopeShared}},
		{"shared by id", datastore.Notification{StoreID: sharedID.ID}, []domain.Scope{domain.ScopeShared}},
		{"unknown store", datastore.Notification{StorePath: "/elsewhere", StoreID: "x"}, []domain.Scope{domain.ScopePrivate, domain.ScopeShared}},
		{"empty", datastore.Notification{}, []domain.Scope{domain.ScopePrivate, domain.ScopeShared}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Classify(tt.n))
		})
	}
}

func TestBurstCoalescesIntoOneEvent(t *testing.T) {
	src := newStubSource()
	p := newPipeline(src, 50*time.Millisecond)
	events, cancel := p.Subscribe()
	defer cancel()

	p.Start()
	defer p.Stop()

	for i := 0; i < 20; i++ {
		src.post(datastore.Notification{StorePath: privateID.Path})
	}

	select {
	case ev := <-events:
		assert.True(t, ev.IncludesPrivateStoreChanges)
		assert.False(t, ev.IncludesSharedStoreChanges)
		assert.False(t, ev.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no merge event")
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
	assert.Equal(t, 1, src.processedCount())
}

func TestEventCarriesUnionOfScopes(t *testing.T) {
	src := newStubSource()
	p := newPipeline(src, 50*time.Millisecond)
	events, cancel := p.Subscribe()
	defer cancel()

	p.Start()
	defer p.Stop()

	src.post(datastore.Notification{StoreID: privateID.ID})
	src.post(datastore.Notification{StoreID: sharedID.ID})

	select {
	case ev := <-events:
		assert.True(t, ev.IncludesPrivateStoreChanges)
		assert.True(t, ev.IncludesSharedStoreChanges)
	case <-time.After(time.Second):
		t.Fatal("no merge event")
	}
}

func TestEventsRearmTimer(t *testing.T) {
	src := newStubSource()
	p := newPipeline(src, 80*time.Millisecond)
	events, cancel := p.Subscribe()
	defer cancel()

	p.Start()
	defer p.Stop()

	start := time.Now()
	for i := 0; i < 4; i++ {
		src.post(datastore.Notification{StorePath: sharedID.Path})
		time.Sleep(40 * time.Millisecond)
	}

	select {
	case ev := <-events:
		assert.True(t, ev.IncludesSharedStoreChanges)
		assert.GreaterOrEqual(t, time.Since(start), 160*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("no merge event")
	}
}

func TestReplacedTimerDoesNotDrain(t *testing.T) {
	src := newStubSource()
	p := newPipeline(src, 80*time.Millisecond)
	events, cancel := p.Subscribe()
	defer cancel()

	p.Start()
	defer p.Stop()

	src.post(datastore.Notification{StoreID: privateID.ID})
	p.mu.Lock()
	epoch, staleSeq := p.epoch, p.armSeq
	p.mu.Unlock()

	last := time.Now()
	src.post(datastore.Notification{StoreID: sharedID.ID})

	// The first timer's callback runs after it was replaced.
	p.fire(epoch, staleSeq)
	assert.Equal(t, 0, src.processedCount())
	select {
	case <-events:
		t.Fatal("merge before the quiet period")
	default:
	}

	select {
	case ev := <-events:
		assert.True(t, ev.IncludesPrivateStoreChanges)
		assert.True(t, ev.IncludesSharedStoreChanges)
		assert.GreaterOrEqual(t, time.Since(last), 80*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("no merge event")
	}
	assert.Equal(t, 1, src.processedCount())
}

func TestStopCancelsPendingMerge(t *testing.T) {
	src := newStubSource()
	p := newPipeline(src, 50*time.Millisecond)
	events, cancel := p.Subscribe()
	defer cancel()

	p.Start()
	src.post(datastore.Notification{StorePath: privateID.Path})
	p.Stop()

	assert.Equal(t, 0, src.observerCount())

	// Delivered directly, as if a notification raced with Stop.
	p.handle(datastore.Notification{StorePath: privateID.Path})

	select {
	case ev := <-events:
		t.Fatalf("unexpected event after stop: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
	assert.Equal(t, 0, src.processedCount())

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Nil(t, p.timer)
	assert.Empty(t, p.pending)
	assert.Equal(t, stateIdle, p.state)
}

func TestStartStopIdempotent(t *testing.T) {
	src := newStubSource()
	p := newPipeline(src, 0)

	p.Start()
	p.Start()
	assert.Equal(t, 1, src.observerCount())

	p.Stop()
	p.Stop()
	assert.Equal(t, 0, src.observerCount())
}

func TestRestartAfterStop(t *testing.T) {
	src := newStubSource()
	p := newPipeline(src, 20*time.Millisecond)
	events, cancel := p.Subscribe()
	defer cancel()

	p.Start()
	p.Stop()
	p.Start()
	defer p.Stop()

	src.post(datastore.Notification{StorePath: sharedID.Path})

	select {
	case ev := <-events:
		assert.False(t, ev.IncludesPrivateStoreChanges)
		assert.True(t, ev.IncludesSharedStoreChanges)
	case <-time.After(time.Second):
		t.Fatal("no merge event")
	}
}

func TestPipelineWithController(t *testing.T) {
	ctx := context.Background()
	ctrl, err := datastore.Open(ctx, datastore.Options{InMemory: true})
	require.NoError(t, err)
	defer ctrl.Close()

	p := New(ctrl, Options{
		Private:  StoreIdentity{Path: ctrl.PrivateStore().Path(), ID: ctrl.PrivateStore().ID()},
		Shared:   StoreIdentity{Path: ctrl.SharedStore().Path(), ID: ctrl.SharedStore().ID()},
		Debounce: 20 * time.Millisecond,
	})
	events, cancel := p.Subscribe()
	defer cancel()
	p.Start()
	defer p.Stop()

	require.NoError(t, ctrl.PrivateStore().Update(ctx, func(s *store.Set) error {
		_, err := s.Homes.Create(ctx, &domain.Home{Name: "Cottage"})
		return err
	}))

	select {
	case ev := <-events:
		assert.True(t, ev.IncludesPrivateStoreChanges)
		assert.False(t, ev.IncludesSharedStoreChanges)
	case <-time.After(time.Second):
		t.Fatal("no merge event")
	}
}
