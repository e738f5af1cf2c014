// Package remotechange coalesces store-changed notifications into single,
// debounced merge events.
package remotechange

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vbonduro/cubby/internal/datastore"
	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/events"
	"github.com/vbonduro/cubby/internal/metrics"
)

const DefaultDebounce = 200 * time.Millisecond

// MergeEvent is published once per quiet period after store changes.
type MergeEvent struct {
	IncludesPrivateStoreChanges bool      `json:"includes_private_store_changes"`
	IncludesSharedStoreChanges  bool      `json:"includes_shared_store_changes"`
	At                          time.Time `json:"at"`
}

// Source is the part of the store controller the pipeline depends on.
type Source interface {
	Observe(fn func(datastore.Notification)) int
	Unobserve(token int)
	ProcessPendingChanges(ctx context.Context) (datastore.Processed, error)
}

// StoreIdentity lets the pipeline tell a notification's store apart.
type StoreIdentity struct {
	Path string
	ID   string
}

type Options struct {
	Private  StoreIdentity
	Shared   StoreIdentity
	Debounce time.Duration
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type pipelineState int

const (
	stateIdle pipelineState = iota
	stateArmed
	stateDraining
)

// Pipeline moves through idle, armed (timer running, scopes pending) and
// draining. One mutex guards the pending set, the timer and the state.
type Pipeline struct {
	source   Source
	private  StoreIdentity
	shared   StoreIdentity
	debounce time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	merges   *events.Broadcaster[MergeEvent]

	mu      sync.Mutex
	started bool
	token   int
	state   pipelineState
	pending map[domain.Scope]bool
	timer   *time.Timer
	// epoch changes on every Stop so a timer that already fired for an
	// earlier run drains nothing.
	epoch uint64
	// armSeq identifies the current arming. A callback from a replaced
	// timer may already be waiting on mu and must not drain.
	armSeq uint64
}

func New(source Source, opts Options) *Pipeline {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		source:   source,
		private:  opts.Private,
		shared:   opts.Shared,
		debounce: opts.Debounce,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		merges:   events.NewBroadcaster[MergeEvent](16),
		pending:  map[domain.Scope]bool{},
	}
}

func (p *Pipeline) Subscribe() (<-chan MergeEvent, func()) {
	return p.merges.Subscribe()
}

func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.token = p.source.Observe(p.handle)
	p.logger.Debug("remote change pipeline started")
}

// Stop unobserves the source, cancels the timer and drops pending scopes.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	token := p.token
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.pending = map[domain.Scope]bool{}
	p.state = stateIdle
	p.epoch++
	p.armSeq++
	p.mu.Unlock()

	p.source.Unobserve(token)
	p.logger.Debug("remote change pipeline stopped")
}

// Classify maps a notification to the scopes it affects. A notification
// matching neither store affects both.
func (p *Pipeline) Classify(n datastore.Notification) []domain.Scope {
	switch {
	case matches(p.private, n):
		return []domain.Scope{domain.ScopePrivate}
	case matches(p.shared, n):
		return []domain.Scope{domain.ScopeShared}
	}
	return []domain.Scope{domain.ScopePrivate, domain.ScopeShared}
}

func matches(id StoreIdentity, n datastore.Notification) bool {
	return (n.StorePath != "" && n.StorePath == id.Path) || (n.StoreID != "" && n.StoreID == id.ID)
}

func (p *Pipeline) handle(n datastore.Notification) {
	scopes := p.Classify(n)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	for _, s := range scopes {
		p.pending[s] = true
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	p.armSeq++
	epoch, seq := p.epoch, p.armSeq
	p.timer = time.AfterFunc(p.debounce, func() { p.fire(epoch, seq) })
	p.state = stateArmed
}

func (p *Pipeline) fire(epoch, seq uint64) {
	p.mu.Lock()
	if !p.started || epoch != p.epoch || seq != p.armSeq || p.state != stateArmed || len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	drained := p.pending
	p.pending = map[domain.Scope]bool{}
	p.timer = nil
	p.state = stateDraining
	p.mu.Unlock()

	if _, err := p.source.ProcessPendingChanges(context.Background()); err != nil {
		p.logger.Error("failed to process pending changes", "error", err)
	}

	ev := MergeEvent{
		IncludesPrivateStoreChanges: drained[domain.ScopePrivate],
		IncludesSharedStoreChanges:  drained[domain.ScopeShared],
		At:                          time.Now().UTC(),
	}

	p.mu.Lock()
	publish := p.started && epoch == p.epoch
	if p.state == stateDraining {
		p.state = stateIdle
	}
	p.mu.Unlock()

	if publish {
		p.metrics.MergeEvent(ev.IncludesPrivateStoreChanges, ev.IncludesSharedStoreChanges)
		p.merges.Publish(ev)
	}
}
