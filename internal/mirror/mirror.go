// Package mirror keeps the cloud container in step with both stores:
// pending local history is pushed as records, and records pushed by other
// devices are merged back in.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/cloud"
	"github.com/vbonduro/cubby/internal/datastore"
	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/metrics"
	"github.com/vbonduro/cubby/internal/remotechange"
	"github.com/vbonduro/cubby/internal/store"
)

const (
	exportBatch = 500

	defaultRetryInitial = 5 * time.Second
	defaultRetryMax     = 5 * time.Minute
)

type Stores interface {
	Store(scope domain.Scope) *datastore.Store
}

// SyncRecorder receives the outcome of every export.
type SyncRecorder interface {
	RecordSyncEvent(at time.Time)
	RecordError(err error)
}

type Mirror struct {
	container cloud.Container
	stores    Stores
	sync      SyncRecorder
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// Start retry delays.
	retryInitial time.Duration
	retryMax     time.Duration

	exportMu sync.Mutex

	mu      sync.Mutex
	cancels []func()
}

func New(container cloud.Container, stores Stores, recorder SyncRecorder, m *metrics.Metrics, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		container:    container,
		stores:       stores,
		sync:         recorder,
		metrics:      m,
		logger:       logger,
		retryInitial: defaultRetryInitial,
		retryMax:     defaultRetryMax,
	}
}

var scopes = []domain.Scope{domain.ScopePrivate, domain.ScopeShared}

// Export pushes every pending local change of both stores and returns how
// many records were pushed.
func (m *Mirror) Export(ctx context.Context) (int, error) {
	m.exportMu.Lock()
	defer m.exportMu.Unlock()

	total := 0
	for _, scope := range scopes {
		st := m.stores.Store(scope)
		if st == nil {
			continue
		}
		n, err := m.exportStore(ctx, st)
		if err != nil {
			if m.sync != nil {
				m.sync.RecordError(err)
			}
			return total, err
		}
		m.metrics.ExportedChanges(string(scope), n)
		total += n
	}

	if m.sync != nil {
		m.sync.RecordSyncEvent(time.Now().UTC())
	}
	return total, nil
}

func (m *Mirror) exportStore(ctx context.Context, st *datastore.Store) (int, error) {
	pushed := 0
	for {
		view := st.View()
		changes, err := view.History.PendingLocal(ctx, exportBatch)
		if err != nil {
			return pushed, err
		}
		if len(changes) == 0 {
			return pushed, nil
		}

		records, err := buildRecords(ctx, view, changes)
		if err != nil {
			return pushed, err
		}
		n, err := m.push(ctx, st.Scope(), records)
		if err != nil {
			return pushed, err
		}
		if err := st.MarkExported(ctx, changes[len(changes)-1].Seq); err != nil {
			return pushed, err
		}
		pushed += n

		if len(changes) < exportBatch {
			return pushed, nil
		}
	}
}

// push sends records as one batch. If the container refuses the batch
// because access to some home is gone, records are retried one at a time
// and the refused ones are dropped.
func (m *Mirror) push(ctx context.Context, scope domain.Scope, records []domain.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	err := m.container.Push(ctx, scope, records)
	if err == nil {
		return len(records), nil
	}
	if cloud.Classify(err) != cloud.Revoked {
		return 0, fmt.Errorf("failed to push %s changes: %w", scope, err)
	}

	pushed := 0
	for _, r := range records {
		err := m.container.Push(ctx, scope, []domain.Record{r})
		switch {
		case err == nil:
			pushed++
		case cloud.Classify(err) == cloud.Revoked:
			m.logger.Warn("dropping change the cloud refused", "scope", scope, "entity", r.Entity, "id", r.ID, "error", err)
		default:
			return pushed, fmt.Errorf("failed to push %s changes: %w", scope, err)
		}
	}
	return pushed, nil
}

// buildRecords turns history rows into one record per changed row: the
// row as it is now, or a tombstone if it no longer exists. Upserts keep
// history order; tombstones follow, children first.
func buildRecords(ctx context.Context, set *store.Set, changes []*store.Change) ([]domain.Record, error) {
	type key struct{ entity, id string }
	seen := map[key]bool{}
	var upserts, tombstones []domain.Record

	for _, c := range changes {
		if c.Entity == domain.EntityShare {
			continue
		}
		k := key{c.Entity, c.EntityID}
		if seen[k] {
			continue
		}
		seen[k] = true

		r, err := currentRecord(ctx, set, c.Entity, c.EntityID)
		if err != nil {
			return nil, err
		}
		if r == nil {
			tombstones = append(tombstones, domain.Record{Entity: c.Entity, ID: c.EntityID, Deleted: true, ModifiedAt: c.ChangedAt})
			continue
		}
		upserts = append(upserts, *r)
	}

	rank := map[string]int{domain.EntityItem: 0, domain.EntityLocation: 1, domain.EntityHome: 2}
	sort.SliceStable(tombstones, func(i, j int) bool {
		return rank[tombstones[i].Entity] < rank[tombstones[j].Entity]
	})
	return append(upserts, tombstones...), nil
}

func currentRecord(ctx context.Context, set *store.Set, entity, rawID string) (*domain.Record, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid history entity id %q: %w", rawID, err)
	}

	var r domain.Record
	switch entity {
	case domain.EntityHome:
		h, err := set.Homes.GetByID(ctx, id)
		if err != nil || h == nil {
			return nil, err
		}
		r = h.Record()
	case domain.EntityLocation:
		l, err := set.Locations.GetByID(ctx, id)
		if err != nil || l == nil {
			return nil, err
		}
		r = l.Record()
	case domain.EntityItem:
		i, err := set.Items.GetByID(ctx, id)
		if err != nil || i == nil {
			return nil, err
		}
		r = i.Record()
	default:
		return nil, fmt.Errorf("unsupported history entity %q", entity)
	}
	return &r, nil
}

// Start subscribes to remote changes for both scopes, then merges what the
// container already holds so changes pushed while this process was down
// arrive too. Received records are merged into the matching store, which
// notifies the merge pipeline. On failure nothing stays subscribed.
func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.cancels) > 0 {
		return nil
	}

	var cancels []func()
	stop := func() {
		for _, c := range cancels {
			c()
		}
	}
	for _, scope := range scopes {
		st := m.stores.Store(scope)
		if st == nil {
			continue
		}
		cancel, err := m.container.Subscribe(ctx, scope, m.applyHandler(ctx, st))
		if err != nil {
			stop()
			return fmt.Errorf("failed to subscribe to %s changes: %w", scope, err)
		}
		cancels = append(cancels, cancel)
	}

	if err := m.catchUp(ctx); err != nil {
		stop()
		return err
	}
	m.cancels = cancels
	m.logger.Info("cloud mirror started", "subscriptions", len(m.cancels))
	return nil
}

// Started reports whether remote changes are being received.
func (m *Mirror) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels) > 0
}

// catchUp applies the private zone to the private store and every accepted
// share's zone to the shared store. Re-applying records already merged is
// a no-op.
func (m *Mirror) catchUp(ctx context.Context) error {
	if st := m.stores.Store(domain.ScopePrivate); st != nil {
		records, err := m.container.FetchPrivateZone(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch private zone: %w", err)
		}
		if err := m.apply(ctx, st, records); err != nil {
			return err
		}
	}

	st := m.stores.Store(domain.ScopeShared)
	if st == nil {
		return nil
	}
	shares, err := st.View().Shares.List(ctx)
	if err != nil {
		return err
	}
	for _, share := range shares {
		records, err := m.container.FetchZone(ctx, share.ID)
		if cloud.Classify(err) == cloud.Revoked {
			m.logger.Warn("skipping revoked share", "share_id", share.ID, "home_id", share.HomeID, "error", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to fetch share %s: %w", share.ID, err)
		}
		if err := m.apply(ctx, st, cloud.Aggregate(records, share.HomeID.String())); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) apply(ctx context.Context, st *datastore.Store, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	result, err := st.ApplyRemote(ctx, records)
	if err != nil {
		return fmt.Errorf("failed to apply %s records: %w", st.Scope(), err)
	}
	m.metrics.RemoteRecords(string(st.Scope()), result.Applied, result.Skipped)
	m.logger.Debug("applied remote changes", "scope", st.Scope(), "applied", result.Applied, "skipped", result.Skipped)
	return nil
}

func (m *Mirror) applyHandler(ctx context.Context, st *datastore.Store) func([]domain.Record) {
	return func(records []domain.Record) {
		if ctx.Err() != nil {
			return
		}
		if err := m.apply(ctx, st, records); err != nil {
			m.logger.Error("failed to apply remote changes", "records", len(records), "error", err)
		}
	}
}

func (m *Mirror) Stop() {
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}

// Run starts the mirror and exports once, then exports again after every
// merge event that includes changes, until ctx is done or merges is
// closed. Export failures are logged and retried on the next event. While
// the mirror is not started, Start is retried with backoff, on every merge
// event and whenever states reports the container synced.
func (m *Mirror) Run(ctx context.Context, merges <-chan remotechange.MergeEvent, states <-chan domain.SyncState) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.retryInitial
	b.MaxInterval = m.retryMax
	b.MaxElapsedTime = 0

	retry := time.NewTimer(m.retryMax)
	retry.Stop()
	defer retry.Stop()

	ensureStarted := func() bool {
		if m.Started() {
			return true
		}
		if err := m.Start(ctx); err != nil {
			if ctx.Err() != nil {
				return false
			}
			wait := b.NextBackOff()
			m.logger.Warn("cloud mirror not started", "error", err, "presentation", cloud.Present(err).Message, "retry_in", wait)
			retry.Reset(wait)
			return false
		}
		b.Reset()
		retry.Stop()
		return true
	}

	ensureStarted()
	m.exportLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retry.C:
			if ensureStarted() {
				m.exportLogged(ctx)
			}
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if st.Mode == domain.SyncSynced && !m.Started() && ensureStarted() {
				m.exportLogged(ctx)
			}
		case ev, ok := <-merges:
			if !ok {
				return nil
			}
			started := m.Started()
			if ensureStarted() && (!started || ev.IncludesPrivateStoreChanges || ev.IncludesSharedStoreChanges) {
				m.exportLogged(ctx)
			}
		}
	}
}

func (m *Mirror) exportLogged(ctx context.Context) {
	n, err := m.Export(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		m.logger.Warn("failed to export changes", "error", err, "presentation", cloud.Present(err).Message)
		return
	}
	if n > 0 {
		m.logger.Info("exported changes", "records", n)
	}
}
