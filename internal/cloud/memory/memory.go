// Package memory is an in-process cloud backend. Several clients sharing
// one Backend behave like users of the same cloud container.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vbonduro/cubby/internal/domain"
)

type Backend struct {
	mu     sync.Mutex
	zones  map[string]map[string]domain.Record
	shares map[string]domain.Share
	subs   map[string]map[*subscription]struct{}
	down   error
}

func New() *Backend {
	return &Backend{
		zones:  map[string]map[string]domain.Record{},
		shares: map[string]domain.Share{},
		subs:   map[string]map[*subscription]struct{}{},
	}
}

// SetDown makes every call fail with err until called again with nil.
func (b *Backend) SetDown(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = err
}

func recordKey(entity, id string) string { return entity + ":" + id }

func (b *Backend) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.down
}

func (b *Backend) GetRecord(_ context.Context, zone, entity, id string) (*domain.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return nil, b.down
	}
	r, ok := b.zones[zone][recordKey(entity, id)]
	if !ok {
		return nil, nil
	}
	r.Fields = copyFields(r.Fields)
	return &r, nil
}

func (b *Backend) PutRecord(_ context.Context, zone string, r domain.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return b.down
	}
	key := recordKey(r.Entity, r.ID)
	if r.Deleted {
		delete(b.zones[zone], key)
		return nil
	}
	if b.zones[zone] == nil {
		b.zones[zone] = map[string]domain.Record{}
	}
	r.Fields = copyFields(r.Fields)
	b.zones[zone][key] = r
	return nil
}

func (b *Backend) ZoneRecords(_ context.Context, zone string) ([]domain.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return nil, b.down
	}
	keys := make([]string, 0, len(b.zones[zone]))
	for k := range b.zones[zone] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]domain.Record, 0, len(keys))
	for _, k := range keys {
		r := b.zones[zone][k]
		r.Fields = copyFields(r.Fields)
		out = append(out, r)
	}
	return out, nil
}

func (b *Backend) DeleteZone(_ context.Context, zone string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return b.down
	}
	delete(b.zones, zone)
	return nil
}

func (b *Backend) GetShare(_ context.Context, id string) (*domain.Share, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return nil, b.down
	}
	s, ok := b.shares[id]
	if !ok {
		return nil, nil
	}
	return copyShare(s), nil
}

func (b *Backend) ListShares(context.Context) ([]*domain.Share, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return nil, b.down
	}
	out := make([]*domain.Share, 0, len(b.shares))
	for _, s := range b.shares {
		out = append(out, copyShare(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *Backend) PutShare(_ context.Context, share *domain.Share) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return b.down
	}
	b.shares[share.ID] = *copyShare(*share)
	return nil
}

func (b *Backend) DeleteShare(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down != nil {
		return b.down
	}
	delete(b.shares, id)
	return nil
}

type subscription struct {
	queue   chan []domain.Record
	done    chan struct{}
	once    sync.Once
	handler func([]domain.Record)
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case batch := <-s.queue:
			s.handler(batch)
		}
	}
}

// Publish queues records for every subscriber of channel. Handlers run on
// a goroutine per subscription, in publish order.
func (b *Backend) Publish(ctx context.Context, channel string, records []domain.Record) error {
	b.mu.Lock()
	if b.down != nil {
		b.mu.Unlock()
		return b.down
	}
	subs := make([]*subscription, 0, len(b.subs[channel]))
	for s := range b.subs[channel] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		batch := make([]domain.Record, len(records))
		copy(batch, records)
		select {
		case s.queue <- batch:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *Backend) Subscribe(_ context.Context, channel string, handler func([]domain.Record)) (func(), error) {
	s := &subscription{
		queue:   make(chan []domain.Record, 64),
		done:    make(chan struct{}),
		handler: handler,
	}

	b.mu.Lock()
	if b.down != nil {
		b.mu.Unlock()
		return nil, b.down
	}
	if b.subs[channel] == nil {
		b.subs[channel] = map[*subscription]struct{}{}
	}
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()

	go s.run()

	return func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], s)
			b.mu.Unlock()
			close(s.done)
		})
	}, nil
}

func copyFields(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyShare(s domain.Share) *domain.Share {
	s.Participants = append([]domain.Participant(nil), s.Participants...)
	return &s
}
