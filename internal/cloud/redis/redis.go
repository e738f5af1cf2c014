// Package redis is a cloud backend on Redis: records in one hash per zone,
// shares in a single hash, change fan-out over pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vbonduro/cubby/internal/domain"
)

type Backend struct {
	rdb    *goredis.Client
	prefix string
	logger *slog.Logger
}

// New returns a backend keyed under prefix, normally the container id.
func New(rdb *goredis.Client, prefix string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{rdb: rdb, prefix: prefix, logger: logger}
}

func (b *Backend) zoneKey(zone string) string    { return b.prefix + ":zone:" + zone }
func (b *Backend) sharesKey() string             { return b.prefix + ":shares" }
func (b *Backend) channelKey(name string) string { return b.prefix + ":" + name }

func field(entity, id string) string { return entity + ":" + id }

func (b *Backend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *Backend) GetRecord(ctx context.Context, zone, entity, id string) (*domain.Record, error) {
	raw, err := b.rdb.HGet(ctx, b.zoneKey(zone), field(entity, id)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r domain.Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", field(entity, id), err)
	}
	return &r, nil
}

func (b *Backend) PutRecord(ctx context.Context, zone string, r domain.Record) error {
	if r.Deleted {
		return b.rdb.HDel(ctx, b.zoneKey(zone), field(r.Entity, r.ID)).Err()
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return b.rdb.HSet(ctx, b.zoneKey(zone), field(r.Entity, r.ID), raw).Err()
}

func (b *Backend) ZoneRecords(ctx context.Context, zone string) ([]domain.Record, error) {
	all, err := b.rdb.HGetAll(ctx, b.zoneKey(zone)).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]domain.Record, 0, len(keys))
	for _, k := range keys {
		var r domain.Record
		if err := json.Unmarshal([]byte(all[k]), &r); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", k, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (b *Backend) DeleteZone(ctx context.Context, zone string) error {
	return b.rdb.Del(ctx, b.zoneKey(zone)).Err()
}

func (b *Backend) GetShare(ctx context.Context, id string) (*domain.Share, error) {
	raw, err := b.rdb.HGet(ctx, b.sharesKey(), id).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s domain.Share
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode share %s: %w", id, err)
	}
	return &s, nil
}

func (b *Backend) ListShares(ctx context.Context) ([]*domain.Share, error) {
	all, err := b.rdb.HGetAll(ctx, b.sharesKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Share, 0, len(all))
	for id, raw := range all {
		var s domain.Share
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("failed to decode share %s: %w", id, err)
		}
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *Backend) PutShare(ctx context.Context, share *domain.Share) error {
	stored := *share
	stored.Participants = make([]domain.Participant, len(share.Participants))
	for i, p := range share.Participants {
		p.IsCurrentUser = false
		stored.Participants[i] = p
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode share: %w", err)
	}
	return b.rdb.HSet(ctx, b.sharesKey(), share.ID, raw).Err()
}

func (b *Backend) DeleteShare(ctx context.Context, id string) error {
	return b.rdb.HDel(ctx, b.sharesKey(), id).Err()
}

func (b *Backend) Publish(ctx context.Context, channel string, records []domain.Record) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	return b.rdb.Publish(ctx, b.channelKey(channel), raw).Err()
}

// Subscribe waits for Redis to confirm the subscription before returning,
// so nothing published afterwards is missed.
func (b *Backend) Subscribe(ctx context.Context, channel string, handler func([]domain.Record)) (func(), error) {
	ps := b.rdb.Subscribe(ctx, b.channelKey(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			var records []domain.Record
			if err := json.Unmarshal([]byte(msg.Payload), &records); err != nil {
				b.logger.Warn("dropping undecodable change message", "channel", msg.Channel, "error", err)
				continue
			}
			handler(records)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				b.logger.Warn("failed to close subscription", "channel", channel, "error", err)
			}
			<-done
		})
	}, nil
}
