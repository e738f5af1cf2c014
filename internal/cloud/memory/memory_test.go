package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/cubby/internal/domain"
)

func TestRecordsPutGetDelete(t *testing.T) {
	b := New()
	ctx := context.Background()
	r := domain.Record{Entity: domain.EntityHome, ID: "h1", Fields: map[string]string{"name": "Main"}}

	require.NoError(t, b.PutRecord(ctx, "z", r))
	r.Fields["name"] = "mutated after put"

	got, err := b.GetRecord(ctx, "z", domain.EntityHome, "h1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Main", got.Fields["name"])

	require.NoError(t, b.PutRecord(ctx, "z", domain.Record{Entity: domain.EntityHome, ID: "h1", Deleted: true}))
	got, err = b.GetRecord(ctx, "z", domain.EntityHome, "h1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSharesRoundTrip(t *testing.T) {
	b := New()
	ctx := context.Background()
	share := &domain.Share{ID: "s1", HomeID: uuid.New(), Participants: []domain.Participant{{UserID: "a"}}}

	require.NoError(t, b.PutShare(ctx, share))
	share.Participants[0].UserID = "changed"

	got, err := b.GetShare(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Participants[0].UserID)

	list, err := b.ListShares(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, b.DeleteShare(ctx, "s1"))
	got, err = b.GetShare(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ctx := context.Background()
	got := make(chan []domain.Record, 1)

	cancel, err := b.Subscribe(ctx, "ch", func(records []domain.Record) { got <- records })
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "ch", []domain.Record{{Entity: domain.EntityHome, ID: "h1"}}))

	select {
	case records := <-got:
		require.Len(t, records, 1)
		assert.Equal(t, "h1", records[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}

	cancel()
	cancel()
	require.NoError(t, b.Publish(ctx, "ch", []domain.Record{{ID: "late"}}))
	select {
	case <-got:
		t.Fatal("delivered after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSetDown(t *testing.T) {
	b := New()
	down := errors.New("offline")
	b.SetDown(down)

	assert.ErrorIs(t, b.Ping(context.Background()), down)
	_, err := b.ZoneRecords(context.Background(), "z")
	assert.ErrorIs(t, err, down)

	b.SetDown(nil)
	assert.NoError(t, b.Ping(context.Background()))
}
