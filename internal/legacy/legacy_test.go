package legacy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProviderMissingFileIsEmpty(t *testing.T) {
	p := FileProvider{Path: filepath.Join(t.TempDir(), FileName)}

	snap, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Empty())
	assert.NoFileExists(t, p.Path)
}

func TestSaveAndSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	parent := "loc-1"

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, &Snapshot{
		Homes: []Home{{ID: "home-1", Name: "Main", CreatedAt: at, ModifiedAt: at}},
		Locations: []Location{
			{ID: "loc-2", HomeID: "home-1", ParentID: &parent, Name: "Shelf", Depth: 1, CreatedAt: at, ModifiedAt: at},
			{ID: "loc-1", HomeID: "home-1", Name: "Garage", CreatedAt: at, ModifiedAt: at},
		},
		Items: []Item{{ID: "item-1", LocationID: "loc-2", Title: "Drill", Tags: []string{"tools"}, CreatedAt: at, ModifiedAt: at}},
	}))
	require.NoError(t, s.Close())

	snap, err := FileProvider{Path: path}.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Homes, 1)
	require.Len(t, snap.Locations, 2)
	require.Len(t, snap.Items, 1)

	assert.Equal(t, "loc-1", snap.Locations[0].ID, "roots come first")
	require.NotNil(t, snap.Locations[1].ParentID)
	assert.Equal(t, "loc-1", *snap.Locations[1].ParentID)
	assert.Equal(t, []string{"tools"}, snap.Items[0].Tags)
	assert.True(t, at.Equal(snap.Homes[0].CreatedAt))
}
