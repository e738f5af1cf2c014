package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInMemory(t *testing.T) {
	d, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	assert.NoError(t, d.Ping())
}

func TestMigrationsApply(t *testing.T) {
	d, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	for _, table := range []string{"store_meta", "homes", "locations", "items", "shares", "history"} {
		var name string
		err = d.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.sqlite")

	first, err := Open(path, StoreSchema)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path, StoreSchema)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, second.Close()) })
}

func TestForeignKeysEnforced(t *testing.T) {
	d, err := OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	_, err = d.Exec(`INSERT INTO locations (id, home_id, name, depth, created_at, modified_at)
		VALUES ('l1', 'missing-home', 'Shelf', 0, datetime('now'), datetime('now'))`)
	assert.Error(t, err)
}

func TestInMemoryDatabasesAreIsolated(t *testing.T) {
	a, err := OpenInMemory("isolated-a", StoreSchema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := OpenInMemory("isolated-b", StoreSchema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	_, err = a.Exec(`INSERT INTO homes (id, name, created_at, modified_at) VALUES ('h1', 'Home', datetime('now'), datetime('now'))`)
	require.NoError(t, err)

	var n int
	require.NoError(t, b.QueryRow(`SELECT COUNT(*) FROM homes`).Scan(&n))
	assert.Zero(t, n)
}

func TestSettingsSchema(t *testing.T) {
	d, err := OpenInMemory("settings-schema", SettingsSchema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	_, err = d.Exec(`INSERT INTO settings (key, value) VALUES ('k', 'v')`)
	require.NoError(t, err)

	var n int
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'homes'`).Scan(&n))
	assert.Zero(t, n)
}
