//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "marecast.db"))
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() {
		_ = store.Close()
	})
	exerciseStore(t, store)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "marecast.db")

	first := NewSQLiteStore(path)
	require.NoError(t, first.Init(ctx))
	require.NoError(t, first.SaveForecast(ctx, sampleForecast("r1")))
	require.NoError(t, first.Close())

	second := NewSQLiteStore(path)
	require.NoError(t, second.Init(ctx))
	t.Cleanup(func() {
		_ = second.Close()
	})
	forecast, ok, err := second.GetForecast(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"waves_forecast"}, forecast.Variables)
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "marecast.db"))
	_, _, err := store.GetRun(context.Background(), "x")
	require.Error(t, err)
}

func TestDefaultStoreKindIsSQLite(t *testing.T) {
	require.Equal(t, "sqlite", DefaultStoreKind())
	store, err := NewStore("sqlite", filepath.Join(t.TempDir(), "marecast.db"))
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, store)
}
