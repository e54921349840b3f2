package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marecast/internal/model"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Init(context.Background()))
	exerciseStore(t, store)
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	err := store.SaveRun(context.Background(), model.RunRecord{RunID: "x"})
	require.ErrorIs(t, err, errNotInitialized)
	_, err = store.ListRuns(context.Background())
	require.ErrorIs(t, err, errNotInitialized)
}

func TestMemoryStoreRejectsStaleVersions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Init(ctx))
	run := sampleRun("old", time.Time{})
	run.SchemaVersion = 0
	require.NoError(t, store.SaveRun(ctx, run))
	_, _, err := store.GetRun(ctx, "old")
	require.ErrorIs(t, err, ErrVersionMismatch)
}
