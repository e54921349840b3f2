package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStoreMemory(t *testing.T) {
	for _, kind := range []string{"", "memory", " Memory "} {
		store, err := NewStore(kind, "")
		require.NoError(t, err)
		require.IsType(t, &MemoryStore{}, store)
		require.NoError(t, CloseIfSupported(store))
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("redis", "")
	require.Error(t, err)
}
