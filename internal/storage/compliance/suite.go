// Package compliance defines a behavioral test suite every archive object
// store implementation must pass.
package compliance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ObjectStore is the full surface the suite exercises.
type ObjectStore interface {
	WriteObject(ctx context.Context, name string, data []byte) error
	ReadObject(ctx context.Context, name string) ([]byte, error)
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// RunObjectStoreComplianceTest runs the shared behavioral suite against a
// store. The setup callback returns a fresh store and its cleanup function.
func RunObjectStoreComplianceTest(t *testing.T, setup func() (ObjectStore, func())) {
	t.Run("WriteThenRead", func(t *testing.T) {
		store, cleanup := setup()
		defer cleanup()
		ctx := context.Background()

		data := []byte(`{"id":"1"}` + "\n" + `{"id":"2"}` + "\n")
		require.NoError(t, store.WriteObject(ctx, "audit/2026/01/15/083000-a.ndjson", data))

		got, err := store.ReadObject(ctx, "audit/2026/01/15/083000-a.ndjson")
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("OverwriteReplaces", func(t *testing.T) {
		store, cleanup := setup()
		defer cleanup()
		ctx := context.Background()

		require.NoError(t, store.WriteObject(ctx, "audit/old.ndjson", []byte("first")))
		require.NoError(t, store.WriteObject(ctx, "audit/old.ndjson", []byte("second")))

		got, err := store.ReadObject(ctx, "audit/old.ndjson")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), got)
	})

	t.Run("ReadMissingFails", func(t *testing.T) {
		store, cleanup := setup()
		defer cleanup()

		_, err := store.ReadObject(context.Background(), "audit/never-written.ndjson")
		assert.Error(t, err)
	})

	t.Run("ListByPrefix", func(t *testing.T) {
		store, cleanup := setup()
		defer cleanup()
		ctx := context.Background()

		require.NoError(t, store.WriteObject(ctx, "audit/2026/01/14/a.ndjson", []byte("a")))
		require.NoError(t, store.WriteObject(ctx, "audit/2026/01/15/b.ndjson", []byte("b")))
		require.NoError(t, store.WriteObject(ctx, "other/c.ndjson", []byte("c")))

		names, err := store.ListObjects(ctx, "audit/2026/")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"audit/2026/01/14/a.ndjson", "audit/2026/01/15/b.ndjson"}, names)
	})
}
