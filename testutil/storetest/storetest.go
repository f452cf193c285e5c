package storetest

import (
	"context"
	"path/filepath"
	"testing"

	anystore "github.com/anyproto/any-store"
	"github.com/stretchr/testify/require"

	"github.com/anyproto/any-guard/storage"
)

// NewStorage returns a storage component backed by a fresh database in the test temp dir
func NewStorage(t testing.TB) storage.Storage {
	db, err := anystore.Open(context.Background(), filepath.Join(t.TempDir(), "store.db"), nil)
	require.NoError(t, err)
	return storage.NewWithDB(db)
}
