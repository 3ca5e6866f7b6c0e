package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Contract(t *testing.T) {
	ports.RunSessionStoreContract(t, New(t.TempDir()))
}

func TestFileStore_Expiry(t *testing.T) {
	store := New(t.TempDir())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "short", domain.NewSession("short", "start"), time.Minute))
	require.NoError(t, store.Save(ctx, "forever", domain.NewSession("forever", "start"), 0))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"forever", "short"}, ids)

	now = now.Add(2 * time.Minute)

	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"forever"}, ids)

	_, err = store.Load(ctx, "short")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.NoFileExists(t, filepath.Join(store.BasePath, "short.json"), "expired file is removed on load")
}

func TestFileStore_AtomicSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Save(ctx, "s1", domain.NewSession("s1", "start"), 0))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s1.json", entries[0].Name())
}

func TestFileStore_RejectsUnsafeIDs(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"", "..", "../escape", `a\b`} {
		err := store.Save(ctx, id, domain.NewSession("x", "start"), 0)
		assert.Error(t, err, id)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))
	store := New(dir)

	_, err := store.Load(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSessionNotFound)

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
