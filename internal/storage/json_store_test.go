package storage

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadedSet(t *testing.T) {
	s := NewDownloadedSet("https://docs.example/b", "https://docs.example/a")

	assert.True(t, s.Has("https://docs.example/a"))
	assert.False(t, s.Add("https://docs.example/a"))
	assert.True(t, s.Add("https://docs.example/c"))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"https://docs.example/a", "https://docs.example/b", "https://docs.example/c"}, s.Sorted())
}

func TestJSONStore_LoadMissing(t *testing.T) {
	store := NewJSONStore(afero.NewMemMapFs(), "/state/downloaded.json")

	set, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestJSONStore_SaveIsSortedAndIndented(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewJSONStore(fs, "/state/nested/downloaded.json")
	ctx := context.Background()

	set := NewDownloadedSet("https://docs.example/dl?f=9", "https://docs.example/dl?f=10")
	require.NoError(t, store.Save(ctx, set))

	data, err := afero.ReadFile(fs, "/state/nested/downloaded.json")
	require.NoError(t, err)
	assert.Equal(t, "[\n  \"https://docs.example/dl?f=10\",\n  \"https://docs.example/dl?f=9\"\n]", string(data))

	exists, err := afero.Exists(fs, "/state/nested/downloaded.json.tmp")
	require.NoError(t, err)
	assert.False(t, exists)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, set.Sorted(), loaded.Sorted())
}

func TestJSONStore_SaveRewritesWholeFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewJSONStore(fs, "/state/downloaded.json")
	ctx := context.Background()

	set := NewDownloadedSet("https://docs.example/a")
	require.NoError(t, store.Save(ctx, set))
	set.Add("https://docs.example/b")
	require.NoError(t, store.Save(ctx, set))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://docs.example/a", "https://docs.example/b"}, loaded.Sorted())
}

func TestJSONStore_LoadCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/state/downloaded.json", []byte("{not json"), 0o644))
	store := NewJSONStore(fs, "/state/downloaded.json")

	set, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrCorruptState)
	require.NotNil(t, set)
	assert.Equal(t, 0, set.Len())
}
