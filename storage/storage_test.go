package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaflens/config"
)

func TestNewImageKey(t *testing.T) {
	k1 := NewImageKey("Leaf.JPG")
	k2 := NewImageKey("Leaf.JPG")

	assert.True(t, strings.HasPrefix(k1, PredictionPrefix))
	assert.True(t, strings.HasSuffix(k1, ".jpg"))
	assert.NotEqual(t, k1, k2)

	assert.False(t, strings.Contains(NewImageKey("../../etc/passwd"), ".."))
	assert.False(t, strings.HasSuffix(NewImageKey("payload.exe"), ".exe"))
}

func TestKeyFromRef(t *testing.T) {
	for ref, want := range map[string]string{
		"/media/predictions/a.jpg":                          "predictions/a.jpg",
		"predictions/a.jpg":                                 "predictions/a.jpg",
		"https://s3.example.com/leaflens/predictions/b.png": "predictions/b.png",
		"https://s3.example.com/predictions/predictions/c":  "predictions/c",
	} {
		key, ok := KeyFromRef(ref)
		assert.True(t, ok, ref)
		assert.Equal(t, want, key, ref)
	}

	_, ok := KeyFromRef("/media/samples/blight.jpg")
	assert.False(t, ok)
	_, ok = KeyFromRef("/media/predictions/")
	assert.False(t, ok)

	// Schlüssel und Referenz passen für jede Basis-URL zusammen
	s := NewLocalStore(t.TempDir(), "https://cdn.example.com/media/")
	key, ok := KeyFromRef(s.Ref("predictions/x.jpg"))
	assert.True(t, ok)
	assert.Equal(t, "predictions/x.jpg", key)
}

func TestLocalStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewLocalStore(root, "/media/")
	ctx := context.Background()

	ref, err := s.Save(ctx, "predictions/a.jpg", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "/media/predictions/a.jpg", ref)

	data, err := os.ReadFile(filepath.Join(root, "predictions", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), data)

	_, err = s.Save(ctx, "other/b.jpg", []byte("x"))
	require.NoError(t, err)

	objs, err := s.List(ctx, PredictionPrefix)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "predictions/a.jpg", objs[0].Key)
	assert.Equal(t, ref, objs[0].Ref)
	assert.False(t, objs[0].ModTime.IsZero())

	require.NoError(t, s.Delete(ctx, "predictions/a.jpg"))
	objs, err = s.List(ctx, PredictionPrefix)
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestLocalStoreKeyStaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	s := NewLocalStore(root, "/media")

	_, err := s.Save(context.Background(), "../escape.jpg", []byte("x"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "escape.jpg"))
	assert.NoError(t, err)
}

func TestLocalStoreListMissingRoot(t *testing.T) {
	s := NewLocalStore(filepath.Join(t.TempDir(), "missing"), "/media")
	objs, err := s.List(context.Background(), PredictionPrefix)
	assert.NoError(t, err)
	assert.Empty(t, objs)
}

func TestNewSelectsBackend(t *testing.T) {
	store, err := New(context.Background(), &config.Storage{StorageBackend: "local", LocalMediaRoot: t.TempDir(), MediaURL: "/media/"})
	require.NoError(t, err)
	local, ok := store.(*LocalStore)
	require.True(t, ok)
	assert.Equal(t, "/media/predictions/a.jpg", local.Ref("predictions/a.jpg"))

	_, err = New(context.Background(), &config.Storage{StorageBackend: "ftp"})
	assert.Error(t, err)
}
