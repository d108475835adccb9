package vault

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(t.TempDir())
	require.NoError(t, err)
	return v
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPutStoresAndDedupes(t *testing.T) {
	v := newVault(t)
	src := writeFile(t, t.TempDir(), "lease.txt", "twelve month term")

	first, err := v.Put(src, "", "text/plain")
	require.NoError(t, err)
	assert.False(t, first.Existed)
	assert.Len(t, first.Hash, 64)
	assert.FileExists(t, first.Path)

	// Same bytes under a different name resolve to the same object.
	copy := writeFile(t, t.TempDir(), "lease-copy.txt", "twelve month term")
	second, err := v.Put(copy, "", "text/plain")
	require.NoError(t, err)
	assert.True(t, second.Existed)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.Path, second.Path)
}

func TestPutRejectsInvalidHash(t *testing.T) {
	v := newVault(t)
	src := writeFile(t, t.TempDir(), "a.txt", "x")

	_, err := v.Put(src, "deadbeef", "text/plain")
	require.Error(t, err)
}

func TestHashFileMatchesPut(t *testing.T) {
	v := newVault(t)
	src := writeFile(t, t.TempDir(), "a.txt", "stable content")

	hash, err := HashFile(src)
	require.NoError(t, err)

	res, err := v.Put(src, "", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, hash, res.Hash)
}

func TestGetAndHas(t *testing.T) {
	v := newVault(t)
	src := writeFile(t, t.TempDir(), "doc.txt", "content")

	res, err := v.Put(src, "", "text/plain")
	require.NoError(t, err)

	assert.Equal(t, res.Path, v.Get(res.Hash, "txt"))
	assert.True(t, v.Has(res.Hash))

	assert.Empty(t, v.Get(res.Hash, "pdf"))
	assert.False(t, v.Has("0000000000000000000000000000000000000000000000000000000000000000"))
	assert.False(t, v.Has("short"))
}

func TestDeleteRemovesContent(t *testing.T) {
	v := newVault(t)
	src := writeFile(t, t.TempDir(), "doc.txt", "content")

	res, err := v.Put(src, "", "text/plain")
	require.NoError(t, err)

	assert.True(t, v.Delete(res.Hash, "txt"))
	assert.False(t, v.Has(res.Hash))
	assert.False(t, v.Delete(res.Hash, "txt"))
}

func TestPutImageGeneratesThumbnail(t *testing.T) {
	v := newVault(t)

	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 40, A: 255})
		}
	}
	src := filepath.Join(t.TempDir(), "photo.png")
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	res, err := v.Put(src, "", "image/png")
	require.NoError(t, err)

	thumb := v.GetThumbnail(res.Hash)
	require.NotEmpty(t, thumb)
	assert.FileExists(t, thumb)

	assert.True(t, v.Delete(res.Hash, "png"))
	assert.Empty(t, v.GetThumbnail(res.Hash))
}

func TestClearByHashes(t *testing.T) {
	v := newVault(t)
	dir := t.TempDir()
	a, err := v.Put(writeFile(t, dir, "a.txt", "aaa"), "", "text/plain")
	require.NoError(t, err)
	b, err := v.Put(writeFile(t, dir, "b.txt", "bbb"), "", "text/plain")
	require.NoError(t, err)

	stats := v.Clear([]string{a.Hash})
	assert.Equal(t, 1, stats.FilesDeleted)
	assert.Equal(t, int64(3), stats.BytesReclaimed)
	assert.False(t, v.Has(a.Hash))
	assert.True(t, v.Has(b.Hash))

	// A second clear of the same hash reports an orphan.
	stats = v.Clear([]string{a.Hash})
	assert.Equal(t, 0, stats.FilesDeleted)
	assert.Equal(t, 1, stats.Orphans)
}

func TestClearAll(t *testing.T) {
	v := newVault(t)
	dir := t.TempDir()
	_, err := v.Put(writeFile(t, dir, "a.txt", "aaa"), "", "text/plain")
	require.NoError(t, err)
	_, err = v.Put(writeFile(t, dir, "b.txt", "bbbb"), "", "text/plain")
	require.NoError(t, err)

	stats := v.Clear(nil)
	assert.Equal(t, 2, stats.FilesDeleted)
	assert.Equal(t, int64(7), stats.BytesReclaimed)

	s := v.CollectStats()
	assert.Zero(t, s.ContentFiles)
}

func TestCleanupTemp(t *testing.T) {
	v := newVault(t)
	tempDir := filepath.Join(v.Root(), "temp")

	stale := filepath.Join(tempDir, "put-stale")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(tempDir, "put-fresh")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	removed := v.CleanupTemp(24 * time.Hour)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestCollectStats(t *testing.T) {
	v := newVault(t)
	_, err := v.Put(writeFile(t, t.TempDir(), "a.txt", "12345"), "", "text/plain")
	require.NoError(t, err)

	s := v.CollectStats()
	assert.Equal(t, 1, s.ContentFiles)
	assert.Equal(t, int64(5), s.ContentBytes)
	assert.Zero(t, s.TempFiles)
}

func TestNormalizeExt(t *testing.T) {
	assert.Equal(t, "pdf", NormalizeExt("/tmp/Report.PDF"))
	assert.Equal(t, "txt", NormalizeExt("notes.txt"))
	assert.Equal(t, "", NormalizeExt("Makefile"))
}
