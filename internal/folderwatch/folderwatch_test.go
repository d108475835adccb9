package folderwatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	archerrors "lifearch/internal/errors"
	"lifearch/internal/pipeline"
	"lifearch/internal/vault"
)

// stubIngestor records ingestion requests.
type stubIngestor struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (s *stubIngestor) Ingest(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, archerrors.New(archerrors.KindInternal, "ingest failed")
	}
	s.calls = append(s.calls, req.Path)
	info, _ := os.Stat(req.Path)
	var size int64
	if info != nil {
		size = info.Size()
	}
	return &pipeline.Result{
		DocumentID: "doc-" + filepath.Base(req.Path),
		Status:     "ready",
		Size:       size,
	}, nil
}

func (s *stubIngestor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fixture struct {
	manager  *Manager
	ingestor *stubIngestor
	vault    *vault.Vault
	client   *redis.Client
	ctx      context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	v, err := vault.New(filepath.Join(t.TempDir(), "vault"))
	require.NoError(t, err)

	ing := &stubIngestor{}
	m := NewManager(client, v, ing, nil,
		WithDebounce(100*time.Millisecond),
		WithMaxFolders(3),
	)
	t.Cleanup(m.Stop)

	return &fixture{manager: m, ingestor: ing, vault: v, client: client, ctx: context.Background()}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAddFolderValidation(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	folder, err := f.manager.AddFolder(f.ctx, dir, true)
	require.NoError(t, err)
	assert.NotEmpty(t, folder.ID)
	assert.Equal(t, StatusActive, folder.Status)

	_, err = f.manager.AddFolder(f.ctx, dir, true)
	require.Error(t, err)
	assert.True(t, archerrors.IsKind(err, archerrors.KindValidation))

	_, err = f.manager.AddFolder(f.ctx, filepath.Join(dir, "missing"), true)
	require.Error(t, err)
	assert.True(t, archerrors.IsKind(err, archerrors.KindValidation))

	file := writeFile(t, dir, "plain.txt", "not a directory")
	_, err = f.manager.AddFolder(f.ctx, file, true)
	require.Error(t, err)
	assert.True(t, archerrors.IsKind(err, archerrors.KindValidation))
}

func TestAddFolderCap(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.manager.AddFolder(f.ctx, t.TempDir(), false)
		require.NoError(t, err)
	}

	_, err := f.manager.AddFolder(f.ctx, t.TempDir(), false)
	require.Error(t, err)
	assert.True(t, archerrors.IsKind(err, archerrors.KindValidation))
}

func TestWatchDebouncesToSingleIngest(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	folder, err := f.manager.AddFolder(f.ctx, dir, true)
	require.NoError(t, err)

	path := writeFile(t, dir, "a.txt", "first version of the document body")
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("second version of the document body"), 0o644))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("third version of the document body!"), 0o644))

	require.Eventually(t, func() bool {
		return f.ingestor.callCount() == 1
	}, 3*time.Second, 20*time.Millisecond)

	// No second ingestion arrives after the window settles.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, f.ingestor.callCount())

	got, err := f.manager.GetFolder(f.ctx, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Stats.FilesDetected)
	assert.Equal(t, int64(1), got.Stats.FilesIngested)
	assert.Equal(t, int64(0), got.Stats.FilesFailed)
	assert.Greater(t, got.Stats.BytesProcessed, int64(0))
	assert.NotEmpty(t, got.Stats.LastActivity)
}

func TestWatchSkipsDisallowedAndHiddenFiles(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	_, err := f.manager.AddFolder(f.ctx, dir, true)
	require.NoError(t, err)

	writeFile(t, dir, ".hidden.txt", "hidden file content")
	writeFile(t, dir, "~lock.docx", "editor lock file")
	writeFile(t, dir, "image.png", "not in the allow-list")

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 0, f.ingestor.callCount())
}

func TestWatchSkipsVaultDuplicates(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	content := "already archived content"
	seed := writeFile(t, t.TempDir(), "seed.txt", content)
	hash, err := vault.HashFile(seed)
	require.NoError(t, err)
	_, err = f.vault.Put(seed, hash, "text/plain")
	require.NoError(t, err)

	folder, err := f.manager.AddFolder(f.ctx, dir, true)
	require.NoError(t, err)

	writeFile(t, dir, "copy.txt", content)

	require.Eventually(t, func() bool {
		got, err := f.manager.GetFolder(f.ctx, folder.ID)
		return err == nil && got.Stats.FilesSkipped == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, f.ingestor.callCount())
}

func TestWatchRecordsFailures(t *testing.T) {
	f := newFixture(t)
	f.ingestor.fail = true
	dir := t.TempDir()

	folder, err := f.manager.AddFolder(f.ctx, dir, true)
	require.NoError(t, err)

	writeFile(t, dir, "doomed.txt", "this ingestion will fail")

	require.Eventually(t, func() bool {
		got, err := f.manager.GetFolder(f.ctx, folder.ID)
		return err == nil && got.Stats.FilesFailed == 1
	}, 3*time.Second, 20*time.Millisecond)

	got, err := f.manager.GetFolder(f.ctx, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Stats.ErrorCount)
	assert.NotEmpty(t, got.Stats.LastError)
}

func TestRemoveFolderCancelsPending(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	folder, err := f.manager.AddFolder(f.ctx, dir, true)
	require.NoError(t, err)

	writeFile(t, dir, "pending.txt", "written just before removal")
	require.NoError(t, f.manager.RemoveFolder(f.ctx, folder.ID))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, f.ingestor.callCount())

	_, err = f.manager.GetFolder(f.ctx, folder.ID)
	require.Error(t, err)
	assert.True(t, archerrors.IsKind(err, archerrors.KindNotFound))
}

func TestRemoveUnknownFolder(t *testing.T) {
	f := newFixture(t)
	err := f.manager.RemoveFolder(f.ctx, "no-such-id")
	require.Error(t, err)
	assert.True(t, archerrors.IsKind(err, archerrors.KindNotFound))
}

func TestDisableStopsIngestion(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	folder, err := f.manager.AddFolder(f.ctx, dir, true)
	require.NoError(t, err)
	require.NoError(t, f.manager.SetEnabled(f.ctx, folder.ID, false))

	writeFile(t, dir, "ignored.txt", "written while disabled")
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, f.ingestor.callCount())

	got, err := f.manager.GetFolder(f.ctx, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.False(t, got.Enabled)
}

func TestInitializeResumesFolders(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	missing := filepath.Join(t.TempDir(), "gone")
	require.NoError(t, os.Mkdir(missing, 0o755))

	alive, err := f.manager.AddFolder(f.ctx, dir, true)
	require.NoError(t, err)
	dead, err := f.manager.AddFolder(f.ctx, missing, true)
	require.NoError(t, err)

	f.manager.Stop()
	require.NoError(t, os.Remove(missing))

	resumed := NewManager(f.client, f.vault, f.ingestor, nil, WithDebounce(100*time.Millisecond))
	t.Cleanup(resumed.Stop)
	require.NoError(t, resumed.Initialize(f.ctx))

	gotAlive, err := resumed.GetFolder(f.ctx, alive.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, gotAlive.Status)

	gotDead, err := resumed.GetFolder(f.ctx, dead.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, gotDead.Status)
	assert.Contains(t, gotDead.Stats.LastError, "no longer exists")
}

func TestFoldersListsByPath(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.AddFolder(f.ctx, t.TempDir(), false)
	require.NoError(t, err)
	_, err = f.manager.AddFolder(f.ctx, t.TempDir(), false)
	require.NoError(t, err)

	folders, err := f.manager.Folders(f.ctx)
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.LessOrEqual(t, folders[0].Path, folders[1].Path)
}

func TestDebouncerReschedule(t *testing.T) {
	d := newDebouncer(50 * time.Millisecond)
	defer d.Stop()

	var mu sync.Mutex
	fired := 0
	key := taskKey{folderID: "f1", path: "/tmp/a"}

	for i := 0; i < 5; i++ {
		d.Schedule(key, func() {
			mu.Lock()
			fired++
			mu.Unlock()
		})
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, d.PendingCount())
}

func TestDebouncerCancelFolder(t *testing.T) {
	d := newDebouncer(100 * time.Millisecond)
	defer d.Stop()

	var mu sync.Mutex
	fired := map[string]int{}

	d.Schedule(taskKey{folderID: "f1", path: "/a"}, func() { mu.Lock(); fired["f1"]++; mu.Unlock() })
	d.Schedule(taskKey{folderID: "f2", path: "/b"}, func() { mu.Lock(); fired["f2"]++; mu.Unlock() })
	d.CancelFolder("f1")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired["f2"] == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, fired["f1"])
}
