package scanner

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"quaver/internal/catalog"
	"quaver/internal/db"
	"quaver/internal/tags"
)

// extractByName fakes the tag adapter: records are keyed by base name,
// anything unknown is not audio. The engine itself never looks inside
// files, so tests can use empty placeholders on disk.
func extractByName(records map[string]*tags.Record) Extractor {
	return func(path string) (*tags.Record, error) {
		record, ok := records[filepath.Base(path)]
		if !ok {
			return nil, tags.ErrNotAudio
		}

		copied := *record
		return &copied, nil
	}
}

func newServiceForTest(t *testing.T, extract Extractor) (*Service, *catalog.Store, *sql.DB) {
	t.Helper()

	databasePath := filepath.Join(t.TempDir(), "catalog.db")
	database, err := db.Bootstrap(databasePath)
	if err != nil {
		t.Fatalf("bootstrap test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store := catalog.NewStore(database)
	return New(store, extract, nil, nil), store, database
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func songRecord(title, artist, album string, track int) *tags.Record {
	return &tags.Record{
		Title:    title,
		Artist:   artist,
		Album:    album,
		Track:    track,
		Year:     2003,
		Duration: 180,
		BitRate:  192,
		Type:     "mp3",
	}
}

func countRows(t *testing.T, database *sql.DB, table string) int {
	t.Helper()

	var count int
	if err := database.QueryRow("SELECT COUNT(1) FROM " + table).Scan(&count); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}

	return count
}

func TestRunIndexesLibrary(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Artist", "Album", "01.mp3"), nil)
	writeFile(t, filepath.Join(root, "Artist", "Album", "02.mp3"), nil)
	writeFile(t, filepath.Join(root, "Artist", "Album", "notes.txt"), nil)

	service, _, database := newServiceForTest(t, extractByName(map[string]*tags.Record{
		"01.mp3": songRecord("One", "Artist", "Album", 1),
		"02.mp3": songRecord("Two", "Artist", "Album", 2),
	}))

	totals, err := service.Run(context.Background(), root, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if totals.Seen != 3 || totals.Indexed != 2 || totals.Skipped != 1 || totals.Failed != 0 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if got := countRows(t, database, "songs"); got != 2 {
		t.Fatalf("expected 2 songs, got %d", got)
	}
	if got := countRows(t, database, "albums"); got != 1 {
		t.Fatalf("expected 1 album, got %d", got)
	}
	if got := countRows(t, database, "artists"); got != 1 {
		t.Fatalf("expected 1 artist, got %d", got)
	}
}

func TestRunStoresAmbientCover(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Album", "01.mp3"), nil)
	writeFile(t, filepath.Join(root, "Album", "cover.jpg"), []byte("folder-cover"))

	service, _, database := newServiceForTest(t, extractByName(map[string]*tags.Record{
		"01.mp3": songRecord("One", "Artist", "Album", 1),
	}))

	if _, err := service.Run(context.Background(), root, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	var image []byte
	if err := database.QueryRow("SELECT image FROM covers WHERE albumId = ?",
		catalog.DeriveID("Album", "Artist")).Scan(&image); err != nil {
		t.Fatalf("cover row missing: %v", err)
	}
	if !bytes.Equal(image, []byte("folder-cover")) {
		t.Fatalf("expected the directory cover to be stored, got %q", image)
	}
}

func TestRunRescanIsIdempotent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Album", "01.mp3"), nil)

	service, store, database := newServiceForTest(t, extractByName(map[string]*tags.Record{
		"01.mp3": songRecord("One", "Artist", "Album", 1),
	}))
	ctx := context.Background()

	if _, err := service.Run(ctx, root, false); err != nil {
		t.Fatalf("first run: %v", err)
	}

	before := map[string]int64{}
	for _, table := range []string{"artists", "albums", "songs"} {
		ts, err := store.LastUpdate(ctx, table)
		if err != nil {
			t.Fatalf("last update %s: %v", table, err)
		}
		before[table] = ts
	}

	time.Sleep(5 * time.Millisecond)

	totals, err := service.Run(ctx, root, false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if totals.Indexed != 1 {
		t.Fatalf("unexpected totals on rescan: %+v", totals)
	}

	if got := countRows(t, database, "songs"); got != 1 {
		t.Fatalf("rescan must not duplicate songs, got %d", got)
	}
	for _, table := range []string{"artists", "albums", "songs"} {
		ts, err := store.LastUpdate(ctx, table)
		if err != nil {
			t.Fatalf("last update %s: %v", table, err)
		}
		if ts != before[table] {
			t.Fatalf("unchanged rescan advanced %s timestamp", table)
		}
	}
}

func TestRunIncrementalPrunesRemovedFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	keptPath := filepath.Join(root, "Artist One", "Album One", "01.mp3")
	gonePath := filepath.Join(root, "Artist Two", "Album Two", "01.mp3")
	writeFile(t, keptPath, nil)
	writeFile(t, gonePath, nil)
	writeFile(t, filepath.Join(root, "Artist Two", "Album Two", "cover.jpg"), []byte("art"))

	extract := func(path string) (*tags.Record, error) {
		if filepath.Ext(path) != ".mp3" {
			return nil, tags.ErrNotAudio
		}
		artist := filepath.Base(filepath.Dir(filepath.Dir(path)))
		album := filepath.Base(filepath.Dir(path))
		return songRecord("Song", artist, album, 1), nil
	}

	service, _, database := newServiceForTest(t, extract)
	ctx := context.Background()

	if _, err := service.Run(ctx, root, false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got := countRows(t, database, "covers"); got != 1 {
		t.Fatalf("expected the second album's cover stored, got %d", got)
	}

	if err := os.RemoveAll(filepath.Join(root, "Artist Two")); err != nil {
		t.Fatalf("remove subtree: %v", err)
	}

	if _, err := service.Run(ctx, root, false); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if got := countRows(t, database, "songs"); got != 1 {
		t.Fatalf("expected one surviving song, got %d", got)
	}
	if got := countRows(t, database, "albums"); got != 1 {
		t.Fatalf("expected the orphaned album pruned, got %d", got)
	}
	if got := countRows(t, database, "artists"); got != 1 {
		t.Fatalf("expected the orphaned artist pruned, got %d", got)
	}
	if got := countRows(t, database, "covers"); got != 0 {
		t.Fatalf("expected the orphaned cover pruned, got %d", got)
	}
}

func TestRunFullScanReplacesCatalog(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Album", "01.mp3"), nil)
	writeFile(t, filepath.Join(root, "Album", "02.mp3"), nil)

	service, store, database := newServiceForTest(t, extractByName(map[string]*tags.Record{
		"01.mp3": songRecord("One", "Artist", "Album", 1),
		"02.mp3": songRecord("Two", "Artist", "Album", 2),
	}))
	ctx := context.Background()

	// Leftover state from an earlier library layout.
	stale := songRecord("Old", "Old Artist", "Old Album", 1)
	if err := store.Reconcile(ctx, stale, "/deleted/old.mp3", nil); err != nil {
		t.Fatalf("seed stale row: %v", err)
	}

	totals, err := service.Run(ctx, root, true)
	if err != nil {
		t.Fatalf("full scan: %v", err)
	}

	if totals.Indexed != 2 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if got := countRows(t, database, "songs"); got != 2 {
		t.Fatalf("expected exactly the rescanned songs, got %d", got)
	}

	var staleCount int
	if err := database.QueryRow("SELECT COUNT(1) FROM songs WHERE title = 'Old'").Scan(&staleCount); err != nil {
		t.Fatalf("count stale songs: %v", err)
	}
	if staleCount != 0 {
		t.Fatalf("full scan left a pre-truncate row behind")
	}
}

func TestRunFullScanOnEmptyTreeBumpsTimestamps(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	service, store, _ := newServiceForTest(t, extractByName(nil))
	ctx := context.Background()

	totals, err := service.Run(ctx, root, true)
	if err != nil {
		t.Fatalf("full scan: %v", err)
	}
	if totals.Indexed != 0 {
		t.Fatalf("unexpected totals: %+v", totals)
	}

	for _, table := range []string{"artists", "albums", "songs"} {
		ts, err := store.LastUpdate(ctx, table)
		if err != nil {
			t.Fatalf("last update %s: %v", table, err)
		}
		if ts == 0 {
			t.Fatalf("truncate step must bump %s even with zero files found", table)
		}
	}
}
