package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"quaver/internal/tags"
)

// MaxAmbientCoverBytes caps directory-level cover art. Oversized folder
// images are dropped, not resized: the catalog never stores them.
const MaxAmbientCoverBytes = 400 * 1024

// Store reconciles extracted metadata into the shared catalog. Every
// mutation for one file happens in a single transaction so a reader on
// the same database never observes a half-applied file.
type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) *Store {
	return &Store{db: database}
}

// Reconcile upserts the artist, album, cover and song rows for one
// extracted file. Parent rows are written before the song row, and each
// table's change timestamp advances only when a statement actually
// altered row state.
func (s *Store) Reconcile(ctx context.Context, record *tags.Record, path string, ambientCover []byte) error {
	title := strings.TrimSpace(record.Title)
	album := strings.TrimSpace(record.Album)
	genre := strings.TrimSpace(record.Genre)

	// Compilation albums group under the album artist when one is set.
	artist := strings.TrimSpace(record.AlbumArtist)
	if artist == "" {
		artist = strings.TrimSpace(record.Artist)
	}

	// Embedded art wins over the folder convention.
	cover := record.Cover
	if len(cover) == 0 && len(ambientCover) > 0 && len(ambientCover) < MaxAmbientCoverBytes {
		cover = ambientCover
	}

	artistID := DeriveID(artist)
	albumID := DeriveID(album, artist)
	songID := DeriveID(
		strconv.Itoa(record.Track),
		strconv.Itoa(record.Disc),
		title,
		album,
		artist,
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reconcile tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()

	changed, err := execChanged(ctx, tx,
		`INSERT INTO artists (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name
		 WHERE artists.name IS NOT excluded.name`,
		artistID, artist,
	)
	if err != nil {
		return fmt.Errorf("upsert artist %q: %w", artist, err)
	}
	if changed {
		if err := bumpTable(ctx, tx, "artists", now); err != nil {
			return err
		}
	}

	inserted, err := execChanged(ctx, tx,
		"INSERT OR IGNORE INTO albums (id, title, artistid, artist) VALUES (?, ?, ?, ?)",
		albumID, album, artistID, artist,
	)
	if err != nil {
		return fmt.Errorf("insert album %q: %w", album, err)
	}
	updated, err := execChanged(ctx, tx,
		`UPDATE albums SET title = ?, artistid = ?, artist = ?
		 WHERE id = ? AND (title IS NOT ? OR artistid IS NOT ? OR artist IS NOT ?)`,
		album, artistID, artist, albumID, album, artistID, artist,
	)
	if err != nil {
		return fmt.Errorf("update album %q: %w", album, err)
	}
	if inserted || updated {
		if err := bumpTable(ctx, tx, "albums", now); err != nil {
			return err
		}
	}

	// First scan to supply art for an album wins; later, different art
	// for the same album never replaces it (anti-flapping).
	if len(cover) > 0 {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO covers (albumId, artistId, image) VALUES (?, ?, ?)",
			albumID, artistID, cover,
		); err != nil {
			return fmt.Errorf("insert cover for album %q: %w", album, err)
		}
	}

	changed, err = execChanged(ctx, tx,
		`INSERT INTO songs (id, title, albumid, album, artistid, artist,
		                    trackn, discn, year, duration, bitRate, genre, type, filename)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   albumid = excluded.albumid,
		   album = excluded.album,
		   artistid = excluded.artistid,
		   artist = excluded.artist,
		   trackn = excluded.trackn,
		   discn = excluded.discn,
		   year = excluded.year,
		   duration = excluded.duration,
		   bitRate = excluded.bitRate,
		   genre = excluded.genre,
		   type = excluded.type,
		   filename = excluded.filename
		 WHERE songs.title IS NOT excluded.title
		    OR songs.albumid IS NOT excluded.albumid
		    OR songs.album IS NOT excluded.album
		    OR songs.artistid IS NOT excluded.artistid
		    OR songs.artist IS NOT excluded.artist
		    OR songs.trackn IS NOT excluded.trackn
		    OR songs.discn IS NOT excluded.discn
		    OR songs.year IS NOT excluded.year
		    OR songs.duration IS NOT excluded.duration
		    OR songs.bitRate IS NOT excluded.bitRate
		    OR songs.genre IS NOT excluded.genre
		    OR songs.type IS NOT excluded.type
		    OR songs.filename IS NOT excluded.filename`,
		songID, title, albumID, album, artistID, artist,
		record.Track, record.Disc, record.Year, record.Duration, record.BitRate,
		genre, record.Type, path,
	)
	if err != nil {
		return fmt.Errorf("upsert song %q: %w", path, err)
	}
	if changed {
		if err := bumpTable(ctx, tx, "songs", now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reconcile tx: %w", err)
	}

	return nil
}

// Cleanup prunes everything the filesystem no longer supports: songs
// whose file is gone, then albums without songs, artists without albums
// and covers without an album, in that order. Runs after incremental
// scans; a full scan starts from a truncated catalog and never needs it.
func (s *Store) Cleanup(ctx context.Context) error {
	staleSongs, err := s.staleSongIDs(ctx)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cleanup tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()

	if len(staleSongs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(staleSongs)), ",")
		args := make([]any, len(staleSongs))
		for i, id := range staleSongs {
			args[i] = id
		}

		changed, err := execChanged(ctx, tx,
			"DELETE FROM songs WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return fmt.Errorf("delete stale songs: %w", err)
		}
		if changed {
			if err := bumpTable(ctx, tx, "songs", now); err != nil {
				return err
			}
		}
	}

	changed, err := execChanged(ctx, tx,
		"DELETE FROM albums WHERE NOT EXISTS (SELECT 1 FROM songs WHERE songs.albumid = albums.id)")
	if err != nil {
		return fmt.Errorf("delete orphaned albums: %w", err)
	}
	if changed {
		if err := bumpTable(ctx, tx, "albums", now); err != nil {
			return err
		}
	}

	changed, err = execChanged(ctx, tx,
		"DELETE FROM artists WHERE NOT EXISTS (SELECT 1 FROM albums WHERE albums.artistid = artists.id)")
	if err != nil {
		return fmt.Errorf("delete orphaned artists: %w", err)
	}
	if changed {
		if err := bumpTable(ctx, tx, "artists", now); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM covers WHERE NOT EXISTS (SELECT 1 FROM albums WHERE albums.id = covers.albumId)",
	); err != nil {
		return fmt.Errorf("delete orphaned covers: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cleanup tx: %w", err)
	}

	return nil
}

func (s *Store) staleSongIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, filename FROM songs")
	if err != nil {
		return nil, fmt.Errorf("list songs for cleanup: %w", err)
	}
	defer rows.Close()

	var stale []int64
	for rows.Next() {
		var id int64
		var filename string
		if err := rows.Scan(&id, &filename); err != nil {
			return nil, fmt.Errorf("scan song row: %w", err)
		}

		// Only a confirmed absence removes the row. A transient stat
		// failure (an unreadable subtree, say) keeps it; a later scan
		// with the files visible again leaves the catalog intact.
		info, err := os.Stat(filename)
		switch {
		case err == nil:
			if !info.Mode().IsRegular() {
				stale = append(stale, id)
			}
		case errors.Is(err, fs.ErrNotExist):
			stale = append(stale, id)
		default:
			slog.Warn("could not stat indexed file, keeping its row", "path", filename, "error", err)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate song rows: %w", err)
	}

	return stale, nil
}

// Truncate empties the catalog for a full resync. The three tracked
// tables bump their timestamps exactly once each, whether or not they
// held rows, so downstream caches always refresh after a full scan.
func (s *Store) Truncate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin truncate tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()

	for _, table := range []string{"songs", "albums", "artists", "covers"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	for _, table := range []string{"songs", "albums", "artists"} {
		if err := bumpTable(ctx, tx, table, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit truncate tx: %w", err)
	}

	return nil
}

// LastUpdate reports the epoch-millisecond timestamp of the most recent
// mutation to a tracked table, or 0 when the table never changed. The
// serving layer uses this for cache invalidation.
func (s *Store) LastUpdate(ctx context.Context, table string) (int64, error) {
	var mtime int64
	err := s.db.QueryRowContext(ctx,
		"SELECT mtime FROM last_update_ts WHERE table_name = ?", table,
	).Scan(&mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read last update for %s: %w", table, err)
	}

	return mtime, nil
}

// bumpTable records a mutation timestamp inside the mutating
// transaction. The guard keeps the stored value monotonic.
func bumpTable(ctx context.Context, tx *sql.Tx, table string, now int64) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO last_update_ts (table_name, mtime) VALUES (?, ?)
		 ON CONFLICT(table_name) DO UPDATE SET mtime = excluded.mtime
		 WHERE excluded.mtime > last_update_ts.mtime`,
		table, now,
	); err != nil {
		return fmt.Errorf("bump %s timestamp: %w", table, err)
	}

	return nil
}

func execChanged(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}
