package tags

import (
	"errors"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.senan.xyz/taglib"
)

// ErrNotAudio marks files the indexer should skip: unsupported
// extensions, containers taglib cannot parse, and containers without an
// audio-properties block (no playable duration means nothing to serve).
var ErrNotAudio = errors.New("not an indexable audio file")

// Record is the normalized per-file metadata consumed by the catalog.
// Field values are reported as tagged; trimming and album-artist
// fallback are the reconciler's job.
type Record struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Genre       string
	Track       int
	Disc        int
	Year        int
	Duration    int // seconds
	BitRate     int // kbit/s
	Type        string
	Cover       []byte
}

// Source reads one container format. Implementations are pure readers
// with no side effects.
type Source interface {
	Read(path string) (*Record, error)
}

// Extract dispatches to the Source for the file's extension
// (case-insensitive) and returns ErrNotAudio for everything else.
func Extract(path string) (*Record, error) {
	source, ok := sourceForPath(path)
	if !ok {
		return nil, ErrNotAudio
	}

	return source.Read(path)
}

func sourceForPath(path string) (Source, bool) {
	switch strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".") {
	case "mp3":
		return mp3Source{}, true
	case "ogg":
		return oggSource{}, true
	case "flac":
		return flacSource{}, true
	case "m4a":
		return m4aSource{}, true
	default:
		return nil, false
	}
}

type mp3Source struct{}

// ID3v2 carries the album artist in the TPE2 frame; taglib usually maps
// it, but older rips expose the raw frame name.
func (mp3Source) Read(path string) (*Record, error) {
	return readRecord(path, "mp3", taglib.AlbumArtist, "TPE2")
}

type oggSource struct{}

func (oggSource) Read(path string) (*Record, error) {
	return readRecord(path, "ogg", taglib.AlbumArtist, "ALBUM ARTIST")
}

type flacSource struct{}

func (flacSource) Read(path string) (*Record, error) {
	return readRecord(path, "flac", taglib.AlbumArtist, "ALBUM ARTIST")
}

type m4aSource struct{}

// MP4 stores the album artist in the aART atom.
func (m4aSource) Read(path string) (*Record, error) {
	return readRecord(path, "m4a", taglib.AlbumArtist, "aART")
}

func readRecord(path string, container string, albumArtistKeys ...string) (*Record, error) {
	raw, err := taglib.ReadTags(path)
	if err != nil {
		return nil, ErrNotAudio
	}

	properties, err := taglib.ReadProperties(path)
	if err != nil || properties.Length <= 0 {
		return nil, ErrNotAudio
	}

	record := &Record{
		Type:        container,
		Title:       firstTagValue(raw, taglib.Title),
		Artist:      firstTagValue(raw, taglib.Artist),
		Album:       firstTagValue(raw, taglib.Album),
		AlbumArtist: firstTagValue(raw, albumArtistKeys...),
		Genre:       firstTagValue(raw, taglib.Genre),
		Track:       parseLeadingInt(firstTagValue(raw, taglib.TrackNumber)),
		Disc:        parseLeadingInt(firstTagValue(raw, taglib.DiscNumber)),
		Year:        parseYear(firstTagValue(raw, taglib.Date, "YEAR", "ORIGINALDATE")),
		Duration:    int(properties.Length.Seconds()),
		BitRate:     int(properties.Bitrate),
	}

	if image, err := taglib.ReadImage(path); err == nil && len(image) > 0 {
		record.Cover = image
	}

	return record, nil
}

func firstTagValue(raw map[string][]string, keys ...string) string {
	for _, key := range keys {
		for _, value := range raw[key] {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}

	return ""
}

var leadingIntPattern = regexp.MustCompile(`^\d+`)

var yearPattern = regexp.MustCompile(`\b\d{4}\b`)

// parseLeadingInt handles "3" as well as the common "3/12" form of
// track and disc tags. Absent or unparsable values come back as 0.
func parseLeadingInt(value string) int {
	match := leadingIntPattern.FindString(strings.TrimSpace(value))
	if match == "" {
		return 0
	}

	parsed, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}

	return parsed
}

func parseYear(value string) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0
	}

	if match := yearPattern.FindString(trimmed); match != "" {
		parsed, _ := strconv.Atoi(match)
		return parsed
	}

	return parseLeadingInt(trimmed)
}
