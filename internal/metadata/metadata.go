// Package metadata reads title/artist/album from a local media file's
// embedded tags when a player handle prepares a local file URL; the
// player registry stores them as properties of that handle. Session
// metadata is not filled from them.
package metadata

import (
	"net/url"
	"os"
	"strings"

	"github.com/dhowden/tag"

	"github.com/openvela/mediad/internal/errors"
	"github.com/openvela/mediad/internal/session"
)

// LocalFilePath extracts a filesystem path from a "file://" URL, or
// returns ok=false for any other scheme (buffer mode, network streams,
// etc., none of which carry tags this package can read).
func LocalFilePath(rawURL string) (path string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if u.Scheme != "" && u.Scheme != "file" {
		return "", false
	}
	p := u.Path
	if p == "" {
		p = strings.TrimPrefix(rawURL, "file://")
	}
	if p == "" {
		return "", false
	}
	return p, true
}

// ReadTags opens path and decodes its ID3/MP4/FLAC tags via dhowden/tag,
// returning a session.Metadata diff carrying only title/artist/album
// (the fields tags can supply) with its mask set accordingly.
func ReadTags(path string) (session.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return session.Metadata{}, errors.NewIOError("metadata.open", err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return session.Metadata{}, errors.NewUnsupportedError("metadata.readTags")
	}

	diff := session.Metadata{}
	if title := m.Title(); title != "" {
		diff.Title = title
		diff.Mask |= session.FieldTitle
	}
	if artist := m.Artist(); artist != "" {
		diff.Artist = artist
		diff.Mask |= session.FieldArtist
	}
	if album := m.Album(); album != "" {
		diff.Album = album
		diff.Mask |= session.FieldAlbum
	}
	return diff, nil
}

// EnrichFromURL is the convenience entry point the player registry's
// prepare(url) path calls: if url is a local file, its tags are read
// and merged into an UpdateMetadata diff; any other URL scheme, or a
// file that fails to parse, yields an empty diff rather than an error,
// since enrichment is best-effort and must never block playback.
func EnrichFromURL(rawURL string) session.Metadata {
	path, ok := LocalFilePath(rawURL)
	if !ok {
		return session.Metadata{}
	}
	diff, err := ReadTags(path)
	if err != nil {
		return session.Metadata{}
	}
	return diff
}
