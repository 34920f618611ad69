// Package artifact implements the content-addressed artifact store
// (spec §4.1): a byte stream goes in, a stable path keyed by its SHA-256
// digest comes out, and identical bytes never get written twice.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
)

// PutResult is what Put returns on success.
type PutResult struct {
	ArtifactID     string // == ContentHash; the stable identifier of the stored bytes
	StoragePath    string // path relative to the store root
	ContentHash    string // hex-encoded SHA-256
	ByteSize       int64
	Deduplicated   bool // true if identical bytes already existed at this path
}

// Metadata is what Stat returns.
type Metadata struct {
	StoragePath string
	ContentHash string
	ByteSize    int64
	ModTime     time.Time
}

// Store maps byte streams onto content-addressed paths under Root.
// Path layout: <root>/<yyyy>/<mm>/<dd>/<source_id>/<first2_of_hash>/<hash><ext>.
type Store struct {
	Root string
}

// New returns a Store rooted at dir. The directory is created lazily on
// first write, not here.
func New(dir string) *Store {
	return &Store{Root: dir}
}

// sha256Hex returns the lowercase hex-encoded SHA-256 digest of b.
func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// relativePath computes the content-addressed path layout relative to
// Root for the given placement date, source, hash, and file extension.
func relativePath(placedAt time.Time, sourceID, hash, ext string) string {
	if ext != "" && ext[0] != '.' {
		ext = "." + ext
	}
	return filepath.Join(
		fmt.Sprintf("%04d", placedAt.Year()),
		fmt.Sprintf("%02d", placedAt.Month()),
		fmt.Sprintf("%02d", placedAt.Day()),
		sourceID,
		hash[:2],
		hash+ext,
	)
}

// extForContentType guesses a filename extension for a handful of
// content types RHOF's sources actually serve; anything else falls back
// to ".bin" so a valid path is always produced.
func extForContentType(contentType string) string {
	switch contentType {
	case "text/html", "text/html; charset=utf-8":
		return ".html"
	case "application/json", "application/json; charset=utf-8":
		return ".json"
	case "application/xml", "text/xml":
		return ".xml"
	case "text/plain", "text/plain; charset=utf-8":
		return ".txt"
	default:
		return ".bin"
	}
}

// Put computes the digest of content, writes it to a temp file on the
// same filesystem, fsyncs, and atomically renames it into its final
// content-addressed path. If the final path already exists with a
// matching digest, the existing file is returned untouched
// (Deduplicated=true). A size mismatch on an identical hash is treated
// as a fatal Storage error (content-addressing is violated).
func (s *Store) Put(sourceID, sourceURL, contentType string, content []byte) (*PutResult, error) {
	hash := sha256Hex(content)
	rel := relativePath(time.Now().UTC(), sourceID, hash, extForContentType(contentType))
	final := filepath.Join(s.Root, rel)

	if info, err := os.Stat(final); err == nil {
		if info.Size() != int64(len(content)) {
			return nil, eris.Errorf("artifact: hash collision with size mismatch at %s (existing=%d, new=%d)", final, info.Size(), len(content))
		}
		return &PutResult{
			ArtifactID:   hash,
			StoragePath:  rel,
			ContentHash:  hash,
			ByteSize:     info.Size(),
			Deduplicated: true,
		}, nil
	} else if !os.IsNotExist(err) {
		return nil, eris.Wrapf(err, "artifact: stat %s", final)
	}

	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "artifact: mkdir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, eris.Wrap(err, "artifact: create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // no-op once renamed

	if _, err := tmp.Write(content); err != nil {
		tmp.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "artifact: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "artifact: fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		return nil, eris.Wrap(err, "artifact: close temp file")
	}

	if err := os.Rename(tmpPath, final); err != nil {
		return nil, eris.Wrapf(err, "artifact: rename into %s", final)
	}

	return &PutResult{
		ArtifactID:  hash,
		StoragePath: rel,
		ContentHash: hash,
		ByteSize:    int64(len(content)),
	}, nil
}

// Read returns the bytes stored at rel (a path previously returned by
// Put, relative to Root).
func (s *Store) Read(rel string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(s.Root, rel))
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: read %s", rel)
	}
	return b, nil
}

// Stat returns metadata for the artifact at rel without reading its
// contents. ContentHash is taken from the filename the artifact is
// addressed by; the bytes are not re-hashed (VerifyHash does that).
func (s *Store) Stat(rel string) (*Metadata, error) {
	full := filepath.Join(s.Root, rel)
	info, err := os.Stat(full)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: stat %s", rel)
	}
	base := filepath.Base(rel)
	hash := base[:len(base)-len(filepath.Ext(base))]
	return &Metadata{
		StoragePath: rel,
		ContentHash: hash,
		ByteSize:    info.Size(),
		ModTime:     info.ModTime(),
	}, nil
}

// VerifyHash re-reads the artifact at rel and confirms its content
// still hashes to want, surfacing a Storage error otherwise (spec §7).
func (s *Store) VerifyHash(rel, want string) error {
	b, err := s.Read(rel)
	if err != nil {
		return err
	}
	got := sha256Hex(b)
	if got != want {
		return eris.Errorf("artifact: hash mismatch on re-read of %s: want %s, got %s", rel, want, got)
	}
	return nil
}

// CopyStream drains r into memory and stores it, for callers (the
// Fetcher) that receive an io.Reader rather than a byte slice.
func CopyStream(s *Store, sourceID, sourceURL, contentType string, r io.Reader) (*PutResult, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "artifact: read stream")
	}
	return s.Put(sourceID, sourceURL, contentType, b)
}
