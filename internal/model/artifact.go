package model

import "time"

// RawArtifact is a stored, immutable byte payload plus its fetch
// metadata (spec §3.3). For fixture-driven runs, ID is deterministic
// (derived from source_id + fixture path), so repeated runs are no-ops.
type RawArtifact struct {
	ID           string
	FetchRunID   string
	SourceID     string
	SourceURL    string
	StoragePath  string
	ContentType  string
	ContentHash  string
	HTTPStatus   int
	ByteSize     int64
	FetchedAt    time.Time
	MetadataJSON []byte
}
