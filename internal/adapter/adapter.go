// Package adapter defines the capability-set contract a source
// implementation satisfies (spec §4.3, §9): no inheritance, a table of
// concrete adapters keyed by source_id, and framework helpers
// (FetchLive, ParseFixtureBundle, EvidenceCoveragePercent-adjacent
// checks) that every adapter reuses rather than reimplementing.
package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rhof/internal/fetcher"
	"github.com/sells-group/rhof/internal/model"
	"github.com/sells-group/rhof/internal/registry"
)

// sha256Hex returns the lowercase hex-encoded SHA-256 digest of b,
// matching internal/artifact/store.go's hashing so fixture-derived and
// live-fetched raw_artifacts.content_hash values are computed the same
// way (spec §8's artifact-immutability invariant).
func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Adapter is the contract every source implementation satisfies.
type Adapter interface {
	SourceID() string
	Crawlability() model.Crawlability
	ExtractorVersion() int

	// ListingURLs returns the pages this adapter fetches live. Empty for
	// ManualOnly sources.
	ListingURLs(cfg model.SourceConfig) []string

	// Parse extracts drafts from one raw artifact's bytes. artifactID
	// and sourceURL are supplied by the caller (live fetch or fixture
	// replay) so evidence always points at the artifact that produced
	// it, never something the adapter invents itself.
	Parse(artifactBytes []byte, sourceURL, artifactID string, fetchedAt time.Time) ([]model.OpportunityDraft, error)
}

// registryTable is the process-wide source_id -> Adapter map, populated
// by each concrete adapter's init() via Register.
var registryTable = map[string]Adapter{}

// Register adds an adapter to the process-wide table, keyed by its
// source_id. Called from each concrete adapter package's init().
func Register(a Adapter) {
	registryTable[a.SourceID()] = a
}

// For returns the registered adapter for source_id, if any.
func For(sourceID string) (Adapter, bool) {
	a, ok := registryTable[sourceID]
	return a, ok
}

// All returns every registered adapter.
func All() []Adapter {
	out := make([]Adapter, 0, len(registryTable))
	for _, a := range registryTable {
		out = append(out, a)
	}
	return out
}

// LiveArtifact pairs a stored artifact placement with the drafts parsed
// from it, for the orchestrator's fetch step (spec §4.5 step 3a-b).
type LiveArtifact struct {
	ArtifactID  string
	StoragePath string
	ContentHash string
	SourceURL   string
	ContentType string
	HTTPStatus  int
	ByteSize    int64
	FetchedAt   time.Time
	Drafts      []model.OpportunityDraft
}

// FetchLive fetches every listing URL for a via fx, storing each
// response and parsing it in place. Returns one LiveArtifact per URL.
// A ManualOnly adapter (no listing URLs) returns an empty slice — a
// legitimate no-op per spec §4.3.
func FetchLive(ctx context.Context, a Adapter, fx fetcher.Fetcher, cfg model.SourceConfig) ([]LiveArtifact, error) {
	urls := a.ListingURLs(cfg)
	out := make([]LiveArtifact, 0, len(urls))
	for _, u := range urls {
		put, fr, err := fx.Fetch(ctx, a.SourceID(), u)
		if err != nil {
			return out, eris.Wrapf(err, "adapter %s: fetch %s", a.SourceID(), u)
		}
		drafts, err := a.Parse(fr.Body, u, put.ArtifactID, fr.FetchedAt)
		if err != nil {
			return out, eris.Wrapf(err, "adapter %s: parse %s", a.SourceID(), u)
		}
		out = append(out, LiveArtifact{
			ArtifactID:  put.ArtifactID,
			StoragePath: put.StoragePath,
			ContentHash: put.ContentHash,
			SourceURL:   u,
			ContentType: fr.ContentType,
			HTTPStatus:  fr.HTTPStatus,
			ByteSize:    put.ByteSize,
			FetchedAt:   fr.FetchedAt,
			Drafts:      drafts,
		})
	}
	return out, nil
}

// FixtureArtifact is one raw artifact replayed from a fixture bundle,
// paired with the drafts parsed from it.
type FixtureArtifact struct {
	ArtifactID  string
	SourceURL   string
	ContentType string
	ContentHash string
	ByteSize    int64
	FetchedAt   time.Time
	Drafts      []model.OpportunityDraft
}

// ParseFixtureBundle replays every raw artifact referenced by bundle
// (its inline_content, or else the file at bundleDir/<path>; callers
// pass the bundle's raw/ directory as bundleDir) through a.Parse, assigning
// each the deterministic artifact id the bundle protocol requires
// (spec §4.3): repeated runs over an unchanged fixture are byte-identical.
func ParseFixtureBundle(a Adapter, bundleDir string, bundle *registry.Bundle) ([]FixtureArtifact, error) {
	if bundle.SourceID != a.SourceID() {
		return nil, eris.Errorf("adapter %s: bundle source_id mismatch %q", a.SourceID(), bundle.SourceID)
	}

	out := make([]FixtureArtifact, 0, len(bundle.RawArtifacts))
	for _, ra := range bundle.RawArtifacts {
		var body []byte
		var err error
		if ra.InlineContent != "" {
			body = []byte(ra.InlineContent)
		} else {
			body, err = os.ReadFile(filepath.Join(bundleDir, ra.Path))
			if err != nil {
				return nil, eris.Wrapf(err, "adapter %s: read fixture raw artifact %s", a.SourceID(), ra.Path)
			}
		}
		hash := sha256Hex(body)
		if ra.ContentHash != "" && ra.ContentHash != hash {
			return nil, eris.Errorf("adapter %s: fixture raw artifact %s declares content_hash %q but actual bytes hash to %q",
				a.SourceID(), ra.Path, ra.ContentHash, hash)
		}

		artifactID := registry.DeterministicRawArtifactID(bundle.SourceID, bundle.FixtureID, ra.Path)
		drafts, err := a.Parse(body, ra.SourceURL, artifactID, bundle.CapturedAt)
		if err != nil {
			return nil, eris.Wrapf(err, "adapter %s: parse fixture raw artifact %s", a.SourceID(), ra.Path)
		}
		out = append(out, FixtureArtifact{
			ArtifactID:  artifactID,
			SourceURL:   ra.SourceURL,
			ContentType: ra.ContentType,
			ContentHash: hash,
			ByteSize:    int64(len(body)),
			FetchedAt:   bundle.CapturedAt,
			Drafts:      drafts,
		})
	}
	return out, nil
}
