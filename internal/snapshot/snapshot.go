// Package snapshot implements the Snapshot Exporter (spec §4.9): a
// per-run, point-in-time export of the five logical tables, each
// written as a small pure-Go columnar container (see columnar.go),
// plus a hash-verified manifest.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/rhof/internal/store"
)

// ManifestEntry describes one exported file.
type ManifestEntry struct {
	Path        string `json:"path"`
	ByteSize    int64  `json:"byte_size"`
	ContentHash string `json:"content_hash"`
}

// Manifest is the top-level manifest.json shape.
type Manifest struct {
	RunID string          `json:"run_id"`
	Files []ManifestEntry `json:"files"`
}

// tableFile names the five exportable logical tables and the file each
// serializes to, per SPEC_FULL.md §4.9a's columnar container.
var tableFiles = []string{
	"opportunities.parquet",
	"opportunity_versions.parquet",
	"sources.parquet",
	"tags.parquet",
	"risk_flags.parquet",
}

// tableColumns builds name's row-group from data. Each table lists its
// columns in declaration order of the corresponding model struct.
func tableColumns(name string, data *store.SnapshotData) ([]Column, error) {
	switch name {
	case "opportunities.parquet":
		rows := data.Opportunities
		ids, sourceIDs, canonicalKeys, applyURLs, statuses := make([]any, len(rows)), make([]any, len(rows)), make([]any, len(rows)), make([]any, len(rows)), make([]any, len(rows))
		firstSeen, lastSeen, currentVersion := make([]any, len(rows)), make([]any, len(rows)), make([]any, len(rows))
		for i, o := range rows {
			ids[i], sourceIDs[i], canonicalKeys[i], applyURLs[i] = o.ID, o.SourceID, o.CanonicalKey, o.ApplyURL
			statuses[i] = string(o.Status)
			firstSeen[i], lastSeen[i] = o.FirstSeenAt, o.LastSeenAt
			currentVersion[i] = o.CurrentVersionID
		}
		return []Column{
			{Name: "id", Type: ColumnString, Values: ids},
			{Name: "source_id", Type: ColumnString, Values: sourceIDs},
			{Name: "canonical_key", Type: ColumnString, Values: canonicalKeys},
			{Name: "apply_url", Type: ColumnString, Values: applyURLs},
			{Name: "status", Type: ColumnString, Values: statuses},
			{Name: "first_seen_at", Type: ColumnTimestamp, Values: firstSeen},
			{Name: "last_seen_at", Type: ColumnTimestamp, Values: lastSeen},
			{Name: "current_version_id", Type: ColumnNullString, Values: currentVersion},
		}, nil

	case "opportunity_versions.parquet":
		rows := data.OpportunityVersions
		ids, oppIDs, artifactIDs := make([]any, len(rows)), make([]any, len(rows)), make([]any, len(rows))
		versionNos, dataJSON, evidenceJSON, createdAt := make([]any, len(rows)), make([]any, len(rows)), make([]any, len(rows)), make([]any, len(rows))
		for i, v := range rows {
			ids[i], oppIDs[i], artifactIDs[i] = v.ID, v.OpportunityID, v.RawArtifactID
			versionNos[i] = int64(v.VersionNo)
			dataJSON[i], evidenceJSON[i] = v.DataJSON, v.EvidenceJSON
			createdAt[i] = v.CreatedAt
		}
		return []Column{
			{Name: "id", Type: ColumnString, Values: ids},
			{Name: "opportunity_id", Type: ColumnString, Values: oppIDs},
			{Name: "raw_artifact_id", Type: ColumnString, Values: artifactIDs},
			{Name: "version_no", Type: ColumnInt64, Values: versionNos},
			{Name: "data_json", Type: ColumnBytes, Values: dataJSON},
			{Name: "evidence_json", Type: ColumnBytes, Values: evidenceJSON},
			{Name: "created_at", Type: ColumnTimestamp, Values: createdAt},
		}, nil

	case "sources.parquet":
		rows := data.Sources
		sourceIDs, displayNames, crawlability, enabled, configJSON := make([]any, len(rows)), make([]any, len(rows)), make([]any, len(rows)), make([]any, len(rows)), make([]any, len(rows))
		for i, s := range rows {
			sourceIDs[i], displayNames[i] = s.SourceID, s.DisplayName
			crawlability[i] = string(s.Crawlability)
			enabled[i] = s.Enabled
			configJSON[i] = s.ConfigJSON
		}
		return []Column{
			{Name: "source_id", Type: ColumnString, Values: sourceIDs},
			{Name: "display_name", Type: ColumnString, Values: displayNames},
			{Name: "crawlability", Type: ColumnString, Values: crawlability},
			{Name: "enabled", Type: ColumnBool, Values: enabled},
			{Name: "config_json", Type: ColumnBytes, Values: configJSON},
		}, nil

	case "tags.parquet":
		rows := data.Tags
		ids, keys := make([]any, len(rows)), make([]any, len(rows))
		for i, t := range rows {
			ids[i], keys[i] = t.ID, t.Key
		}
		return []Column{
			{Name: "id", Type: ColumnString, Values: ids},
			{Name: "key", Type: ColumnString, Values: keys},
		}, nil

	case "risk_flags.parquet":
		rows := data.RiskFlags
		ids, keys := make([]any, len(rows)), make([]any, len(rows))
		for i, f := range rows {
			ids[i], keys[i] = f.ID, f.Key
		}
		return []Column{
			{Name: "id", Type: ColumnString, Values: ids},
			{Name: "key", Type: ColumnString, Values: keys},
		}, nil

	default:
		return nil, eris.Errorf("snapshot: unknown table %s", name)
	}
}

// Write exports data's five tables plus manifest.json into
// reportsDir/runID/snapshots/, returning the manifest it wrote. The five
// table files are independent of each other, so they're encoded and
// written concurrently via errgroup, each goroutine claiming its own
// slice slot; a cancelled context or a single table's failure aborts
// the rest through the group's derived context.
func Write(ctx context.Context, reportsDir, runID string, data *store.SnapshotData) (*Manifest, error) {
	dir := filepath.Join(reportsDir, runID, "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "snapshot: mkdir")
	}

	entries := make([]ManifestEntry, len(tableFiles))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range tableFiles {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return eris.Wrap(gctx.Err(), "snapshot: cancelled")
			default:
			}

			columns, err := tableColumns(name, data)
			if err != nil {
				return err
			}
			payload, err := encodeColumnar(columns)
			if err != nil {
				return eris.Wrapf(err, "snapshot: encode %s", name)
			}

			path := filepath.Join(dir, name)
			if err := writeAtomic(path, payload); err != nil {
				return eris.Wrapf(err, "snapshot: write %s", name)
			}

			sum := sha256.Sum256(payload)
			entries[i] = ManifestEntry{
				Path:        filepath.Join("snapshots", name),
				ByteSize:    int64(len(payload)),
				ContentHash: hex.EncodeToString(sum[:]),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	manifest := &Manifest{RunID: runID, Files: entries}
	sort.Slice(manifest.Files, func(i, j int) bool { return manifest.Files[i].Path < manifest.Files[j].Path })

	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: marshal manifest")
	}
	if err := writeAtomic(filepath.Join(dir, "manifest.json"), manifestBytes); err != nil {
		return nil, eris.Wrap(err, "snapshot: write manifest")
	}

	return manifest, nil
}

// Verify reads runDir/snapshots/manifest.json, re-reads every file it
// lists (paths relative to runDir), and confirms each one's size and
// SHA-256 digest still match (spec §8's "manifest integrity" invariant).
func Verify(runDir string) error {
	manifestPath := filepath.Join(runDir, "snapshots", "manifest.json")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return eris.Wrap(err, "snapshot: read manifest")
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return eris.Wrap(err, "snapshot: unmarshal manifest")
	}

	for _, entry := range manifest.Files {
		content, err := os.ReadFile(filepath.Join(runDir, entry.Path))
		if err != nil {
			return eris.Wrapf(err, "snapshot: read %s", entry.Path)
		}
		if int64(len(content)) != entry.ByteSize {
			return eris.Errorf("snapshot: %s size mismatch: manifest %d, actual %d", entry.Path, entry.ByteSize, len(content))
		}
		sum := sha256.Sum256(content)
		if hex.EncodeToString(sum[:]) != entry.ContentHash {
			return eris.Errorf("snapshot: %s hash mismatch", entry.Path)
		}
	}
	return nil
}

func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return eris.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return eris.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return eris.Wrap(err, "fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return eris.Wrap(err, "rename into place")
	}
	return nil
}
