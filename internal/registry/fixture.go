package registry

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rhof/internal/model"
)

// fixtureNamespace is the fixed UUID namespace used to derive
// deterministic raw artifact ids from fixture-relative paths, per the
// resolved Open Question in spec §9(c): extractor_version is
// deliberately excluded from the derivation.
var fixtureNamespace = uuid.MustParse("6f9c9d2e-2b41-4b3e-9c1a-9d9f6a2f5b10")

// DeterministicRawArtifactID derives a stable UUIDv5 for a fixture (or
// manual) raw artifact from source_id, fixture_id, and its relative
// path, so repeated fixture-driven runs produce byte-identical ids.
func DeterministicRawArtifactID(sourceID, fixtureID, path string) string {
	name := sourceID + ":" + fixtureID + ":" + path
	return uuid.NewSHA1(fixtureNamespace, []byte(name)).String()
}

// FixtureRawArtifact describes one raw byte payload referenced by a
// bundle, relative to the bundle's own directory (raw/<path>).
type FixtureRawArtifact struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	ContentHash string `json:"content_hash"`
	SourceURL   string `json:"source_url"`
	// InlineContent carries the artifact's bytes directly in the bundle
	// (spec §6: "manual bundle... raw_artifacts may reference inline
	// payloads"), used by manual bundles instead of a raw/<path> file.
	InlineContent string `json:"inline_content,omitempty"`
}

// FixtureEvidence is the JSON shape of an evidence pointer inside a
// fixture record, with fetched_at/extractor_version optional (falling
// back to the bundle-level values when omitted).
type FixtureEvidence struct {
	SelectorOrPointer string     `json:"selector_or_pointer"`
	Snippet           string     `json:"snippet"`
	FetchedAt         *time.Time `json:"fetched_at,omitempty"`
	ExtractorVersion  *int       `json:"extractor_version,omitempty"`
	ArtifactPath      string     `json:"artifact_path,omitempty"` // which raw_artifacts[].path this came from
}

// FixtureField is one canonical field slot inside a pre-parsed record.
type FixtureField struct {
	Value    json.RawMessage  `json:"value,omitempty"`
	Evidence *FixtureEvidence `json:"evidence,omitempty"`
}

// FixtureRecord is a pre-parsed canonical record, keyed by canonical
// field name (e.g. "title", "company", "pay_range").
type FixtureRecord map[string]FixtureField

// Bundle is the decoded shape of a fixture or manual bundle file
// (spec §4.3, §6).
type Bundle struct {
	SourceID         string                `json:"source_id"`
	FixtureID        string                `json:"fixture_id"`
	CapturedAt       time.Time             `json:"captured_at"`
	ExtractorVersion int                   `json:"extractor_version"`
	RawArtifacts     []FixtureRawArtifact  `json:"raw_artifacts"`
	Records          []FixtureRecord       `json:"records"`
}

// LoadBundle reads and decodes a fixture or manual bundle JSON file.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read bundle %s", path)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, eris.Wrapf(err, "registry: parse bundle %s", path)
	}
	return &b, nil
}

// ArtifactIDByPath maps each of the bundle's raw_artifacts entries to
// its deterministic artifact id, keyed by relative path.
func (b *Bundle) ArtifactIDByPath() map[string]string {
	out := make(map[string]string, len(b.RawArtifacts))
	for _, ra := range b.RawArtifacts {
		out[ra.Path] = DeterministicRawArtifactID(b.SourceID, b.FixtureID, ra.Path)
	}
	return out
}

// evidenceRef builds a model.EvidenceRef from a fixture field's
// evidence block, defaulting fetched_at/extractor_version/source_url
// from the bundle and its raw artifact table when the field omits them.
func (b *Bundle) evidenceRef(fe *FixtureEvidence) *model.EvidenceRef {
	if fe == nil {
		return nil
	}
	fetchedAt := b.CapturedAt
	if fe.FetchedAt != nil {
		fetchedAt = *fe.FetchedAt
	}
	extractorVersion := b.ExtractorVersion
	if fe.ExtractorVersion != nil {
		extractorVersion = *fe.ExtractorVersion
	}

	artifactID := ""
	sourceURL := ""
	if fe.ArtifactPath != "" {
		artifactID = DeterministicRawArtifactID(b.SourceID, b.FixtureID, fe.ArtifactPath)
		for _, ra := range b.RawArtifacts {
			if ra.Path == fe.ArtifactPath {
				sourceURL = ra.SourceURL
				break
			}
		}
	} else if len(b.RawArtifacts) > 0 {
		artifactID = DeterministicRawArtifactID(b.SourceID, b.FixtureID, b.RawArtifacts[0].Path)
		sourceURL = b.RawArtifacts[0].SourceURL
	}

	return &model.EvidenceRef{
		RawArtifactID:     artifactID,
		SourceURL:         sourceURL,
		SelectorOrPointer: fe.SelectorOrPointer,
		Snippet:           fe.Snippet,
		FetchedAt:         fetchedAt,
		ExtractorVersion:  extractorVersion,
	}
}

// StringField decodes a string-typed canonical field out of rec.
func (b *Bundle) StringField(rec FixtureRecord, key string) (model.Field[string], error) {
	ff, ok := rec[key]
	if !ok || len(ff.Value) == 0 {
		return model.Field[string]{}, nil
	}
	var v string
	if err := json.Unmarshal(ff.Value, &v); err != nil {
		return model.Field[string]{}, eris.Wrapf(err, "registry: decode field %s", key)
	}
	return model.Field[string]{Value: &v, Evidence: b.evidenceRef(ff.Evidence)}, nil
}

// Float64Field decodes a float64-typed canonical field out of rec.
func (b *Bundle) Float64Field(rec FixtureRecord, key string) (model.Field[float64], error) {
	ff, ok := rec[key]
	if !ok || len(ff.Value) == 0 {
		return model.Field[float64]{}, nil
	}
	var v float64
	if err := json.Unmarshal(ff.Value, &v); err != nil {
		return model.Field[float64]{}, eris.Wrapf(err, "registry: decode field %s", key)
	}
	return model.Field[float64]{Value: &v, Evidence: b.evidenceRef(ff.Evidence)}, nil
}

// StringListField decodes a []string-typed canonical field out of rec.
func (b *Bundle) StringListField(rec FixtureRecord, key string) (model.Field[[]string], error) {
	ff, ok := rec[key]
	if !ok || len(ff.Value) == 0 {
		return model.Field[[]string]{}, nil
	}
	var v []string
	if err := json.Unmarshal(ff.Value, &v); err != nil {
		return model.Field[[]string]{}, eris.Wrapf(err, "registry: decode field %s", key)
	}
	return model.Field[[]string]{Value: &v, Evidence: b.evidenceRef(ff.Evidence)}, nil
}

// PayRangeField decodes a structured pay_range canonical field out of rec.
func (b *Bundle) PayRangeField(rec FixtureRecord, key string) (model.Field[model.PayRange], error) {
	ff, ok := rec[key]
	if !ok || len(ff.Value) == 0 {
		return model.Field[model.PayRange]{}, nil
	}
	var v model.PayRange
	if err := json.Unmarshal(ff.Value, &v); err != nil {
		return model.Field[model.PayRange]{}, eris.Wrapf(err, "registry: decode field %s", key)
	}
	return model.Field[model.PayRange]{Value: &v, Evidence: b.evidenceRef(ff.Evidence)}, nil
}

// TimeField decodes a timestamp-typed canonical field out of rec.
func (b *Bundle) TimeField(rec FixtureRecord, key string) (model.Field[time.Time], error) {
	ff, ok := rec[key]
	if !ok || len(ff.Value) == 0 {
		return model.Field[time.Time]{}, nil
	}
	var v time.Time
	if err := json.Unmarshal(ff.Value, &v); err != nil {
		return model.Field[time.Time]{}, eris.Wrapf(err, "registry: decode field %s", key)
	}
	return model.Field[time.Time]{Value: &v, Evidence: b.evidenceRef(ff.Evidence)}, nil
}
