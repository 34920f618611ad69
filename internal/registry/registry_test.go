package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T, yamlBody string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))
	return path
}

func TestLoad_ValidRegistry(t *testing.T) {
	path := writeRegistry(t, `
sources:
  - source_id: appen-crowdgen
    display_name: Appen CrowdGen
    crawlability: PublicHtml
    enabled: true
    config:
      rate_limit_per_sec: 3
  - source_id: prolific
    display_name: Prolific
    crawlability: ManualOnly
    enabled: true
`)
	reg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, reg.Entries(), 2)

	e, ok := reg.Lookup("appen-crowdgen")
	require.True(t, ok)
	assert.InDelta(t, 3, e.SourceConfig().RateLimitPerSec, 0.001)
}

func TestLoad_RejectsDuplicateSourceID(t *testing.T) {
	path := writeRegistry(t, `
sources:
  - source_id: appen-crowdgen
    display_name: Appen
    crawlability: PublicHtml
    enabled: true
  - source_id: appen-crowdgen
    display_name: Appen Again
    crawlability: PublicHtml
    enabled: true
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownCrawlability(t *testing.T) {
	path := writeRegistry(t, `
sources:
  - source_id: mystery
    display_name: Mystery
    crawlability: Telepathic
    enabled: true
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsMissingDisplayName(t *testing.T) {
	path := writeRegistry(t, `
sources:
  - source_id: mystery
    crawlability: PublicHtml
    enabled: true
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnabled_SortsBySourceIDAndExcludesDisabled(t *testing.T) {
	path := writeRegistry(t, `
sources:
  - source_id: zeta
    display_name: Zeta
    crawlability: PublicHtml
    enabled: true
  - source_id: alpha
    display_name: Alpha
    crawlability: PublicHtml
    enabled: true
  - source_id: middle
    display_name: Middle
    crawlability: PublicHtml
    enabled: false
`)
	reg, err := Load(path)
	require.NoError(t, err)

	enabled := reg.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "alpha", enabled[0].SourceID)
	assert.Equal(t, "zeta", enabled[1].SourceID)
}

func TestEntry_ToSource_CarriesConfigJSON(t *testing.T) {
	path := writeRegistry(t, `
sources:
  - source_id: appen-crowdgen
    display_name: Appen CrowdGen
    crawlability: PublicHtml
    enabled: true
    config:
      rate_limit_per_sec: 3
      notes: hand-authored
  - source_id: prolific
    display_name: Prolific
    crawlability: ManualOnly
    enabled: true
`)
	reg, err := Load(path)
	require.NoError(t, err)

	withConfig, ok := reg.Lookup("appen-crowdgen")
	require.True(t, ok)
	src, err := withConfig.ToSource()
	require.NoError(t, err)
	assert.JSONEq(t, `{"rate_limit_per_sec": 3, "notes": "hand-authored"}`, string(src.ConfigJSON))

	noConfig, ok := reg.Lookup("prolific")
	require.True(t, ok)
	src, err = noConfig.ToSource()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(src.ConfigJSON))
}

func TestDeterministicRawArtifactID_StableAcrossCalls(t *testing.T) {
	a := DeterministicRawArtifactID("appen-crowdgen", "sample", "raw/listing.html")
	b := DeterministicRawArtifactID("appen-crowdgen", "sample", "raw/listing.html")
	assert.Equal(t, a, b)
}

func TestDeterministicRawArtifactID_ExcludesExtractorVersion(t *testing.T) {
	// The id derivation takes only source_id, fixture_id, and path; two
	// different extractor versions of the same fixture path must agree
	// (spec §9 Open Question c).
	raw := []FixtureRawArtifact{{Path: "raw/listing.html"}}
	before := &Bundle{SourceID: "appen-crowdgen", FixtureID: "sample", ExtractorVersion: 1, RawArtifacts: raw}
	after := &Bundle{SourceID: "appen-crowdgen", FixtureID: "sample", ExtractorVersion: 2, RawArtifacts: raw}
	idBefore := before.ArtifactIDByPath()["raw/listing.html"]
	idAfter := after.ArtifactIDByPath()["raw/listing.html"]
	assert.NotEmpty(t, idBefore)
	assert.Equal(t, idBefore, idAfter)
}
