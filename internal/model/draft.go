package model

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// RemoteKind classifies where the work can be performed from.
type RemoteKind string

const (
	RemoteFullyRemote RemoteKind = "fully_remote"
	RemoteHybrid      RemoteKind = "hybrid"
	RemoteOnsite      RemoteKind = "onsite"
	RemoteUnknown     RemoteKind = "unknown"
)

// PayRange is the normalized structured pay amount used for dedup and
// rule matching.
type PayRange struct {
	Currency string   `json:"currency"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Unit     string   `json:"unit"` // e.g. "hour", "task", "year"
}

// OpportunityDraft is the transient, provenance-bearing record an
// adapter's parse step hands to the orchestrator. Fields marked
// supplemental are populated only when a source publishes the detail.
type OpportunityDraft struct {
	SourceID         string    `json:"source_id"`
	SourceURL        string    `json:"source_url"`
	FetchedAt        time.Time `json:"fetched_at"`
	ExtractorVersion int       `json:"extractor_version"`

	// Original canonical fields (spec.md §3.2).
	Title       Field[string]   `json:"-"`
	Company     Field[string]   `json:"-"`
	Location    Field[string]   `json:"-"`
	RemoteKind  Field[string]   `json:"-"`
	PayRange    Field[PayRange] `json:"-"`
	ApplyURL    Field[string]   `json:"-"`
	Description Field[string]   `json:"-"`
	PostedAt    Field[time.Time] `json:"-"`

	// Supplemental canonical fields (SPEC_FULL.md §3).
	PayModel                  Field[string]   `json:"-"`
	PayRateMin                Field[float64]  `json:"-"`
	PayRateMax                Field[float64]  `json:"-"`
	Currency                  Field[string]   `json:"-"`
	MinHoursPerWeek           Field[float64]  `json:"-"`
	VerificationRequirements  Field[string]   `json:"-"`
	GeoConstraints            Field[string]   `json:"-"`
	OneOffVsOngoing           Field[string]   `json:"-"`
	PaymentMethods            Field[[]string] `json:"-"`
	Requirements              Field[[]string] `json:"-"`

	// RawExtras holds adapter-specific fields not promoted to canonical
	// status, keyed by adapter-chosen name.
	RawExtras map[string]Field[string] `json:"-"`
}

// canonicalFieldOrder lists every canonical field key in a fixed order,
// for walks over the fields that must not depend on map iteration
// order. The data/evidence JSON trees are deterministic on their own:
// encoding/json writes map keys sorted.
var canonicalFieldOrder = []string{
	"title", "company", "location", "remote_kind", "pay_range",
	"apply_url", "description", "posted_at",
	"pay_model", "pay_rate_min", "pay_rate_max", "currency",
	"min_hours_per_week", "verification_requirements", "geo_constraints",
	"one_off_vs_ongoing", "payment_methods", "requirements",
}

func (d *OpportunityDraft) fieldValues() map[string]any {
	return map[string]any{
		"title":                      d.Title.Value,
		"company":                    d.Company.Value,
		"location":                   d.Location.Value,
		"remote_kind":                d.RemoteKind.Value,
		"pay_range":                  d.PayRange.Value,
		"apply_url":                  d.ApplyURL.Value,
		"description":                d.Description.Value,
		"posted_at":                  d.PostedAt.Value,
		"pay_model":                  d.PayModel.Value,
		"pay_rate_min":               d.PayRateMin.Value,
		"pay_rate_max":               d.PayRateMax.Value,
		"currency":                   d.Currency.Value,
		"min_hours_per_week":         d.MinHoursPerWeek.Value,
		"verification_requirements":  d.VerificationRequirements.Value,
		"geo_constraints":            d.GeoConstraints.Value,
		"one_off_vs_ongoing":         d.OneOffVsOngoing.Value,
		"payment_methods":            d.PaymentMethods.Value,
		"requirements":               d.Requirements.Value,
	}
}

func (d *OpportunityDraft) fieldEvidence() map[string]any {
	return map[string]any{
		"title":                      d.Title.Evidence,
		"company":                    d.Company.Evidence,
		"location":                   d.Location.Evidence,
		"remote_kind":                d.RemoteKind.Evidence,
		"pay_range":                  d.PayRange.Evidence,
		"apply_url":                  d.ApplyURL.Evidence,
		"description":                d.Description.Evidence,
		"posted_at":                  d.PostedAt.Evidence,
		"pay_model":                  d.PayModel.Evidence,
		"pay_rate_min":               d.PayRateMin.Evidence,
		"pay_rate_max":               d.PayRateMax.Evidence,
		"currency":                   d.Currency.Evidence,
		"min_hours_per_week":         d.MinHoursPerWeek.Evidence,
		"verification_requirements":  d.VerificationRequirements.Evidence,
		"geo_constraints":            d.GeoConstraints.Evidence,
		"one_off_vs_ongoing":         d.OneOffVsOngoing.Evidence,
		"payment_methods":            d.PaymentMethods.Evidence,
		"requirements":               d.Requirements.Evidence,
	}
}

// SerializeData renders the draft's canonical values (evidence stripped)
// as compact, key-sorted JSON. Used for OpportunityVersion.data_json.
func (d *OpportunityDraft) SerializeData() ([]byte, error) {
	out, err := json.Marshal(d.fieldValues())
	if err != nil {
		return nil, eris.Wrap(err, "model: serialize draft data")
	}
	return out, nil
}

// SerializeEvidence renders the parallel evidence tree as compact,
// key-sorted JSON. Used for OpportunityVersion.evidence_json.
func (d *OpportunityDraft) SerializeEvidence() ([]byte, error) {
	out, err := json.Marshal(d.fieldEvidence())
	if err != nil {
		return nil, eris.Wrap(err, "model: serialize draft evidence")
	}
	return out, nil
}

// PopulatedFieldCount returns the number of canonical fields with a
// non-nil value.
func (d *OpportunityDraft) PopulatedFieldCount() int {
	n := 0
	for _, v := range d.fieldValues() {
		if !isNilAny(v) {
			n++
		}
	}
	return n
}

// EvidencedFieldCount returns the number of canonical fields that are
// both populated and carry non-empty evidence (a non-nil EvidenceRef).
func (d *OpportunityDraft) EvidencedFieldCount() int {
	values := d.fieldValues()
	evidence := d.fieldEvidence()
	n := 0
	for _, key := range canonicalFieldOrder {
		if isNilAny(values[key]) {
			continue
		}
		if ev, ok := evidence[key].(*EvidenceRef); ok && ev != nil {
			n++
		}
	}
	return n
}

// EvidenceCoveragePercent implements the metric from spec §4.3:
// (populated fields with non-empty evidence) / (populated fields) * 100.
// A draft with zero populated fields reports 100 (vacuously covered).
func (d *OpportunityDraft) EvidenceCoveragePercent() float64 {
	populated := d.PopulatedFieldCount()
	if populated == 0 {
		return 100
	}
	return float64(d.EvidencedFieldCount()) / float64(populated) * 100
}

func isNilAny(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case *string:
		return t == nil
	case *float64:
		return t == nil
	case *time.Time:
		return t == nil
	case *PayRange:
		return t == nil
	case *[]string:
		return t == nil
	default:
		return false
	}
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeKeyFragment lowercases, replaces runs of non-alphanumeric
// characters with a single space, and trims the result. It is the
// building block for CanonicalKey; the dedup engine uses its own
// Unicode-aware dedup.Normalize instead.
func NormalizeKeyFragment(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	collapsed := nonAlnum.ReplaceAllString(lower, " ")
	return strings.TrimSpace(collapsed)
}

// CanonicalKey computes the deterministic natural key for opportunity
// upsert: source_id + normalized apply_url, or source_id + normalized
// title+company when apply_url is absent (spec §3.2).
func CanonicalKey(sourceID string, applyURL, title, company *string) string {
	if applyURL != nil && strings.TrimSpace(*applyURL) != "" {
		return sourceID + ":" + NormalizeKeyFragment(*applyURL)
	}
	t := ""
	if title != nil {
		t = *title
	}
	c := ""
	if company != nil {
		c = *company
	}
	return sourceID + ":" + NormalizeKeyFragment(t) + "|" + NormalizeKeyFragment(c)
}
