package sync

import (
	"regexp"
	"strings"

	"github.com/sells-group/rhof/internal/model"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// collapseWhitespace trims s and collapses interior whitespace runs to a
// single space, without altering case (case-insensitive comparison is
// dedup's concern, not normalization's).
func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

func normalizeStringField(f model.Field[string]) model.Field[string] {
	if f.Value == nil {
		return f
	}
	v := collapseWhitespace(*f.Value)
	f.Value = &v
	if f.Evidence != nil {
		ev := *f.Evidence
		ev.Snippet = collapseWhitespace(ev.Snippet)
		f.Evidence = &ev
	}
	return f
}

// normalizeDraft applies spec §4.5 step 3c to one adapter-produced
// draft: whitespace/evidence-snippet trimming on every textual field and
// pay-structure coercion, without touching evidence provenance beyond
// the snippet text itself.
func normalizeDraft(d model.OpportunityDraft) model.OpportunityDraft {
	d.Title = normalizeStringField(d.Title)
	d.Company = normalizeStringField(d.Company)
	d.Location = normalizeStringField(d.Location)
	d.RemoteKind = normalizeStringField(d.RemoteKind)
	d.ApplyURL = normalizeStringField(d.ApplyURL)
	d.Description = normalizeStringField(d.Description)
	d.PayModel = normalizeStringField(d.PayModel)
	d.Currency = normalizeStringField(d.Currency)
	d.VerificationRequirements = normalizeStringField(d.VerificationRequirements)
	d.GeoConstraints = normalizeStringField(d.GeoConstraints)
	d.OneOffVsOngoing = normalizeStringField(d.OneOffVsOngoing)

	d.PayRange = coercePayRange(d)
	return d
}

// coercePayRange builds the canonical structured pay_range field out of
// an adapter's supplemental pay_rate_min/pay_rate_max/currency/pay_model
// fields when the adapter didn't populate pay_range directly, so
// downstream dedup/rule matching always has one shape to read regardless
// of which fields a given source's adapter chose to populate.
func coercePayRange(d model.OpportunityDraft) model.Field[model.PayRange] {
	if d.PayRange.Populated() {
		return d.PayRange
	}
	if !d.PayRateMin.Populated() && !d.PayRateMax.Populated() {
		return d.PayRange
	}

	pr := model.PayRange{
		Currency: d.Currency.ValueOr(""),
		Unit:     d.PayModel.ValueOr(""),
	}
	if d.PayRateMin.Populated() {
		v := *d.PayRateMin.Value
		pr.Min = &v
	}
	if d.PayRateMax.Populated() {
		v := *d.PayRateMax.Value
		pr.Max = &v
	}

	ev := d.PayRateMin.Evidence
	if ev == nil {
		ev = d.PayRateMax.Evidence
	}
	return model.Field[model.PayRange]{Value: &pr, Evidence: ev}
}
