package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rhof/internal/model"
)

func writeRuleDir(t *testing.T, tags, risk, pay string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tags.yaml"), []byte(tags), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "risk.yaml"), []byte(risk), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pay.yaml"), []byte(pay), 0o644))
	return dir
}

func draftWith(title, description, company string) model.OpportunityDraft {
	ev := model.EvidenceRef{}
	d := model.OpportunityDraft{}
	if title != "" {
		d.Title = model.WithValue(title, ev)
	}
	if description != "" {
		d.Description = model.WithValue(description, ev)
	}
	if company != "" {
		d.Company = model.WithValue(company, ev)
	}
	return d
}

const minimalTags = `rules:
  - key: transcription
    match:
      op: contains
      field: title
      value: "transcri"
    effect:
      type: apply_tag
      tag: transcription
`

const minimalRisk = `rules:
  - key: crypto-only
    match:
      op: regex
      field: description
      value: "(?i)crypto"
    effect:
      type: apply_risk_flag
      flag: crypto-payment-only
      severity: medium
      reason: "mentions crypto"
  - key: vague-company
    match:
      op: not
      field: company
      value:
        op: contains
        field: company
        value: " "
    effect:
      type: apply_risk_flag
      flag: single-word-company
      severity: low
      reason: "company name has no spaces"
`

const minimalPay = `rules:
  - key: hourly-hint
    match:
      op: any_of
      field: description
      value: ["per hour", "hourly"]
    effect:
      type: pay_hint
      pay_model: hourly
`

func TestLoad_ParsesAllThreeFiles(t *testing.T) {
	dir := writeRuleDir(t, minimalTags, minimalRisk, minimalPay)
	eng, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, eng.Tags, 1)
	assert.Len(t, eng.Risk, 2)
	assert.Len(t, eng.Pay, 1)
}

func TestLoad_RejectsDuplicateKey(t *testing.T) {
	dupTags := minimalTags + `  - key: transcription
    match:
      op: contains
      field: title
      value: "x"
    effect:
      type: apply_tag
      tag: other
`
	dir := writeRuleDir(t, dupTags, minimalRisk, minimalPay)
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestEvaluate_ContainsFiresTag(t *testing.T) {
	dir := writeRuleDir(t, minimalTags, minimalRisk, minimalPay)
	eng, err := Load(dir)
	require.NoError(t, err)

	d := draftWith("Audio Transcription Task", "", "")
	ann := eng.Evaluate(d)
	assert.Equal(t, []string{"transcription"}, ann.TagKeys)
}

func TestEvaluate_NoMatchProducesNoAnnotations(t *testing.T) {
	dir := writeRuleDir(t, minimalTags, minimalRisk, minimalPay)
	eng, err := Load(dir)
	require.NoError(t, err)

	d := draftWith("Data Entry Clerk", "", "")
	ann := eng.Evaluate(d)
	assert.Empty(t, ann.TagKeys)
	assert.Empty(t, ann.RiskFlags)
}

func TestEvaluate_RegexFiresRiskFlagWithSeverityAndReason(t *testing.T) {
	dir := writeRuleDir(t, minimalTags, minimalRisk, minimalPay)
	eng, err := Load(dir)
	require.NoError(t, err)

	d := draftWith("", "Paid in Crypto only", "")
	ann := eng.Evaluate(d)
	require.Len(t, ann.RiskFlags, 1)
	assert.Equal(t, "crypto-payment-only", ann.RiskFlags[0].Key)
	assert.Equal(t, "medium", ann.RiskFlags[0].Severity)
}

func TestEvaluate_NotInvertsNestedMatch(t *testing.T) {
	dir := writeRuleDir(t, minimalTags, minimalRisk, minimalPay)
	eng, err := Load(dir)
	require.NoError(t, err)

	single := draftWith("", "", "Acme")
	multi := draftWith("", "", "Acme Research Group")

	annSingle := eng.Evaluate(single)
	annMulti := eng.Evaluate(multi)

	assertHasFlag := func(t *testing.T, flags []RiskAnnotation, key string) bool {
		for _, f := range flags {
			if f.Key == key {
				return true
			}
		}
		return false
	}
	assert.True(t, assertHasFlag(t, annSingle.RiskFlags, "single-word-company"))
	assert.False(t, assertHasFlag(t, annMulti.RiskFlags, "single-word-company"))
}

func TestEvaluate_DuplicateTagKeysDeduplicate(t *testing.T) {
	tags := minimalTags + `  - key: transcription-again
    match:
      op: contains
      field: title
      value: "transcri"
    effect:
      type: apply_tag
      tag: transcription
`
	dir := writeRuleDir(t, tags, minimalRisk, minimalPay)
	eng, err := Load(dir)
	require.NoError(t, err)

	d := draftWith("Audio Transcription", "", "")
	ann := eng.Evaluate(d)
	assert.Equal(t, []string{"transcription"}, ann.TagKeys)
}

func TestEvaluate_AnyOfPayHint(t *testing.T) {
	dir := writeRuleDir(t, minimalTags, minimalRisk, minimalPay)
	eng, err := Load(dir)
	require.NoError(t, err)

	d := draftWith("", "Paid hourly, submit hours weekly", "")
	ann := eng.Evaluate(d)
	require.Len(t, ann.PayHints, 1)
	assert.Equal(t, "hourly", ann.PayHints[0].PayModel)
}
