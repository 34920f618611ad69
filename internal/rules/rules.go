// Package rules implements the declarative rule engine (spec §4.7):
// three ordered YAML rule files (tags, risk, pay) evaluated against an
// OpportunityDraft's textual fields, producing tag keys, risk-flag
// keys/severities, and pay hints. The engine never mutates evidence,
// only annotates.
package rules

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/rhof/internal/model"
)

// Match is a predicate over one named draft field. Exactly one of
// Value (contains/regex) or Values (any_of/all_of) or Nested (not) is
// populated, depending on Op.
type Match struct {
	Op     string `yaml:"op"`
	Field  string `yaml:"field"`
	Value  string `yaml:"value"`
	Values []string
	Nested *Match
}

// UnmarshalYAML lets Match.value decode as either a plain string, a
// string list, or a nested match object, depending on Op.
func (m *Match) UnmarshalYAML(node *yaml.Node) error {
	type rawMatch struct {
		Op    string    `yaml:"op"`
		Field string    `yaml:"field"`
		Value yaml.Node `yaml:"value"`
	}
	var raw rawMatch
	if err := node.Decode(&raw); err != nil {
		return err
	}
	m.Op = raw.Op
	m.Field = raw.Field

	switch raw.Op {
	case "contains", "regex":
		return raw.Value.Decode(&m.Value)
	case "any_of", "all_of":
		return raw.Value.Decode(&m.Values)
	case "not":
		m.Nested = &Match{}
		return raw.Value.Decode(m.Nested)
	default:
		return eris.Errorf("rules: unknown match op %q", raw.Op)
	}
}

// Effect is a rule's outcome when its Match fires. Exactly one effect
// kind is populated, selected by Type.
type Effect struct {
	Type string `yaml:"type"`

	// apply_tag
	Tag string `yaml:"tag,omitempty"`

	// apply_risk_flag
	Flag     string `yaml:"flag,omitempty"`
	Severity string `yaml:"severity,omitempty"`
	Reason   string `yaml:"reason,omitempty"`

	// pay_hint
	PayModel        string `yaml:"pay_model,omitempty"`
	OneOffVsOngoing string `yaml:"one_off_vs_ongoing,omitempty"`
}

// Rule is one entry in a rule file.
type Rule struct {
	Key    string `yaml:"key"`
	Match  Match  `yaml:"match"`
	Effect Effect `yaml:"effect"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Engine holds the three loaded rule sets, immutable for the run's
// duration (spec §5 "Rule files and registry are loaded once per run
// and immutable during the run").
type Engine struct {
	Tags []Rule
	Risk []Rule
	Pay  []Rule
}

// Load reads tags.yaml, risk.yaml, and pay.yaml from dir.
func Load(dir string) (*Engine, error) {
	tags, err := loadFile(filepath.Join(dir, "tags.yaml"))
	if err != nil {
		return nil, err
	}
	risk, err := loadFile(filepath.Join(dir, "risk.yaml"))
	if err != nil {
		return nil, err
	}
	pay, err := loadFile(filepath.Join(dir, "pay.yaml"))
	if err != nil {
		return nil, err
	}
	return &Engine{Tags: tags, Risk: risk, Pay: pay}, nil
}

func loadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read %s", path)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, eris.Wrapf(err, "rules: parse %s", path)
	}
	seen := make(map[string]bool, len(rf.Rules))
	for _, r := range rf.Rules {
		if r.Key == "" {
			return nil, eris.Errorf("rules: %s: rule missing key", path)
		}
		if seen[r.Key] {
			return nil, eris.Errorf("rules: %s: duplicate rule key %q", path, r.Key)
		}
		seen[r.Key] = true
	}
	return rf.Rules, nil
}

// Annotations is the accumulated, deduplicated output of evaluating an
// engine against a draft.
type Annotations struct {
	TagKeys   []string
	RiskFlags []RiskAnnotation
	PayHints  []PayHint
}

// RiskAnnotation pairs a fired risk-flag key with its severity and
// reason, as declared by the rule that fired.
type RiskAnnotation struct {
	Key      string
	Severity string
	Reason   string
}

// PayHint pairs a fired pay_hint rule's refinement with the rule key
// that produced it, so callers applying it back onto a draft can
// record which rule the resulting evidence traces to.
type PayHint struct {
	RuleKey         string
	PayModel        string
	OneOffVsOngoing string
}

// Evaluate runs all three rule sets against d in file order, returning
// deduplicated tag/risk keys and accumulated pay hints. It never
// mutates d.
func (e *Engine) Evaluate(d model.OpportunityDraft) Annotations {
	fields := fieldValues(d)

	var out Annotations
	tagSeen := map[string]bool{}
	riskSeen := map[string]bool{}

	for _, r := range e.Tags {
		if !r.Match.evaluate(fields) {
			continue
		}
		if r.Effect.Type != "apply_tag" || r.Effect.Tag == "" {
			continue
		}
		if !tagSeen[r.Effect.Tag] {
			tagSeen[r.Effect.Tag] = true
			out.TagKeys = append(out.TagKeys, r.Effect.Tag)
		}
	}

	for _, r := range e.Risk {
		if !r.Match.evaluate(fields) {
			continue
		}
		if r.Effect.Type != "apply_risk_flag" || r.Effect.Flag == "" {
			continue
		}
		if !riskSeen[r.Effect.Flag] {
			riskSeen[r.Effect.Flag] = true
			out.RiskFlags = append(out.RiskFlags, RiskAnnotation{
				Key:      r.Effect.Flag,
				Severity: r.Effect.Severity,
				Reason:   r.Effect.Reason,
			})
		}
	}

	for _, r := range e.Pay {
		if !r.Match.evaluate(fields) {
			continue
		}
		if r.Effect.Type != "pay_hint" {
			continue
		}
		out.PayHints = append(out.PayHints, PayHint{
			RuleKey:         r.Key,
			PayModel:        r.Effect.PayModel,
			OneOffVsOngoing: r.Effect.OneOffVsOngoing,
		})
	}

	return out
}

// fieldValues extracts the four matchable text fields from d, using
// the empty string when a field is unpopulated so match predicates
// degrade to "no match" rather than panicking.
func fieldValues(d model.OpportunityDraft) map[string]string {
	return map[string]string{
		"title":       d.Title.ValueOr(""),
		"description": d.Description.ValueOr(""),
		"company":     d.Company.ValueOr(""),
		"location":    d.Location.ValueOr(""),
	}
}

func (m Match) evaluate(fields map[string]string) bool {
	if m.Op == "not" {
		if m.Nested == nil || !m.Nested.hasValue(fields) {
			return false
		}
		return !m.Nested.evaluate(fields)
	}

	value := fields[m.Field]
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)

	switch m.Op {
	case "contains":
		return strings.Contains(lower, strings.ToLower(m.Value))
	case "regex":
		re, err := regexp.Compile(m.Value)
		if err != nil {
			return false
		}
		return re.MatchString(value)
	case "any_of":
		for _, v := range m.Values {
			if strings.Contains(lower, strings.ToLower(v)) {
				return true
			}
		}
		return false
	case "all_of":
		for _, v := range m.Values {
			if !strings.Contains(lower, strings.ToLower(v)) {
				return false
			}
		}
		return len(m.Values) > 0
	default:
		return false
	}
}

// hasValue reports whether the field m reads (for not, the field its
// nested match reads) is populated.
func (m Match) hasValue(fields map[string]string) bool {
	if m.Op == "not" {
		return m.Nested != nil && m.Nested.hasValue(fields)
	}
	return fields[m.Field] != ""
}

// String renders a rule's key for logging.
func (r Rule) String() string {
	return r.Key
}
