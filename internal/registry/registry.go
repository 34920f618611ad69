// Package registry loads and validates the declarative source registry
// (spec §4.4) and the fixture/manual bundle files that feed deterministic
// adapter testing and fixture-driven sync (spec §4.3, §6).
package registry

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/rhof/internal/model"
)

// Entry is one row of the sources.yaml registry file.
type Entry struct {
	SourceID     string         `yaml:"source_id"`
	DisplayName  string         `yaml:"display_name"`
	Crawlability string         `yaml:"crawlability"`
	Enabled      bool           `yaml:"enabled"`
	Config       map[string]any `yaml:"config"`
}

// File is the top-level shape of sources.yaml.
type File struct {
	Sources []Entry `yaml:"sources"`
}

// Registry is the validated, in-memory source list.
type Registry struct {
	entries []Entry
	byID    map[string]Entry
}

// Load reads and validates the registry file at path. It rejects
// duplicate source_id values, unknown crawlability enum values, and
// entries missing required keys — a SchemaViolation per spec §7, fatal
// before any FetchRun row is written.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "registry: parse %s", path)
	}

	return newFromEntries(f.Sources)
}

func newFromEntries(entries []Entry) (*Registry, error) {
	byID := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if e.SourceID == "" {
			return nil, eris.New("registry: entry missing source_id")
		}
		if e.DisplayName == "" {
			return nil, eris.Errorf("registry: source %q missing display_name", e.SourceID)
		}
		if !model.ValidCrawlability(e.Crawlability) {
			return nil, eris.Errorf("registry: source %q has unknown crawlability %q", e.SourceID, e.Crawlability)
		}
		if _, dup := byID[e.SourceID]; dup {
			return nil, eris.Errorf("registry: duplicate source_id %q", e.SourceID)
		}
		byID[e.SourceID] = e
	}
	return &Registry{entries: entries, byID: byID}, nil
}

// Entries returns all registry entries, in file order.
func (r *Registry) Entries() []Entry {
	return r.entries
}

// Enabled returns enabled entries in stable ascending source_id order,
// matching the orchestrator's required processing order (spec §4.5, §5).
func (r *Registry) Enabled() []Entry {
	var out []Entry
	for _, e := range r.entries {
		if e.Enabled {
			out = append(out, e)
		}
	}
	sortEntriesBySourceID(out)
	return out
}

func sortEntriesBySourceID(entries []Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].SourceID < entries[j-1].SourceID; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// Lookup returns the entry for source_id, if registered.
func (r *Registry) Lookup(sourceID string) (Entry, bool) {
	e, ok := r.byID[sourceID]
	return e, ok
}

// SourceConfig decodes an entry's free-form config map into the typed
// SourceConfig the fetcher and orchestrator consume, falling back to
// model.DefaultSourceConfig for anything unset.
func (e Entry) SourceConfig() model.SourceConfig {
	cfg := model.DefaultSourceConfig()
	if e.Config == nil {
		return cfg
	}
	if v, ok := e.Config["rate_limit_per_sec"]; ok {
		if f, ok := toFloat(v); ok {
			cfg.RateLimitPerSec = f
		}
	}
	if v, ok := e.Config["rate_limit_burst"]; ok {
		if f, ok := toFloat(v); ok {
			cfg.RateLimitBurst = int(f)
		}
	}
	if v, ok := e.Config["notes"]; ok {
		if s, ok := v.(string); ok {
			cfg.Notes = s
		}
	}
	if v, ok := e.Config["listing_urls"]; ok {
		if list, ok := v.([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					cfg.ListingURLs = append(cfg.ListingURLs, s)
				}
			}
		}
	}
	return cfg
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

// ToSource converts a validated entry into the model.Source row shape
// the orchestrator upserts on load (spec §4.5 step 1).
func (e Entry) ToSource() (model.Source, error) {
	cr, err := model.ParseCrawlability(e.Crawlability)
	if err != nil {
		return model.Source{}, err
	}
	config := e.Config
	if config == nil {
		config = map[string]any{}
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return model.Source{}, eris.Wrapf(err, "registry: marshal config for source %q", e.SourceID)
	}
	return model.Source{
		SourceID:     e.SourceID,
		DisplayName:  e.DisplayName,
		Crawlability: cr,
		Enabled:      e.Enabled,
		ConfigJSON:   configJSON,
	}, nil
}
