package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rhof/internal/model"
)

// deltaRecord is one opportunity's mini-record in opportunities_delta.json.
type deltaRecord struct {
	OpportunityID string `json:"opportunity_id"`
	SourceID      string `json:"source_id"`
	CanonicalKey  string `json:"canonical_key"`
	Title         string `json:"title,omitempty"`
	Company       string `json:"company,omitempty"`
	DedupOutcome  string `json:"dedup_outcome"`
	VersionNo     int    `json:"version_no"`
	Status        string `json:"status"` // "new" | "updated" | "unchanged"
}

// deltaFile is the top-level shape of opportunities_delta.json.
type deltaFile struct {
	RunID     string        `json:"run_id"`
	New       int           `json:"new"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Records   []deltaRecord `json:"records"`
}

// writeDelta writes opportunities_delta.json under runDir.
func writeDelta(runDir, runID string, records []deltaRecord) error {
	df := deltaFile{RunID: runID, Records: records}
	for _, r := range records {
		switch r.Status {
		case "new":
			df.New++
		case "updated":
			df.Updated++
		default:
			df.Unchanged++
		}
	}

	payload, err := json.MarshalIndent(df, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal opportunities_delta.json")
	}
	return os.WriteFile(filepath.Join(runDir, "opportunities_delta.json"), payload, 0o644)
}

// writeDailyBrief writes a human-readable daily_brief.md under runDir,
// grounded on the pipeline's own FormatReport (headers + fmt.Fprintf
// bullets over a strings.Builder).
func writeDailyBrief(runDir, runID string, summary model.RunSummary) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Sync Run %s\n\n", runID)
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Sources: %d total, %d ok, %d failed\n", summary.SourcesTotal, summary.SourcesOK, summary.SourcesFailed)
	fmt.Fprintf(&b, "- Opportunities: %d new, %d updated, %d unchanged\n", summary.OpportunitiesNew, summary.OpportunitiesUpdated, summary.OpportunitiesUnchanged)
	fmt.Fprintf(&b, "- Review items opened: %d\n", summary.ReviewItemsOpened)
	fmt.Fprintf(&b, "- Evidence-missing fields: %d\n", summary.EvidenceMissingCount)
	if summary.Cancelled {
		b.WriteString("- **Run was cancelled before completion.**\n")
	}
	b.WriteString("\n")

	b.WriteString("## Per-source outcomes\n")
	sourceIDs := make([]string, 0, len(summary.PerSource))
	for id := range summary.PerSource {
		sourceIDs = append(sourceIDs, id)
	}
	sort.Strings(sourceIDs)
	for _, id := range sourceIDs {
		o := summary.PerSource[id]
		fmt.Fprintf(&b, "- %s: %s (%d artifacts, %d drafts)\n", id, o.Status, o.ArtifactCount, o.DraftCount)
		if o.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", o.Error)
		}
	}

	return os.WriteFile(filepath.Join(runDir, "daily_brief.md"), []byte(b.String()), 0o644)
}
