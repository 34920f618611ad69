// Package sync implements the Sync Orchestrator (spec §4.5): the
// single entrypoint that drives every enabled source through
// fetch/replay, parse, normalize, dedup, rule evaluation, and
// persistence, then writes the run's outputs.
package sync

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rhof/internal/adapter"
	"github.com/sells-group/rhof/internal/dedup"
	"github.com/sells-group/rhof/internal/fetcher"
	"github.com/sells-group/rhof/internal/model"
	"github.com/sells-group/rhof/internal/registry"
	"github.com/sells-group/rhof/internal/rules"
	"github.com/sells-group/rhof/internal/snapshot"
	"github.com/sells-group/rhof/internal/store"
)

// Mode selects how enabled non-ManualOnly sources acquire raw bytes.
type Mode string

const (
	ModeLive    Mode = "live"
	ModeFixture Mode = "fixture"
)

// Orchestrator holds everything Run needs for one pipeline execution.
// Rule files and the registry are loaded once by the caller and handed
// in already-parsed, matching spec §5's "immutable during the run".
type Orchestrator struct {
	Store    store.Store
	Registry *registry.Registry
	Rules    *rules.Engine
	Fetcher  fetcher.Fetcher // unused, and may be nil, when Mode == ModeFixture

	Mode       Mode
	FixtureDir string
	ManualDir  string
	ReportsDir string
}

// RunReport is what Run returns to its caller.
type RunReport struct {
	FetchRunID string
	Summary    model.RunSummary
	ReportDir  string
	Manifest   *snapshot.Manifest
}

// draftUnit carries one normalized draft through dedup, rules, and
// persistence alongside the artifact that produced it.
type draftUnit struct {
	sourceID      string
	rawArtifactID string
	canonicalKey  string
	draft         model.OpportunityDraft
}

// Run executes spec §4.5's eight-step control flow once.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	entries := o.Registry.Enabled()

	// Step 1: upsert every enabled source.
	sourceIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		src, err := e.ToSource()
		if err != nil {
			return nil, eris.Wrapf(err, "sync: build source row for %s", e.SourceID)
		}
		if err := o.Store.UpsertSource(ctx, src); err != nil {
			return nil, eris.Wrapf(err, "sync: upsert source %s", e.SourceID)
		}
		sourceIDs = append(sourceIDs, e.SourceID)
	}

	// Step 2: open the run. BeginFetchRun itself fails fast (or takes an
	// advisory lock, on Postgres) against a concurrent unfinished run.
	run, err := o.Store.BeginFetchRun(ctx, sourceIDs)
	if err != nil {
		return nil, eris.Wrap(err, "sync: begin fetch run")
	}

	summary := model.RunSummary{
		SourcesTotal: len(entries),
		PerSource:    make(map[string]model.SourceOutcome, len(entries)),
	}

	var units []draftUnit
	cancelled := false

	// Step 3: per-source acquire+parse+normalize, in registry order
	// (already stable-sorted by source_id by Registry.Enabled).
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		sourceUnits, outcome, err := o.acquireAndParse(ctx, run.ID, entry)
		summary.PerSource[entry.SourceID] = outcome
		if err != nil {
			summary.SourcesFailed++
			zap.L().Warn("sync: source failed",
				zap.String("source_id", entry.SourceID), zap.Error(err))
			continue
		}
		summary.SourcesOK++
		units = append(units, sourceUnits...)
	}

	// Steps 4-6: dedup, rule evaluation, and persistence, one
	// transaction per opportunity, in the order drafts were collected.
	var deltaRecords []deltaRecord
	for _, u := range units {
		if cancelled {
			break
		}
		select {
		case <-ctx.Done():
			cancelled = true
			continue
		default:
		}

		result, decision, err := o.persistOne(ctx, u)
		if err != nil {
			zap.L().Warn("sync: persist failed",
				zap.String("source_id", u.sourceID),
				zap.String("canonical_key", u.canonicalKey),
				zap.Error(err))
			continue
		}

		switch {
		case result.NewVersion && result.VersionNo == 1:
			summary.OpportunitiesNew++
		case result.NewVersion:
			summary.OpportunitiesUpdated++
		default:
			summary.OpportunitiesUnchanged++
		}
		if result.ReviewOpened {
			summary.ReviewItemsOpened++
		}
		summary.EvidenceMissingCount += u.draft.PopulatedFieldCount() - u.draft.EvidencedFieldCount()

		deltaRecords = append(deltaRecords, deltaRecord{
			OpportunityID: result.OpportunityID,
			SourceID:      u.sourceID,
			CanonicalKey:  u.canonicalKey,
			Title:         u.draft.Title.ValueOr(""),
			Company:       u.draft.Company.ValueOr(""),
			DedupOutcome:  string(decision.Outcome),
			VersionNo:     result.VersionNo,
			Status:        versionStatus(*result),
		})
	}

	if cancelled {
		summary.Cancelled = true
	}

	// Step 7: emit outputs.
	runDir := filepath.Join(o.ReportsDir, run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "sync: mkdir run dir")
	}
	if err := writeDailyBrief(runDir, run.ID, summary); err != nil {
		return nil, eris.Wrap(err, "sync: write daily brief")
	}
	if err := writeDelta(runDir, run.ID, deltaRecords); err != nil {
		return nil, eris.Wrap(err, "sync: write delta")
	}

	snapshotData, err := o.Store.SnapshotTables(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "sync: load snapshot tables")
	}
	manifest, err := snapshot.Write(ctx, o.ReportsDir, run.ID, snapshotData)
	if err != nil {
		return nil, eris.Wrap(err, "sync: write snapshot")
	}

	// Step 8: close the run.
	status := model.FetchRunOK
	switch {
	case cancelled:
		status = model.FetchRunFailed
	case summary.SourcesFailed > 0 && summary.SourcesOK == 0:
		status = model.FetchRunFailed
	case summary.SourcesFailed > 0:
		status = model.FetchRunPartial
	}
	if err := o.Store.FinishFetchRun(ctx, run.ID, status, summary); err != nil {
		return nil, eris.Wrap(err, "sync: finish fetch run")
	}

	if cancelled {
		return &RunReport{FetchRunID: run.ID, Summary: summary, ReportDir: runDir, Manifest: manifest}, eris.Wrap(ctx.Err(), "sync: run cancelled")
	}
	return &RunReport{FetchRunID: run.ID, Summary: summary, ReportDir: runDir, Manifest: manifest}, nil
}

func versionStatus(r store.PersistResult) string {
	switch {
	case r.NewVersion && r.VersionNo == 1:
		return "new"
	case r.NewVersion:
		return "updated"
	default:
		return "unchanged"
	}
}

// persistOne runs dedup, rule evaluation, and the persistence
// transaction for a single normalized draft.
func (o *Orchestrator) persistOne(ctx context.Context, u draftUnit) (*store.PersistResult, dedup.Decision, error) {
	candidateRows, err := o.Store.CandidatesForDedup(ctx, u.sourceID)
	if err != nil {
		return nil, dedup.Decision{}, eris.Wrap(err, "load dedup candidates")
	}
	candidates := make([]dedup.Candidate, len(candidateRows))
	for i, c := range candidateRows {
		candidates[i] = dedup.Candidate{OpportunityID: c.OpportunityID, Title: c.Title, ApplyURL: c.ApplyURL, Company: c.Company}
	}
	decision := dedup.Evaluate(u.draft, candidates)

	var payload *model.DedupReviewPayload
	if decision.Outcome == model.DedupReviewRequired {
		payload = &model.DedupReviewPayload{
			CandidateOpportunityID: decision.MatchedID,
			Similarity:             decision.Similarity,
			Reason:                 "title/company similarity above the review threshold, below auto-merge",
		}
	}

	ann := o.Rules.Evaluate(u.draft)
	riskFlags := make([]store.RiskFlagInput, len(ann.RiskFlags))
	for i, r := range ann.RiskFlags {
		riskFlags[i] = store.RiskFlagInput{Key: r.Key, Severity: model.RiskFlagSeverity(r.Severity), Reason: r.Reason}
	}
	draft := applyPayHints(u.draft, ann.PayHints, u.rawArtifactID)

	result, err := o.Store.PersistOpportunity(ctx, store.PersistInput{
		Draft:         draft,
		RawArtifactID: u.rawArtifactID,
		TagKeys:       ann.TagKeys,
		RiskFlags:     riskFlags,
		DedupOutcome:  decision.Outcome,
		DedupPayload:  payload,
	})
	if err != nil {
		return nil, decision, eris.Wrap(err, "persist opportunity")
	}
	return result, decision, nil
}

// applyPayHints folds the rule engine's pay_hint effects onto draft's
// PayModel/OneOffVsOngoing fields (spec §4.5 step 5, §4.7). Per-adapter
// extraction is authoritative: a hint only fills a field the adapter
// left unpopulated, in rule-file order, and never touches PayRange,
// which only a direct extraction can populate. Applied hints carry
// evidence pointing at the same raw artifact as the rest of the draft,
// since the rule engine has no artifact location of its own to cite.
func applyPayHints(draft model.OpportunityDraft, hints []rules.PayHint, rawArtifactID string) model.OpportunityDraft {
	if len(hints) == 0 {
		return draft
	}
	evidenceFor := func(ruleKey string) model.EvidenceRef {
		return model.EvidenceRef{
			RawArtifactID:     rawArtifactID,
			SourceURL:         draft.SourceURL,
			SelectorOrPointer: "rule:pay_hint:" + ruleKey,
			FetchedAt:         draft.FetchedAt,
			ExtractorVersion:  draft.ExtractorVersion,
		}
	}
	for _, h := range hints {
		if h.PayModel != "" && !draft.PayModel.Populated() {
			draft.PayModel = model.WithValue(h.PayModel, evidenceFor(h.RuleKey))
		}
		if h.OneOffVsOngoing != "" && !draft.OneOffVsOngoing.Populated() {
			draft.OneOffVsOngoing = model.WithValue(h.OneOffVsOngoing, evidenceFor(h.RuleKey))
		}
	}
	return draft
}

// acquireAndParse implements step 3 for one enabled source: acquire raw
// artifacts (live fetch or fixture/manual replay), insert their
// RawArtifact rows, parse to drafts, and normalize each one.
func (o *Orchestrator) acquireAndParse(ctx context.Context, runID string, entry registry.Entry) ([]draftUnit, model.SourceOutcome, error) {
	a, ok := adapter.For(entry.SourceID)
	if !ok {
		return nil, model.SourceOutcome{Status: "failed", Error: "no registered adapter"}, eris.Errorf("sync: no adapter registered for source %s", entry.SourceID)
	}

	type acquired struct {
		artifactID  string
		sourceURL   string
		contentType string
		contentHash string
		httpStatus  int
		byteSize    int64
		fetchedAt   time.Time
		storagePath string
		drafts      []model.OpportunityDraft
	}
	var raw []acquired

	switch {
	case a.Crawlability() == model.CrawlManualOnly:
		bundles, err := o.loadBundles(filepath.Join(o.ManualDir, entry.SourceID))
		if err != nil {
			return nil, model.SourceOutcome{Status: "failed", Error: err.Error()}, err
		}
		for _, b := range bundles {
			rawDir := filepath.Join(filepath.Dir(b.path), "raw")
			fas, err := adapter.ParseFixtureBundle(a, rawDir, b.bundle)
			if err != nil {
				return nil, model.SourceOutcome{Status: "failed", Error: err.Error()}, err
			}
			for _, fa := range fas {
				raw = append(raw, acquired{
					artifactID: fa.ArtifactID, sourceURL: fa.SourceURL, contentType: fa.ContentType,
					contentHash: fa.ContentHash, httpStatus: 200, byteSize: fa.ByteSize,
					fetchedAt: fa.FetchedAt, storagePath: rawDir, drafts: fa.Drafts,
				})
			}
		}

	case o.Mode == ModeFixture:
		bundles, err := o.loadBundles(filepath.Join(o.FixtureDir, entry.SourceID))
		if err != nil {
			return nil, model.SourceOutcome{Status: "failed", Error: err.Error()}, err
		}
		for _, b := range bundles {
			rawDir := filepath.Join(filepath.Dir(b.path), "raw")
			fas, err := adapter.ParseFixtureBundle(a, rawDir, b.bundle)
			if err != nil {
				return nil, model.SourceOutcome{Status: "failed", Error: err.Error()}, err
			}
			for _, fa := range fas {
				raw = append(raw, acquired{
					artifactID: fa.ArtifactID, sourceURL: fa.SourceURL, contentType: fa.ContentType,
					contentHash: fa.ContentHash, httpStatus: 200, byteSize: fa.ByteSize,
					fetchedAt: fa.FetchedAt, storagePath: rawDir, drafts: fa.Drafts,
				})
			}
		}

	default:
		if o.Fetcher == nil {
			return nil, model.SourceOutcome{Status: "failed", Error: "live mode requires a fetcher"}, eris.New("sync: live mode requires a fetcher")
		}
		cfg := entry.SourceConfig()
		for _, u := range a.ListingURLs(cfg) {
			if pu, err := url.Parse(u); err == nil && pu.Host != "" {
				o.Fetcher.ConfigureSource(pu.Host, cfg)
			}
		}
		las, err := adapter.FetchLive(ctx, a, o.Fetcher, cfg)
		if err != nil {
			return nil, model.SourceOutcome{Status: "failed", Error: err.Error()}, err
		}
		for _, la := range las {
			raw = append(raw, acquired{
				artifactID: la.ArtifactID, sourceURL: la.SourceURL, contentType: la.ContentType,
				contentHash: la.ContentHash, httpStatus: la.HTTPStatus, byteSize: la.ByteSize,
				fetchedAt: la.FetchedAt, storagePath: la.StoragePath, drafts: la.Drafts,
			})
		}
	}

	var units []draftUnit
	for _, ra := range raw {
		if err := o.Store.InsertRawArtifact(ctx, model.RawArtifact{
			ID: ra.artifactID, FetchRunID: runID, SourceID: entry.SourceID, SourceURL: ra.sourceURL,
			StoragePath: ra.storagePath, ContentType: ra.contentType, ContentHash: ra.contentHash,
			HTTPStatus: ra.httpStatus, ByteSize: ra.byteSize, FetchedAt: ra.fetchedAt,
			MetadataJSON: []byte("{}"),
		}); err != nil {
			return nil, model.SourceOutcome{Status: "failed", Error: err.Error()}, eris.Wrapf(err, "insert raw artifact for %s", entry.SourceID)
		}

		for _, d := range ra.drafts {
			nd := normalizeDraft(d)
			key := model.CanonicalKey(nd.SourceID, nd.ApplyURL.Value, nd.Title.Value, nd.Company.Value)
			units = append(units, draftUnit{sourceID: entry.SourceID, rawArtifactID: ra.artifactID, canonicalKey: key, draft: nd})
		}
	}

	return units, model.SourceOutcome{Status: "ok", ArtifactCount: len(raw), DraftCount: len(units)}, nil
}

type loadedBundle struct {
	path   string // bundle.json path, for bundleDir derivation
	bundle *registry.Bundle
}

// loadBundles reads every bundle.json (fixtures) or *.json (manual)
// file under dir, sorted by path for deterministic ordering.
func (o *Orchestrator) loadBundles(dir string) ([]loadedBundle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sync: read bundle dir %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			nested := filepath.Join(dir, e.Name(), "bundle.json")
			if _, err := os.Stat(nested); err == nil {
				paths = append(paths, nested)
			}
			continue
		}
		if filepath.Ext(e.Name()) == ".json" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	out := make([]loadedBundle, 0, len(paths))
	for _, p := range paths {
		b, err := registry.LoadBundle(p)
		if err != nil {
			return nil, err
		}
		out = append(out, loadedBundle{path: p, bundle: b})
	}
	return out, nil
}
