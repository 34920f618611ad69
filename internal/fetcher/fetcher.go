package fetcher

import (
	"context"

	"github.com/sells-group/rhof/internal/artifact"
	"github.com/sells-group/rhof/internal/model"
)

// Fetcher is the transport contract adapters use to acquire raw
// artifacts for PublicHtml/Api/Rss sources (spec §4.2). ManualOnly and
// fixture-driven sources bypass it entirely and replay a checked-in
// bundle instead.
type Fetcher interface {
	Fetch(ctx context.Context, sourceID, rawURL string) (*artifact.PutResult, *FetchResult, error)
	ConfigureSource(host string, cfg model.SourceConfig)
}
