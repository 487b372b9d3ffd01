package importer

import (
	"context"

	"problembot/internal/domain"
	"problembot/internal/source"
)

// SourceFetcher adapts the source API client to the Fetcher interface,
// binding it to a configured getter path.
type SourceFetcher struct {
	Client *source.Client
	Path   string
}

func (f SourceFetcher) Fetch(ctx context.Context, afterID int64) ([]domain.Record, error) {
	return f.Client.FetchProblems(ctx, f.Path, afterID)
}
