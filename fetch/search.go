package fetch

import (
	"context"
	"log/slog"
	"time"

	"ewintr.nl/ytcorpus/model"
)

type SearchReader interface {
	Search(ctx context.Context, q SearchQuery, pageToken string) ([]model.SearchEntry, string, error)
}

// Paginator walks all result pages of one query.
type Paginator struct {
	reader     SearchReader
	query      SearchQuery
	pageDelay  time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

func NewPaginator(reader SearchReader, query SearchQuery, pageDelay, retryDelay time.Duration, logger *slog.Logger) *Paginator {
	return &Paginator{
		reader:     reader,
		query:      query,
		pageDelay:  pageDelay,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Search returns the entries of all pages that are not in knownIDs, in the
// order the API returned them. An exhausted quota ends the walk early
// without error. Other failures are retried after the retry delay for as long
// as ctx allows; on cancellation the entries found so far are returned along
// with the context error.
func (p *Paginator) Search(ctx context.Context, knownIDs map[model.YoutubeVideoID]bool) ([]model.SearchEntry, error) {
	seen := make(map[model.YoutubeVideoID]bool, len(knownIDs))
	for id := range knownIDs {
		seen[id] = true
	}

	found := []model.SearchEntry{}
	token := ""
	page := 0
	for {
		entries, next, err := p.reader.Search(ctx, p.query, token)
		if err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			if IsQuotaExceeded(err) {
				p.logger.Error("API quota exceeded", slog.Int("pages", page), slog.Int("total", len(found)), slog.Any("err", err))
				return found, nil
			}
			p.logger.Error("search request failed", slog.Int("page", page+1), slog.Duration("retry_in", p.retryDelay), slog.Any("err", err))
			if err := Wait(ctx, p.retryDelay); err != nil {
				return found, err
			}
			continue
		}

		newCount := 0
		for _, entry := range entries {
			if seen[entry.YoutubeID] {
				continue
			}
			seen[entry.YoutubeID] = true
			found = append(found, entry)
			newCount++
		}
		page++
		p.logger.Info("processed search page", slog.Int("page", page), slog.Int("new", newCount), slog.Int("total", len(found)))

		if next == "" {
			p.logger.Info("no more pages available")
			return found, nil
		}
		token = next

		if err := Wait(ctx, p.pageDelay); err != nil {
			return found, err
		}
	}
}
