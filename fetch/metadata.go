package fetch

import (
	"context"
	"log/slog"
	"time"

	"ewintr.nl/ytcorpus/model"
)

type DetailsReader interface {
	FetchDetails(ctx context.Context, ytIDs []model.YoutubeVideoID) (map[model.YoutubeVideoID]model.Details, error)
}

// StatsFetcher fetches details for any number of videos, one batch at a time.
type StatsFetcher struct {
	reader     DetailsReader
	batchSize  int
	batchDelay time.Duration
	logger     *slog.Logger
}

func NewStatsFetcher(reader DetailsReader, batchSize int, batchDelay time.Duration, logger *slog.Logger) *StatsFetcher {
	if batchSize < 1 {
		batchSize = 1
	}

	return &StatsFetcher{
		reader:     reader,
		batchSize:  batchSize,
		batchDelay: batchDelay,
		logger:     logger,
	}
}

// FetchDetails splits ytIDs in consecutive batches. A failing batch is
// skipped, an exhausted quota stops the remaining batches. Whatever was
// collected is returned.
func (s *StatsFetcher) FetchDetails(ctx context.Context, ytIDs []model.YoutubeVideoID) map[model.YoutubeVideoID]model.Details {
	details := make(map[model.YoutubeVideoID]model.Details, len(ytIDs))
	for start := 0; start < len(ytIDs); start += s.batchSize {
		end := min(start+s.batchSize, len(ytIDs))

		mds, err := s.reader.FetchDetails(ctx, ytIDs[start:end])
		switch {
		case err == nil:
			for id, md := range mds {
				details[id] = md
			}
		case ctx.Err() != nil:
			return details
		case IsQuotaExceeded(err):
			s.logger.Error("API quota exceeded", slog.Int("fetched", len(details)), slog.Int("remaining", len(ytIDs)-start), slog.Any("err", err))
			return details
		default:
			s.logger.Error("failed to fetch video details", slog.Int("batch_start", start), slog.Int("batch_size", end-start), slog.Any("err", err))
		}

		if end < len(ytIDs) {
			if err := Wait(ctx, s.batchDelay); err != nil {
				return details
			}
		}
	}

	return details
}
