package process

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ewintr.nl/ytcorpus/fetch"
	"ewintr.nl/ytcorpus/metrics"
	"ewintr.nl/ytcorpus/model"
	"ewintr.nl/ytcorpus/storage"
)

type Searcher interface {
	Search(ctx context.Context, knownIDs map[model.YoutubeVideoID]bool) ([]model.SearchEntry, error)
}

type DetailsFetcher interface {
	FetchDetails(ctx context.Context, ytIDs []model.YoutubeVideoID) map[model.YoutubeVideoID]model.Details
}

// Options toggles the optional phases of a run.
type Options struct {
	UpdateExisting    bool
	UpdateTranscripts bool
	FetchTranscripts  bool
	CheckpointEvery   int
	TranscriptDelay   time.Duration
	Region            string
}

type Pipeline struct {
	store       storage.VideoRepository
	searcher    Searcher
	details     DetailsFetcher
	transcripts fetch.TranscriptReader
	opts        Options
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewPipeline(store storage.VideoRepository, searcher Searcher, details DetailsFetcher, transcripts fetch.TranscriptReader, opts Options, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if opts.CheckpointEvery < 1 {
		opts.CheckpointEvery = 1
	}

	return &Pipeline{
		store:       store,
		searcher:    searcher,
		details:     details,
		transcripts: transcripts,
		opts:        opts,
		metrics:     m,
		logger:      logger,
	}
}

// Run performs one complete ingestion run and returns the resulting table.
// Only a failure to load the table, or cancellation of ctx, is returned as
// error. Failed saves are logged and the run continues.
func (p *Pipeline) Run(ctx context.Context) ([]*model.Video, error) {
	videos, err := p.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load existing videos: %w", err)
	}
	p.logger.Info("loaded existing videos", slog.Int("count", len(videos)))

	if p.opts.UpdateExisting && len(videos) > 0 {
		p.refreshStats(ctx, videos)
		p.save(ctx, videos)
		if err := ctx.Err(); err != nil {
			return videos, err
		}
	}

	if p.opts.UpdateTranscripts && len(videos) > 0 {
		err := p.backfillTranscripts(ctx, videos)
		p.save(ctx, videos)
		if err != nil {
			return videos, err
		}
	}

	p.logger.Info("searching for new videos")
	found, err := p.searcher.Search(ctx, model.KnownIDs(videos))
	if err != nil {
		return videos, fmt.Errorf("search interrupted: %w", err)
	}
	if len(found) == 0 {
		p.logger.Info("No new videos found.")
		return videos, nil
	}

	p.logger.Info("processing new videos", slog.Int("count", len(found)))
	newVideos, err := p.newVideos(ctx, found)
	if len(newVideos) == 0 {
		return videos, err
	}

	combined := append(videos, newVideos...)
	p.save(ctx, combined)
	p.metrics.VideosAdded.Add(float64(len(newVideos)))
	p.logger.Info("added new videos", slog.Int("added", len(newVideos)), slog.Int("total", len(combined)))

	return combined, err
}

func (p *Pipeline) refreshStats(ctx context.Context, videos []*model.Video) {
	ytIDs := make([]model.YoutubeVideoID, len(videos))
	for i, v := range videos {
		ytIDs[i] = v.YoutubeID
	}
	p.logger.Info("updating statistics for existing videos", slog.Int("count", len(ytIDs)))

	details := p.details.FetchDetails(ctx, ytIDs)
	updated := 0
	for _, v := range videos {
		if d, ok := details[v.YoutubeID]; ok {
			v.SetStatistics(d)
			updated++
		}
	}
	p.metrics.StatsUpdated.Add(float64(updated))
	p.logger.Info("updated statistics", slog.Int("count", updated))
}

// backfillTranscripts fetches transcripts for rows that have none yet, or
// for which an earlier attempt failed, saving every CheckpointEvery rows.
func (p *Pipeline) backfillTranscripts(ctx context.Context, videos []*model.Video) error {
	pending := []*model.Video{}
	for _, v := range videos {
		if v.Transcript.NeedsFetch() {
			pending = append(pending, v)
		}
	}
	if len(pending) == 0 {
		p.logger.Info("no missing transcripts to update")
		return nil
	}
	p.logger.Info("updating missing transcripts", slog.Int("count", len(pending)))

	for i, v := range pending {
		p.logger.Info("Processing transcript for video", slog.String("progress", progress(i, len(pending))), slog.String("video", string(v.YoutubeID)))
		v.Transcript = p.transcripts.Fetch(ctx, v.YoutubeID)

		if (i+1)%p.opts.CheckpointEvery == 0 {
			p.save(ctx, videos)
			p.logger.Info("saved interim results", slog.Int("updated", i+1))
		}
		if err := fetch.Wait(ctx, p.opts.TranscriptDelay); err != nil {
			p.logger.Info("updated transcripts", slog.Int("count", i+1))
			return err
		}
	}
	p.logger.Info("updated transcripts", slog.Int("count", len(pending)))

	return nil
}

// newVideos builds records for the search results, in the same order. When
// ctx is cancelled while transcripts are fetched, the records are returned
// anyway, the remaining ones without transcript.
func (p *Pipeline) newVideos(ctx context.Context, found []model.SearchEntry) ([]*model.Video, error) {
	ytIDs := make([]model.YoutubeVideoID, len(found))
	for i, e := range found {
		ytIDs[i] = e.YoutubeID
	}
	details := p.details.FetchDetails(ctx, ytIDs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	videos := make([]*model.Video, len(found))
	for i, e := range found {
		d, ok := details[e.YoutubeID]
		videos[i] = model.NewVideo(e, d, ok, p.opts.Region)
	}
	if !p.opts.FetchTranscripts {
		return videos, nil
	}

	for i, v := range videos {
		p.logger.Info("Processing transcript for video", slog.String("progress", progress(i, len(videos))), slog.String("video", string(v.YoutubeID)))
		v.Transcript = p.transcripts.Fetch(ctx, v.YoutubeID)
		if err := fetch.Wait(ctx, p.opts.TranscriptDelay); err != nil {
			return videos, err
		}
	}

	return videos, nil
}

// save keeps going after cancellation, so an interrupted run still persists
// what it collected.
func (p *Pipeline) save(ctx context.Context, videos []*model.Video) {
	if _, err := p.store.Save(context.WithoutCancel(ctx), videos); err != nil {
		p.logger.Error("could not save videos", slog.Int("rows", len(videos)), slog.Any("err", err))
	}
}

func progress(i, total int) string {
	return fmt.Sprintf("%d/%d", i+1, total)
}
