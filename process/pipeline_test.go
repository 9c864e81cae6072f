package process_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"ewintr.nl/ytcorpus/metrics"
	"ewintr.nl/ytcorpus/model"
	"ewintr.nl/ytcorpus/process"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore keeps a snapshot of the table on every save.
type memStore struct {
	videos  []*model.Video
	loadErr error
	saves   [][]model.Video
}

func (m *memStore) Load(_ context.Context) ([]*model.Video, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}

	return m.videos, nil
}

func (m *memStore) Save(_ context.Context, videos []*model.Video) (string, error) {
	snapshot := make([]model.Video, len(videos))
	for i, v := range videos {
		snapshot[i] = *v
	}
	m.saves = append(m.saves, snapshot)

	return "memory", nil
}

func (m *memStore) readyCounts() []int {
	counts := []int{}
	for _, s := range m.saves {
		n := 0
		for _, v := range s {
			if v.Transcript.Status == model.TranscriptReady {
				n++
			}
		}
		counts = append(counts, n)
	}

	return counts
}

type fakeSearcher struct {
	found []model.SearchEntry
	err   error
	known map[model.YoutubeVideoID]bool
	calls int
}

func (f *fakeSearcher) Search(_ context.Context, knownIDs map[model.YoutubeVideoID]bool) ([]model.SearchEntry, error) {
	f.calls++
	f.known = knownIDs
	res := []model.SearchEntry{}
	for _, e := range f.found {
		if !knownIDs[e.YoutubeID] {
			res = append(res, e)
		}
	}

	return res, f.err
}

type fakeDetails struct {
	views map[model.YoutubeVideoID]int64
	calls [][]model.YoutubeVideoID
}

func (f *fakeDetails) FetchDetails(_ context.Context, ytIDs []model.YoutubeVideoID) map[model.YoutubeVideoID]model.Details {
	f.calls = append(f.calls, ytIDs)
	res := map[model.YoutubeVideoID]model.Details{}
	for _, id := range ytIDs {
		if n, ok := f.views[id]; ok {
			views := n
			likes := n / 10
			res[id] = model.Details{YoutubeID: id, ViewCount: &views, LikeCount: &likes}
		}
	}

	return res
}

type fakeTranscripts struct {
	failing map[model.YoutubeVideoID]bool
	calls   []model.YoutubeVideoID
}

func (f *fakeTranscripts) Fetch(_ context.Context, ytID model.YoutubeVideoID) model.Transcript {
	f.calls = append(f.calls, ytID)
	if f.failing[ytID] {
		return model.UnavailableTranscript()
	}

	return model.Transcript{Status: model.TranscriptReady, Text: "transcript of " + string(ytID), Language: "en"}
}

type fixture struct {
	store       *memStore
	searcher    *fakeSearcher
	details     *fakeDetails
	transcripts *fakeTranscripts
	metrics     *metrics.Metrics
}

func newFixture() *fixture {
	return &fixture{
		store:       &memStore{videos: []*model.Video{}},
		searcher:    &fakeSearcher{},
		details:     &fakeDetails{views: map[model.YoutubeVideoID]int64{}},
		transcripts: &fakeTranscripts{failing: map[model.YoutubeVideoID]bool{}},
		metrics:     metrics.New(),
	}
}

func (f *fixture) pipeline(opts process.Options) *process.Pipeline {
	return process.NewPipeline(f.store, f.searcher, f.details, f.transcripts, opts, f.metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func existing(n int, status model.TranscriptStatus) []*model.Video {
	videos := make([]*model.Video, n)
	for i := range videos {
		id := model.YoutubeVideoID(fmt.Sprintf("old%02d", i))
		videos[i] = &model.Video{YoutubeID: id, URL: id.WatchURL(), Transcript: model.Transcript{Status: status}}
	}

	return videos
}

func searchEntries(prefix string, n int) []model.SearchEntry {
	es := make([]model.SearchEntry, n)
	for i := range es {
		es[i] = model.SearchEntry{
			YoutubeID: model.YoutubeVideoID(fmt.Sprintf("%s%02d", prefix, i)),
			Title:     fmt.Sprintf("video %d", i),
		}
	}

	return es
}

func videoIDs(videos []*model.Video) []model.YoutubeVideoID {
	ids := make([]model.YoutubeVideoID, len(videos))
	for i, v := range videos {
		ids[i] = v.YoutubeID
	}

	return ids
}

func TestRunEmptyTable(t *testing.T) {
	f := newFixture()
	f.searcher.found = append(searchEntries("a", 50), searchEntries("b", 3)...)
	for _, e := range f.searcher.found {
		f.details.views[e.YoutubeID] = 100
	}

	videos, err := f.pipeline(process.Options{FetchTranscripts: true, CheckpointEvery: 10}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, videos, 53)
	for i, v := range videos {
		assert.Equal(t, f.searcher.found[i].YoutubeID, v.YoutubeID)
		assert.Equal(t, "https://www.youtube.com/watch?v="+string(v.YoutubeID), v.URL)
		assert.Equal(t, int64(100), *v.ViewCount)
		assert.Equal(t, model.TranscriptReady, v.Transcript.Status)
	}
	require.Len(t, f.store.saves, 1)
	assert.Len(t, f.store.saves[0], 53)
	assert.Len(t, f.transcripts.calls, 53)
	assert.Equal(t, 53.0, testutil.ToFloat64(f.metrics.VideosAdded))
}

func TestRunNothingNew(t *testing.T) {
	f := newFixture()
	f.store.videos = existing(3, model.TranscriptReady)
	f.searcher.found = []model.SearchEntry{{YoutubeID: "old00"}, {YoutubeID: "old02"}}

	videos, err := f.pipeline(process.Options{FetchTranscripts: true, CheckpointEvery: 10}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, f.store.videos, videos)
	assert.Empty(t, f.store.saves)
	assert.Empty(t, f.details.calls)
	assert.Empty(t, f.transcripts.calls)
	assert.Equal(t, map[model.YoutubeVideoID]bool{"old00": true, "old01": true, "old02": true}, f.searcher.known)
}

func TestRunAppendsAfterExisting(t *testing.T) {
	f := newFixture()
	f.store.videos = existing(2, model.TranscriptReady)
	f.searcher.found = []model.SearchEntry{{YoutubeID: "old01"}, {YoutubeID: "new1"}, {YoutubeID: "new2"}}
	f.details.views["new2"] = 5

	videos, err := f.pipeline(process.Options{CheckpointEvery: 10, Region: "US"}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []model.YoutubeVideoID{"old00", "old01", "new1", "new2"}, videoIDs(videos))
	assert.Equal(t, [][]model.YoutubeVideoID{{"new1", "new2"}}, f.details.calls)
	assert.Nil(t, videos[2].ViewCount)
	assert.Equal(t, int64(5), *videos[3].ViewCount)
	assert.Equal(t, "US", videos[3].Region)
	assert.Equal(t, model.TranscriptMissing, videos[3].Transcript.Status)
	assert.Empty(t, f.transcripts.calls)
	require.Len(t, f.store.saves, 1)
	assert.Len(t, f.store.saves[0], 4)
}

func TestRunFailingTranscript(t *testing.T) {
	f := newFixture()
	f.searcher.found = searchEntries("n", 4)
	f.transcripts.failing["n01"] = true

	videos, err := f.pipeline(process.Options{FetchTranscripts: true, CheckpointEvery: 10}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []model.YoutubeVideoID{"n00", "n01", "n02", "n03"}, f.transcripts.calls)
	assert.Equal(t, model.UnavailableTranscript(), videos[1].Transcript)
	for _, i := range []int{0, 2, 3} {
		assert.Equal(t, model.TranscriptReady, videos[i].Transcript.Status)
	}
}

func TestRunBackfillCheckpoints(t *testing.T) {
	f := newFixture()
	f.store.videos = existing(25, model.TranscriptMissing)

	_, err := f.pipeline(process.Options{UpdateTranscripts: true, CheckpointEvery: 10}).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, f.transcripts.calls, 25)
	assert.Equal(t, []int{10, 20, 25}, f.store.readyCounts())
}

func TestRunBackfillSelection(t *testing.T) {
	f := newFixture()
	f.store.videos = []*model.Video{
		{YoutubeID: "ready", Transcript: model.Transcript{Status: model.TranscriptReady, Text: "x"}},
		{YoutubeID: "missing", Transcript: model.Transcript{Status: model.TranscriptMissing}},
		{YoutubeID: "failed", Transcript: model.UnavailableTranscript()},
		{YoutubeID: "undetected", Transcript: model.Transcript{Status: model.TranscriptReady, Text: "y"}},
		{YoutubeID: "zero"},
	}
	f.transcripts.failing["failed"] = true

	videos, err := f.pipeline(process.Options{UpdateTranscripts: true, CheckpointEvery: 10}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []model.YoutubeVideoID{"missing", "failed", "zero"}, f.transcripts.calls)
	assert.Equal(t, "x", videos[0].Transcript.Text)
	assert.Equal(t, model.TranscriptReady, videos[1].Transcript.Status)
	assert.Equal(t, model.UnavailableTranscript(), videos[2].Transcript)
	require.Len(t, f.store.saves, 1)
}

func TestRunBackfillNothingPending(t *testing.T) {
	f := newFixture()
	f.store.videos = existing(3, model.TranscriptReady)

	_, err := f.pipeline(process.Options{UpdateTranscripts: true, CheckpointEvery: 10}).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.transcripts.calls)
	assert.Len(t, f.store.saves, 1)
}

func TestRunRefreshStats(t *testing.T) {
	f := newFixture()
	f.store.videos = existing(3, model.TranscriptReady)
	stale := int64(1)
	f.store.videos[1].ViewCount = &stale
	f.details.views["old00"] = 500
	f.details.views["old02"] = 700

	videos, err := f.pipeline(process.Options{UpdateExisting: true, CheckpointEvery: 10}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, [][]model.YoutubeVideoID{{"old00", "old01", "old02"}}, f.details.calls)
	assert.Equal(t, int64(500), *videos[0].ViewCount)
	assert.Equal(t, int64(50), *videos[0].LikeCount)
	assert.Equal(t, int64(1), *videos[1].ViewCount)
	assert.Equal(t, int64(700), *videos[2].ViewCount)
	assert.Len(t, f.store.saves, 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.StatsUpdated))
}

func TestRunOptionalPhasesSkippedOnEmptyTable(t *testing.T) {
	f := newFixture()

	_, err := f.pipeline(process.Options{UpdateExisting: true, UpdateTranscripts: true, CheckpointEvery: 10}).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.details.calls)
	assert.Empty(t, f.store.saves)
	assert.Equal(t, 1, f.searcher.calls)
}

func TestRunLoadError(t *testing.T) {
	f := newFixture()
	f.store.loadErr = errors.New("disk on fire")

	_, err := f.pipeline(process.Options{CheckpointEvery: 10}).Run(context.Background())
	assert.Error(t, err)
	assert.Zero(t, f.searcher.calls)
	assert.Empty(t, f.store.saves)
}

func TestRunSearchCancelled(t *testing.T) {
	f := newFixture()
	f.store.videos = existing(1, model.TranscriptReady)
	f.searcher.err = context.Canceled

	videos, err := f.pipeline(process.Options{CheckpointEvery: 10}).Run(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, videos, 1)
	assert.Empty(t, f.store.saves)
}

func TestRunCancelledDuringTranscripts(t *testing.T) {
	f := newFixture()
	f.searcher.found = searchEntries("n", 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := &cancellingTranscripts{fakeTranscripts: f.transcripts, cancel: cancel}

	p := process.NewPipeline(f.store, f.searcher, f.details, tr, process.Options{FetchTranscripts: true, CheckpointEvery: 10}, f.metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
	videos, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, videos, 3)
	assert.Equal(t, model.TranscriptReady, videos[0].Transcript.Status)
	assert.Equal(t, model.TranscriptMissing, videos[1].Transcript.Status)
	require.Len(t, f.store.saves, 1)
	assert.Len(t, f.store.saves[0], 3)
}

// cancellingTranscripts cancels the run after the first transcript.
type cancellingTranscripts struct {
	*fakeTranscripts
	cancel context.CancelFunc
}

func (c *cancellingTranscripts) Fetch(ctx context.Context, ytID model.YoutubeVideoID) model.Transcript {
	defer c.cancel()
	return c.fakeTranscripts.Fetch(ctx, ytID)
}
