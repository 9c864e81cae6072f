package fetch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"ewintr.nl/ytcorpus/metrics"
	"ewintr.nl/ytcorpus/model"
	"github.com/abadojack/whatlanggo"
	"github.com/horiagug/youtube-transcript-api-go/pkg/yt_transcript"
	"github.com/horiagug/youtube-transcript-api-go/pkg/yt_transcript_models"
	"golang.org/x/text/language"
)

const (
	outcomeReady       = "ready"
	outcomeUnavailable = "unavailable"
)

type TranscriptReader interface {
	Fetch(ctx context.Context, ytID model.YoutubeVideoID) model.Transcript
}

type transcriptClient interface {
	GetTranscripts(videoID string, languages []string) ([]yt_transcript_models.Transcript, error)
}

// Transcripts reads the caption tracks of a video in one of the wanted
// languages.
type Transcripts struct {
	client    transcriptClient
	languages []string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewTranscripts creates a reader that gives up on a video after timeout.
// opts are passed on to the transcript client.
func NewTranscripts(timeout time.Duration, languages []string, m *metrics.Metrics, logger *slog.Logger, opts ...yt_transcript.Option) *Transcripts {
	seconds := max(int(timeout.Seconds()), 1)
	opts = append([]yt_transcript.Option{yt_transcript.WithTimeout(seconds)}, opts...)

	return &Transcripts{
		client:    yt_transcript.NewClient(opts...),
		languages: languages,
		metrics:   m,
		logger:    logger,
	}
}

// Fetch never fails. When no transcript can be retrieved, for whatever
// reason, the result is marked unavailable and the cause is logged.
func (t *Transcripts) Fetch(ctx context.Context, ytID model.YoutubeVideoID) model.Transcript {
	text, err := t.fetchText(ctx, ytID)
	if err != nil {
		t.logger.Error("error getting transcript", slog.String("video", string(ytID)), slog.Any("err", err))
		t.metrics.Transcripts.WithLabelValues(outcomeUnavailable).Inc()
		return model.UnavailableTranscript()
	}
	t.metrics.Transcripts.WithLabelValues(outcomeReady).Inc()

	return model.Transcript{
		Status:   model.TranscriptReady,
		Text:     text,
		Language: DetectLanguage(text),
	}
}

func (t *Transcripts) fetchText(ctx context.Context, ytID model.YoutubeVideoID) (string, error) {
	if ytID == "" {
		return "", errors.New("empty video id")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	transcripts, err := t.client.GetTranscripts(string(ytID), t.languages)
	if err != nil {
		return "", err
	}
	transcript, ok := pickTranscript(transcripts, t.languages)
	if !ok {
		return "", errors.New("no transcripts found")
	}

	segments := make([]string, 0, len(transcript.Lines))
	for _, line := range transcript.Lines {
		if text := strings.Join(strings.Fields(line.Text), " "); text != "" {
			segments = append(segments, text)
		}
	}
	if len(segments) == 0 {
		return "", errors.New("empty transcript")
	}

	return strings.Join(segments, " "), nil
}

// pickTranscript prefers a manually created transcript in the first wanted
// language that has one, then an auto-generated one, then whatever came first.
func pickTranscript(transcripts []yt_transcript_models.Transcript, languages []string) (yt_transcript_models.Transcript, bool) {
	if len(transcripts) == 0 {
		return yt_transcript_models.Transcript{}, false
	}
	for _, lang := range languages {
		for _, tr := range transcripts {
			if tr.LanguageCode == lang && !tr.IsGenerated {
				return tr, true
			}
		}
	}
	for _, lang := range languages {
		for _, tr := range transcripts {
			if tr.LanguageCode == lang {
				return tr, true
			}
		}
	}

	return transcripts[0], true
}

// DetectLanguage returns the ISO 639-1 code of the language text is written
// in, or an empty string when it cannot be determined.
func DetectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	if info.Lang < 0 {
		return ""
	}
	iso3 := info.Lang.Iso6393()
	if iso3 == "" {
		return ""
	}
	base, err := language.ParseBase(iso3)
	if err != nil {
		return iso3
	}

	return base.String()
}
