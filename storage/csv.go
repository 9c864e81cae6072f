package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"ewintr.nl/ytcorpus/metrics"
	"ewintr.nl/ytcorpus/model"
)

const (
	colVideoID      = "video_id"
	colTitle        = "title"
	colDescription  = "description"
	colPublishedAt  = "published_at"
	colViewCount    = "view_count"
	colLikeCount    = "like_count"
	colCommentCount = "comment_count"
	colURL          = "video_url"
	colRegion       = "region"
	colTranscript   = "transcription"
	colLanguage     = "detected_language"
)

var header = []string{
	colVideoID, colTitle, colDescription, colPublishedAt,
	colViewCount, colLikeCount, colCommentCount,
	colURL, colRegion, colTranscript, colLanguage,
}

// CSV stores the table in a single file with a header row.
type CSV struct {
	path    string
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewCSV(path string, m *metrics.Metrics, logger *slog.Logger) *CSV {
	return &CSV{
		path:    path,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Load reads the table. A missing file is an empty table.
func (c *CSV) Load(_ context.Context) ([]*model.Video, error) {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create data directory: %w", err)
	}

	f, err := os.Open(c.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return []*model.Video{}, nil
	case err != nil:
		return nil, fmt.Errorf("could not open %s: %w", c.path, err)
	}
	defer f.Close()

	videos, err := readVideos(f)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", c.path, err)
	}

	return videos, nil
}

// Save overwrites the file with the complete table. When that fails the
// table is written to a timestamped backup next to it instead and the backup
// path is returned. Only a failing backup is reported as error.
func (c *CSV) Save(_ context.Context, videos []*model.Video) (string, error) {
	err := c.replace(videos)
	if err == nil {
		c.logger.Info("data saved", slog.String("path", c.path), slog.Int("rows", len(videos)))
		c.metrics.Saves.WithLabelValues(metrics.TargetCanonical).Inc()
		return c.path, nil
	}
	c.logger.Error("error saving data", slog.String("path", c.path), slog.Any("err", err))

	backup := fmt.Sprintf("%s.backup.%d.csv", c.path, c.now().Unix())
	if err := writeFile(backup, videos); err != nil {
		c.metrics.Saves.WithLabelValues(metrics.TargetFailed).Inc()
		return "", fmt.Errorf("could not write backup %s: %w", backup, err)
	}
	c.logger.Info("data saved to backup file", slog.String("path", backup), slog.Int("rows", len(videos)))
	c.metrics.Saves.WithLabelValues(metrics.TargetBackup).Inc()

	return backup, nil
}

// replace writes to a temporary file in the same directory first, so an
// interrupted write never truncates the existing table.
func (c *CSV) replace(videos []*model.Video) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := writeVideos(tmp, videos); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), c.path)
}

func writeFile(path string, videos []*model.Video) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeVideos(f, videos); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

func writeVideos(w io.Writer, videos []*model.Video) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, v := range videos {
		if err := cw.Write(encodeVideo(v)); err != nil {
			return err
		}
	}
	cw.Flush()

	return cw.Error()
}

func readVideos(r io.Reader) ([]*model.Video, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	names, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []*model.Video{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	cols := make(map[string]int, len(names))
	for i, name := range names {
		cols[name] = i
	}
	if _, ok := cols[colVideoID]; !ok {
		return nil, fmt.Errorf("missing column %q", colVideoID)
	}

	videos := []*model.Video{}
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return videos, nil
		}
		if err != nil {
			return nil, err
		}
		v, err := decodeVideo(record, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		videos = append(videos, v)
	}
}

func encodeVideo(v *model.Video) []string {
	text, lang := encodeTranscript(v.Transcript)

	return []string{
		string(v.YoutubeID),
		v.Title,
		v.Description,
		v.PublishedAt,
		formatCount(v.ViewCount),
		formatCount(v.LikeCount),
		formatCount(v.CommentCount),
		v.URL,
		v.Region,
		text,
		lang,
	}
}

func decodeVideo(record []string, cols map[string]int) (*model.Video, error) {
	cell := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	v := &model.Video{
		YoutubeID:   model.YoutubeVideoID(cell(colVideoID)),
		Title:       cell(colTitle),
		Description: cell(colDescription),
		PublishedAt: cell(colPublishedAt),
		URL:         cell(colURL),
		Region:      cell(colRegion),
		Transcript:  decodeTranscript(cell(colTranscript), cell(colLanguage)),
	}
	if v.YoutubeID == "" {
		return nil, errors.New("empty video id")
	}

	var err error
	if v.ViewCount, err = parseCount(cell(colViewCount)); err != nil {
		return nil, fmt.Errorf("%s: %w", colViewCount, err)
	}
	if v.LikeCount, err = parseCount(cell(colLikeCount)); err != nil {
		return nil, fmt.Errorf("%s: %w", colLikeCount, err)
	}
	if v.CommentCount, err = parseCount(cell(colCommentCount)); err != nil {
		return nil, fmt.Errorf("%s: %w", colCommentCount, err)
	}

	return v, nil
}

func encodeTranscript(t model.Transcript) (string, string) {
	switch t.Status {
	case model.TranscriptUnavailable:
		return model.TranscriptErrorText, model.UnknownLanguage
	case model.TranscriptReady:
		if t.Language == "" {
			return t.Text, model.UnknownLanguage
		}
		return t.Text, t.Language
	default:
		return "", ""
	}
}

func decodeTranscript(text, lang string) model.Transcript {
	switch text {
	case "":
		return model.Transcript{Status: model.TranscriptMissing}
	case model.TranscriptErrorText:
		return model.UnavailableTranscript()
	}
	if lang == model.UnknownLanguage {
		lang = ""
	}

	return model.Transcript{Status: model.TranscriptReady, Text: text, Language: lang}
}

func formatCount(n *int64) string {
	if n == nil {
		return ""
	}

	return strconv.FormatInt(*n, 10)
}

// parseCount also accepts whole floats like "123.0", as written by tools
// that store nullable integer columns as floating point.
func parseCount(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid count %q", s)
	}
	if math.IsNaN(f) {
		return nil, nil
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("invalid count %q", s)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("count %q out of range", s)
	}
	n := int64(f)

	return &n, nil
}
