package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"ewintr.nl/ytcorpus/config"
	"ewintr.nl/ytcorpus/fetch"
	"ewintr.nl/ytcorpus/metrics"
	"ewintr.nl/ytcorpus/process"
	"ewintr.nl/ytcorpus/storage"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	stderr := slog.New(slog.NewTextHandler(os.Stderr, nil))

	opts, err := config.ParseFlags(args)
	if errors.Is(err, config.ErrHelp) {
		return 0
	}
	if err != nil {
		return 1
	}
	if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		stderr.Error("unable to read env file", slog.String("path", opts.EnvFile), slog.Any("err", err))
		return 1
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		stderr.Error("invalid configuration", slog.Any("err", err))
		return 1
	}
	cfg = opts.Apply(cfg)

	logger, closeLog, err := newLogger(cfg.Log, time.Now())
	if err != nil {
		stderr.Error("unable to open log file", slog.Any("err", err))
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	defer func() {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Error("unable to write metrics", slog.Any("err", err))
		}
	}()

	if err := ingest(ctx, cfg, m, logger); err != nil {
		logger.Error("an error occurred in the main process", slog.Any("err", err))
		return 1
	}
	logger.Info("run finished")

	return 0
}

func ingest(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	store, closeStore, err := newStore(cfg.Storage, m, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ytClient, err := youtube.NewService(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return fmt.Errorf("unable to create youtube service: %w", err)
	}
	logger.Info("YouTube API client initialized successfully")
	yt := fetch.NewYoutube(ytClient, m)

	paginator := fetch.NewPaginator(yt, fetch.SearchQuery{
		Query:           cfg.Search.Query,
		PublishedAfter:  cfg.Search.PublishedAfter,
		PublishedBefore: cfg.Search.PublishedBefore,
		RegionCode:      cfg.Search.RegionCode,
		PageSize:        int64(cfg.Search.PageSize),
	}, cfg.Search.PageDelay, cfg.Search.RetryDelay, logger)
	stats := fetch.NewStatsFetcher(yt, cfg.Stats.BatchSize, cfg.Stats.BatchDelay, logger)
	transcripts := fetch.NewTranscripts(cfg.Transcripts.Timeout, cfg.Transcripts.Languages, m, logger)

	pipeline := process.NewPipeline(store, paginator, stats, transcripts, process.Options{
		UpdateExisting:    cfg.Pipeline.UpdateExisting,
		UpdateTranscripts: cfg.Pipeline.UpdateTranscripts,
		FetchTranscripts:  cfg.Pipeline.FetchTranscripts,
		CheckpointEvery:   cfg.Pipeline.CheckpointEvery,
		TranscriptDelay:   cfg.Transcripts.Delay,
		Region:            cfg.Search.RegionCode,
	}, m, logger)

	_, err = pipeline.Run(ctx)
	return err
}

func newStore(cfg config.StorageConfig, m *metrics.Metrics, logger *slog.Logger) (storage.VideoRepository, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open postgres: %w", err)
		}
		pg, err := storage.NewPostgres(db, cfg.BackupDir, m, logger)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("unable to prepare postgres: %w", err)
		}
		return pg, func() { db.Close() }, nil
	default:
		return storage.NewCSV(cfg.CSVPath, m, logger), func() {}, nil
	}
}

// newLogger writes to stderr and to a log file named after the start of the
// run. Every line carries the run id.
func newLogger(cfg config.LogConfig, start time.Time) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, nil, err
	}
	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, fmt.Sprintf("youtube_api_%s.log", start.Format("20060102_150405"))),
		MaxSize:    50,
		MaxBackups: 3,
		Compress:   true,
	}

	handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, logFile), &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}).WithAttrs([]slog.Attr{slog.String("run", uuid.NewString())})

	return slog.New(handler), func() { logFile.Close() }, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
