package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ewintr.nl/ytcorpus/metrics"
	"ewintr.nl/ytcorpus/model"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	pgDialect = "postgres"
	pgTarget  = "postgres:video"
)

type Postgres struct {
	db        *sqlx.DB
	backupDir string
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewPostgres migrates the database. When a save fails, the table is written
// as CSV to a timestamped file in backupDir.
func NewPostgres(db *sql.DB, backupDir string, m *metrics.Metrics, logger *slog.Logger) (*Postgres, error) {
	p := &Postgres{
		db:        sqlx.NewDb(db, pgDialect),
		backupDir: backupDir,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
	if err := p.migrate(pgMigration); err != nil {
		return &Postgres{}, err
	}

	return p, nil
}

type videoRow struct {
	YoutubeID        string        `db:"video_id"`
	Title            string        `db:"title"`
	Description      string        `db:"description"`
	PublishedAt      string        `db:"published_at"`
	ViewCount        sql.NullInt64 `db:"view_count"`
	LikeCount        sql.NullInt64 `db:"like_count"`
	CommentCount     sql.NullInt64 `db:"comment_count"`
	URL              string        `db:"video_url"`
	Region           string        `db:"region"`
	TranscriptStatus string        `db:"transcript_status"`
	Transcription    string        `db:"transcription"`
	Language         string        `db:"detected_language"`
}

func (p *Postgres) Load(ctx context.Context) ([]*model.Video, error) {
	rows := []videoRow{}
	if err := p.db.SelectContext(ctx, &rows, `
SELECT video_id, title, description, published_at,
  view_count, like_count, comment_count,
  video_url, region, transcript_status, transcription, detected_language
FROM video
ORDER BY position`); err != nil {
		return nil, fmt.Errorf("could not load videos: %w", err)
	}

	videos := make([]*model.Video, 0, len(rows))
	for _, r := range rows {
		videos = append(videos, &model.Video{
			YoutubeID:    model.YoutubeVideoID(r.YoutubeID),
			Title:        r.Title,
			Description:  r.Description,
			PublishedAt:  r.PublishedAt,
			ViewCount:    fromNull(r.ViewCount),
			LikeCount:    fromNull(r.LikeCount),
			CommentCount: fromNull(r.CommentCount),
			URL:          r.URL,
			Region:       r.Region,
			Transcript: model.Transcript{
				Status:   model.TranscriptStatus(r.TranscriptStatus),
				Text:     r.Transcription,
				Language: r.Language,
			},
		})
	}

	return videos, nil
}

// Save upserts all rows in one transaction. New rows get the next position,
// existing rows keep theirs. If the transaction fails the table goes to a CSV
// backup instead and the backup path is returned. Only a failing backup is
// reported as error.
func (p *Postgres) Save(ctx context.Context, videos []*model.Video) (string, error) {
	err := p.save(ctx, videos)
	if err == nil {
		p.logger.Info("data saved", slog.String("path", pgTarget), slog.Int("rows", len(videos)))
		p.metrics.Saves.WithLabelValues(metrics.TargetCanonical).Inc()
		return pgTarget, nil
	}
	p.logger.Error("error saving data", slog.String("path", pgTarget), slog.Any("err", err))

	backup := filepath.Join(p.backupDir, fmt.Sprintf("video.backup.%d.csv", p.now().Unix()))
	if err := writeBackup(backup, videos); err != nil {
		p.metrics.Saves.WithLabelValues(metrics.TargetFailed).Inc()
		return "", fmt.Errorf("could not write backup %s: %w", backup, err)
	}
	p.logger.Info("data saved to backup file", slog.String("path", backup), slog.Int("rows", len(videos)))
	p.metrics.Saves.WithLabelValues(metrics.TargetBackup).Inc()

	return backup, nil
}

func writeBackup(path string, videos []*model.Video) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return writeFile(path, videos)
}

func (p *Postgres) save(ctx context.Context, videos []*model.Video) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
INSERT INTO video
(video_id, title, description, published_at, view_count, like_count, comment_count,
  video_url, region, transcript_status, transcription, detected_language)
VALUES
(:video_id, :title, :description, :published_at, :view_count, :like_count, :comment_count,
  :video_url, :region, :transcript_status, :transcription, :detected_language)
ON CONFLICT (video_id)
DO UPDATE SET
  title = EXCLUDED.title,
  description = EXCLUDED.description,
  published_at = EXCLUDED.published_at,
  view_count = EXCLUDED.view_count,
  like_count = EXCLUDED.like_count,
  comment_count = EXCLUDED.comment_count,
  video_url = EXCLUDED.video_url,
  region = EXCLUDED.region,
  transcript_status = EXCLUDED.transcript_status,
  transcription = EXCLUDED.transcription,
  detected_language = EXCLUDED.detected_language`

	for _, v := range videos {
		if _, err := tx.NamedExecContext(ctx, query, toRow(v)); err != nil {
			return fmt.Errorf("video %s: %w", v.YoutubeID, err)
		}
	}

	return tx.Commit()
}

func toRow(v *model.Video) videoRow {
	status := v.Transcript.Status
	if status == "" {
		status = model.TranscriptMissing
	}

	return videoRow{
		YoutubeID:        string(v.YoutubeID),
		Title:            v.Title,
		Description:      v.Description,
		PublishedAt:      v.PublishedAt,
		ViewCount:        toNull(v.ViewCount),
		LikeCount:        toNull(v.LikeCount),
		CommentCount:     toNull(v.CommentCount),
		URL:              v.URL,
		Region:           v.Region,
		TranscriptStatus: string(status),
		Transcription:    v.Transcript.Text,
		Language:         v.Transcript.Language,
	}
}

func toNull(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: *n, Valid: true}
}

func fromNull(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	c := n.Int64

	return &c
}

func (p *Postgres) migrate(wanted []string) error {
	query := `CREATE TABLE IF NOT EXISTS migration
("id" SERIAL PRIMARY KEY, "query" TEXT)`
	_, err := p.db.Exec(query)
	if err != nil {
		return err
	}

	// find existing
	existing := []string{}
	if err := p.db.Select(&existing, `SELECT query FROM migration ORDER BY id`); err != nil {
		return err
	}

	// compare
	missing, err := compareMigrations(wanted, existing)
	if err != nil {
		return err
	}

	// execute missing
	for _, query := range missing {
		if _, err := p.db.Exec(query); err != nil {
			return err
		}

		// register
		if _, err := p.db.Exec(`
INSERT INTO migration
(query) VALUES ($1)
`, query); err != nil {
			return err
		}
		p.logger.Info("applied migration", slog.Int("total", len(existing)+1))
		existing = append(existing, query)
	}

	return nil
}

func compareMigrations(wanted, existing []string) ([]string, error) {
	needed := []string{}
	if len(wanted) < len(existing) {
		return []string{}, fmt.Errorf("not enough migrations")
	}

	for i, want := range wanted {
		switch {
		case i >= len(existing):
			needed = append(needed, want)
		case want == existing[i]:
			// do nothing
		case want != existing[i]:
			return []string{}, fmt.Errorf("incompatible migration: %v", want)
		}
	}

	return needed, nil
}
