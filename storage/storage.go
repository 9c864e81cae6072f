package storage

import (
	"context"

	"ewintr.nl/ytcorpus/model"
)

// VideoRepository holds the accumulated table of videos.
type VideoRepository interface {
	// Load returns all rows in the order they were first saved.
	Load(ctx context.Context) ([]*model.Video, error)
	// Save persists the complete table and returns where it ended up.
	Save(ctx context.Context, videos []*model.Video) (string, error)
}
