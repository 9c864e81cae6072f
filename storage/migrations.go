package storage

var pgMigration = []string{
	`CREATE TYPE transcript_status AS ENUM ('missing', 'ready', 'unavailable')`,
	`CREATE TABLE video (
video_id VARCHAR(255) PRIMARY KEY,
position SERIAL NOT NULL,
title TEXT NOT NULL DEFAULT '',
description TEXT NOT NULL DEFAULT '',
published_at VARCHAR(255) NOT NULL DEFAULT '',
view_count BIGINT,
like_count BIGINT,
comment_count BIGINT,
video_url VARCHAR(255) NOT NULL,
region VARCHAR(8) NOT NULL DEFAULT '',
transcript_status transcript_status NOT NULL DEFAULT 'missing',
transcription TEXT NOT NULL DEFAULT '',
detected_language VARCHAR(8) NOT NULL DEFAULT ''
)`,
	`CREATE INDEX video_position_idx ON video (position)`,
}
