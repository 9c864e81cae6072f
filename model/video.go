package model

import "fmt"

type TranscriptStatus string

const (
	TranscriptMissing     TranscriptStatus = "missing"
	TranscriptReady       TranscriptStatus = "ready"
	TranscriptUnavailable TranscriptStatus = "unavailable"
)

// Sentinels used in the persisted table for transcripts that could not be
// retrieved and languages that could not be detected.
const (
	TranscriptErrorText = "Video Error"
	UnknownLanguage     = "unknown"
)

const watchURLPrefix = "https://www.youtube.com/watch?v="

type YoutubeVideoID string

func (id YoutubeVideoID) WatchURL() string {
	return fmt.Sprintf("%s%s", watchURLPrefix, id)
}

type Transcript struct {
	Status   TranscriptStatus
	Text     string
	Language string
}

// NeedsFetch reports whether the transcript should be (re)requested.
func (t Transcript) NeedsFetch() bool {
	return t.Status != TranscriptReady
}

func UnavailableTranscript() Transcript {
	return Transcript{Status: TranscriptUnavailable}
}

type Video struct {
	YoutubeID    YoutubeVideoID
	Title        string
	Description  string
	PublishedAt  string
	ViewCount    *int64
	LikeCount    *int64
	CommentCount *int64
	URL          string
	Region       string
	Transcript   Transcript
}

// SetStatistics overwrites the counters with the ones in d.
func (v *Video) SetStatistics(d Details) {
	v.ViewCount = d.ViewCount
	v.LikeCount = d.LikeCount
	v.CommentCount = d.CommentCount
}

// SearchEntry is a single video hit of a search results page.
type SearchEntry struct {
	YoutubeID   YoutubeVideoID
	Title       string
	Description string
	PublishedAt string
}

// Details holds snippet and statistics of a video as returned by the
// videos endpoint.
type Details struct {
	YoutubeID    YoutubeVideoID
	Title        string
	Description  string
	PublishedAt  string
	ViewCount    *int64
	LikeCount    *int64
	CommentCount *int64
}

// NewVideo builds a record for a freshly discovered video. Counters stay nil
// when no details were found for it.
func NewVideo(entry SearchEntry, details Details, found bool, region string) *Video {
	v := &Video{
		YoutubeID:   entry.YoutubeID,
		Title:       entry.Title,
		Description: entry.Description,
		PublishedAt: entry.PublishedAt,
		URL:         entry.YoutubeID.WatchURL(),
		Region:      region,
		Transcript:  Transcript{Status: TranscriptMissing},
	}
	if found {
		v.SetStatistics(details)
	}

	return v
}

func KnownIDs(videos []*Video) map[YoutubeVideoID]bool {
	ids := make(map[YoutubeVideoID]bool, len(videos))
	for _, v := range videos {
		ids[v.YoutubeID] = true
	}

	return ids
}
