package fetch

import (
	"context"
	"errors"
	"net/http"

	"ewintr.nl/ytcorpus/metrics"
	"ewintr.nl/ytcorpus/model"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/youtube/v3"
)

// SearchQuery restricts a search to a query string and publication window.
// The bounds are RFC 3339 timestamps.
type SearchQuery struct {
	Query           string
	PublishedAfter  string
	PublishedBefore string
	RegionCode      string
	PageSize        int64
}

type Youtube struct {
	Client  *youtube.Service
	metrics *metrics.Metrics
}

func NewYoutube(client *youtube.Service, m *metrics.Metrics) *Youtube {
	return &Youtube{Client: client, metrics: m}
}

// Search requests a single page of video results. The returned token is
// empty on the last page.
func (y *Youtube) Search(ctx context.Context, q SearchQuery, pageToken string) ([]model.SearchEntry, string, error) {
	call := y.Client.Search.
		List([]string{"snippet"}).
		Q(q.Query).
		Type("video").
		PublishedAfter(q.PublishedAfter).
		PublishedBefore(q.PublishedBefore).
		MaxResults(q.PageSize)

	if q.RegionCode != "" {
		call.RegionCode(q.RegionCode)
	}
	if pageToken != "" {
		call.PageToken(pageToken)
	}

	response, err := call.Context(ctx).Do()
	y.metrics.Request(metrics.EndpointSearch, outcome(err))
	if err != nil {
		return nil, "", err
	}

	entries := make([]model.SearchEntry, 0, len(response.Items))
	for _, item := range response.Items {
		if item.Id == nil || item.Id.VideoId == "" {
			continue
		}
		entry := model.SearchEntry{YoutubeID: model.YoutubeVideoID(item.Id.VideoId)}
		if item.Snippet != nil {
			entry.Title = item.Snippet.Title
			entry.Description = item.Snippet.Description
			entry.PublishedAt = item.Snippet.PublishedAt
		}
		entries = append(entries, entry)
	}

	return entries, response.NextPageToken, nil
}

// FetchDetails requests snippet and statistics for at most 50 videos in one
// call. Videos the API does not know are absent from the result.
func (y *Youtube) FetchDetails(ctx context.Context, ytIDs []model.YoutubeVideoID) (map[model.YoutubeVideoID]model.Details, error) {
	strIDs := make([]string, len(ytIDs))
	for i, id := range ytIDs {
		strIDs[i] = string(id)
	}
	call := y.Client.Videos.
		List([]string{"snippet", "statistics"}).
		Id(strIDs...)

	response, err := call.Context(ctx).Do()
	y.metrics.Request(metrics.EndpointVideos, outcome(err))
	if err != nil {
		return nil, err
	}

	mds := make(map[model.YoutubeVideoID]model.Details, len(response.Items))
	for _, item := range response.Items {
		md := model.Details{YoutubeID: model.YoutubeVideoID(item.Id)}
		if item.Snippet != nil {
			md.Title = item.Snippet.Title
			md.Description = item.Snippet.Description
			md.PublishedAt = item.Snippet.PublishedAt
		}
		if item.Statistics != nil {
			md.ViewCount = count(item.Statistics.ViewCount)
			md.LikeCount = count(item.Statistics.LikeCount)
			md.CommentCount = count(item.Statistics.CommentCount)
		}

		mds[md.YoutubeID] = md
	}

	return mds, nil
}

// IsQuotaExceeded reports whether err is the API refusing further requests
// for the current quota period. Any 403 counts as such.
func IsQuotaExceeded(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusForbidden
	}

	return false
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case IsQuotaExceeded(err):
		return metrics.OutcomeQuota
	default:
		return metrics.OutcomeError
	}
}

// count cannot tell a hidden statistic from a zero one: the client decodes
// an absent key into 0. Only a missing statistics part leaves counts nil.
func count(n uint64) *int64 {
	c := int64(n)
	return &c
}
