// Package yinzcam implements thin HTTP clients for the YinzCam services the
// ingestion jobs read from: the realtime analytics API, the user profiles
// API, and the meta content file server. The clients deal in transport
// concerns only; interpreting response bodies is left to the jobs.
package yinzcam

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"
)

// The upstream APIs can be slow to assemble large pages, so requests get a
// generous timeout.
const requestTimeout = 240 * time.Second

// maxErrorBodyLen bounds how much of an upstream response body is quoted in
// error messages.
const maxErrorBodyLen = 512

// RealtimeClient fetches pages of raw event records from the realtime
// analytics API.
type RealtimeClient struct {
	http *resty.Client
}

// NewRealtimeClient creates a client for one team's realtime analytics API.
// The API authenticates with basic auth using the lowercased team code as
// the username.
func NewRealtimeClient(endpoint string, team string, apiKey string) *RealtimeClient {
	return &RealtimeClient{
		http: resty.New().
			SetBaseURL(endpoint).
			SetBasicAuth(strings.ToLower(team), apiKey).
			SetTimeout(requestTimeout),
	}
}

// FetchActions requests a single page of raw records whose action ids are
// at least startID, sorted ascending by id, holding at most maxRecords
// actions. The raw response body is returned undecoded so that the caller
// can account JSON decoding failures toward the same retry budget as
// transport failures.
func (c *RealtimeClient) FetchActions(ctx context.Context, startID int64, maxRecords int) ([]byte, error) {
	got, err := c.http.NewRequest().
		WithContext(ctx).
		SetQueryParam("startId", strconv.FormatInt(startID, 10)).
		SetQueryParam("maxRecords", strconv.Itoa(maxRecords)).
		SetQueryParam("sortBy", "id").
		Get("/analytics/raw/actions")
	if err != nil {
		return nil, fmt.Errorf("failed to GET actions page: %w", err)
	} else if !got.IsSuccess() {
		return nil, fmt.Errorf("failed to GET %s: %s: %s", got.Request.URL, got.Status(), bodySnippet(got.String()))
	}

	return got.Bytes(), nil
}

func bodySnippet(body string) string {
	if len(body) > maxErrorBodyLen {
		return body[:maxErrorBodyLen] + "..."
	}

	return body
}
