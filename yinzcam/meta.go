package yinzcam

import (
	"context"
	"fmt"

	"resty.dev/v3"
)

// MetaClient downloads card content metadata files from the YinzCam file
// server. Unlike the other clients it takes full URLs, since the set of
// files to mirror is configured as absolute locations.
type MetaClient struct {
	http *resty.Client
}

func NewMetaClient(username string, password string) *MetaClient {
	return &MetaClient{
		http: resty.New().
			SetBasicAuth(username, password).
			SetTimeout(requestTimeout),
	}
}

// FetchFile downloads the file at url in full and returns its contents.
func (c *MetaClient) FetchFile(ctx context.Context, url string) ([]byte, error) {
	got, err := c.http.NewRequest().
		WithContext(ctx).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to GET %s: %w", url, err)
	} else if !got.IsSuccess() {
		return nil, fmt.Errorf("failed to GET %s: %s: %s", url, got.Status(), bodySnippet(got.String()))
	}

	return got.Bytes(), nil
}
