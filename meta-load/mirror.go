package main

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mihir-mlse/Ingest-Yinzcam/datalake"
	"github.com/mihir-mlse/Ingest-Yinzcam/yinzcam"
)

const cardsContentDir = "yinz_cam/cards_content"

// lakeName is the object name a meta URL maps to: everything after its
// meta/ path segment.
func lakeName(url string) (string, error) {
	const marker = "meta/"
	i := strings.Index(url, marker)
	if i < 0 {
		return "", fmt.Errorf("url %q has no meta/ segment", url)
	}
	name := url[i+len(marker):]
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("url %q does not name a meta file", url)
	}

	return name, nil
}

// mirrorFile downloads one meta file and uploads it when it is larger than
// the lake's copy. The upstream export only ever grows, so a body no
// larger than what the lake holds means there is nothing new.
func mirrorFile(ctx context.Context, client *yinzcam.MetaClient, bucket datalake.Bucket, url string) error {
	name, err := lakeName(url)
	if err != nil {
		return err
	}
	key := path.Join(cardsContentDir, name)

	body, err := client.FetchFile(ctx, url)
	if err != nil {
		return err
	}

	var lakeSize int64 = -1
	if ok, err := bucket.Exists(ctx, key); err != nil {
		return fmt.Errorf("checking for %q: %w", key, err)
	} else if ok {
		info, err := bucket.Info(ctx, key)
		if err != nil {
			return fmt.Errorf("sizing %q: %w", key, err)
		}
		lakeSize = info.Size
	}

	if int64(len(body)) <= lakeSize {
		log.WithFields(log.Fields{
			"file":     key,
			"fetched":  len(body),
			"lakeSize": lakeSize,
		}).Info("lake copy is already up to date")
		return nil
	}

	if err := bucket.Upload(ctx, key, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("uploading %q: %w", key, err)
	}

	log.WithFields(log.Fields{
		"file":  key,
		"bytes": len(body),
	}).Info("uploaded a newer meta file")

	return nil
}

// mirrorAll mirrors every URL, a few at a time. One file failing does not
// keep the rest from being tried; the job still fails at the end so a
// scheduler can flag the run.
func mirrorAll(ctx context.Context, client *yinzcam.MetaClient, bucket datalake.Bucket, urls []string) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(3)

	var mu sync.Mutex
	var failed []string

	for _, url := range urls {
		group.Go(func() error {
			err := mirrorFile(groupCtx, client, bucket, url)
			if err == nil {
				return nil
			}
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}

			log.WithFields(log.Fields{
				"url": url,
				"err": err,
			}).Warn("meta file failed")
			mu.Lock()
			failed = append(failed, url)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d meta files failed", len(failed), len(urls))
	}

	return nil
}
