package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mihir-mlse/Ingest-Yinzcam/table"
)

// pageRetries is how many failures, transport and undecodable bodies
// combined, are tolerated per page before the batch is cut short with
// whatever has accumulated.
const pageRetries = 5

// PageFetcher is the slice of the realtime API client the ingestion needs,
// factored out so tests can serve pages directly.
type PageFetcher interface {
	FetchActions(ctx context.Context, startID int64, maxRecords int) ([]byte, error)
}

// FetchOption adjusts how FetchBatch pulls pages.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	retryDelay func(attempt int) time.Duration
}

// WithRetryDelay makes each retry of a failed page wait before trying
// again, where attempt counts retries of the current page from 1. Retries
// are immediate when no delay is configured.
func WithRetryDelay(delay func(attempt int) time.Duration) FetchOption {
	return func(cfg *fetchConfig) {
		cfg.retryDelay = delay
	}
}

// Batch holds the records accumulated by one fetching pass.
type Batch struct {
	// Fetched counts the actions accumulated, before deduplication.
	Fetched int

	// Exhausted reports that fetching stopped because a page ran out of
	// retries, rather than because the data or the record budget ran out.
	Exhausted bool

	Tables map[Kind]*table.Table
}

// IDRange returns the smallest and largest action id accumulated in the
// batch.
func (b *Batch) IDRange() (int64, int64, error) {
	return b.Tables[Actions].MinMaxInt("id")
}

// FetchBatch pulls pages of records with action ids strictly greater than
// maxID until a page comes back with fewer than limit actions, the running
// action count reaches maxRecords, or a page fails all of its retries.
// Retry exhaustion is not an error: everything accumulated up to the bad
// page is returned so it can still be written out.
//
// Pages that decode but violate the API's shape, and action ids that do
// not parse as integers, fail the batch outright since the watermark
// cannot safely advance past them.
func FetchBatch(ctx context.Context, client PageFetcher, maxID int64, limit int, maxRecords int, opts ...FetchOption) (*Batch, error) {
	var cfg fetchConfig
	for _, o := range opts {
		o(&cfg)
	}

	records := make(map[Kind][]map[string]any, len(Collections))

	var (
		startID   = maxID + 1
		fetched   int
		calls     int
		exhausted bool
	)

	// The page size doubles as the loop condition: a page with fewer
	// actions than requested means the upstream has no more to give.
	lastLen := limit
	for lastLen >= limit && fetched < maxRecords {
		page, err := fetchPage(ctx, client, startID, limit, cfg.retryDelay)
		if err != nil {
			var malformed *malformedPageError
			if ctx.Err() != nil {
				return nil, ctx.Err()
			} else if errors.As(err, &malformed) {
				return nil, err
			}
			log.WithFields(log.Fields{
				"startId": startID,
				"err":     err,
			}).Warn("giving up on this page, keeping what has accumulated")
			exhausted = true
			break
		}

		calls++
		actions := page[Actions]
		lastLen = len(actions)

		if lastLen > 0 {
			newMax, err := maxActionID(actions)
			if err != nil {
				return nil, err
			}
			if newMax < startID {
				return nil, fmt.Errorf("api returned ids up to %d for a page starting at %d", newMax, startID)
			}

			startID = newMax + 1
			fetched += lastLen
			for _, kind := range Collections {
				records[kind] = append(records[kind], page[kind]...)
			}

			log.WithFields(log.Fields{
				"call":        calls,
				"pageActions": lastLen,
				"fetched":     fetched,
				"nextStartId": startID,
			}).Info("accumulated a page")
		}
	}

	tables := make(map[Kind]*table.Table, len(Collections))
	for _, kind := range Collections {
		tables[kind] = table.FromRecords(records[kind])
	}

	return &Batch{Fetched: fetched, Exhausted: exhausted, Tables: tables}, nil
}

// fetchPage fetches and decodes one page, spending up to pageRetries
// failures before giving up. Transport errors and syntactically invalid
// bodies both count against the same budget; structurally invalid pages do
// not get retried at all.
func fetchPage(ctx context.Context, client PageFetcher, startID int64, limit int, delay func(attempt int) time.Duration) (map[Kind][]map[string]any, error) {
	var lastErr error
	for retry := pageRetries; retry > 0; retry-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if retry < pageRetries && delay != nil {
			if d := delay(pageRetries - retry); d > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(d):
				}
			}
		}

		body, err := client.FetchActions(ctx, startID, limit)
		if err != nil {
			lastErr = err
			log.WithFields(log.Fields{
				"startId":     startID,
				"retriesLeft": retry - 1,
				"err":         err,
			}).Info("actions page request failed")
			continue
		}

		page, err := decodePage(body)
		if err != nil {
			var malformed *malformedPageError
			if errors.As(err, &malformed) {
				return nil, err
			}
			lastErr = err
			log.WithFields(log.Fields{
				"startId":     startID,
				"retriesLeft": retry - 1,
				"err":         err,
			}).Info("actions page could not be decoded")
			continue
		}

		return page, nil
	}

	return nil, fmt.Errorf("page at startId %d failed %d times: %w", startID, pageRetries, lastErr)
}

// malformedPageError reports a page that decoded as JSON but does not have
// the API's shape. Retrying cannot fix these.
type malformedPageError struct {
	reason string
}

func (e *malformedPageError) Error() string {
	return "malformed page: " + e.reason
}

// decodePage decodes a page body into its record collections. All four
// collections must be present. Records decode with json.Number so ids and
// epoch timestamps survive exactly as written.
func decodePage(body []byte) (map[Kind][]map[string]any, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding page: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("page is empty")
	}

	page := make(map[Kind][]map[string]any, len(Collections))
	var missing []string
	for _, kind := range Collections {
		raw, ok := doc[string(kind)]
		if !ok {
			missing = append(missing, string(kind))
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var records []map[string]any
		if err := dec.Decode(&records); err != nil {
			return nil, &malformedPageError{fmt.Sprintf("collection %q: %v", kind, err)}
		}
		page[kind] = records
	}
	if len(missing) > 0 {
		return nil, &malformedPageError{"missing collections: " + strings.Join(missing, ", ")}
	}

	return page, nil
}

// maxActionID finds the largest id in a page of actions. Ids may arrive as
// numbers or strings; anything else fails the batch, since the watermark
// cannot be advanced past a record that cannot be ordered.
func maxActionID(actions []map[string]any) (int64, error) {
	var max int64
	for i, action := range actions {
		raw, ok := action["id"]
		if !ok {
			return 0, fmt.Errorf("action %d of the page has no id", i)
		}
		id, err := strconv.ParseInt(table.RenderCell(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("action %d of the page has an unusable id: %w", i, err)
		}
		if id > max {
			max = id
		}
	}

	return max, nil
}
