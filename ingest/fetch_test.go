package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fetchCall struct {
	startID int64
	limit   int
}

// fakeAPI serves pages built from a fixed set of upstream action ids. A
// startId can be scripted to fail some number of times (negative means
// always) or to return a canned raw body instead of a generated page.
type fakeAPI struct {
	actions []int64
	fail    map[int64]int
	pages   map[int64][]byte
	calls   []fetchCall
}

func (f *fakeAPI) FetchActions(_ context.Context, startID int64, maxRecords int) ([]byte, error) {
	f.calls = append(f.calls, fetchCall{startID: startID, limit: maxRecords})

	if n, ok := f.fail[startID]; ok && n != 0 {
		if n > 0 {
			f.fail[startID] = n - 1
		}
		return nil, errors.New("simulated transport failure")
	}
	if body, ok := f.pages[startID]; ok {
		return body, nil
	}

	var ids []int64
	for _, id := range f.actions {
		if len(ids) == maxRecords {
			break
		}
		if id >= startID {
			ids = append(ids, id)
		}
	}
	return pageFor(ids...), nil
}

func idRange(from, to int64) []int64 {
	var ids []int64
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}

// fakeRecord fills every column the collection is projected onto so that
// generated pages survive normalization unchanged.
func fakeRecord(kind Kind, id int64) map[string]any {
	rec := make(map[string]any)
	for _, col := range collectionColumns[kind] {
		rec[col] = fmt.Sprintf("%s-%s", kind, col)
	}
	rec["id"] = id
	if kind == Actions {
		rec["request_date_time"] = "2021-11-05 19:21:00"
	}
	return rec
}

func pageFor(ids ...int64) []byte {
	page := map[string][]map[string]any{}
	for _, kind := range Collections {
		page[string(kind)] = []map[string]any{}
		for _, id := range ids {
			page[string(kind)] = append(page[string(kind)], fakeRecord(kind, id))
		}
	}
	body, err := json.Marshal(page)
	if err != nil {
		panic(err)
	}
	return body
}

func TestFetchBatchPagesUntilShortPage(t *testing.T) {
	api := &fakeAPI{actions: idRange(1, 5)}

	batch, err := FetchBatch(context.Background(), api, 0, 2, 100)
	require.NoError(t, err)
	require.Equal(t, 5, batch.Fetched)
	require.False(t, batch.Exhausted)
	require.Equal(t, []fetchCall{{1, 2}, {3, 2}, {5, 2}}, api.calls)

	for _, kind := range Collections {
		require.Equal(t, 5, batch.Tables[kind].Len(), "collection %s", kind)
	}
	minID, maxID, err := batch.IDRange()
	require.NoError(t, err)
	require.Equal(t, int64(1), minID)
	require.Equal(t, int64(5), maxID)
}

func TestFetchBatchStopsAfterOneShortPage(t *testing.T) {
	api := &fakeAPI{actions: idRange(1, 3)}

	batch, err := FetchBatch(context.Background(), api, 0, 10, 100)
	require.NoError(t, err)
	require.Equal(t, 3, batch.Fetched)
	require.Len(t, api.calls, 1)
}

func TestFetchBatchStartsAfterWatermark(t *testing.T) {
	api := &fakeAPI{actions: idRange(1, 50)}

	batch, err := FetchBatch(context.Background(), api, 41, 250, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(42), api.calls[0].startID)
	require.Equal(t, 9, batch.Fetched)

	minID, _, err := batch.IDRange()
	require.NoError(t, err)
	require.Equal(t, int64(42), minID)
}

func TestFetchBatchHonorsRecordCeiling(t *testing.T) {
	api := &fakeAPI{actions: idRange(1, 10)}

	batch, err := FetchBatch(context.Background(), api, 0, 2, 4)
	require.NoError(t, err)
	require.Equal(t, 4, batch.Fetched)
	require.Equal(t, []fetchCall{{1, 2}, {3, 2}}, api.calls)
}

func TestFetchBatchRetriesFailedPage(t *testing.T) {
	api := &fakeAPI{
		actions: idRange(1, 3),
		fail:    map[int64]int{1: 4},
	}

	batch, err := FetchBatch(context.Background(), api, 0, 10, 100)
	require.NoError(t, err)
	require.Equal(t, 3, batch.Fetched)
	require.False(t, batch.Exhausted)
	require.Len(t, api.calls, 5)
}

func TestFetchBatchConsultsRetryDelayPerAttempt(t *testing.T) {
	api := &fakeAPI{
		actions: idRange(1, 3),
		fail:    map[int64]int{1: 2},
	}

	var attempts []int
	delay := func(attempt int) time.Duration {
		attempts = append(attempts, attempt)
		return 0
	}

	batch, err := FetchBatch(context.Background(), api, 0, 10, 100, WithRetryDelay(delay))
	require.NoError(t, err)
	require.Equal(t, 3, batch.Fetched)
	require.Equal(t, []int{1, 2}, attempts)
}

func TestFetchBatchKeepsPartialBatchWhenRetriesExhaust(t *testing.T) {
	api := &fakeAPI{
		actions: idRange(1, 4),
		fail:    map[int64]int{3: -1},
	}

	batch, err := FetchBatch(context.Background(), api, 0, 2, 100)
	require.NoError(t, err)
	require.True(t, batch.Exhausted)
	require.Equal(t, 2, batch.Fetched)

	_, maxID, err := batch.IDRange()
	require.NoError(t, err)
	require.Equal(t, int64(2), maxID)
}

func TestFetchBatchInvalidJSONSharesRetryBudget(t *testing.T) {
	api := &fakeAPI{
		pages: map[int64][]byte{1: []byte("<html>service unavailable</html>")},
	}

	batch, err := FetchBatch(context.Background(), api, 0, 250, 1000)
	require.NoError(t, err)
	require.True(t, batch.Exhausted)
	require.Zero(t, batch.Fetched)
	require.Len(t, api.calls, 5)
}

func TestFetchBatchMalformedPageIsFatal(t *testing.T) {
	for name, body := range map[string]string{
		"missing collections": `{"actions": []}`,
		"collection not list": `{"actions": {"id": 1}, "sessions": [], "geoip": [], "hardware": []}`,
	} {
		t.Run(name, func(t *testing.T) {
			api := &fakeAPI{pages: map[int64][]byte{1: []byte(body)}}

			_, err := FetchBatch(context.Background(), api, 0, 250, 1000)
			require.Error(t, err)
			require.Len(t, api.calls, 1)
		})
	}
}

func TestFetchBatchUnparseableActionIDIsFatal(t *testing.T) {
	page := `{"actions": [{"id": "not-a-number"}], "sessions": [], "geoip": [], "hardware": []}`
	api := &fakeAPI{pages: map[int64][]byte{1: []byte(page)}}

	_, err := FetchBatch(context.Background(), api, 0, 250, 1000)
	require.ErrorContains(t, err, "unusable id")
}

func TestFetchBatchRejectsStalledIDs(t *testing.T) {
	// A full page whose ids sit at or below the cursor would otherwise
	// loop forever.
	api := &fakeAPI{pages: map[int64][]byte{5: pageFor(1, 2)}}

	_, err := FetchBatch(context.Background(), api, 4, 2, 1000)
	require.ErrorContains(t, err, "page starting at")
}

func TestFetchBatchStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	api := &fakeAPI{actions: idRange(1, 10)}

	_, err := FetchBatch(ctx, api, 0, 2, 100)
	require.ErrorIs(t, err, context.Canceled)
}
