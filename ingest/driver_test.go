package ingest

import (
	"context"
	"encoding/json"
	"path"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mihir-mlse/Ingest-Yinzcam/datalake"
	"github.com/mihir-mlse/Ingest-Yinzcam/table"
)

var testRunTime = time.Date(2021, 12, 23, 22, 15, 9, 0, time.UTC)

func testOptions() Options {
	return Options{
		Team:              "nhl_tor",
		RunTime:           testRunTime,
		PageLimit:         2,
		MaxRecordsPerFile: 100,
	}
}

// allActionIDs reads back every actions file a run wrote and returns the
// ids they contain, sorted.
func allActionIDs(t *testing.T, bucket datalake.Bucket, team string) []int64 {
	t.Helper()
	ctx := context.Background()

	var ids []int64
	for info, err := range bucket.List(ctx, datalake.Query{Prefix: collectionDir(team, Actions) + "/"}) {
		require.NoError(t, err)

		r, err := bucket.NewReader(ctx, info.Key)
		require.NoError(t, err)
		tbl, err := table.ReadTable(r)
		require.NoError(t, r.Close())
		require.NoError(t, err)

		idx := tbl.ColumnIndex("id")
		require.NotEqual(t, -1, idx, "file %s has no id column", info.Key)
		for _, row := range tbl.Rows {
			id, err := strconv.ParseInt(row[idx], 10, 64)
			require.NoError(t, err)
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func TestRunBootstrapsEmptyLake(t *testing.T) {
	api := &fakeAPI{actions: idRange(1, 5)}
	bucket := datalake.NewMemoryBucket("lake")

	summary, err := Run(context.Background(), api, bucket, testOptions())
	require.NoError(t, err)
	require.Equal(t, &Summary{Batches: 1, Actions: 5, Files: 4}, summary)

	require.Equal(t, int64(1), api.calls[0].startID)
	require.Equal(t, idRange(1, 5), allActionIDs(t, bucket, "nhl_tor"))

	keys := lakeKeys(t, bucket)
	require.Len(t, keys, 4)
	require.Contains(t, keys,
		"yinz_cam/nhl_tor/realtime_api/actions/2021-12-23_17_15_09_1_5.csv")
}

func TestRunLoopsWhileCeilingIsReached(t *testing.T) {
	api := &fakeAPI{actions: idRange(1, 10)}
	bucket := datalake.NewMemoryBucket("lake")

	opts := testOptions()
	opts.MaxRecordsPerFile = 4

	summary, err := Run(context.Background(), api, bucket, opts)
	require.NoError(t, err)
	require.Equal(t, &Summary{Batches: 3, Actions: 10, Files: 12}, summary)

	// Every id lands exactly once even though the run spanned batches.
	require.Equal(t, idRange(1, 10), allActionIDs(t, bucket, "nhl_tor"))

	var actionFiles []string
	for _, key := range lakeKeys(t, bucket) {
		if strings.Contains(key, "/actions/") {
			actionFiles = append(actionFiles, path.Base(key))
		}
	}
	require.ElementsMatch(t, []string{
		"2021-12-23_17_15_09_1_4.csv",
		"2021-12-23_17_15_09_5_8.csv",
		"2021-12-23_17_15_09_9_10.csv",
	}, actionFiles)
}

func TestRunNeverResumesBehindItsOwnBatches(t *testing.T) {
	// The first two batches write files named ..._8_9.csv and
	// ..._10_11.csv. The first sorts lexicographically after the second,
	// so a run that trusted the lake alone would re-derive watermark 9 and
	// fetch ids 10 and 11 forever.
	api := &fakeAPI{actions: idRange(8, 11)}
	bucket := datalake.NewMemoryBucket("lake")

	opts := testOptions()
	opts.MaxRecordsPerFile = 2

	summary, err := Run(context.Background(), api, bucket, opts)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Batches)
	require.Equal(t, []fetchCall{{1, 2}, {10, 2}, {12, 2}}, api.calls)
	require.Equal(t, idRange(8, 11), allActionIDs(t, bucket, "nhl_tor"))
}

func TestRunResumesFromExistingWatermark(t *testing.T) {
	api := &fakeAPI{actions: idRange(1, 45)}
	bucket := datalake.NewMemoryBucket("lake")
	seedLakeFile(t, bucket, "nhl_tor", Actions,
		"2021-01-01_00_00_00_1_42.csv", "id,yinzid\n42,a\n")

	opts := testOptions()
	opts.PageLimit = 250

	summary, err := Run(context.Background(), api, bucket, opts)
	require.NoError(t, err)
	require.Equal(t, []fetchCall{{43, 250}}, api.calls)
	require.Equal(t, 3, summary.Actions)
	require.Equal(t, idRange(43, 45), allActionIDs(t, bucket, "nhl_tor")[1:])
}

func TestRunNoNewRecords(t *testing.T) {
	api := &fakeAPI{}
	bucket := datalake.NewMemoryBucket("lake")

	summary, err := Run(context.Background(), api, bucket, testOptions())
	require.NoError(t, err)
	require.Equal(t, &Summary{}, summary)
	require.Empty(t, lakeKeys(t, bucket))
}

func TestRunKeepsPartialBatchWhenAPIStaysDown(t *testing.T) {
	api := &fakeAPI{
		actions: idRange(1, 6),
		fail:    map[int64]int{5: -1},
	}
	bucket := datalake.NewMemoryBucket("lake")

	summary, err := Run(context.Background(), api, bucket, testOptions())
	require.NoError(t, err)
	require.Equal(t, &Summary{Batches: 1, Actions: 4, Files: 4}, summary)
	require.Equal(t, idRange(1, 4), allActionIDs(t, bucket, "nhl_tor"))
}

func TestRunFailsOnCorruptWatermarkFile(t *testing.T) {
	api := &fakeAPI{actions: idRange(1, 5)}
	bucket := datalake.NewMemoryBucket("lake")
	seedLakeFile(t, bucket, "nhl_tor", Actions,
		"2021-01-01_00_00_00_1_42.csv", "id,yinzid\n")

	_, err := Run(context.Background(), api, bucket, testOptions())
	require.Error(t, err)
	require.Empty(t, api.calls)
}

func TestRunFailsOnMalformedPage(t *testing.T) {
	api := &fakeAPI{pages: map[int64][]byte{1: []byte(`{"actions": []}`)}}
	bucket := datalake.NewMemoryBucket("lake")

	_, err := Run(context.Background(), api, bucket, testOptions())
	require.Error(t, err)
	require.Empty(t, lakeKeys(t, bucket))
}

func TestRunWritesMonthlyReport(t *testing.T) {
	api := &fakeAPI{actions: idRange(1, 3)}
	bucket := datalake.NewMemoryBucket("lake")

	opts := testOptions()
	opts.MonthlyReport = true

	summary, err := Run(context.Background(), api, bucket, opts)
	require.NoError(t, err)
	require.Equal(t, 5, summary.Files)

	r, err := bucket.NewReader(context.Background(),
		"yinz_cam/nhl_tor/realtime_api/figure_checks/update_2021-12-23_17_15_09.csv")
	require.NoError(t, err)
	defer r.Close()

	report, err := table.ReadTable(r)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"2021-11", "3"}}, report.Rows)
}

func TestRunSurvivesReportFailure(t *testing.T) {
	page := map[string][]map[string]any{}
	for _, kind := range Collections {
		rec := fakeRecord(kind, 1)
		if kind == Actions {
			rec["request_date_time"] = "not a timestamp"
		}
		page[string(kind)] = []map[string]any{rec}
	}
	body, err := json.Marshal(page)
	require.NoError(t, err)

	api := &fakeAPI{pages: map[int64][]byte{1: body}}
	bucket := datalake.NewMemoryBucket("lake")

	opts := testOptions()
	opts.MonthlyReport = true

	summary, err := Run(context.Background(), api, bucket, opts)
	require.NoError(t, err)
	require.Equal(t, &Summary{Batches: 1, Actions: 1, Files: 4}, summary)

	for _, key := range lakeKeys(t, bucket) {
		require.NotContains(t, key, "figure_checks")
	}
}

func TestRunValidatesOptions(t *testing.T) {
	api := &fakeAPI{}
	bucket := datalake.NewMemoryBucket("lake")

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"missing team", func(o *Options) { o.Team = "" }},
		{"zero run time", func(o *Options) { o.RunTime = time.Time{} }},
		{"nonpositive page limit", func(o *Options) { o.PageLimit = 0 }},
		{"nonpositive ceiling", func(o *Options) { o.MaxRecordsPerFile = -1 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			opts := testOptions()
			test.mutate(&opts)

			_, err := Run(context.Background(), api, bucket, opts)
			require.Error(t, err)
		})
	}
}
