package ingest

import (
	"context"
	"fmt"
	"maps"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mihir-mlse/Ingest-Yinzcam/datalake"
	"github.com/mihir-mlse/Ingest-Yinzcam/table"
)

// Timestamp layouts the realtime API has been seen to use for
// request_date_time.
var requestTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// MonthlyReport counts actions by the calendar month of their
// request_date_time, as a quick volume check on what a batch pulled. The
// result is a month,count table sorted by month.
func MonthlyReport(actions *table.Table) (*table.Table, error) {
	idx := actions.ColumnIndex("request_date_time")
	if idx < 0 {
		return nil, fmt.Errorf("actions have no request_date_time column")
	}

	counts := make(map[string]int)
	for _, row := range actions.Rows {
		month, err := monthOf(row[idx])
		if err != nil {
			return nil, err
		}
		counts[month]++
	}

	rows := make([][]string, 0, len(counts))
	for _, month := range slices.Sorted(maps.Keys(counts)) {
		rows = append(rows, []string{month, strconv.Itoa(counts[month])})
	}

	busiest := slices.SortedStableFunc(maps.Keys(counts), func(a, b string) int {
		if counts[a] != counts[b] {
			return counts[b] - counts[a]
		}
		return strings.Compare(a, b)
	})
	parts := make([]string, len(busiest))
	for i, month := range busiest {
		parts[i] = month + "=" + strconv.Itoa(counts[month])
	}
	log.WithField("counts", strings.Join(parts, " ")).Info("actions per month, busiest first")

	return &table.Table{Columns: []string{"month", "count"}, Rows: rows}, nil
}

func monthOf(value string) (string, error) {
	for _, layout := range requestTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01"), nil
		}
	}

	return "", fmt.Errorf("request_date_time %q is not a recognized timestamp", value)
}

// WriteMonthlyReport renders the monthly action counts for a batch and
// writes them under the team's figure_checks directory.
func WriteMonthlyReport(ctx context.Context, bucket datalake.Bucket, team string, runTime time.Time, actions *table.Table) error {
	report, err := MonthlyReport(actions)
	if err != nil {
		return err
	}

	stamp, err := FileTimestamp(runTime)
	if err != nil {
		return err
	}
	key := path.Join(reportDir(team), "update_"+stamp+".csv")

	w := bucket.NewWriter(ctx, key)
	if _, err := table.WriteTable(w, report); err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}

	log.WithFields(log.Fields{
		"file":   key,
		"months": report.Len(),
	}).Info("wrote the monthly report")

	return nil
}
