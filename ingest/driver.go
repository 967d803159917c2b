package ingest

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mihir-mlse/Ingest-Yinzcam/datalake"
)

// Options configures a realtime ingestion run.
type Options struct {
	// Team is the lake-level team code: nhl_tor, nba_tor or mls_tor.
	Team string

	// RunTime stamps every file written by the run. All batches of one run
	// share it; their files are distinguished by id range.
	RunTime time.Time

	// PageLimit is how many actions each API call asks for.
	PageLimit int

	// MaxRecordsPerFile caps the actions accumulated into one batch. A
	// batch that fills the cap suggests more data is waiting, so the run
	// goes around again.
	MaxRecordsPerFile int

	// MonthlyReport enables writing a per-month action count file after
	// each batch.
	MonthlyReport bool
}

func (o Options) validate() error {
	if o.Team == "" {
		return fmt.Errorf("missing team")
	} else if o.RunTime.IsZero() {
		return fmt.Errorf("missing run time")
	} else if o.PageLimit <= 0 {
		return fmt.Errorf("page limit must be positive")
	} else if o.MaxRecordsPerFile <= 0 {
		return fmt.Errorf("max records per file must be positive")
	}

	return nil
}

// Summary reports what a run accomplished.
type Summary struct {
	// Batches is how many checkpoints were written.
	Batches int

	// Actions is the total deduplicated actions written across batches.
	Actions int

	// Files is the total lake files written, reports included.
	Files int
}

// Run ingests new realtime records for one team until the upstream has no
// more to give. Each pass re-derives the watermark from the lake, fetches
// up to MaxRecordsPerFile actions past it, and checkpoints them; a batch
// that fills the cap sends the run around again, since the upstream
// probably has more.
func Run(ctx context.Context, client PageFetcher, bucket datalake.Bucket, opts Options) (*Summary, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	summary := &Summary{}
	var floor int64
	for {
		maxID, err := MaxIngestedID(ctx, bucket, opts.Team)
		if err != nil {
			return nil, err
		}
		// Files of the same run share a timestamp, so the newest-by-name
		// file is not always this run's latest batch. Never resume behind
		// what this run has already checkpointed.
		if maxID < floor {
			maxID = floor
		}

		batch, err := FetchBatch(ctx, client, maxID, opts.PageLimit, opts.MaxRecordsPerFile)
		if err != nil {
			return nil, err
		}

		if batch.Fetched == 0 {
			log.WithField("team", opts.Team).Info("no new records to process")
			break
		}

		minID, maxBatchID, err := batch.IDRange()
		if err != nil {
			return nil, err
		}

		collections, err := NormalizeBatch(batch)
		if err != nil {
			return nil, err
		}

		if err := WriteCheckpoint(ctx, bucket, opts.Team, opts.RunTime, minID, maxBatchID, collections); err != nil {
			return nil, err
		}

		floor = maxBatchID
		summary.Batches++
		summary.Actions += collections[Actions].Table.Len()
		summary.Files += len(Collections)

		if opts.MonthlyReport {
			if err := WriteMonthlyReport(ctx, bucket, opts.Team, opts.RunTime, collections[Actions].Table); err != nil {
				// Reports are best-effort; the batch's checkpoint is already
				// in the lake.
				log.WithFields(log.Fields{
					"team": opts.Team,
					"err":  err,
				}).Warn("monthly report failed")
			} else {
				summary.Files++
			}
		}

		if batch.Fetched < opts.MaxRecordsPerFile {
			break
		}

		log.WithFields(log.Fields{
			"team":    opts.Team,
			"fetched": batch.Fetched,
		}).Info("record ceiling reached, checking for more")
	}

	return summary, nil
}
