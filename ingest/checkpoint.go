package ingest

import (
	"context"
	"fmt"
	"path"
	"time"
	_ "time/tzdata" // for America/Toronto on hosts without zoneinfo

	log "github.com/sirupsen/logrus"

	"github.com/mihir-mlse/Ingest-Yinzcam/datalake"
	"github.com/mihir-mlse/Ingest-Yinzcam/table"
)

// FileTimestamp renders a run time the way lake file names expect: the
// moment in America/Toronto, formatted as 2006-01-02_15_04_05.
func FileTimestamp(runTime time.Time) (string, error) {
	loc, err := time.LoadLocation("America/Toronto")
	if err != nil {
		return "", fmt.Errorf("loading the America/Toronto zone: %w", err)
	}

	return runTime.In(loc).Format("2006-01-02_15_04_05"), nil
}

// checkpointName builds the shared file name for one batch's files.
func checkpointName(runTime time.Time, minID, maxID int64) (string, error) {
	stamp, err := FileTimestamp(runTime)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s_%d_%d.csv", stamp, minID, maxID), nil
}

// checkpointWriteOrder puts actions last. The watermark advances the
// moment an actions file lands, so every companion file must already be in
// place by then; a run that dies midway leaves the watermark where it was
// and the whole batch is fetched again.
var checkpointWriteOrder = []Kind{Sessions, Geoip, Hardware, Actions}

// WriteCheckpoint writes one batch's normalized collections to the lake.
// All four files share a name derived from the run time and the batch's
// action id range; rerunning the same batch overwrites the same files
// instead of duplicating them.
func WriteCheckpoint(ctx context.Context, bucket datalake.Bucket, team string, runTime time.Time, minID, maxID int64, collections map[Kind]*Normalized) error {
	name, err := checkpointName(runTime, minID, maxID)
	if err != nil {
		return err
	}

	for _, kind := range checkpointWriteOrder {
		key := path.Join(collectionDir(team, kind), name)
		w := bucket.NewWriter(ctx, key)
		written, err := table.WriteTable(w, collections[kind].Table)
		if err != nil {
			return fmt.Errorf("writing %q: %w", key, err)
		}

		log.WithFields(log.Fields{
			"file":  key,
			"rows":  collections[kind].Table.Len(),
			"bytes": written,
		}).Info("wrote a collection file")
	}

	return nil
}
