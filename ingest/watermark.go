package ingest

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/mihir-mlse/Ingest-Yinzcam/datalake"
	"github.com/mihir-mlse/Ingest-Yinzcam/table"
)

// MaxIngestedID resolves the id watermark for a team: the largest action
// id present in the lexicographically last actions file in the lake. A
// team with no actions files at all starts from zero.
//
// The watermark is re-derived from the lake before every batch rather than
// carried in memory, which is what makes an interrupted run safe to rerun.
// An actions file that exists but cannot yield a watermark fails the run:
// resuming past unreadable data would silently drop records.
func MaxIngestedID(ctx context.Context, bucket datalake.Bucket, team string) (int64, error) {
	dir := collectionDir(team, Actions) + "/"

	var newest string
	for info, err := range bucket.List(ctx, datalake.Query{Prefix: dir}) {
		if err != nil {
			return 0, fmt.Errorf("listing %q: %w", dir, err)
		}
		if info.Key > newest {
			newest = info.Key
		}
	}

	if newest == "" {
		log.WithField("team", team).Info("no actions files in the lake yet, starting from the beginning")
		return 0, nil
	}

	r, err := bucket.NewReader(ctx, newest)
	if err != nil {
		return 0, fmt.Errorf("opening actions file %q: %w", newest, err)
	}
	defer r.Close()

	tbl, err := table.ReadTable(r)
	if err != nil {
		return 0, fmt.Errorf("reading actions file %q: %w", newest, err)
	}

	maxID, err := tbl.MaxInt("id")
	if err != nil {
		return 0, fmt.Errorf("actions file %q: %w", newest, err)
	}

	log.WithFields(log.Fields{
		"team":  team,
		"file":  newest,
		"maxId": maxID,
	}).Info("resolved the ingestion watermark")

	return maxID, nil
}
