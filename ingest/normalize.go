package ingest

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/mihir-mlse/Ingest-Yinzcam/table"
)

// Normalized is one collection's table as it will be written: duplicates
// dropped and columns projected.
type Normalized struct {
	Table *table.Table

	// Degraded marks a collection written with its raw columns because the
	// expected ones were not all present.
	Degraded bool
}

// NormalizeBatch prepares each accumulated collection for writing. Rows
// that are exact duplicates collapse to their last occurrence, then the
// columns project down to the collection's fixed order.
//
// Geoip records have a history of drifting fields, so a geoip table that
// cannot be projected is written with whatever columns it has instead of
// being dropped. Every other collection must conform.
func NormalizeBatch(batch *Batch) (map[Kind]*Normalized, error) {
	out := make(map[Kind]*Normalized, len(Collections))
	for _, kind := range Collections {
		deduped := batch.Tables[kind].DropDuplicatesKeepLast()

		projected, err := deduped.Project(collectionColumns[kind])
		if err != nil {
			var missingErr *table.MissingColumnsError
			if kind == Geoip && errors.As(err, &missingErr) {
				log.WithFields(log.Fields{
					"missing": missingErr.Missing,
					"columns": deduped.Columns,
				}).Warn("geoip records did not have the expected columns, writing them as-is")
				out[kind] = &Normalized{Table: deduped, Degraded: true}
				continue
			}
			return nil, fmt.Errorf("%s: %w", kind, err)
		}

		out[kind] = &Normalized{Table: projected}
	}

	return out, nil
}
