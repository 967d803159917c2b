package main

import (
	"context"
	"fmt"
	"path"

	log "github.com/sirupsen/logrus"

	"github.com/mihir-mlse/Ingest-Yinzcam/datalake"
	"github.com/mihir-mlse/Ingest-Yinzcam/table"
	"github.com/mihir-mlse/Ingest-Yinzcam/yinzcam"
)

// usersKey is where a team's users file lives in the lake. Each run
// replaces the file wholesale; there is no watermark to resume from.
func usersKey(team string) string {
	return path.Join("yinz_cam", team+"_tor", "users", team+"_yinzcam_users.csv")
}

// pullUsers pages through every registered profile and collects one row
// per user. A page with fewer profiles than the limit is the last one.
func pullUsers(ctx context.Context, client *yinzcam.ProfilesClient, mobileHost string, limit int) (*table.Table, error) {
	users := &table.Table{Columns: yinzcam.UserColumns}
	for page := 0; ; page++ {
		body, err := client.FetchUsersPage(ctx, page, limit)
		if err != nil {
			return nil, err
		}
		rows, err := yinzcam.ParseUsersPage(body, mobileHost)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		users.Rows = append(users.Rows, rows...)

		log.WithFields(log.Fields{
			"page":  page,
			"users": len(rows),
		}).Info("fetched a page of profiles")

		if len(rows) < limit {
			return users, nil
		}
	}
}

func replaceUsersFile(ctx context.Context, bucket datalake.Bucket, team string, users *table.Table) error {
	key := usersKey(team)
	w := bucket.NewWriter(ctx, key)
	written, err := table.WriteTable(w, users)
	if err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}

	log.WithFields(log.Fields{
		"file":  key,
		"users": users.Len(),
		"bytes": written,
	}).Info("replaced the users file")

	return nil
}
