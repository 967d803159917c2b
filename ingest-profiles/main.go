package main

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/pflag"

	"github.com/mihir-mlse/Ingest-Yinzcam/config"
	"github.com/mihir-mlse/Ingest-Yinzcam/datalake"
	"github.com/mihir-mlse/Ingest-Yinzcam/jobs"
	"github.com/mihir-mlse/Ingest-Yinzcam/yinzcam"
)

var configPath = pflag.String("config", "config.yaml", "path to the shared configuration file")

func main() {
	pflag.Parse()
	jobs.RunMain("ingest-profiles", run)
}

func run(ctx context.Context) error {
	if pflag.NArg() != 1 {
		return fmt.Errorf("usage: ingest-profiles [flags] <nhl|nba|mls>")
	}
	team := strings.ToLower(pflag.Arg(0))

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Profiles.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	teamCfg, err := cfg.Profiles.Team(team)
	if err != nil {
		return err
	}

	bucket, err := jobs.OpenBucket(ctx, cfg.Lake)
	if err != nil {
		return err
	}
	if err := bucket.CheckPermissions(ctx, datalake.CheckPermissionsConfig{
		Prefix: path.Dir(usersKey(team)),
	}); err != nil {
		return fmt.Errorf("lake access check failed: %w", err)
	}

	client := yinzcam.NewProfilesClient(cfg.Profiles.Endpoint, teamCfg.Username, teamCfg.Password)
	users, err := pullUsers(ctx, client, teamCfg.MobileHost, cfg.Profiles.PageLimit)
	if err != nil {
		return err
	}

	return replaceUsersFile(ctx, bucket, team, users)
}
