package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/mihir-mlse/Ingest-Yinzcam/config"
	"github.com/mihir-mlse/Ingest-Yinzcam/datalake"
	"github.com/mihir-mlse/Ingest-Yinzcam/jobs"
	"github.com/mihir-mlse/Ingest-Yinzcam/yinzcam"
)

var configPath = pflag.String("config", "config.yaml", "path to the shared configuration file")

func main() {
	pflag.Parse()
	jobs.RunMain("meta-load", run)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Meta.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	bucket, err := jobs.OpenBucket(ctx, cfg.Lake)
	if err != nil {
		return err
	}
	if err := bucket.CheckPermissions(ctx, datalake.CheckPermissionsConfig{
		Prefix: cardsContentDir,
	}); err != nil {
		return fmt.Errorf("lake access check failed: %w", err)
	}

	client := yinzcam.NewMetaClient(cfg.Meta.Username, cfg.Meta.Password)
	return mirrorAll(ctx, client, bucket, cfg.Meta.URLs)
}
