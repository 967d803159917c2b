package main

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/mihir-mlse/Ingest-Yinzcam/config"
	"github.com/mihir-mlse/Ingest-Yinzcam/datalake"
	"github.com/mihir-mlse/Ingest-Yinzcam/ingest"
	"github.com/mihir-mlse/Ingest-Yinzcam/jobs"
	"github.com/mihir-mlse/Ingest-Yinzcam/yinzcam"
)

var (
	configPath = pflag.String("config", "config.yaml", "path to the shared configuration file")
	runTimeRaw = pflag.String("run-time", "", "timestamp for this run's files (RFC3339, default now)")
	report     = pflag.Bool("report", false, "also write a monthly action count file per batch")
)

func main() {
	pflag.Parse()
	jobs.RunMain("ingest-realtime", run)
}

func run(ctx context.Context) error {
	if pflag.NArg() != 1 {
		return fmt.Errorf("usage: ingest-realtime [flags] <nhl_tor|nba_tor|mls_tor>")
	}
	team := pflag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Realtime.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	apiKey, err := cfg.Realtime.APIKey(team)
	if err != nil {
		return err
	}

	runTime := time.Now()
	if *runTimeRaw != "" {
		if runTime, err = time.Parse(time.RFC3339, *runTimeRaw); err != nil {
			return fmt.Errorf("parsing --run-time: %w", err)
		}
	}

	bucket, err := jobs.OpenBucket(ctx, cfg.Lake)
	if err != nil {
		return err
	}
	if err := bucket.CheckPermissions(ctx, datalake.CheckPermissionsConfig{
		Prefix: "yinz_cam/" + team,
		Lister: true,
	}); err != nil {
		return fmt.Errorf("lake access check failed: %w", err)
	}

	client := yinzcam.NewRealtimeClient(cfg.Realtime.Endpoint, team, apiKey)
	summary, err := ingest.Run(ctx, client, bucket, ingest.Options{
		Team:              team,
		RunTime:           runTime,
		PageLimit:         cfg.Realtime.PageLimit,
		MaxRecordsPerFile: cfg.Realtime.MaxRecordsPerFile,
		MonthlyReport:     *report,
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"team":    team,
		"batches": summary.Batches,
		"actions": summary.Actions,
		"files":   summary.Files,
	}).Info("realtime ingestion finished")

	return nil
}
