// Package jobs carries what every ingestion binary shares: log
// configuration from the environment, signal handling and opening the
// lake bucket described by the config file.
package jobs

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mihir-mlse/Ingest-Yinzcam/config"
	"github.com/mihir-mlse/Ingest-Yinzcam/datalake"
)

// RunMain is the boilerplate main function of an ingestion job. The job
// gets a context that ends on SIGTERM or SIGINT; a job error terminates
// the process with a nonzero status.
func RunMain(name string, job func(ctx context.Context) error) {
	switch format := getEnvDefault("LOG_FORMAT", "color"); format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{})
	case "color":
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	default:
		log.WithField("format", format).Fatal("invalid LOG_FORMAT (expected 'json', 'text', or 'color')")
	}

	if lvl, err := log.ParseLevel(getEnvDefault("LOG_LEVEL", "info")); err != nil {
		log.WithFields(log.Fields{"level": lvl, "error": err}).Fatal("unrecognized log level")
	} else {
		log.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	started := time.Now()
	if err := job(ctx); err != nil {
		log.WithFields(log.Fields{
			"job": name,
			"err": err,
		}).Fatal("job failed")
	}

	log.WithFields(log.Fields{
		"job":  name,
		"took": time.Since(started).Round(time.Millisecond).String(),
	}).Info("job finished")
	os.Exit(0)
}

func getEnvDefault(name, def string) string {
	var s = os.Getenv(name)
	if s == "" {
		return def
	}
	return s
}

// OpenBucket connects to the lake container named by the config, using the
// storage account key when one is set and the service principal otherwise.
func OpenBucket(ctx context.Context, cfg config.LakeConfig) (datalake.Bucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	auth := datalake.WithServicePrincipal(cfg.TenantID, cfg.ClientID, cfg.ClientSecret)
	if cfg.AccountKey != "" {
		auth = datalake.WithAccountKey(cfg.AccountKey)
	}

	var opts []datalake.AzureOption
	if cfg.Endpoint != "" {
		opts = append(opts, datalake.WithEndpoint(cfg.Endpoint))
	}

	return datalake.NewAzureBucket(ctx, cfg.AccountName, cfg.Container, auth, opts...)
}
