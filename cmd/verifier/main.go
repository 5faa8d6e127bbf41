// Command verifier runs nameserver verification once, or forever with --loop, against
// the shared database. It is meant for a scheduler when the API does not embed the poller.
// With --api it only calls the cron endpoint of a running API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/splax/tenantedge/internal/app/bootstrap"
	"github.com/splax/tenantedge/internal/service/verify"
	"github.com/splax/tenantedge/pkg/api/client"
	"github.com/splax/tenantedge/pkg/config"
	"github.com/splax/tenantedge/pkg/logger"
)

func main() {
	zone := flag.String("zone", "", "verify a single domain instead of sweeping")
	loop := flag.Bool("loop", false, "keep sweeping on VERIFY_INTERVAL until interrupted")
	timeout := flag.Duration("timeout", 15*time.Minute, "timeout for a single run")
	apiURL := flag.String("api", "", "trigger the sweep through this API's cron endpoint instead of the database")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.New("verifier", logger.ParseLevel("info")).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New("verifier", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *apiURL != "" {
		os.Exit(triggerRemote(ctx, *apiURL, cfg.CronToken, *timeout, log))
	}

	pool, repo, err := bootstrap.Database(ctx, cfg, log)
	if err != nil {
		log.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := bootstrap.Redis(ctx, cfg, log)
	if rdb != nil {
		defer rdb.Close()
	}
	res, _, err := bootstrap.Resolver(cfg, repo, rdb, log)
	if err != nil {
		log.Error("failed to configure resolver", "error", err)
		os.Exit(1)
	}

	provider, err := bootstrap.Provider(ctx, cfg, log)
	if err != nil {
		log.Error("failed to configure dns provider", "error", err)
		os.Exit(1)
	}

	opts := []verify.Option{
		verify.WithListeners(verify.ListenerFunc(func(ctx context.Context, t verify.Transition) {
			if err := res.Invalidate(ctx, t.Zone.Domain); err != nil {
				log.Warn("resolver invalidation failed", "domain", t.Zone.Domain, "error", err)
			}
		})),
	}
	if rdb != nil {
		opts = append(opts, verify.WithLeaderLock(verify.NewRedisLock(rdb)))
	}
	poller := verify.New(repo, bootstrap.Checker(cfg), bootstrap.PollerSettings(cfg, bootstrap.Signature(cfg, provider)), log, opts...)

	if *loop {
		poller.Run(ctx)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	enc := json.NewEncoder(os.Stdout)
	if *zone != "" {
		z, outcome, err := poller.VerifyZone(runCtx, *zone)
		if err != nil && z == nil {
			log.Error("zone verification failed", "domain", *zone, "error", err)
			os.Exit(1)
		}
		_ = enc.Encode(map[string]any{
			"domain":                z.Domain,
			"status":                z.Status,
			"outcome":               outcome,
			"verification_attempts": z.VerificationAttempts,
		})
		if err != nil {
			log.Warn("zone verification exhausted", "domain", z.Domain, "error", err)
			os.Exit(2)
		}
		return
	}

	summary, err := poller.Sweep(runCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("verification sweep failed", "error", err)
		os.Exit(1)
	}
	_ = enc.Encode(summary)
}

func triggerRemote(ctx context.Context, base, token string, timeout time.Duration, log *slog.Logger) int {
	cli, err := client.New(base, token, client.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		log.Error("invalid api url", "error", err)
		return 1
	}
	summary, err := cli.TriggerSweep(ctx)
	if err != nil {
		log.Error("remote verification sweep failed", "api", base, "error", err)
		return 1
	}
	_ = json.NewEncoder(os.Stdout).Encode(summary)
	return 0
}
