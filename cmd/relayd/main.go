package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/agentsec-relay/auditlog"
	"github.com/ruteri/agentsec-relay/cmd/flags"
	"github.com/ruteri/agentsec-relay/cmd/kmscommon"
	"github.com/ruteri/agentsec-relay/common"
	"github.com/ruteri/agentsec-relay/credentials"
	"github.com/ruteri/agentsec-relay/cryptoutils"
	"github.com/ruteri/agentsec-relay/httpserver"
	"github.com/ruteri/agentsec-relay/interfaces"
	"github.com/ruteri/agentsec-relay/kms"
	"github.com/ruteri/agentsec-relay/metrics"
	"github.com/ruteri/agentsec-relay/relay"
	"github.com/ruteri/agentsec-relay/signature"
	"github.com/ruteri/agentsec-relay/storage"
	"github.com/urfave/cli/v2"
)

var listenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to serve the HTTP bridge on",
}

var freshnessWindowFlag = &cli.DurationFlag{
	Name:  "freshness-window",
	Value: 300 * time.Second,
	Usage: "how old a signed envelope may be",
}

var replayGuardFlag = &cli.BoolFlag{
	Name:  "replay-guard",
	Value: true,
	Usage: "reject envelopes already seen within the freshness window",
}

var auditLogFlag = &cli.StringFlag{
	Name:  "action-log",
	Value: "actions.jsonl",
	Usage: "hash-chained action log file, empty keeps it in memory",
}

var auditQueueFlag = &cli.IntFlag{
	Name:  "action-log-queue",
	Value: 1024,
	Usage: "pending action log entries before new ones are dropped",
}

var reencryptFlag = &cli.BoolFlag{
	Name:  "reencrypt",
	Value: false,
	Usage: "encrypt relayed payloads for each receiving tier",
}

var mailboxSizeFlag = &cli.IntFlag{
	Name:  "mailbox-size",
	Value: 64,
	Usage: "messages queued per agent before senders are refused",
}

var minClearanceFlag = &cli.IntFlag{
	Name:  "min-clearance",
	Value: int(interfaces.EdgeClearance),
	Usage: "lowest token clearance accepted for commands",
}

var blockedTermsFlag = &cli.StringSliceFlag{
	Name:  "blocked-term",
	Value: cli.NewStringSlice(relay.DefaultBlockedTerms...),
	Usage: "term the auditor rejects in data sent towards the core; repeatable",
}

var sensitiveKeywordsFlag = &cli.StringSliceFlag{
	Name:  "deny-keyword",
	Usage: "commands containing this keyword are refused by the core; repeatable",
}

var relayFlags = []cli.Flag{
	listenAddrFlag,
	flags.RegistryFileFlag,
	flags.DefaultClearanceFlag,
	flags.KdfIterationsFlag,
	flags.TokenTTLFlag,
	flags.PrivateKeyFlag,
	flags.PublicKeyFlag,
	flags.StoreURIFlag,
	freshnessWindowFlag,
	replayGuardFlag,
	auditLogFlag,
	auditQueueFlag,
	reencryptFlag,
	mailboxSizeFlag,
	minClearanceFlag,
	blockedTermsFlag,
	sensitiveKeywordsFlag,
	flags.LogServiceFlagFn("relayd"),
}

func main() {
	allFlags := append(append(append([]cli.Flag{}, relayFlags...), flags.CommonFlags...), kmscommon.SecretsFlags...)

	app := &cli.App{
		Name:   "relayd",
		Usage:  "Run the core, auditor and edge tiers behind the HTTP bridge",
		Flags:  allFlags,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	var metricsSrv *metrics.MetricsServer
	var recorder *metrics.Recorder
	if addr := cCtx.String(flags.MetricsAddrFlag.Name); addr != "" {
		var err error
		metricsSrv, err = metrics.New(common.PackageName, addr)
		if err != nil {
			return fmt.Errorf("could not set up metrics: %w", err)
		}
		recorder = metricsSrv.Recorder()
	}

	reg, err := flags.LoadRegistry(cCtx)
	if err != nil {
		logger.Error("Failed to load registry", "err", err)
		return err
	}
	logger.Info("Registry loaded", "identities", len(reg.Identities()))

	// blocks in shamir mode until the admins unlocked the secrets
	secrets, err := kmscommon.SetupSecrets(cCtx, logger)
	if err != nil {
		logger.Error("Failed to set up secrets", "err", err)
		return err
	}

	tokens := credentials.NewService(secrets.TokenSecret, reg, logger,
		credentials.WithTTL(cCtx.Duration(flags.TokenTTLFlag.Name)),
		credentials.WithMetrics(recorder))

	priv, pub, err := cryptoutils.LoadKeyPair(cCtx.String(flags.PrivateKeyFlag.Name), cCtx.String(flags.PublicKeyFlag.Name))
	if err != nil {
		logger.Error("Failed to load signing keys", "err", err)
		return err
	}
	sigOpts := []signature.Option{signature.WithWindow(cCtx.Duration(freshnessWindowFlag.Name))}
	if cCtx.Bool(replayGuardFlag.Name) {
		sigOpts = append(sigOpts, signature.WithReplayGuard())
	}
	signer := signature.NewService(priv, pub, logger, sigOpts...)
	logger.Info("Signing keys loaded", "scheme", priv.Scheme())

	cipher, err := kms.NewEncryptor(secrets.Salt, cCtx.Int(flags.KdfIterationsFlag.Name), reg)
	if err != nil {
		logger.Error("Failed to set up encryption", "err", err)
		return err
	}

	actions, actionFile, err := openActionLog(cCtx, logger)
	if err != nil {
		logger.Error("Failed to open action log", "err", err)
		return err
	}
	defer func() {
		actions.Close()
		if actionFile != nil {
			actionFile.Close()
		}
	}()

	backend, err := storage.NewBackendFactory(logger).BackendsFromURIs(cCtx.StringSlice(flags.StoreURIFlag.Name))
	if err != nil {
		logger.Error("Failed to set up storage", "err", err)
		return err
	}
	store := storage.NewGatedStore(backend, cipher, logger,
		storage.WithActionLog(actions),
		storage.WithMetrics(recorder))
	if err := store.Load(cCtx.Context); err != nil {
		logger.Error("Failed to load content store", "backend", backend.LocationURI(), "err", err)
		return err
	}
	logger.Info("Content store loaded", "backend", backend.LocationURI(), "items", store.Len())

	policies := relay.Policies{
		Content: relay.KeywordPolicy{Terms: cCtx.StringSlice(blockedTermsFlag.Name)},
	}
	if keywords := cCtx.StringSlice(sensitiveKeywordsFlag.Name); len(keywords) > 0 {
		policies.Approval = relay.SensitiveCommandApproval{Keywords: keywords}
	}

	pipeline, err := relay.NewPipeline(relay.Config{
		MinClearance:    interfaces.ClearanceLevel(cCtx.Int(minClearanceFlag.Name)),
		ReencryptRelays: cCtx.Bool(reencryptFlag.Name),
		MailboxSize:     cCtx.Int(mailboxSizeFlag.Name),
	}, relay.Dependencies{
		Registry: reg,
		Tokens:   tokens,
		Signer:   signer,
		Verifier: signer,
		Cipher:   cipher,
		Store:    store,
		Actions:  actions,
		Metrics:  recorder,
		Log:      logger,
	}, policies)
	if err != nil {
		logger.Error("Failed to build pipeline", "err", err)
		return err
	}

	ctx, cancel := context.WithCancel(cCtx.Context)
	defer cancel()
	pipeline.Start(ctx)

	handler := httpserver.NewHandler(httpserver.HandlerConfig{
		Auth:      tokens,
		Tokens:    tokens,
		Pipeline:  pipeline,
		Responses: pipeline.Responses(),
		Store:     store,
		ReadAs:    pipeline.Config().CoreID,
		Log:       logger,
	})

	cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(listenAddrFlag.Name))
	server, err := httpserver.New(cfg, handler, metricsSrv)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Relay is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()

	quiesceCtx, quiesceCancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownDuration)
	defer quiesceCancel()
	if err := pipeline.Quiesce(quiesceCtx); err != nil {
		logger.Warn("Pipeline did not quiesce before shutdown", "err", err)
	}
	pipeline.Stop()

	if err := actions.Drain(quiesceCtx); err != nil {
		logger.Warn("Action log not fully drained", "err", err, "dropped", actions.Dropped())
	}
	logger.Info("Relay shutdown complete", "actionLogHead", actions.Head())
	return nil
}

func openActionLog(cCtx *cli.Context, logger *slog.Logger) (*auditlog.Log, *os.File, error) {
	queue := cCtx.Int(auditQueueFlag.Name)
	path := cCtx.String(auditLogFlag.Name)
	if path == "" {
		return auditlog.New(logger, queue), nil, nil
	}
	return auditlog.OpenFile(path, logger, queue)
}
