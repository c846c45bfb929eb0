package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"guardian-server/pkg/audit"
	"guardian-server/pkg/config"
	"guardian-server/pkg/detection"
	"guardian-server/pkg/escalation"
	"guardian-server/pkg/httpsrv"
	"guardian-server/pkg/keywords"
	"guardian-server/pkg/metrics"
	"guardian-server/pkg/notify"
	"guardian-server/pkg/session"
)

var logger = logrus.New()

func main() {
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	metrics.Init(logger)

	// Keyword corpus, optionally hot-reloaded from a rules file
	corpusProvider, err := keywords.NewProvider(cfg.KeywordRulesPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load keyword corpus")
	}
	if cfg.KeywordRulesPath != "" && cfg.KeywordHotReload {
		if err := corpusProvider.StartWatching(); err != nil {
			logger.WithError(err).Warning("Keyword hot-reload unavailable")
		}
	}

	scorer := detection.NewScorer(corpusProvider)
	store := session.NewStore(cfg.ConfirmationTimeout, cfg.CooldownWindow, logger)

	// Both channels are always wired; an unconfigured one reports a failed
	// outcome instead of being silently absent, so degraded delivery is
	// visible in the audit trail.
	channels := []notify.Channel{
		notify.NewTelegramChannel(notify.TelegramConfig{
			BotToken: cfg.TelegramBotToken,
			ChatID:   cfg.TelegramChatID,
		}, logger),
		notify.NewTwilioChannel(notify.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
			ToNumber:   cfg.TwilioToNumber,
		}, logger),
	}

	auditLog := audit.NewAMQPLog(audit.AMQPConfig{
		URL:       cfg.AMQPUrl,
		QueueName: cfg.AMQPQueueName,
	}, logger)

	orchestrator := escalation.NewOrchestrator(scorer, store, channels, auditLog, logger)

	sweeper := escalation.NewSweeper(orchestrator, cfg.SweepInterval, logger)
	store.SetDeadlineCallback(func(string) { sweeper.Nudge() })
	sweeper.Start()

	var httpServer *httpsrv.Server
	if cfg.HTTPEnabled {
		httpServer = httpsrv.NewServer(cfg.HTTPPort, orchestrator, store, logger)
		httpServer.Start()
	}

	logger.WithFields(logrus.Fields{
		"confirmation_timeout": cfg.ConfirmationTimeout,
		"cooldown_window":      cfg.CooldownWindow,
		"sweep_interval":       cfg.SweepInterval,
	}).Info("Guardian escalation engine started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warning("HTTP server shutdown failed")
		}
	}

	sweeper.Stop()
	// Act on anything that timed out while we were stopping
	orchestrator.ProcessAutoEscalations(shutdownCtx)

	store.Shutdown()
	corpusProvider.Stop()
	auditLog.Close()

	logger.Info("Shutdown complete")
}
