package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/ktamas77/claudeway/internal/claude"
	"github.com/ktamas77/claudeway/internal/commands"
	"github.com/ktamas77/claudeway/internal/config"
	"github.com/ktamas77/claudeway/internal/ledger"
	"github.com/ktamas77/claudeway/internal/queue"
	"github.com/ktamas77/claudeway/internal/scheduler"
	"github.com/ktamas77/claudeway/internal/slack"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := config.DiscoverPath(cfgFile)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if cfg.Slack.BotToken == "" || cfg.Slack.AppToken == "" {
		fmt.Println("Slack tokens missing. Claudeway needs both:")
		fmt.Println()
		fmt.Println("  export SLACK_BOT_TOKEN=xoxb-...   (OAuth bot token)")
		fmt.Println("  export SLACK_APP_TOKEN=xapp-...   (app-level token with connections:write)")
		os.Exit(1)
	}
	if len(cfg.ChannelIDs()) == 0 {
		slog.Warn("no channels configured, the gateway will ignore all messages", "config", cfg.Path())
	}

	stateDir := config.ExpandHome("~/.claudeway")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		slog.Error("failed to create state dir", "dir", stateDir, "error", err)
		os.Exit(1)
	}

	pidFile := filepath.Join(stateDir, "claudeway.pid")
	if err := writePidFile(pidFile); err != nil {
		slog.Error("another instance appears to be running", "pidfile", pidFile, "error", err)
		os.Exit(1)
	}
	defer os.Remove(pidFile)

	q, err := queue.New(filepath.Join(stateDir, "queue"))
	if err != nil {
		slog.Error("failed to create queue dir", "error", err)
		os.Exit(1)
	}

	// Usage recording is best effort; the gateway runs without it.
	var rec scheduler.TurnRecorder
	usage, err := ledger.Open(filepath.Join(stateDir, "usage.db"))
	if err != nil {
		slog.Warn("usage ledger unavailable", "error", err)
	} else {
		rec = usage
		defer usage.Close()
	}

	client := slack.NewClient(cfg.Slack.BotToken, cfg.Slack.AppToken)
	sup := claude.NewSupervisor(os.Getenv("CLAUDEWAY_AGENT_BIN"))
	cmds := commands.NewHandler(cfg, sup, q)
	sched := scheduler.New(cfg, client, q, sup, cmds, rec)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Watch(ctx); err != nil {
		slog.Warn("config watcher unavailable, live reload disabled", "error", err)
	}

	sched.Start(ctx)

	slog.Info("claudeway gateway starting",
		"version", Version,
		"config", cfg.Path(),
		"channels", len(cfg.ChannelIDs()),
	)
	notifySystem(ctx, cfg, client, fmt.Sprintf(
		":rocket: Claudeway %s started — %d channels configured", Version, len(cfg.ChannelIDs())))

	sm := slack.NewSocketMode(client, sched.HandleEvent)
	if err := sm.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("socket mode failed", "error", err)
	}

	// Shutdown: stop children first so their close handlers can still run,
	// then wait for in-flight drains to unwind.
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if killed := sup.KillAllProcesses(); len(killed) > 0 {
		slog.Info("terminated agent processes", "channels", killed)
	}
	sched.Wait()
	notifySystem(shutdownCtx, cfg, client, ":wave: Claudeway shutting down")
}

// notifySystem posts an operational notice to the configured system channel.
func notifySystem(ctx context.Context, cfg *config.Config, client slack.API, text string) {
	if cfg.SystemChannel == "" {
		return
	}
	if _, err := client.PostMessage(ctx, cfg.SystemChannel, "", text); err != nil {
		slog.Warn("system notification failed", "channel", cfg.SystemChannel, "error", err)
	}
}

// writePidFile records this process's pid, refusing to clobber a pidfile
// whose owner is still alive.
func writePidFile(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, convErr := strconv.Atoi(string(data)); convErr == nil && pid > 0 {
			if proc, findErr := os.FindProcess(pid); findErr == nil {
				if sigErr := proc.Signal(syscall.Signal(0)); sigErr == nil {
					return fmt.Errorf("pid %d is still running", pid)
				}
			}
		}
		// Stale pidfile; fall through and overwrite.
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
