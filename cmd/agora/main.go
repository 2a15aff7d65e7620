package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agora/internal/agent"
	"agora/internal/archive"
	"agora/internal/config"
	"agora/internal/events"
	"agora/internal/project"
	"agora/internal/roundtable"
	"agora/internal/router"
	"agora/internal/runner"
	"agora/internal/session"
	"agora/internal/telegram"
)

var (
	cfgFile     string
	maxRounds   int
	targetScore int
	projectRoot string
)

var rootCmd = &cobra.Command{
	Use:   "agora",
	Short: "Multiplex a Telegram chat across Claude, Codex, and Gemini CLI agents",
	Long: `Agora routes chat messages to external CLI AI agents, keeps
per-chat sessions alive across calls, and can run multi-agent
roundtable discussions and structured debates.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is "+config.Path()+")")
	rootCmd.Flags().IntVar(&maxRounds, "rounds", 0, "override max discussion rounds")
	rootCmd.Flags().IntVar(&targetScore, "score", 0, "override convergence score target")
	rootCmd.Flags().StringVar(&projectRoot, "project-root", "", "override project root directory")
}

func run() error {
	path := cfgFile
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if maxRounds > 0 {
		cfg.Discussion.MaxRounds = maxRounds
		if cfg.Discussion.MaxRounds > 10 {
			cfg.Discussion.MaxRounds = 10
		}
	}
	if targetScore > 0 {
		cfg.Discussion.ConvergenceScore = targetScore
	}
	if projectRoot != "" {
		cfg.Project.Root = projectRoot
	}
	if cfg.Bot.Token == "" {
		return errors.New("no bot token: set bot.token in config or AGORA_BOT_TOKEN")
	}

	overrides := map[agent.Name]agent.Overrides{
		agent.Claude: {Disabled: !cfg.Agents.Claude.Enabled, CLIPath: cfg.Agents.Claude.CLIPath},
		agent.Codex:  {Disabled: !cfg.Agents.Codex.Enabled, CLIPath: cfg.Agents.Codex.CLIPath},
		agent.Gemini: {Disabled: !cfg.Agents.Gemini.Enabled, CLIPath: cfg.Agents.Gemini.CLIPath},
	}
	registry, err := agent.NewRegistry(overrides)
	if err != nil {
		return err
	}

	sessionPath := cfg.Sessions.Path
	if sessionPath == "" {
		sessionPath = session.DefaultPath()
	}
	store := session.Open(sessionPath)

	rn := runner.New(registry, store, runner.Options{
		WorkDir:      cfg.Project.Root,
		ProxyURL:     cfg.Bot.ProxyURL,
		IdleTimeout:  time.Duration(cfg.Timeouts.IdleSeconds) * time.Second,
		TotalTimeout: time.Duration(cfg.Timeouts.TotalSeconds) * time.Second,
	})

	rt := router.New(registry)
	rt.LastAgent = store.LastAgent
	rt.Classify = func(ctx context.Context, chat int64, prompt string) (string, error) {
		res := rn.Invoke(ctx, registry.Router(), chat, prompt)
		if !res.OK() {
			return "", fmt.Errorf("classifier call: %s", res.Outcome)
		}
		return res.Text, nil
	}

	arch, err := archive.OpenDefault()
	if err != nil {
		log.Printf("[main] archive unavailable: %v", err)
		arch = nil
	} else {
		defer arch.Close()
	}

	bot := telegram.NewBot(telegram.Options{
		Client:   telegram.NewClient(cfg.Bot.Token),
		Registry: registry,
		Store:    store,
		Runner:   rn,
		Router:   rt,
		Project:  project.New(cfg.Project.Root),
		Archive:  arch,
		Events:   events.NewClient(cfg.Events.Endpoint),
		DiscussionCfg: roundtable.Config{
			MaxRounds:   cfg.Discussion.MaxRounds,
			TargetScore: float64(cfg.Discussion.ConvergenceScore),
			Delta:       float64(cfg.Discussion.ConvergenceDelta),
		},
		FreeRounds: cfg.Discussion.FreeDebateRounds,
	})

	log.Printf("[main] agents: %v", registry.Names())
	log.Printf("[main] project root: %s", cfg.Project.Root)
	log.Printf("[main] max rounds: %d, convergence score: %d, idle timeout: %ds",
		cfg.Discussion.MaxRounds, cfg.Discussion.ConvergenceScore, cfg.Timeouts.IdleSeconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = bot.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Printf("[main] shutting down")
		return nil
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
