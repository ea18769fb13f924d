// ABOUTME: CLI entrypoint for the quorum multi-agent coordinator with run, watch, and serve modes.
// ABOUTME: Wires config loading, LLM backends, the session, the status server, and signal handling.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/2389-research/quorum/llm"
	"github.com/2389-research/quorum/orchestrator"
	"github.com/2389-research/quorum/orchestrator/statusserver"
	"github.com/2389-research/quorum/orchestrator/statustui"
	"github.com/2389-research/quorum/orchestrator/store"
)

var version = "dev"

// config holds all CLI configuration parsed from flags and positional
// arguments.
type config struct {
	watchPath   string
	serve       bool
	port        int
	logDir      string
	eventLog    string
	verbose     bool
	showVersion bool
	configFile  string
	question    string
}

func main() {
	loadDotEnvAuto()

	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("quorum %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

// parseFlags parses command-line flags and returns a populated config.
func parseFlags() config {
	var cfg config

	fs := flag.NewFlagSet("quorum", flag.ContinueOnError)
	fs.StringVar(&cfg.watchPath, "watch", "", "Watch an existing session's status.json in a terminal UI")
	fs.BoolVar(&cfg.serve, "serve", false, "Serve status.json over HTTP while the session runs")
	fs.IntVar(&cfg.port, "port", 2389, "Status server port (with -serve)")
	fs.StringVar(&cfg.logDir, "log-dir", "", "Directory for status.json and the final answer (default: a temp dir)")
	fs.StringVar(&cfg.eventLog, "event-log", "", "SQLite file to persist the coordination event stream")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Stream every agent's output, not just the final presentation")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(os.Stderr, version)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if fs.NArg() > 0 {
		cfg.configFile = fs.Arg(0)
	}
	if fs.NArg() > 1 {
		cfg.question = strings.Join(fs.Args()[1:], " ")
	}

	return cfg
}

// run dispatches to the appropriate mode. Returns an exit code.
func run(cfg config) int {
	if cfg.watchPath != "" {
		if err := statustui.Run(cfg.watchPath, time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	if cfg.configFile == "" || cfg.question == "" {
		printHelp(os.Stderr, version)
		return 0
	}

	return runSession(cfg)
}

// runSession loads the YAML config, builds backends from the environment,
// and drives one coordination session to completion.
func runSession(cfg config) int {
	fileCfg, err := loadConfigFile(cfg.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	client, err := llm.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: no LLM API key found")
		fmt.Fprintln(os.Stderr, "Set one of: ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY")
		return 1
	}
	defer client.Close()

	orchCfg := fileCfg.Config
	for i := range orchCfg.Agents {
		agent := &orchCfg.Agents[i]
		orchCfg.Agents[i].Backend = orchestrator.NewLLMBackend(client, agent.Provider, agent.Model)
	}

	opts := []orchestrator.SessionOption{
		orchestrator.WithSink(consoleSink(cfg.verbose)),
	}

	logDir := cfg.logDir
	if logDir == "" {
		logDir = fileCfg.LogDir
	}
	if logDir != "" {
		opts = append(opts, orchestrator.WithLogDir(logDir))
	}

	eventLogPath := cfg.eventLog
	if eventLogPath == "" {
		eventLogPath = fileCfg.EventLog
	}
	if eventLogPath != "" {
		eventLog, err := store.Open(eventLogPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: opening event log: %v\n", err)
			return 1
		}
		defer eventLog.Close()
		opts = append(opts, orchestrator.WithEventRecorder(eventLog))
	}

	session, err := orchestrator.NewSession(orchCfg, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stderr, "session %s\nstatus: %s\n\n", session.ID(), session.StatusPath())

	if cfg.serve {
		srv := statusserver.New(session.LogDir())
		go func() {
			if err := srv.ListenAndServe(fmt.Sprintf(":%d", cfg.port)); err != nil {
				fmt.Fprintf(os.Stderr, "warning: status server: %v\n", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	result, err := session.Run(ctx, cfg.question, orchestrator.Params{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	return report(result)
}

// report prints the session's structured outcome and maps it to an exit
// code.
func report(result orchestrator.SessionResult) int {
	fmt.Println()
	switch result.Outcome.Kind {
	case orchestrator.OutcomeElectedWinner:
		fmt.Fprintf(os.Stderr, "winner: %s (agent %s, %d attempt(s))\n", result.Outcome.Label, result.Outcome.Winner, result.Attempts)
		if result.WorkspaceDir != "" {
			fmt.Fprintf(os.Stderr, "workspace: %s\n", result.WorkspaceDir)
		}
		return 0
	case orchestrator.OutcomeGlobalTimeout:
		fmt.Fprintf(os.Stderr, "global timeout; presented leader %s\n", result.Outcome.Label)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "no answer: %s\n", result.Outcome.Reason)
		return 1
	}
}

// consoleSink streams presentation content to stdout. With verbose on, it
// also prefixes each coordinating agent's content with its id on stderr.
func consoleSink(verbose bool) orchestrator.StreamSink {
	return orchestrator.SinkFunc(func(agentId orchestrator.AgentId, phase orchestrator.CoordinationPhase, kind orchestrator.ChunkKind, text string) {
		if phase == orchestrator.PhasePresentation && kind == orchestrator.ChunkContent {
			fmt.Print(text)
			return
		}
		if verbose && kind == orchestrator.ChunkContent {
			fmt.Fprintf(os.Stderr, "[%s] %s", agentId, text)
		}
	})
}
