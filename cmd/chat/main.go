// Command chat talks to the loan assistant from a terminal. The
// conversation lives in a state file the worker CLIs can poll, or on a
// running API server when --server is set.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/wolfman30/loan-sales-assistant/cmd/mainconfig"
	"github.com/wolfman30/loan-sales-assistant/internal/app/bootstrap"
	appconfig "github.com/wolfman30/loan-sales-assistant/internal/config"
	"github.com/wolfman30/loan-sales-assistant/internal/conversation"
	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/internal/statestore"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

var (
	assistantColor = color.New(color.FgCyan)
	userColor      = color.New(color.FgGreen, color.Bold)
	statusColor    = color.New(color.FgYellow)
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "chat",
		Usage: "chat with the loan sales assistant",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "state_file",
				Value:   mainconfig.DefaultStateFile,
				Usage:   "shared state file for this conversation",
				EnvVars: []string{"STATE_FILE"},
			},
			&cli.StringFlag{
				Name:  "session",
				Value: "cli",
				Usage: "session id recorded in a new state file, or the server session to resume",
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "chat through a running API server (e.g. http://localhost:8080)",
				EnvVars: []string{"CHAT_SERVER"},
			},
			&cli.BoolFlag{
				Name:  "reset",
				Usage: "start over instead of resuming the state file",
			},
			&cli.StringFlag{
				Name:    "log_file",
				Usage:   "write logs to this file instead of stderr",
				EnvVars: []string{"LOG_FILE"},
			},
			&cli.StringFlag{
				Name:    "log_level",
				Value:   "warn",
				EnvVars: []string{"CHAT_LOG_LEVEL"},
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg := appconfig.Load()
	logger, closeLog, err := chatLogger(c.String("log_level"), c.String("log_file"))
	if err != nil {
		return cli.Exit("failed to open log file: "+err.Error(), 1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if server := c.String("server"); server != "" {
		return runRemote(ctx, c, server)
	}

	driver, closeArchive, err := newDriver(ctx, cfg, c.String("state_file"), c.String("session"), logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer closeArchive()

	if c.Bool("reset") {
		if err := driver.Reset(ctx); err != nil {
			return cli.Exit("failed to reset conversation: "+err.Error(), 1)
		}
	}
	return repl(ctx, driver, os.Stdin, color.Output)
}

func runRemote(ctx context.Context, c *cli.Context, server string) error {
	sessionID := ""
	if c.IsSet("session") && !c.Bool("reset") {
		sessionID = c.String("session")
	}
	remote, err := newRemoteTurner(server, sessionID)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer remote.Close()
	if err := repl(ctx, remote, os.Stdin, color.Output); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func chatLogger(level, path string) (*logging.Logger, func(), error) {
	if strings.TrimSpace(path) == "" {
		return logging.NewWithWriter(level, os.Stderr), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return logging.NewWithWriter(level, f), func() { _ = f.Close() }, nil
}

func newDriver(ctx context.Context, cfg *appconfig.Config, stateFile, sessionID string, logger *logging.Logger) (*conversation.Driver, func(), error) {
	noop := func() {}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to load AWS config: %w", err)
	}
	rules, err := bootstrap.BuildRules(cfg, logger)
	if err != nil {
		return nil, noop, err
	}
	llm, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, nil, logger)
	if err != nil {
		return nil, noop, err
	}
	archiver, archiveLog, err := bootstrap.BuildArchiver(ctx, cfg, awsCfg, llm, logger)
	if err != nil {
		return nil, noop, err
	}
	closeArchive := noop
	if archiveLog != nil {
		closeArchive = func() { _ = archiveLog.Close() }
	}

	store := statestore.NewFileStore(stateFile, logger)
	driver, err := conversation.NewDriver(ctx, sessionID, store, rules,
		bootstrap.DriverOptions(cfg, llm, archiver, nil, logger)...)
	if err != nil {
		closeArchive()
		return nil, noop, err
	}
	return driver, closeArchive, nil
}

// Turner is the part of the driver the REPL needs.
type Turner interface {
	Start(ctx context.Context) (conversation.Result, error)
	ProcessMessage(ctx context.Context, text string) (conversation.Result, error)
}

func isExit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "exit", "quit", "bye":
		return true
	}
	return false
}

func repl(ctx context.Context, t Turner, in io.Reader, out io.Writer) error {
	res, err := t.Start(ctx)
	if err != nil && res.Response == "" {
		return err
	}
	printReply(out, res)

	scanner := bufio.NewScanner(in)
	for {
		userColor.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if isExit(line) {
			assistantColor.Fprintln(out, "Assistant: Thank you for chatting with us. Goodbye!")
			return nil
		}
		res, err := t.ProcessMessage(ctx, line)
		if err != nil && res.Response == "" {
			statusColor.Fprintf(out, "[error] %v\n", err)
			continue
		}
		printReply(out, res)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printReply(out io.Writer, res conversation.Result) {
	assistantColor.Fprintf(out, "Assistant: %s\n", res.Response)
	status := fmt.Sprintf("[stage: %s", res.Stage)
	if res.Decision != "" && res.Decision != loan.DecisionPending {
		status += fmt.Sprintf(", decision: %s", res.Decision)
	}
	if res.State != nil && res.State.SanctionLetterID != "" {
		status += fmt.Sprintf(", sanction letter: %s", res.State.SanctionLetterID)
	}
	statusColor.Fprintln(out, status+"]")
}
