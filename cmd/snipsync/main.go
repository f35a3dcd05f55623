package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/solwind/snipsync/internal/config"
	"github.com/solwind/snipsync/internal/logging"
	"github.com/solwind/snipsync/internal/session"
)

const usage = `usage: snipsync [global flags] <command> [args]

commands:
  tree                         print the catalog
  show <id>                    print one snippet with its insert text
  search <term>                list completions for term
  add [flags]                  create a snippet
  edit <id> [flags]            change a snippet
  delete <id>                  delete a snippet
  category add|rename|delete   manage categories
  subcategory add|rename|delete
  seed [-watch] <dir>          import a components directory
  mount <dir>                  serve the catalog as a read-only file system
  watch                        keep the catalog fresh and log each refresh
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("snipsync: %v", err)
	}
}

type app struct {
	session *session.Session
	logger  *zap.Logger
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("snipsync", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() {
		fmt.Fprint(stderr, usage)
		global.PrintDefaults()
	}
	configPath := global.String("config", strings.TrimSpace(os.Getenv("SNIPSYNC_CONFIG")), "YAML config file")
	storeURL := global.String("store-url", "", "record store base URL (overrides store.base_url)")
	token := global.String("token", "", "bearer token (overrides store.token)")
	logLevel := global.String("log-level", "", "log level (overrides log.level)")
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return errUsage
	}

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *storeURL != "" {
		cfg.Store.BaseURL = *storeURL
	}
	if *token != "" {
		cfg.Store.Token = *token
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range warnings {
		logger.Warn("config", zap.String("warning", w))
	}

	sess, err := session.Open(cfg, session.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer sess.Close()

	a := &app{session: sess, logger: logger, stdin: stdin, stdout: stdout, stderr: stderr}
	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "tree":
		return a.tree(ctx)
	case "show":
		return a.show(ctx, cmdArgs)
	case "search":
		return a.search(ctx, cmdArgs)
	case "add":
		return a.add(ctx, cmdArgs)
	case "edit":
		return a.edit(ctx, cmdArgs)
	case "delete":
		return a.deleteSnippet(ctx, cmdArgs)
	case "category":
		return a.category(ctx, cmdArgs)
	case "subcategory":
		return a.subcategory(ctx, cmdArgs)
	case "seed":
		return a.seed(ctx, cmdArgs)
	case "mount":
		return a.mount(ctx, cmdArgs)
	case "watch":
		return a.watch(ctx, cmdArgs)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		global.Usage()
		return errUsage
	}
}

func (a *app) usageError(format string, args ...any) error {
	fmt.Fprintf(a.stderr, format+"\n", args...)
	return errUsage
}
