package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/google/subcommands"

	"expenses/internal/cli"
)

var (
	envFile = flag.String("env-file", "", "Load environment from this file before reading configuration. Defaults to ./.env when present.")
	plain   = flag.Bool("plain", false, "Print raw markdown instead of styled terminal output.")
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	// Commands only touch the app in Execute, after configuration is loaded.
	app := cli.NewApp(nil, nil)
	cli.Register(commander, app)

	flag.Parse()

	cfg, err := cli.LoadAndValidateConfig(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(subcommands.ExitFailure))
	}
	logger := cli.SetupLogger(cfg, os.Stderr)
	app.Config = cfg
	app.Logger = logger
	app.Plain = *plain

	ctx, cancel := cli.SignalContext(context.Background(), logger)
	status := commander.Execute(ctx)
	cancel()

	if err := app.Close(); err != nil {
		logger.Warn("Failed to release resources", "error", err)
	}
	os.Exit(int(status))
}
