// Command ledger operates the trade ledger from the command line: deposits,
// order placement and lifecycle, fills, repricing, summaries and audit queries.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet(path.Base(os.Args[0]), flag.ContinueOnError)
	flags.SetOutput(stderr)
	var global globalFlags
	global.register(flags)

	commander := subcommands.NewCommander(flags, flags.Name())
	commander.Output = stdout
	commander.Error = stderr
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	for _, c := range commands(&global, stdout, stderr) {
		commander.Register(c, "ledger")
	}

	if err := flags.Parse(args); err != nil {
		return int(subcommands.ExitUsageError)
	}
	return int(commander.Execute(ctx))
}
