// Command crew runs multi-agent workflows, either as an MCP server over
// stdio or directly from the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time via ldflags.
var version = "dev"

const usage = `Usage: crew <command> [flags]

Commands:
  serve                     Serve the MCP tools over stdio
  run <workflow-id>         Run a workflow to completion (--parallel, --tui)
  list                      List workflows
  show <workflow-id>        Show a workflow's tasks and agents
  version                   Print the version

Every command accepts --config <path> to read a config file in place of
.crew/config.yaml.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "serve":
		err = serveCmd(ctx, args[1:], stdin, stdout, stderr)
	case "run":
		err = runCmd(ctx, args[1:], stdout, stderr)
	case "list":
		err = listCmd(ctx, args[1:], stdout, stderr)
	case "show":
		err = showCmd(ctx, args[1:], stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "crew %s\n", version)
		return 0
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "crew: unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	var exit exitError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.As(err, &exit):
		return int(exit)
	case errors.As(err, new(usageError)):
		fmt.Fprintf(stderr, "crew %s: %v\n", args[0], err)
		return 2
	default:
		fmt.Fprintf(stderr, "crew %s: %v\n", args[0], err)
		return 1
	}
}

// exitError ends a command with a non-zero code after it has already
// reported its own output.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }
