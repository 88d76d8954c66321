package main

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Exit codes.
const (
	ExitSuccess = 0
	// ExitError covers configuration and initialisation failures.
	ExitError = 1
	// ExitCollectFailed is returned when every source failed or staged
	// events could not be written.
	ExitCollectFailed = 2
)

// exitError carries a specific exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// fetches are bounded by their own timeouts and retry budget; the run
	// adds no cancellation
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout))
}

// run executes the command line and maps the outcome to an exit code.
func run(ctx context.Context, args []string, stdout io.Writer) int {
	cmd := newRootCmd(stdout)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		log.Error().Err(ee.err).Int("exit_code", ee.code).Msg("collection failed")
		return ee.code
	}
	log.Error().Err(err).Msg("eventcollector")
	return ExitError
}
