package main

import (
	"os"

	"github.com/kquery/kquery/internal/kqerr"
)

// Exit codes let scripts distinguish kquery's failure modes without
// scraping stderr.
const (
	// ExitSuccess indicates successful execution.
	ExitSuccess = 0

	// ExitGeneral indicates an error with no more specific code.
	ExitGeneral = 1

	// ExitUsage indicates invalid arguments or usage error.
	ExitUsage = 2

	// ExitConfig indicates a kqerr.Config failure.
	ExitConfig = 3

	// ExitIO indicates a kqerr.IO failure.
	ExitIO = 4

	// ExitParse indicates a kqerr.Parse failure.
	ExitParse = 5

	// ExitShutdown indicates a kqerr.Shutdown failure.
	ExitShutdown = 6

	// ExitCancelled indicates the operation was cancelled (SIGINT/SIGTERM).
	ExitCancelled = 130
)

// exitWithCode exits with the specified exit code.
func exitWithCode(code int) {
	os.Exit(code)
}

// exitCodeForError maps a kqerr.Error's Type to its exit code, falling
// back to ExitGeneral for errors outside that family.
func exitCodeForError(err error) int {
	var kerr *kqerr.Error
	if e, ok := err.(*kqerr.Error); ok {
		kerr = e
	} else {
		return ExitGeneral
	}

	switch kerr.Type {
	case kqerr.Config:
		return ExitConfig
	case kqerr.IO:
		return ExitIO
	case kqerr.Parse:
		return ExitParse
	case kqerr.Shutdown:
		return ExitShutdown
	default:
		return ExitGeneral
	}
}
