// Command pdfmerge merges scanned PDF batches into one ordered document and
// runs the cleanup, OCR and compression pipeline over it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Lllllllleong/scanmerge/internal/errs"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps failure kinds so scripts can tell bad input from a failed run.
func exitCode(err error) int {
	switch errs.KindOf(err) {
	case errs.KindInvalidInput:
		return 2
	case errs.KindConfigConflict:
		return 3
	case errs.KindEmptyResult:
		return 4
	case errs.KindOCRUnavailable:
		return 5
	case errs.KindStage:
		return 6
	}
	return 1
}
