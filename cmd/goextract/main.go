// Command goextract extracts text and metadata from documents, either from
// the command line or as an HTTP service.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/brunobiangulo/goextract"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "goextract:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode gives each error kind its own status so scripts can branch on it.
func exitCode(err error) int {
	if errors.Is(err, goextract.ErrInvalidConfig) {
		return 2
	}
	switch goextract.KindOf(err) {
	case goextract.KindUnrecognizedFormat, goextract.KindUnsupportedVariant:
		return 3
	case goextract.KindTruncatedInput, goextract.KindCorruptedPart:
		return 4
	case goextract.KindResourceLimitExceeded:
		return 5
	case goextract.KindIOFailure:
		return 6
	}
	return 1
}
