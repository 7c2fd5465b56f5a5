// Package cli provides error handling utilities for CLI output.
package cli

import (
	"fmt"
	"os"

	reloerrors "github.com/relohq/relo/internal/errors"
)

// PrintError prints an error to stderr with appropriate formatting.
// If the error is a ReloError, it uses the user-friendly format.
// Otherwise, it prints a simple error message.
func PrintError(err error) {
	if reloErr := reloerrors.AsReloError(err); reloErr != nil {
		fmt.Fprintln(os.Stderr, reloErr.UserMessage())
		if verbose {
			// In verbose mode, also print the error code and cause
			fmt.Fprintf(os.Stderr, "\nCode: %s\n", reloErr.Code)
			if reloErr.Cause != nil {
				fmt.Fprintf(os.Stderr, "Cause: %v\n", reloErr.Cause)
			}
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
