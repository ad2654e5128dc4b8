package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/altuslabsxyz/dapp-builder/internal/networks"
	"github.com/altuslabsxyz/dapp-builder/internal/output"
	"github.com/altuslabsxyz/dapp-builder/internal/paths"
	"github.com/altuslabsxyz/dapp-builder/internal/provider"
	"github.com/altuslabsxyz/dapp-builder/internal/txmanager"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := newApp()
	err := newRootCmd(a).ExecuteContext(ctx)
	stop()
	if closeErr := a.close(); closeErr != nil {
		a.logger.Debug("Shutdown: %v", closeErr)
	}

	if err != nil {
		if errors.Is(err, output.ErrPromptAborted) {
			fmt.Fprintln(os.Stderr, "Operation cancelled.")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := recoveryHint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "\nHint: %s\n", hint)
		}
		os.Exit(1)
	}
}

// recoveryHint suggests a next step for errors the user can fix.
func recoveryHint(err error) string {
	var (
		noDefault  *networks.NoDefaultProviderError
		submission *provider.SubmissionError
	)
	switch {
	case errors.As(err, &submission) && submission.Ambiguous:
		return fmt.Sprintf("the transaction may still be included; check with 'dapp tx wait %s' before sending it again", submission.Hash.Hex())
	case errors.Is(err, txmanager.ErrPendingTimeout):
		return "the transaction is still pending; wait longer with 'dapp tx wait <hash> --timeout 10m'"
	case errors.As(err, &noDefault):
		return "name the provider explicitly (ecosystem/network/provider) or set default_provider in " + paths.ProjectConfigFile
	case errors.Is(err, networks.ErrConfiguration):
		return "run 'dapp networks list' to see the configured networks"
	}
	return ""
}
