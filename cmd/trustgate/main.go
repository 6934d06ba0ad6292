// Package main is the entry point for the trustgate gateway.
package main

import (
	"os"

	"github.com/trustgate-dev/trustgate/cmd/trustgate/app"
	"github.com/trustgate-dev/trustgate/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
