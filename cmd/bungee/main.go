// Command bungee runs the reverse-proxy gateway: load YAML config, build
// the upstream registry, start active health checking, and serve.
package main

import (
	"fmt"
	"os"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/jeffusion/bungee/internal/bungeelog"
)

func main() {
	undo, err := maxprocs.Set(maxprocs.Logger(bungeelog.Log().Sugar().Infof))
	defer undo()
	if err != nil {
		bungeelog.Log().Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
