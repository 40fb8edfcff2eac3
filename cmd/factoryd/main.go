package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/fwforge-io/fwforge/cmd/factoryd/app"
)

func main() {
	if err := app.NewAppCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
