package main

import (
	"context"
	"os"

	"github.com/matthewbaird/lifecycle/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
