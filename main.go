package main

import (
	"context"
	"log/slog"
	"os"
)

// App is the process wide application, set up before the cli runs.
var App *StakepoolApp

func main() {
	App = initApp()
	if err := App.cliCmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("Error", "msg", err)
		os.Exit(1)
	}
}
