package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/tphakala/docworker/cmd"
	"github.com/tphakala/docworker/internal/buildinfo"
)

func main() {
	root := cmd.NewRootCmd()

	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(buildinfo.Current().String()),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}
