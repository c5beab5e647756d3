package main

import (
	"fmt"
	"runtime"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/deuspy/deuspy/metrics"
)

// newCmd_Version prints build information and records it as a Prometheus
// gauge label set, for a scrape to join against.
func newCmd_Version() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print version information",
		Action: func(c *cli.Context) error {
			fmt.Printf("deuspy %s (%s/%s, %s)\n", gitCommitSHA, runtime.GOOS, runtime.GOARCH, runtime.Version())
			startedAt := time.Now().UTC().Format(time.RFC3339)
			metrics.Version.WithLabelValues(startedAt, "", gitCommitSHA, runtime.Version(), runtime.GOOS, runtime.GOARCH).Set(1)
			return nil
		},
	}
}
