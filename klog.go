package main

import (
	"flag"
	"fmt"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

// NewKlogFlagSet wires klog's flag.FlagSet into urfave/cli flags, keeping
// only the knobs worth exposing for a single small server process.
func NewKlogFlagSet() []cli.Flag {
	fs := flag.NewFlagSet("klog", flag.PanicOnError)
	klog.InitFlags(fs)

	fs.Set("v", "2")
	fs.Set("logtostderr", "true")

	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "logtostderr",
			Usage:       "log to standard error instead of files",
			DefaultText: "true",
			Action: func(cctx *cli.Context, v bool) error {
				fs.Set("logtostderr", fmt.Sprint(v))
				return nil
			},
		},
		&cli.IntFlag{
			Name:  "v",
			Usage: "number for the log level verbosity",
			Value: 2,
			Action: func(cctx *cli.Context, v int) error {
				fs.Set("v", fmt.Sprint(v))
				return nil
			},
		},
		&cli.StringFlag{
			Name:  "vmodule",
			Usage: "comma-separated list of pattern=N settings for file-filtered logging",
			Action: func(cctx *cli.Context, v string) error {
				if v != "" {
					fs.Set("vmodule", v)
				}
				return nil
			},
		},
	}
}
