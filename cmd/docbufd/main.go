package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

var gitCommitSHA = ""

func main() {
	// set up a context that is canceled when a command is interrupted
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// set up a signal handler to cancel the context
	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}

		// Allow any further SIGTERM or SIGINT to kill process
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "docbufd",
		Version:     gitCommitSHA,
		Description: "operate a DocBuf partitioned document store",
		Before: func(c *cli.Context) error {
			return nil
		},
		Flags: append([]cli.Flag{
			FlagDBRoot,
		}, NewKlogFlagSet()...),
		Action: nil,
		Commands: []*cli.Command{
			newCmd_Init(),
			newCmd_Put(),
			newCmd_Get(),
			newCmd_Scan(),
			newCmd_Stat(),
			newCmd_Migrate(),
			newCmd_Version(),
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Fatal(err)
	}
}

// FlagDBRoot is the database root directory shared by every subcommand.
var FlagDBRoot = &cli.StringFlag{
	Name:    "db",
	Usage:   "database root directory (see config.toml's `directory`)",
	EnvVars: []string{"DOCBUF_DB_ROOT"},
	Value:   "/tmp/.docbuf/db/",
}

func newCmd_Version() *cli.Command {
	return &cli.Command{
		Name:        "version",
		Description: "print the docbufd version",
		Action: func(c *cli.Context) error {
			fmt.Println(gitCommitSHA)
			return nil
		},
	}
}
