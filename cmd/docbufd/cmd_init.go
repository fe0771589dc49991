package main

import (
	"path/filepath"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/rpcpool/docbuf/docbufdb"
)

func newCmd_Init() *cli.Command {
	return &cli.Command{
		Name:        "init",
		Description: "create the database directory layout and config.toml",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "tombstone", Usage: "tombstone deletes instead of truncating"},
			&cli.UintFlag{Name: "num-partitions", Usage: "bucket count", Value: docbufdb.DefaultNumPartitions},
		},
		Action: func(c *cli.Context) error {
			root := c.String("db")

			cfg := docbufdb.DefaultConfig()
			cfg.Directory = root
			cfg.Tombstone = c.Bool("tombstone")
			cfg.NumPartitions = uint16(c.Uint("num-partitions"))

			m, err := docbufdb.Open(root, cfg)
			if err != nil {
				klog.Exit(err.Error())
			}
			defer m.Close()

			if err := docbufdb.WriteConfig(filepath.Join(root, "config.toml"), cfg); err != nil {
				klog.Exit(err.Error())
			}

			if err := m.Register(noteVTable()); err != nil {
				klog.Exit(err.Error())
			}

			klog.Infof("initialized docbuf database at %s", root)
			return nil
		},
	}
}
