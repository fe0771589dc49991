package main

import (
	"path/filepath"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/rpcpool/docbuf/docbufdb"
)

func newCmd_Put() *cli.Command {
	return &cli.Command{
		Name:        "put",
		Description: "insert or overwrite a Note document",
		ArgsUsage:   "<doc-id>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "field",
				Usage: "field=value, repeatable",
			},
		},
		Action: func(c *cli.Context) error {
			root := c.String("db")
			cfg, err := docbufdb.LoadConfig(filepath.Join(root, "config.toml"))
			if err != nil {
				klog.Exit(err.Error())
			}

			m, err := docbufdb.Open(root, cfg)
			if err != nil {
				klog.Exit(err.Error())
			}
			defer m.Close()

			vt := noteVTable()
			if err := m.Register(vt); err != nil {
				klog.Exit(err.Error())
			}

			doc, err := parseFieldFlags("Note", c.StringSlice("field"))
			if err != nil {
				klog.Exit(err.Error())
			}

			docID := uuid.New()
			if raw := c.Args().First(); raw != "" {
				docID, err = uuid.Parse(raw)
				if err != nil {
					klog.Exit(err.Error())
				}
			}

			if _, err := m.Put(vt, docID, doc); err != nil {
				klog.Exit(err.Error())
			}

			klog.Infof("put docbuf %s", docID)
			return nil
		},
	}
}
