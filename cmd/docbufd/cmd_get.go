package main

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/rpcpool/docbuf/docbufdb"
	"github.com/rpcpool/docbuf/wire"
)

func newCmd_Get() *cli.Command {
	return &cli.Command{
		Name:        "get",
		Description: "fetch a Note document by id",
		ArgsUsage:   "<doc-id>",
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

			docID, err := uuid.Parse(c.Args().First())
			if err != nil {
				klog.Exit(err.Error())
			}

			doc, err := m.Get(vt, docID, func(structName string) (wire.Document, error) {
				return wire.NewGenericDocument(structName), nil
			})
			if err != nil {
				klog.Exit(err.Error())
			}

			gd := doc.(*wire.GenericDocument)
			for name, value := range gd.Values {
				fmt.Printf("%s = %v\n", name, value)
			}
			return nil
		},
	}
}
