package main

import (
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"k8s.io/klog/v2"

	"github.com/rpcpool/docbuf/docbufdb"
	"github.com/rpcpool/docbuf/wire"
)

func newCmd_Scan() *cli.Command {
	return &cli.Command{
		Name:        "scan",
		Description: "iterate every live Note document, optionally scoped to one partition",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "partition", Usage: "restrict the scan to one partition id", Value: -1},
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

			var partitionID *uint16
			if p := c.Int("partition"); p >= 0 {
				pid := uint16(p)
				partitionID = &pid
			}

			ids, err := m.IDs(vt, partitionID)
			if err != nil {
				klog.Exit(err.Error())
			}

			progress := mpb.New(mpb.WithWidth(64))
			bar := progress.AddBar(int64(len(ids)),
				mpb.PrependDecorators(decor.Name("scan")),
				mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
			)

			err = m.Search(vt, partitionID, docbufdb.Predicates{}, func(structName string) (wire.Document, error) {
				return wire.NewGenericDocument(structName), nil
			}, func(doc wire.Document) error {
				gd := doc.(*wire.GenericDocument)
				fmt.Printf("%v\n", gd.Values)
				bar.Increment()
				return nil
			})
			progress.Wait()
			if err != nil {
				klog.Exit(err.Error())
			}
			return nil
		},
	}
}
