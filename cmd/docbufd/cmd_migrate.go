package main

import (
	"path/filepath"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"k8s.io/klog/v2"

	"github.com/rpcpool/docbuf/docbufdb"
	"github.com/rpcpool/docbuf/wire"
)

// newCmd_Migrate re-buckets every live document in the Note vtable under a
// new partition count, exercising the same partition-key-changed path
// Manager.Update takes for a single document (spec §4.6 "migrate_docbuf"),
// just driven over the whole vtable instead of one record.
func newCmd_Migrate() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Description: "rewrite the Note vtable under a new partition count",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "num-partitions", Usage: "new bucket count", Required: true},
		},
		Action: func(c *cli.Context) error {
			root := c.String("db")
			configPath := filepath.Join(root, "config.toml")

			cfg, err := docbufdb.LoadConfig(configPath)
			if err != nil {
				klog.Exit(err.Error())
			}

			m, err := docbufdb.Open(root, cfg)
			if err != nil {
				klog.Exit(err.Error())
			}

			vt := noteVTable()
			if err := m.Register(vt); err != nil {
				klog.Exit(err.Error())
			}

			type row struct {
				id  uuid.UUID
				doc *wire.GenericDocument
			}

			ids, err := m.IDs(vt, nil)
			if err != nil {
				m.Close()
				klog.Exit(err.Error())
			}

			rows := make([]row, 0, len(ids))
			for _, id := range ids {
				doc, err := m.Get(vt, id, func(structName string) (wire.Document, error) {
					return wire.NewGenericDocument(structName), nil
				})
				if err != nil {
					m.Close()
					klog.Exit(err.Error())
				}
				rows = append(rows, row{id: id, doc: doc.(*wire.GenericDocument)})
			}
			if err := m.Close(); err != nil {
				klog.Exit(err.Error())
			}

			cfg.NumPartitions = uint16(c.Uint("num-partitions"))
			if err := docbufdb.WriteConfig(configPath, cfg); err != nil {
				klog.Exit(err.Error())
			}

			m2, err := docbufdb.Open(root, cfg)
			if err != nil {
				klog.Exit(err.Error())
			}
			defer m2.Close()
			if err := m2.Register(vt); err != nil {
				klog.Exit(err.Error())
			}

			progress := mpb.New(mpb.WithWidth(64))
			bar := progress.AddBar(int64(len(rows)),
				mpb.PrependDecorators(decor.Name("migrate")),
				mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
			)

			for _, r := range rows {
				if err := m2.Update(vt, r.id, r.doc); err != nil {
					klog.Exit(err.Error())
				}
				bar.Increment()
			}
			progress.Wait()

			klog.Infof("migrated %d docbufs to %d partitions", len(rows), cfg.NumPartitions)
			return nil
		},
	}
}
