package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/rpcpool/docbuf/docbufdb"
)

func newCmd_Stat() *cli.Command {
	return &cli.Command{
		Name:        "stat",
		Description: "print partition counts and on-disk size for the Note vtable",
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

			count, err := m.Count(vt, nil, nil, nil)
			if err != nil {
				klog.Exit(err.Error())
			}

			vtableDir := filepath.Join(root, "vtables", vtableIDHexStat(vt.Id()))
			var size int64
			_ = filepath.Walk(vtableDir, func(path string, info os.FileInfo, err error) error {
				if err != nil || info.IsDir() {
					return nil
				}
				size += info.Size()
				return nil
			})

			fmt.Printf("vtable:      %s.%s (%x)\n", vt.Namespace, vt.Root, vt.Id())
			fmt.Printf("documents:   %d\n", count)
			fmt.Printf("partitions:  %d\n", cfg.NumPartitions)
			fmt.Printf("on disk:     %s\n", humanize.Bytes(uint64(size)))
			return nil
		},
	}
}

func vtableIDHexStat(id [8]byte) string {
	return fmt.Sprintf("%x", id)
}
