// Package docbufdb implements the partitioned on-disk document store: a
// per-vtable directory of bucketed partition files, predicate scan, count,
// and cross-partition migration on partition-key change (spec §4.6–§4.8).
package docbufdb

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("docbuf/docbufdb")

// DefaultDirectory is where a Config with no Directory set resolves to
// (spec §6 "config.toml").
const DefaultDirectory = "/tmp/.docbuf/db/"

// DefaultNumPartitions is the bucket count used when a Config doesn't
// override it (spec §4.8).
const DefaultNumPartitions = 16384

// RPCConfig is the RPC subsection of config.toml. The core never dials out
// using these values; they are carried so a config file round-trips and so
// an RPC-transport layer (out of scope here, spec §1) has somewhere to read
// them from.
type RPCConfig struct {
	Server    string `toml:"server"`
	CertChain string `toml:"cert_chain"`
	PrivKey   string `toml:"priv_key"`
	RootCert  string `toml:"root_cert"`
}

// Config is the decoded form of config.toml (spec §6).
type Config struct {
	Directory     string    `toml:"directory"`
	Tombstone     bool      `toml:"tombstone"`
	NumPartitions uint16    `toml:"num_partitions"`
	RPC           RPCConfig `toml:"rpc"`
}

// DefaultConfig returns a Config with the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Directory:     DefaultDirectory,
		Tombstone:     false,
		NumPartitions: DefaultNumPartitions,
	}
}

// LoadConfig reads and decodes a config.toml at path, filling in defaults
// for anything the file omits. A missing file is not an error; it yields
// DefaultConfig().
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Directory == "" {
		cfg.Directory = DefaultDirectory
	}
	if cfg.NumPartitions == 0 {
		cfg.NumPartitions = DefaultNumPartitions
	}
	return cfg, nil
}

// WriteConfig writes cfg as TOML to path, creating parent directories as
// needed.
func WriteConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
