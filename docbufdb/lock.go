package docbufdb

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/BurntSushi/toml"
)

// dbLock is the decoded form of the top-level db.lock file: the set of
// vtable ids known to this database (spec §6).
type dbLock struct {
	VTables []string `toml:"vtables"`
}

func readDBLock(path string) (dbLock, error) {
	var l dbLock
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return l, err
	}
	_, err = toml.Decode(string(data), &l)
	return l, err
}

func writeDBLock(path string, l dbLock) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(l)
}

func addKnownVTable(path, vtableIDHex string) error {
	l, err := readDBLock(path)
	if err != nil {
		return err
	}
	for _, existing := range l.VTables {
		if existing == vtableIDHex {
			return nil
		}
	}
	l.VTables = append(l.VTables, vtableIDHex)
	return writeDBLock(path, l)
}

// vtableLock is the per-vtable advisory lock: an in-process mutex backing
// Invariant 4 (serialized in-process writes), plus a `<id>.lock` marker
// file on disk that signals cross-process intent (spec §4.6, §9 "Partition
// lock file"). The file itself is advisory only; it is not flocked, mirroring
// the source's description of it as advisory.
type vtableLock struct {
	path string
	mu   sync.Mutex
}

func acquireVTableLock(path string) (*vtableLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			// Advisory: a stale lock file from a prior unclean shutdown must
			// not wedge the database forever. Adopt it rather than fail.
			return &vtableLock{path: path}, nil
		}
		return nil, err
	}
	f.Close()
	return &vtableLock{path: path}, nil
}

func (l *vtableLock) Lock()   { l.mu.Lock() }
func (l *vtableLock) Unlock() { l.mu.Unlock() }

func (l *vtableLock) release() error {
	return os.Remove(l.path)
}

func partitionPath(root string, vtableIDHex string, partitionID uint16) string {
	return filepath.Join(root, "vtables", vtableIDHex, "partitions", partitionFileName(partitionID))
}

func partitionFileName(partitionID uint16) string {
	return strconv.Itoa(int(partitionID)) + ".part"
}
