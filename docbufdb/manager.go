package docbufdb

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/rpcpool/docbuf/vtable"
	"github.com/rpcpool/docbuf/wire"
)

// vtableState is everything the Manager keeps open for one vtable: its
// schema, its advisory lock, and its live partitions keyed by partition id
// (spec §4.6 directory layout).
type vtableState struct {
	vt         *vtable.VTable
	lock       *vtableLock
	partitions map[uint16]*Partition
	mu         sync.Mutex
}

// Manager is the database-wide entry point: Open/Put/Get/Update/Delete/
// Search/IDs/Count plus migration-on-key-change (spec §4.6).
type Manager struct {
	root   string
	config Config

	mu      sync.Mutex
	vtables map[vtable.Id]*vtableState
}

// Open establishes (creating if absent) the directory layout under root and
// returns a Manager ready to register vtables.
func Open(root string, cfg Config) (*Manager, error) {
	if root == "" {
		return nil, ErrDirectoryNotSet
	}
	if err := os.MkdirAll(filepath.Join(root, "vtables"), 0o755); err != nil {
		return nil, fmt.Errorf("docbuf/docbufdb: create root: %w", err)
	}
	if cfg.NumPartitions == 0 {
		cfg.NumPartitions = DefaultNumPartitions
	}

	return &Manager{
		root:    root,
		config:  cfg,
		vtables: make(map[vtable.Id]*vtableState),
	}, nil
}

func vtableIDHex(id vtable.Id) string {
	return hex.EncodeToString(id[:])
}

// Register makes vt known to the database: it writes vtable.bin if absent,
// acquires the per-vtable advisory lock, and records the id in db.lock.
func (m *Manager) Register(vt *vtable.VTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := vt.Id()
	if _, ok := m.vtables[id]; ok {
		return nil
	}

	dir := filepath.Join(m.root, "vtables", vtableIDHex(id))
	if err := os.MkdirAll(filepath.Join(dir, "partitions"), 0o755); err != nil {
		return err
	}

	vtBinPath := filepath.Join(dir, "vtable.bin")
	if _, err := os.Stat(vtBinPath); os.IsNotExist(err) {
		data, err := vt.ToBytes()
		if err != nil {
			return err
		}
		if err := os.WriteFile(vtBinPath, data, 0o644); err != nil {
			return err
		}
	}

	lock, err := acquireVTableLock(filepath.Join(dir, vtableIDHex(id)+".lock"))
	if err != nil {
		return err
	}

	if err := addKnownVTable(filepath.Join(m.root, "db.lock"), vtableIDHex(id)); err != nil {
		return err
	}

	m.vtables[id] = &vtableState{vt: vt, lock: lock, partitions: make(map[uint16]*Partition)}
	return nil
}

func (m *Manager) state(id vtable.Id) (*vtableState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.vtables[id]
	if !ok {
		return nil, fmt.Errorf("docbuf/docbufdb: vtable %s is not registered", vtableIDHex(id))
	}
	return st, nil
}

func (st *vtableState) partition(root string, id vtable.Id, partitionID uint16) (*Partition, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if p, ok := st.partitions[partitionID]; ok {
		return p, nil
	}

	path := partitionPath(root, vtableIDHex(id), partitionID)
	p, err := OpenPartition(path)
	if err != nil {
		return nil, err
	}
	st.partitions[partitionID] = p
	return p, nil
}

// resolvePartitionKey derives the PartitionKey for a document: the
// designated partition-key field's value when the vtable names one,
// otherwise the document's DocId (spec §4.8).
func resolvePartitionKey(vt *vtable.VTable, docID uuid.UUID, doc wire.Document) (PartitionKey, error) {
	if f, ok := vt.PartitionKeyField(); ok {
		if v, ok := doc.DocBufFieldValue(f.Name); ok {
			return PartitionKeyFromValue(v)
		}
	}
	return PartitionKeyFromUUID(docID), nil
}

// Put encodes doc against vt, derives its partition, and appends it,
// returning the assigned DocId (spec §4.6 "write_docbuf").
func (m *Manager) Put(vt *vtable.VTable, docID uuid.UUID, doc wire.Document) (uuid.UUID, error) {
	if err := m.Register(vt); err != nil {
		return uuid.UUID{}, err
	}
	st, err := m.state(vt.Id())
	if err != nil {
		return uuid.UUID{}, err
	}

	st.lock.Lock()
	defer st.lock.Unlock()

	payload, offsets, err := wire.Encode(vt, doc)
	if err != nil {
		return uuid.UUID{}, err
	}

	key, err := resolvePartitionKey(vt, docID, doc)
	if err != nil {
		return uuid.UUID{}, err
	}
	partitionID := key.Bucket(m.config.NumPartitions)

	p, err := st.partition(m.root, vt.Id(), partitionID)
	if err != nil {
		return uuid.UUID{}, err
	}

	if err := p.Write(docID, offsets.Bytes(), payload); err != nil {
		return uuid.UUID{}, err
	}

	log.Debugf("put docbuf %s into vtable %s partition %d", docID, vtableIDHex(vt.Id()), partitionID)
	return docID, nil
}

// Get locates docID across this vtable's partitions and returns its
// decoded document. When the caller already knows the partition, use
// GetFromPartition to avoid the full scan.
func (m *Manager) Get(vt *vtable.VTable, docID uuid.UUID, newDoc wire.NewDocument) (wire.Document, error) {
	return m.GetFromPartition(vt, nil, docID, newDoc)
}

// GetFromPartition reads docID, scoping the search to partitionID when
// non-nil (skipping the full scan) or searching every partition otherwise.
func (m *Manager) GetFromPartition(vt *vtable.VTable, partitionID *uint16, docID uuid.UUID, newDoc wire.NewDocument) (wire.Document, error) {
	st, err := m.state(vt.Id())
	if err != nil {
		return nil, err
	}

	pid := partitionID
	if pid == nil {
		found, ok, err := m.findDocPartition(st, vt.Id(), docID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrDocBufNotFound
		}
		pid = &found
	}

	p, ok, err := m.existingPartition(st, vt.Id(), *pid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDocBufNotFound
	}

	payload, _, found, err := p.Read(docID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrDocBufNotFound
	}

	doc, _, err := wire.Decode(vt, payload, newDoc)
	return doc, err
}

func (m *Manager) existingPartition(st *vtableState, id vtable.Id, partitionID uint16) (*Partition, bool, error) {
	st.mu.Lock()
	if p, ok := st.partitions[partitionID]; ok {
		st.mu.Unlock()
		return p, true, nil
	}
	st.mu.Unlock()

	path := partitionPath(m.root, vtableIDHex(id), partitionID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, false, nil
	}
	p, err := st.partition(m.root, id, partitionID)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// findDocPartition scans every known partition for docID, returning the
// partition id it currently lives in.
func (m *Manager) findDocPartition(st *vtableState, id vtable.Id, docID uuid.UUID) (uint16, bool, error) {
	for partitionID := uint16(0); partitionID < m.config.NumPartitions; partitionID++ {
		p, ok, err := m.existingPartition(st, id, partitionID)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			continue
		}
		if p.Has(docID) {
			return partitionID, true, nil
		}
	}
	return 0, false, nil
}

// Update re-encodes doc and writes it back, migrating across partitions
// when the partition key changed (spec §4.6 "update_docbuf", Invariant 5,
// Testable Property 10).
func (m *Manager) Update(vt *vtable.VTable, docID uuid.UUID, doc wire.Document) error {
	st, err := m.state(vt.Id())
	if err != nil {
		return err
	}

	st.lock.Lock()
	defer st.lock.Unlock()

	payload, offsets, err := wire.Encode(vt, doc)
	if err != nil {
		return err
	}

	key, err := resolvePartitionKey(vt, docID, doc)
	if err != nil {
		return err
	}
	newPartitionID := key.Bucket(m.config.NumPartitions)

	currentPartitionID, found, err := m.findDocPartition(st, vt.Id(), docID)
	if err != nil {
		return err
	}

	if found && currentPartitionID == newPartitionID {
		p, _, err := m.existingPartition(st, vt.Id(), currentPartitionID)
		if err != nil {
			return err
		}
		old, _, _, err := p.Read(docID)
		if err == nil && old != nil && len(old) == len(payload) {
			return p.Overwrite(docID, payload)
		}
		if _, err := p.Tombstone(docID); err != nil {
			return err
		}
		return p.Write(docID, offsets.Bytes(), payload)
	}

	// Migration: delete from the old partition (if any), insert at the new one.
	if found {
		oldP, _, err := m.existingPartition(st, vt.Id(), currentPartitionID)
		if err != nil {
			return err
		}
		if _, err := oldP.Tombstone(docID); err != nil {
			return err
		}
	}

	newP, err := st.partition(m.root, vt.Id(), newPartitionID)
	if err != nil {
		return err
	}
	return newP.Write(docID, offsets.Bytes(), payload)
}

// Delete removes docID's record and returns the deleted payload (spec §4.6
// "delete_docbuf"). With config.Tombstone=true the record is tombstoned in
// place; otherwise the partition file is rewritten without it.
func (m *Manager) Delete(vt *vtable.VTable, docID uuid.UUID) ([]byte, error) {
	st, err := m.state(vt.Id())
	if err != nil {
		return nil, err
	}

	st.lock.Lock()
	defer st.lock.Unlock()

	partitionID, found, err := m.findDocPartition(st, vt.Id(), docID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrDocBufNotFound
	}

	p, _, err := m.existingPartition(st, vt.Id(), partitionID)
	if err != nil {
		return nil, err
	}
	if m.config.Tombstone {
		return p.Tombstone(docID)
	}
	return p.Delete(docID)
}

// Search streams decoded documents across partitions matching predicates,
// scoped to a single partition when partitionID is non-nil (spec §4.6
// "search_docbufs").
func (m *Manager) Search(vt *vtable.VTable, partitionID *uint16, predicates Predicates, newDoc wire.NewDocument, fn func(doc wire.Document) error) error {
	st, err := m.state(vt.Id())
	if err != nil {
		return err
	}

	visit := func(pid uint16) error {
		p, ok, err := m.existingPartition(st, vt.Id(), pid)
		if err != nil || !ok {
			return err
		}
		return p.Each(func(docID uuid.UUID, payload, offsetsBlob []byte) error {
			offsets, err := wire.FieldOffsetsFromBytes(offsetsBlob)
			if err != nil {
				return err
			}
			if !predicates.Eval(vt, payload, offsets) {
				return nil
			}
			doc, _, err := wire.Decode(vt, payload, newDoc)
			if err != nil {
				return err
			}
			return fn(doc)
		})
	}

	if partitionID != nil {
		return visit(*partitionID)
	}
	for pid := uint16(0); pid < m.config.NumPartitions; pid++ {
		if err := visit(pid); err != nil {
			return err
		}
	}
	return nil
}

// IDs returns every live DocId for the vtable, optionally scoped to one
// partition (spec §4.6 "read_docbuf_ids").
func (m *Manager) IDs(vt *vtable.VTable, partitionID *uint16) ([]uuid.UUID, error) {
	st, err := m.state(vt.Id())
	if err != nil {
		return nil, err
	}

	var out []uuid.UUID
	collect := func(pid uint16) error {
		p, ok, err := m.existingPartition(st, vt.Id(), pid)
		if err != nil || !ok {
			return err
		}
		out = append(out, p.IDs()...)
		return nil
	}

	if partitionID != nil {
		if err := collect(*partitionID); err != nil {
			return nil, err
		}
		return out, nil
	}
	for pid := uint16(0); pid < m.config.NumPartitions; pid++ {
		if err := collect(pid); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Count returns the number of live records, optionally filtered by
// predicates (spec §4.6 "docbuf_count").
func (m *Manager) Count(vt *vtable.VTable, partitionID *uint16, predicates *Predicates, newDoc wire.NewDocument) (int, error) {
	if predicates == nil {
		ids, err := m.IDs(vt, partitionID)
		if err != nil {
			return 0, err
		}
		return len(ids), nil
	}

	count := 0
	err := m.Search(vt, partitionID, *predicates, newDoc, func(wire.Document) error {
		count++
		return nil
	})
	return count, err
}

// Compact rewrites one partition, discarding tombstoned frames and
// rebuilding its index (spec §9 "Tombstone compaction" — added feature).
func (m *Manager) Compact(vt *vtable.VTable, partitionID uint16) error {
	st, err := m.state(vt.Id())
	if err != nil {
		return err
	}

	st.lock.Lock()
	defer st.lock.Unlock()

	p, ok, err := m.existingPartition(st, vt.Id(), partitionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPartitionNotFound
	}
	return p.Compact()
}

// Close flushes and releases every open partition and vtable lock.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, st := range m.vtables {
		st.mu.Lock()
		for _, p := range st.partitions {
			if err := p.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		st.mu.Unlock()
		if err := st.lock.release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
