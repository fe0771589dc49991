package docbufdb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
)

// frameHeaderSize is len_le_u32 | doc_id[16] | offsets_len_le_u32 (spec §6
// "Partition record frame").
const frameHeaderSize = 4 + 16 + 4

// frameTombstoneFlag is stored in the frame's len_le_u32 header field
// alongside the frame length itself. Real frame lengths never approach
// 2^31, so the top bit is free to carry the tombstone marker across a
// Close/OpenPartition cycle without changing the on-disk frame layout
// spec §6 defines. frameLen below always refers to the masked length.
const frameTombstoneFlag = uint32(1) << 31

// record is one parsed partition-file entry: its doc id, the byte range of
// its payload within the file, and whether it is a live tombstone.
type record struct {
	docID       uuid.UUID
	fileOffset  int64 // offset of the frame's len_le_u32 prefix
	offsetsBlob []byte
	payloadAt   int64
	payloadLen  uint32
	tombstoned  bool
}

// frameLen is the value the frame's len_le_u32 header field must carry,
// excluding the tombstone flag bit.
func (r *record) frameLen() uint32 {
	return uint32(len(r.offsetsBlob)) + r.payloadLen
}

// Partition is a single `<partition_id>.part` file: an append-only sequence
// of framed records plus an in-memory doc_id → record index rebuilt by scan
// on open (spec §4.6).
type Partition struct {
	path string
	mu   sync.RWMutex

	file   *os.File
	writer *bufio.Writer

	index map[uuid.UUID]*record
	order []uuid.UUID
}

// OpenPartition opens (creating if absent) the partition file at path and
// rebuilds its index by scanning existing frames.
func OpenPartition(path string) (*Partition, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("docbuf/docbufdb: open partition %s: %w", path, err)
	}

	p := &Partition{
		path:  path,
		file:  f,
		index: make(map[uuid.UUID]*record),
	}

	if err := p.rebuildIndex(); err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	p.writer = bufio.NewWriterSize(f, 16*4096)

	return p, nil
}

func (p *Partition) rebuildIndex() error {
	var pos int64
	for {
		header := make([]byte, frameHeaderSize)
		n, err := io.ReadFull(p.file, header)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			return corruptFrame{Path: p.path, Offset: pos, Reason: "truncated frame header"}
		}
		if err != nil {
			return err
		}
		_ = n

		rawFrameLen := binary.LittleEndian.Uint32(header[0:4])
		tombstoned := rawFrameLen&frameTombstoneFlag != 0
		frameLen := rawFrameLen &^ frameTombstoneFlag
		var docID uuid.UUID
		copy(docID[:], header[4:20])
		offsetsLen := binary.LittleEndian.Uint32(header[20:24])

		offsetsBlob := make([]byte, offsetsLen)
		if _, err := io.ReadFull(p.file, offsetsBlob); err != nil {
			return corruptFrame{Path: p.path, Offset: pos, Reason: "truncated offsets blob"}
		}

		payloadAt := pos + frameHeaderSize + int64(offsetsLen)
		payloadLen := frameLen - offsetsLen

		if _, err := p.file.Seek(int64(payloadLen), io.SeekCurrent); err != nil {
			return err
		}

		rec := &record{
			docID:       docID,
			fileOffset:  pos,
			offsetsBlob: offsetsBlob,
			payloadAt:   payloadAt,
			payloadLen:  payloadLen,
			tombstoned:  tombstoned,
		}
		p.index[docID] = rec
		p.order = append(p.order, docID)

		pos += frameHeaderSize + int64(offsetsLen) + int64(payloadLen)
	}
	return nil
}

// Write appends a new record for docID and points the in-memory index at
// it (spec §4.6 "write_docbuf").
func (p *Partition) Write(docID uuid.UUID, offsetsBlob, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameLen := uint32(len(offsetsBlob) + len(payload))

	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], frameLen)
	copy(header[4:20], docID[:])
	binary.LittleEndian.PutUint32(header[20:24], uint32(len(offsetsBlob)))

	pos, err := p.endOffset()
	if err != nil {
		return err
	}

	if _, err := p.writer.Write(header[:]); err != nil {
		return err
	}
	if _, err := p.writer.Write(offsetsBlob); err != nil {
		return err
	}
	if _, err := p.writer.Write(payload); err != nil {
		return err
	}
	if err := p.writer.Flush(); err != nil {
		return err
	}

	rec := &record{
		docID:       docID,
		fileOffset:  pos,
		offsetsBlob: append([]byte(nil), offsetsBlob...),
		payloadAt:   pos + frameHeaderSize + int64(len(offsetsBlob)),
		payloadLen:  uint32(len(payload)),
		tombstoned:  false,
	}
	p.index[docID] = rec
	p.order = append(p.order, docID)

	return nil
}

func (p *Partition) endOffset() (int64, error) {
	return p.file.Seek(0, io.SeekEnd)
}

// Read returns the live payload and offsets blob for docID, with ok=false
// and nil slices if absent or tombstoned (spec §4.6 "read_docbuf").
func (p *Partition) Read(docID uuid.UUID) (payload, offsetsBlob []byte, ok bool, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, found := p.index[docID]
	if !found || rec.tombstoned {
		return nil, nil, false, nil
	}

	payload = make([]byte, rec.payloadLen)
	if _, err := p.file.ReadAt(payload, rec.payloadAt); err != nil {
		return nil, nil, false, err
	}
	return payload, rec.offsetsBlob, true, nil
}

// Overwrite rewrites a record's payload bytes in place, valid only when the
// new payload is exactly the same length as the old one (spec §4.6
// "update_docbuf" case (a)).
func (p *Partition) Overwrite(docID uuid.UUID, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, found := p.index[docID]
	if !found || rec.tombstoned {
		return ErrDocBufNotFound
	}
	if uint32(len(payload)) != rec.payloadLen {
		return fmt.Errorf("docbuf/docbufdb: overwrite length mismatch: have %d, want %d", len(payload), rec.payloadLen)
	}

	if _, err := p.file.WriteAt(payload, rec.payloadAt); err != nil {
		return err
	}
	return nil
}

// Tombstone zeros a record's payload bytes in place but retains its framing,
// so later records' offsets stay valid (spec §4.6 "delete_docbuf", spec
// Invariant 4). The tombstone marker itself is persisted in the frame's
// len_le_u32 header field (frameTombstoneFlag) so it survives a
// Close/OpenPartition cycle; rebuildIndex's scan is the only place that
// reads it back.
func (p *Partition) Tombstone(docID uuid.UUID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, found := p.index[docID]
	if !found || rec.tombstoned {
		return nil, ErrDocBufNotFound
	}

	old := make([]byte, rec.payloadLen)
	if _, err := p.file.ReadAt(old, rec.payloadAt); err != nil {
		return nil, err
	}

	zeros := make([]byte, rec.payloadLen)
	if _, err := p.file.WriteAt(zeros, rec.payloadAt); err != nil {
		return nil, err
	}

	var lenField [4]byte
	binary.LittleEndian.PutUint32(lenField[:], rec.frameLen()|frameTombstoneFlag)
	if _, err := p.file.WriteAt(lenField[:], rec.fileOffset); err != nil {
		return nil, err
	}

	rec.tombstoned = true

	return old, nil
}

// Has reports whether docID currently has a live (non-tombstoned) record.
func (p *Partition) Has(docID uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, found := p.index[docID]
	return found && !rec.tombstoned
}

// IDs returns every live doc id in append order.
func (p *Partition) IDs() []uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]uuid.UUID, 0, len(p.order))
	for _, id := range p.order {
		if rec := p.index[id]; rec != nil && !rec.tombstoned {
			out = append(out, id)
		}
	}
	return out
}

// Each streams every live (docID, payload, offsetsBlob) triple in append
// order, stopping early if fn returns an error.
func (p *Partition) Each(fn func(docID uuid.UUID, payload, offsetsBlob []byte) error) error {
	p.mu.RLock()
	ids := make([]uuid.UUID, len(p.order))
	copy(ids, p.order)
	p.mu.RUnlock()

	for _, id := range ids {
		p.mu.RLock()
		rec, found := p.index[id]
		p.mu.RUnlock()
		if !found || rec.tombstoned {
			continue
		}

		payload := make([]byte, rec.payloadLen)
		if _, err := p.file.ReadAt(payload, rec.payloadAt); err != nil {
			return err
		}
		if err := fn(id, payload, rec.offsetsBlob); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the underlying file.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.writer.Flush(); err != nil {
		p.file.Close()
		return err
	}
	return p.file.Close()
}

// Delete removes docID's record entirely by rewriting the partition file
// without it, rather than retaining a zeroed frame (spec.md:159 "truncates/
// rewrites" path taken when the database's tombstone flag is false, as
// opposed to Tombstone's zero-in-place path taken when it's true). Returns
// the deleted payload.
func (p *Partition) Delete(docID uuid.UUID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, found := p.index[docID]
	if !found || rec.tombstoned {
		return nil, ErrDocBufNotFound
	}

	old := make([]byte, rec.payloadLen)
	if _, err := p.file.ReadAt(old, rec.payloadAt); err != nil {
		return nil, err
	}

	delete(p.index, docID)
	order := make([]uuid.UUID, 0, len(p.order)-1)
	for _, id := range p.order {
		if id != docID {
			order = append(order, id)
		}
	}
	p.order = order

	if err := p.rewriteLocked(); err != nil {
		return nil, err
	}
	return old, nil
}

// Compact rewrites the partition to a temp file skipping tombstoned frames,
// then atomically renames it into place, rebuilding the in-memory index
// (spec §9 "Tombstone compaction" — an added feature; see DESIGN.md).
func (p *Partition) Compact() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rewriteLocked()
}

// rewriteLocked rewrites the whole partition file from the current
// in-memory index, skipping tombstoned records, and rebuilds fileOffset/
// payloadAt bookkeeping to match the new file. Callers must hold p.mu.
func (p *Partition) rewriteLocked() error {
	tmpPath := p.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	w := bufio.NewWriterSize(tmp, 16*4096)
	newIndex := make(map[uuid.UUID]*record)
	var newOrder []uuid.UUID
	var pos int64

	for _, id := range p.order {
		rec := p.index[id]
		if rec == nil || rec.tombstoned {
			continue
		}

		payload := make([]byte, rec.payloadLen)
		if _, err := p.file.ReadAt(payload, rec.payloadAt); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}

		var header [frameHeaderSize]byte
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(rec.offsetsBlob))+rec.payloadLen)
		copy(header[4:20], id[:])
		binary.LittleEndian.PutUint32(header[20:24], uint32(len(rec.offsetsBlob)))

		if _, err := w.Write(header[:]); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		if _, err := w.Write(rec.offsetsBlob); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		if _, err := w.Write(payload); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}

		newRec := &record{
			docID:       id,
			fileOffset:  pos,
			offsetsBlob: rec.offsetsBlob,
			payloadAt:   pos + frameHeaderSize + int64(len(rec.offsetsBlob)),
			payloadLen:  rec.payloadLen,
		}
		newIndex[id] = newRec
		newOrder = append(newOrder, id)
		pos += frameHeaderSize + int64(len(rec.offsetsBlob)) + int64(rec.payloadLen)
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := p.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		return err
	}

	f, err := os.OpenFile(p.path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return err
	}

	p.file = f
	p.writer = bufio.NewWriterSize(f, 16*4096)
	p.index = newIndex
	p.order = newOrder

	return nil
}
