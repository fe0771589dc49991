// Package rpc defines the DocBuf RPC boundary: request/response envelope
// types only. The QUIC/HTTP3 transport, TLS setup, and wire dispatch are
// explicitly out of scope (spec §1); this package specifies the shapes a
// transport layer would serialize and the errors it would surface.
package rpc

import (
	"github.com/google/uuid"

	"github.com/rpcpool/docbuf/docbufdb"
	"github.com/rpcpool/docbuf/vtable"
)

// VTableRef identifies which schema an envelope's payload is encoded
// against, by its stable 8-byte id (spec §6 "VTable id").
type VTableRef struct {
	VTableID vtable.Id
}

// WriteDocBufRequest asks the store to insert or overwrite a document.
type WriteDocBufRequest struct {
	VTableRef
	DocID   uuid.UUID
	Payload []byte
	Offsets []byte // offsets blob, spec §6
}

// WriteDocBufResponse confirms a write and reports the partition it landed
// in.
type WriteDocBufResponse struct {
	DocID       uuid.UUID
	PartitionID uint16
}

// ReadDocBufRequest asks the store for one document by id, optionally
// scoped to a known partition.
type ReadDocBufRequest struct {
	VTableRef
	DocID       uuid.UUID
	PartitionID *uint16
}

// ReadDocBufResponse carries the raw encoded payload and its offsets blob,
// or Found=false when absent.
type ReadDocBufResponse struct {
	Found   bool
	Payload []byte
	Offsets []byte
}

// UpdateDocBufRequest asks the store to replace a document's payload,
// migrating across partitions internally if its partition key changed
// (spec §4.6).
type UpdateDocBufRequest struct {
	VTableRef
	DocID   uuid.UUID
	Payload []byte
	Offsets []byte
}

// UpdateDocBufResponse reports the document's (possibly new) partition.
type UpdateDocBufResponse struct {
	PartitionID uint16
	Migrated    bool
}

// DeleteDocBufRequest asks the store to delete a document (tombstoned or
// rewritten out of its partition, per the config's tombstone flag).
type DeleteDocBufRequest struct {
	VTableRef
	DocID uuid.UUID
}

// DeleteDocBufResponse carries the payload that was deleted.
type DeleteDocBufResponse struct {
	Payload []byte
}

// SearchDocBufsRequest asks the store to stream documents matching
// predicates, optionally scoped to one partition (spec §4.7).
type SearchDocBufsRequest struct {
	VTableRef
	PartitionID *uint16
	Predicates  docbufdb.Predicates
	Limit       uint32 // 0 means unlimited
}

// SearchDocBufsResponse carries one page of matches. A transport would
// page these; the core only specifies the shape of one page.
type SearchDocBufsResponse struct {
	Payloads [][]byte
	Offsets  [][]byte
	Done     bool
}

// ErrorResponse is the envelope used to surface any of the taxonomy's
// errors (spec §7) across the RPC boundary without leaking Go error types.
type ErrorResponse struct {
	Code    string
	Message string
}
