package docbufdb

import (
	"math"
	"math/big"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// PartitionKey is a 128-bit routing key (spec §4.8), stored little-endian
// like the vtable's own 128-bit numeric types.
type PartitionKey [16]byte

// bigEndianToKey reverses a big-endian byte slice into a little-endian
// PartitionKey, left-padding with zeros.
func bigEndianToKey(be []byte) PartitionKey {
	var k PartitionKey
	for i := 0; i < len(be) && i < 16; i++ {
		k[i] = be[len(be)-1-i]
	}
	return k
}

// PartitionKeyFromUint64 zero-extends an unsigned integer or bool value
// into a 128-bit key (spec §4.8 "zero-extend to u128").
func PartitionKeyFromUint64(v uint64) PartitionKey {
	var k PartitionKey
	for i := 0; i < 8; i++ {
		k[i] = byte(v >> (8 * i))
	}
	return k
}

// PartitionKeyFromBool zero-extends a bool.
func PartitionKeyFromBool(b bool) PartitionKey {
	if b {
		return PartitionKeyFromUint64(1)
	}
	return PartitionKeyFromUint64(0)
}

// PartitionKeyFromBytes hashes arbitrary bytes (including string contents)
// with xxh3_128, the exact hash spec §4.8 names.
func PartitionKeyFromBytes(b []byte) PartitionKey {
	h := xxh3.Hash128(b)
	hi, lo := h.Hi, h.Lo
	var k PartitionKey
	for i := 0; i < 8; i++ {
		k[i] = byte(lo >> (8 * i))
		k[8+i] = byte(hi >> (8 * i))
	}
	return k
}

// PartitionKeyFromString hashes a string's UTF-8 bytes.
func PartitionKeyFromString(s string) PartitionKey {
	return PartitionKeyFromBytes([]byte(s))
}

// PartitionKeyFromUUID takes a UUID's 16 bytes directly (spec §4.8).
func PartitionKeyFromUUID(id uuid.UUID) PartitionKey {
	var k PartitionKey
	copy(k[:], id[:])
	return k
}

// PartitionKeyFromRaw16 takes an explicit 16-byte array or u128 directly.
func PartitionKeyFromRaw16(b [16]byte) PartitionKey {
	return PartitionKey(b)
}

// PartitionKeyFromValue derives a PartitionKey from a Go value using the
// construction rules of spec §4.8, dispatching on its dynamic type. This is
// the entry point the Manager uses once it has resolved a document's
// partition-key field value (or its DocId, when no field is designated).
func PartitionKeyFromValue(value any) (PartitionKey, error) {
	switch v := value.(type) {
	case bool:
		return PartitionKeyFromBool(v), nil
	case string:
		return PartitionKeyFromString(v), nil
	case []byte:
		return PartitionKeyFromBytes(v), nil
	case uuid.UUID:
		return PartitionKeyFromUUID(v), nil
	case [16]byte:
		return PartitionKeyFromRaw16(v), nil
	case int:
		return PartitionKeyFromUint64(uint64(v)), nil
	case int8:
		return PartitionKeyFromUint64(uint64(v)), nil
	case int16:
		return PartitionKeyFromUint64(uint64(v)), nil
	case int32:
		return PartitionKeyFromUint64(uint64(v)), nil
	case int64:
		return PartitionKeyFromUint64(uint64(v)), nil
	case uint:
		return PartitionKeyFromUint64(uint64(v)), nil
	case uint8:
		return PartitionKeyFromUint64(uint64(v)), nil
	case uint16:
		return PartitionKeyFromUint64(uint64(v)), nil
	case uint32:
		return PartitionKeyFromUint64(uint64(v)), nil
	case uint64:
		return PartitionKeyFromUint64(v), nil
	case float32:
		return PartitionKeyFromUint64(saturateFloatToUint64(float64(v))), nil
	case float64:
		return PartitionKeyFromUint64(saturateFloatToUint64(v)), nil
	case *big.Int:
		return bigEndianToKey(v.Bytes()), nil
	default:
		return PartitionKey{}, ErrInvalidPartitionKey
	}
}

// saturateFloatToUint64 mirrors Rust's `as u128` float-to-integer cast used
// by database/src/partition/partition_key.rs's `impl From<f32>`/
// `impl From<f64>` (NaN and negative values saturate to 0, values beyond
// the target range saturate to its max) rather than Go's truncating
// float-to-int conversion, which is undefined for out-of-range values.
func saturateFloatToUint64(f float64) uint64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f >= math.MaxUint64:
		return math.MaxUint64
	default:
		return uint64(f)
	}
}

// Bucket maps the key onto a partition id in [0, numPartitions) (spec §4.8:
// "partition_id = key_u128 mod num_partitions", Testable Property 7).
func (k PartitionKey) Bucket(numPartitions uint16) uint16 {
	if numPartitions == 0 {
		numPartitions = DefaultNumPartitions
	}
	// k is little-endian; build the big.Int the same way Uint128.Big does.
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = k[15-i]
	}
	key := new(big.Int).SetBytes(be)
	mod := new(big.Int).Mod(key, big.NewInt(int64(numPartitions)))
	return uint16(mod.Uint64())
}
