// Package cfdp holds the shared value types used by both the source and
// destination handlers: entity IDs, transaction IDs, condition codes, and
// the typed PDU values the handlers consume and emit. PDU byte encoding is
// not part of this package; a separate packet library owns that concern.
package cfdp

import (
	"encoding/binary"
	"fmt"
)

// EntityID is a variable-width unsigned integer (1-8 bytes as encoded on
// the wire) identifying a CFDP endpoint.
type EntityID struct {
	width uint8
	value uint64
}

// NewEntityID builds an EntityID from its integer value and wire width in
// bytes. Width must be between 1 and 8.
func NewEntityID(width uint8, value uint64) (EntityID, error) {
	if width < 1 || width > 8 {
		return EntityID{}, fmt.Errorf("cfdp: entity ID width %d out of range [1,8]", width)
	}
	if width < 8 && value >= uint64(1)<<(8*width) {
		return EntityID{}, fmt.Errorf("cfdp: entity ID value %d does not fit in %d bytes", value, width)
	}
	return EntityID{width: width, value: value}, nil
}

// Uint64 returns the entity ID's numeric value.
func (e EntityID) Uint64() uint64 { return e.value }

// Width reports the wire width, in bytes, of this entity ID.
func (e EntityID) Width() uint8 { return e.width }

// Equal reports whether two entity IDs carry the same value, irrespective
// of wire width.
func (e EntityID) Equal(other EntityID) bool { return e.value == other.value }

// String renders the entity ID's decimal value, as used in logs; the wire
// width is not shown.
func (e EntityID) String() string { return fmt.Sprintf("%d", e.value) }

// Bytes returns the big-endian wire encoding at the entity ID's configured
// width.
func (e EntityID) Bytes() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, e.value)
	return buf[8-int(e.width):]
}

// PDUWidth returns the wider of two entity IDs' widths, which is the width
// CFDP requires both entity IDs in a PDU header to share.
func PDUWidth(a, b EntityID) uint8 {
	if a.width > b.width {
		return a.width
	}
	return b.width
}

// TransactionID uniquely names a transaction: the source entity that
// assigned the sequence number, and the sequence number itself. Per CFDP,
// identity and comparison only require these two fields; the destination
// entity ID involved in a transfer is tracked separately in transaction
// state for fault-location bookkeeping.
type TransactionID struct {
	Source         EntityID
	SequenceNumber uint64
}

// String renders the transaction ID as "source.sequence", the conventional
// CFDP transaction identifier form.
func (t TransactionID) String() string {
	return fmt.Sprintf("%s.%d", t.Source, t.SequenceNumber)
}

// Equal reports whether two transaction IDs name the same transaction.
func (t TransactionID) Equal(other TransactionID) bool {
	return t.Source.Equal(other.Source) && t.SequenceNumber == other.SequenceNumber
}
