// Package user defines the synchronous callback surface the Source and
// Destination Handlers invoke at well-defined transaction milestones. The
// shape mirrors the teacher's MasterCallbacks/OutstationCallbacks split: a
// single interface the caller implements and hands to a handler's
// constructor, rather than individual function-value fields.
package user

import "github.com/avaneesh92/cfdp-go/pkg/cfdp"

// TransactionIndication fires once, before the first outbound PDU of a new
// transaction, on both the source and destination side.
type TransactionIndication struct {
	TransactionID            cfdp.TransactionID
	OriginatingTransactionID *cfdp.TransactionID
}

// EOFSentIndication fires on the source side immediately after an EOF PDU
// is queued for transmission.
type EOFSentIndication struct {
	TransactionID cfdp.TransactionID
}

// MetadataRecvIndication fires on the destination side once the Metadata
// PDU has been processed, before any file-segment-recv indication.
type MetadataRecvIndication struct {
	TransactionID  cfdp.TransactionID
	SourceFilePath string
	DestFilePath   string
	FileSize       uint64
}

// FileSegmentRecvIndication fires on the destination side for every File
// Data PDU applied to the file.
type FileSegmentRecvIndication struct {
	TransactionID cfdp.TransactionID
	Offset        uint64
	Length        uint64
}

// TransactionFinishedIndication fires exactly once per transaction, on
// both sides, as the handler enters NOTICE_OF_COMPLETION. A transaction
// abandoned under the ABANDON fault policy gets an AbandonedIndication
// instead.
type TransactionFinishedIndication struct {
	TransactionID cfdp.TransactionID
	ConditionCode cfdp.ConditionCode
	DeliveryCode  cfdp.DeliveryCode
	FileStatus    cfdp.FileStatus
}

// FaultIndication fires at most once per transaction, strictly before the
// matching TransactionFinishedIndication, whenever a protocol fault is
// declared.
type FaultIndication struct {
	TransactionID cfdp.TransactionID
	ConditionCode cfdp.ConditionCode
	Progress      uint64
}

// AbandonedIndication fires when a fault handler policy of ABANDON tears a
// transaction down without a Finished/EOF close-out exchange.
type AbandonedIndication struct {
	TransactionID cfdp.TransactionID
	ConditionCode cfdp.ConditionCode
}

// ResumedIndication is part of the callback interface for forward
// compatibility with a future suspend/resume implementation; this core
// never invokes it, since transfer suspension is out of scope.
type ResumedIndication struct {
	TransactionID cfdp.TransactionID
}

// Callbacks is the indication surface a caller implements and passes to a
// Source or Destination Handler constructor.
type Callbacks interface {
	TransactionIndication(TransactionIndication)
	EOFSentIndication(EOFSentIndication)
	MetadataRecvIndication(MetadataRecvIndication)
	FileSegmentRecvIndication(FileSegmentRecvIndication)
	TransactionFinishedIndication(TransactionFinishedIndication)
	FaultIndication(FaultIndication)
	AbandonedIndication(AbandonedIndication)
	ResumedIndication(ResumedIndication)
}

// NoOpCallbacks implements Callbacks with no-op methods, for callers that
// only care about a subset of indications via embedding.
type NoOpCallbacks struct{}

func (NoOpCallbacks) TransactionIndication(TransactionIndication)                 {}
func (NoOpCallbacks) EOFSentIndication(EOFSentIndication)                         {}
func (NoOpCallbacks) MetadataRecvIndication(MetadataRecvIndication)               {}
func (NoOpCallbacks) FileSegmentRecvIndication(FileSegmentRecvIndication)         {}
func (NoOpCallbacks) TransactionFinishedIndication(TransactionFinishedIndication) {}
func (NoOpCallbacks) FaultIndication(FaultIndication)                             {}
func (NoOpCallbacks) AbandonedIndication(AbandonedIndication)                     {}
func (NoOpCallbacks) ResumedIndication(ResumedIndication)                         {}
