package cfdp

import "math"

// IsLargeFile reports whether a file of the given size requires the CFDP
// Large File Flag to be set: the flag a downstream PDU encoder must carry
// whenever the declared file size exceeds what a 32-bit file-size field can
// hold.
func IsLargeFile(fileSize uint64) bool { return fileSize > math.MaxUint32 }

// ByteRange is a half-open byte range [Start, End) within a file, used both
// for File Data PDU placement and for NAK segment requests. The pair
// (0, 0) is the reserved "retransmit Metadata" NAK request.
type ByteRange struct {
	Start uint64
	End   uint64
}

// Len reports the number of bytes covered by the range.
func (r ByteRange) Len() uint64 { return r.End - r.Start }

// IsMetadataRequest reports whether this range is the reserved (0,0)
// Metadata-retransmission request.
func (r ByteRange) IsMetadataRequest() bool { return r.Start == 0 && r.End == 0 }

// MessageToUser is an opaque, already-typed message passed through a
// Metadata PDU's message-to-user list (e.g. proxy-put parameters).
type MessageToUser struct {
	Data []byte
}

// FilestoreRequest is one request drawn from a Metadata PDU's filestore
// request list, applied in order by the destination handler at completion.
type FilestoreRequestAction uint8

const (
	FilestoreActionCreateFile FilestoreRequestAction = iota
	FilestoreActionDeleteFile
	FilestoreActionRenameFile
	FilestoreActionAppendFile
	FilestoreActionReplaceFile
	FilestoreActionCreateDirectory
	FilestoreActionRemoveDirectory
	FilestoreActionDenyFile
	FilestoreActionDenyDirectory
)

type FilestoreRequest struct {
	Action     FilestoreRequestAction
	FirstPath  string
	SecondPath string
}

// MetadataPDU is the first PDU of a transaction, carrying file paths, size,
// checksum type, and the user/filestore request lists.
type MetadataPDU struct {
	TransactionID     TransactionID
	DestEntityID      EntityID
	TransmissionMode  TransmissionMode
	ClosureRequested  bool
	ChecksumType      ChecksumType
	FileSize          uint64
	LargeFile         bool
	SourceFilePath    string
	DestFilePath      string
	MessagesToUser    []MessageToUser
	FilestoreRequests []FilestoreRequest
}

// FileDataPDU carries one contiguous segment of file content at a given
// offset.
type FileDataPDU struct {
	TransactionID TransactionID
	DestEntityID  EntityID
	Offset        uint64
	Data          []byte
	LargeFile     bool
}

// EOFPDU marks the end of file data from the sender, or a cancellation.
type EOFPDU struct {
	TransactionID TransactionID
	DestEntityID  EntityID
	ConditionCode ConditionCode
	Checksum      uint32
	FileSize      uint64
	LargeFile     bool
	FaultLocation *EntityID
}

// FinishedPDU is the receiver's closing PDU.
type FinishedPDU struct {
	TransactionID TransactionID
	DestEntityID  EntityID
	ConditionCode ConditionCode
	DeliveryCode  DeliveryCode
	FileStatus    FileStatus
	LargeFile     bool
	FaultLocation *EntityID
}

// AckPDU acknowledges either an EOF or a Finished PDU.
type AckedPDUType uint8

const (
	AckOfEOF AckedPDUType = iota
	AckOfFinished
)

type AckPDU struct {
	TransactionID      TransactionID
	DestEntityID       EntityID
	AckedPDU           AckedPDUType
	AckedConditionCode ConditionCode
	LargeFile          bool
}

// NakPDU lists byte ranges still missing at the receiver.
type NakPDU struct {
	TransactionID TransactionID
	DestEntityID  EntityID
	ScopeStart    uint64
	ScopeEnd      uint64
	MissingRanges []ByteRange
	LargeFile     bool
}

// PDU is implemented by every typed PDU value the handlers exchange. It
// exists so get_next_pdu() can return a single outbound value without the
// caller needing a type switch for the common case of just shuttling bytes
// wholesale between handlers; callers that need to branch on kind do a type
// assertion against the concrete PDU struct.
type PDU interface {
	TxID() TransactionID
}

func (p MetadataPDU) TxID() TransactionID  { return p.TransactionID }
func (p FileDataPDU) TxID() TransactionID  { return p.TransactionID }
func (p EOFPDU) TxID() TransactionID       { return p.TransactionID }
func (p FinishedPDU) TxID() TransactionID  { return p.TransactionID }
func (p AckPDU) TxID() TransactionID       { return p.TransactionID }
func (p NakPDU) TxID() TransactionID       { return p.TransactionID }

// PutRequest is the input to the Source Handler that starts a new
// transaction. Optional fields use explicit pointer/nil markers so "absent"
// (fall back to MIB default) is distinguishable from an explicit zero
// value.
type PutRequest struct {
	DestEntityID          EntityID
	SourceFilePath        string // empty => metadata-only PDU
	DestFilePath          string
	TransmissionMode      *TransmissionMode
	ClosureRequested      *bool
	ChecksumType          *ChecksumType
	MaxFileSegmentLen     *uint32
	FlowLabel             []byte
	FaultHandlerOverrides map[ConditionCode]FaultHandlerPolicy
	MessagesToUser        []MessageToUser
	FilestoreRequests     []FilestoreRequest
	// OriginatingTransactionID threads a proxy-put's original transaction
	// ID through to the transaction-indication callback; nil for ordinary
	// (non-proxied) put requests.
	OriginatingTransactionID *TransactionID
}
