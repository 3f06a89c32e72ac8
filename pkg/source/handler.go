// Package source implements the CFDP Source Handler state machine: the
// sender side of a file transfer. A Handler drives exactly one transaction
// at a time from put_request through NOTICE_OF_COMPLETION, producing
// outbound PDUs and consuming inbound ACK/NAK/Finished PDUs via
// StateMachine. The handler never blocks and never reads wall time itself;
// every timing decision is a function of the `now` argument the caller
// supplies.
package source

import (
	"fmt"
	"time"

	"github.com/avaneesh92/cfdp-go/pkg/cfdp"
	"github.com/avaneesh92/cfdp-go/pkg/countdown"
	"github.com/avaneesh92/cfdp-go/pkg/filestore"
	"github.com/avaneesh92/cfdp-go/internal/logger"
	"github.com/avaneesh92/cfdp-go/pkg/mib"
	"github.com/avaneesh92/cfdp-go/pkg/user"
)

// FsmResult describes the outcome of one StateMachine call.
type FsmResult struct {
	Step             cfdp.SourceStep
	PacketReady      bool
	PacketsSentCount int
	FaultFired       *cfdp.ConditionCode
}

// transaction holds all per-transfer state for the Source Handler.
type transaction struct {
	id               cfdp.TransactionID
	remote           *mib.RemoteEntityConfig
	req              cfdp.PutRequest
	mode             cfdp.TransmissionMode
	checksumType     cfdp.ChecksumType
	closureRequested bool
	maxSegLen        uint32

	step cfdp.SourceStep

	readHandle filestore.Handle
	fileSize   uint64
	offset     uint64
	checksum   uint32

	conditionCode cfdp.ConditionCode
	deliveryCode  cfdp.DeliveryCode
	faultLocation *cfdp.EntityID
	faultFired    *cfdp.ConditionCode

	cancelRequested bool
	cancelHandled   bool

	outstandingNAKs []cfdp.ByteRange

	ackTimer   countdown.Timer
	ackRetries uint32
}

// Handler is the Source Handler state machine.
type Handler struct {
	localID   cfdp.EntityID
	mibTable  *mib.Table
	fs        filestore.Filestore
	callbacks user.Callbacks
	log       logger.Logger

	nextSeq uint64
	tx      *transaction
	outbox  []cfdp.PDU
}

// New builds a Source Handler. log may be nil, in which case a no-op
// logger is used.
func New(localID cfdp.EntityID, mibTable *mib.Table, fs filestore.Filestore, callbacks user.Callbacks, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Handler{
		localID:   localID,
		mibTable:  mibTable,
		fs:        fs,
		callbacks: callbacks,
		log:       log,
		nextSeq:   1,
	}
}

func (h *Handler) String() string {
	if h.tx == nil {
		return "source.Handler(idle)"
	}
	return fmt.Sprintf("source.Handler(%s, %s)", h.tx.id, h.tx.step)
}

// PutRequest admits a new transfer. It fails with ErrBusy if a transaction
// is already in progress.
func (h *Handler) PutRequest(req cfdp.PutRequest) (cfdp.TransactionID, error) {
	if h.tx != nil {
		return cfdp.TransactionID{}, ErrBusy
	}

	remote, err := h.mibTable.Remote(req.DestEntityID)
	if err != nil {
		return cfdp.TransactionID{}, fmt.Errorf("%w: %v", ErrUnknownRemote, err)
	}

	if req.SourceFilePath != "" && !h.fs.FileExists(req.SourceFilePath) {
		return cfdp.TransactionID{}, ErrSourceFileNotFound
	}

	// Both entity IDs named in a PDU header must share one wire width, the
	// wider of the two; re-stamp the local and destination entity IDs at
	// that common width before they reach any PDU this transaction emits.
	pduWidth := cfdp.PDUWidth(h.localID, req.DestEntityID)
	localForPDU, err := cfdp.NewEntityID(pduWidth, h.localID.Uint64())
	if err != nil {
		return cfdp.TransactionID{}, fmt.Errorf("source: %w", err)
	}
	destForPDU, err := cfdp.NewEntityID(pduWidth, req.DestEntityID.Uint64())
	if err != nil {
		return cfdp.TransactionID{}, fmt.Errorf("source: %w", err)
	}
	req.DestEntityID = destForPDU

	txID := cfdp.TransactionID{Source: localForPDU, SequenceNumber: h.nextSeq}
	h.nextSeq++

	mode := remote.DefaultTransmissionMode
	if req.TransmissionMode != nil {
		mode = *req.TransmissionMode
	}

	closure := remote.ClosureRequestedByDefault
	if req.ClosureRequested != nil {
		closure = *req.ClosureRequested
	}

	var fileSize uint64
	if req.SourceFilePath != "" {
		fileSize, err = h.fs.FileSize(req.SourceFilePath)
		if err != nil {
			return cfdp.TransactionID{}, fmt.Errorf("source: %w", err)
		}
	}

	checksumType := remote.DefaultChecksumType
	if req.ChecksumType != nil {
		checksumType = *req.ChecksumType
	} else if fileSize == 0 {
		checksumType = cfdp.ChecksumNull
	}

	maxSegLen := remote.MaxFileSegmentLen
	if req.MaxFileSegmentLen != nil {
		maxSegLen = *req.MaxFileSegmentLen
	}
	if maxSegLen == 0 {
		maxSegLen = 1024
	}

	// A Put Request's fault handler overrides apply only to this
	// transaction; merge them onto a copy of the MIB's table so declareFault
	// (via tx.remote.FaultHandlerPolicyFor) sees the per-transaction policy
	// without mutating the shared RemoteEntityConfig.
	if len(req.FaultHandlerOverrides) > 0 {
		merged := make(map[cfdp.ConditionCode]cfdp.FaultHandlerPolicy, len(remote.FaultHandlerOverrides)+len(req.FaultHandlerOverrides))
		for code, policy := range remote.FaultHandlerOverrides {
			merged[code] = policy
		}
		for code, policy := range req.FaultHandlerOverrides {
			merged[code] = policy
		}
		effective := *remote
		effective.FaultHandlerOverrides = merged
		remote = &effective
	}

	var readHandle filestore.Handle
	if req.SourceFilePath != "" {
		readHandle, err = h.fs.OpenRead(req.SourceFilePath)
		if err != nil {
			return cfdp.TransactionID{}, fmt.Errorf("source: %w", err)
		}
	}

	tx := &transaction{
		id:               txID,
		remote:           remote,
		req:              req,
		mode:             mode,
		checksumType:     checksumType,
		closureRequested: closure,
		maxSegLen:        maxSegLen,
		step:             cfdp.SourceCRCProcedure,
		readHandle:       readHandle,
		fileSize:         fileSize,
		deliveryCode:     cfdp.DeliveryComplete,
	}
	h.tx = tx

	h.callbacks.TransactionIndication(user.TransactionIndication{
		TransactionID:            txID,
		OriginatingTransactionID: req.OriginatingTransactionID,
	})

	h.log.Info("Source %s: put request accepted, mode=%s checksum=%s", txID, mode, checksumType)
	return txID, nil
}

// CancelRequest marks the active transaction (if any) for cancellation.
// The cancellation takes effect at the next StateMachine call. It is
// idempotent: cancelling an already-cancelled transaction changes nothing.
// It returns ErrNotActive when there is no active transaction, or when
// txID is non-nil and names a different transaction.
func (h *Handler) CancelRequest(txID *cfdp.TransactionID) error {
	if h.tx == nil {
		return ErrNotActive
	}
	if txID != nil && !h.tx.id.Equal(*txID) {
		return ErrNotActive
	}
	h.tx.cancelRequested = true
	return nil
}

// GetNextPDU pops and returns the next outbound PDU, if any.
func (h *Handler) GetNextPDU() (cfdp.PDU, bool) {
	if len(h.outbox) == 0 {
		return nil, false
	}
	pdu := h.outbox[0]
	h.outbox = h.outbox[1:]
	return pdu, true
}

func (h *Handler) queue(pdu cfdp.PDU) {
	h.outbox = append(h.outbox, pdu)
}

// Progress returns bytes transferred so far in the active transaction.
func (h *Handler) Progress() uint64 {
	if h.tx == nil {
		return 0
	}
	return h.tx.offset
}

// FileSize returns the active transaction's declared file size.
func (h *Handler) FileSize() uint64 {
	if h.tx == nil {
		return 0
	}
	return h.tx.fileSize
}

// TransactionID returns the active transaction's ID, if any.
func (h *Handler) TransactionID() (cfdp.TransactionID, bool) {
	if h.tx == nil {
		return cfdp.TransactionID{}, false
	}
	return h.tx.id, true
}

// Step returns the active transaction's step, or SourceIdle if none.
func (h *Handler) Step() cfdp.SourceStep {
	if h.tx == nil {
		return cfdp.SourceIdle
	}
	return h.tx.step
}

// StateMachine advances the handler by one unit of work, optionally
// consuming one inbound PDU, and returns promptly.
func (h *Handler) StateMachine(now time.Time, pkt cfdp.PDU) (FsmResult, error) {
	if h.tx == nil {
		return FsmResult{Step: cfdp.SourceIdle}, nil
	}
	tx := h.tx
	packetsBefore := len(h.outbox)

	if tx.cancelRequested && !tx.cancelHandled {
		h.beginCancellation(now)
	}

	if pkt != nil {
		h.handleInboundPacket(now, pkt)
	}

	switch tx.step {
	case cfdp.SourceCRCProcedure:
		h.runCRCProcedure()
	case cfdp.SourceSendingMetadata:
		h.sendMetadata()
	case cfdp.SourceSendingFileData:
		h.sendNextFileDataSegment()
	case cfdp.SourceRetransmitting:
		h.sendNextRetransmission()
	case cfdp.SourceSendingEOF:
		h.sendEOF(now)
	case cfdp.SourceWaitingForEOFAck:
		h.checkEOFAckTimer(now)
	case cfdp.SourceWaitingForFinished:
		// Waiting for an inbound NAK or Finished PDU; nothing to drive.
	case cfdp.SourceSendingAckOfFinished:
		h.sendAckOfFinished()
	case cfdp.SourceNoticeOfCompletion:
		h.completeTransaction()
	}

	result := FsmResult{
		Step:             tx.step,
		PacketReady:      len(h.outbox) > 0,
		PacketsSentCount: len(h.outbox) - packetsBefore,
		FaultFired:       tx.faultFired,
	}
	tx.faultFired = nil

	if h.tx != nil && h.tx.step == cfdp.SourceIdle {
		h.tx = nil
	}
	return result, nil
}
