// Package destination implements the CFDP Destination Handler state
// machine: the receiver side of a file transfer. A Handler may track
// multiple concurrent transactions (one per distinct inbound transaction
// ID), since a receiver commonly serves several simultaneous senders.
package destination

import (
	"hash"
	"time"

	"github.com/avaneesh92/cfdp-go/pkg/cfdp"
	"github.com/avaneesh92/cfdp-go/pkg/countdown"
	"github.com/avaneesh92/cfdp-go/pkg/filestore"
	"github.com/avaneesh92/cfdp-go/internal/logger"
	"github.com/avaneesh92/cfdp-go/pkg/intervalset"
	"github.com/avaneesh92/cfdp-go/pkg/mib"
	"github.com/avaneesh92/cfdp-go/pkg/user"
)

// FsmResult describes the outcome of one StateMachine call for one
// transaction.
type FsmResult struct {
	TransactionID    cfdp.TransactionID
	Step             cfdp.DestStep
	PacketReady      bool
	PacketsSentCount int
	FaultFired       *cfdp.ConditionCode
}

type transaction struct {
	id     cfdp.TransactionID
	remote *mib.RemoteEntityConfig

	step cfdp.DestStep
	mode cfdp.TransmissionMode

	metadataReceived bool
	closureRequested bool
	checksumType     cfdp.ChecksumType
	declaredFileSize uint64
	sourcePath       string
	destPath         string
	filestoreReqs    []cfdp.FilestoreRequest

	writeHandle filestore.Handle
	received    *intervalset.Set
	// contiguousValid and runningNextOffset track an incrementally
	// updated checksum valid only while every byte from offset 0 has
	// arrived in order with no gaps; once a gap is filled in out of
	// order (or data arrived before Metadata told us the checksum type)
	// the checksum is recomputed from the filestore at completion
	// instead.
	contiguousValid   bool
	runningNextOffset uint64
	runningHash       hash.Hash32
	runningModularSum uint32
	senderChecksum    uint32
	eofReceived       bool

	conditionCode cfdp.ConditionCode
	deliveryCode  cfdp.DeliveryCode
	fileStatus    cfdp.FileStatus
	faultLocation *cfdp.EntityID
	faultFired    *cfdp.ConditionCode

	cancelRequested bool
	cancelHandled   bool

	nakTimer     countdown.Timer
	nakRetries   uint32
	checkTimer   countdown.Timer
	checkRetries uint32
	ackTimer     countdown.Timer
	ackRetries   uint32
}

// Handler is the Destination Handler state machine.
type Handler struct {
	localID   cfdp.EntityID
	mibTable  *mib.Table
	fs        filestore.Filestore
	callbacks user.Callbacks
	log       logger.Logger

	txs    map[uint64]*transaction
	outbox map[uint64][]cfdp.PDU
}

// New builds a Destination Handler.
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
		txs:       make(map[uint64]*transaction),
		outbox:    make(map[uint64][]cfdp.PDU),
	}
}

func (h *Handler) queue(id cfdp.TransactionID, pdu cfdp.PDU) {
	h.outbox[id.SequenceNumber] = append(h.outbox[id.SequenceNumber], pdu)
}

// GetNextPDU pops and returns the next outbound PDU for the given
// transaction, if any.
func (h *Handler) GetNextPDU(id cfdp.TransactionID) (cfdp.PDU, bool) {
	q := h.outbox[id.SequenceNumber]
	if len(q) == 0 {
		return nil, false
	}
	pdu := q[0]
	h.outbox[id.SequenceNumber] = q[1:]
	return pdu, true
}

// Step returns a transaction's current step, or DestIdle if unknown.
func (h *Handler) Step(id cfdp.TransactionID) cfdp.DestStep {
	tx, ok := h.txs[id.SequenceNumber]
	if !ok {
		return cfdp.DestIdle
	}
	return tx.step
}

// Progress returns the number of contiguous bytes received from offset 0,
// or 0 if the transaction is unknown.
func (h *Handler) Progress(id cfdp.TransactionID) uint64 {
	tx, ok := h.txs[id.SequenceNumber]
	if !ok || tx.received == nil {
		return 0
	}
	ranges := tx.received.Ranges()
	if len(ranges) == 0 || ranges[0].Start != 0 {
		return 0
	}
	return ranges[0].End
}

// CancelRequest marks a transaction for cancellation, effective at the
// next StateMachine call for that transaction.
func (h *Handler) CancelRequest(id cfdp.TransactionID) error {
	tx, ok := h.txs[id.SequenceNumber]
	if !ok {
		return ErrNotActive
	}
	tx.cancelRequested = true
	return nil
}

// StateMachine advances every tracked transaction by one unit of work. If
// pkt is non-nil it is routed to the transaction it names, adopting a new
// transaction if the destination entity ID matches ours and the
// transaction is not already known. Only the result for the transaction
// pkt names (or, with a nil pkt, an arbitrary tracked transaction needing
// timer-driven work) is returned; callers typically loop this call until
// every tracked transaction is IDLE.
func (h *Handler) StateMachine(now time.Time, pkt cfdp.PDU) (FsmResult, error) {
	var target *transaction

	if pkt != nil {
		if dest, ok := destEntityOf(pkt); ok && dest.Equal(h.localID) {
			txID := pkt.TxID()
			tx, known := h.txs[txID.SequenceNumber]
			if !known {
				tx = h.adopt(txID)
			}
			target = tx
			h.routeInbound(now, tx, pkt)
		}
	}

	if target == nil {
		target = h.anyPendingTransaction()
	}
	if target == nil {
		return FsmResult{Step: cfdp.DestIdle}, nil
	}

	packetsBefore := len(h.outbox[target.id.SequenceNumber])

	if target.cancelRequested && !target.cancelHandled {
		h.beginCancellation(target)
	}

	h.driveStep(now, target)

	result := FsmResult{
		TransactionID:    target.id,
		Step:             target.step,
		PacketReady:      len(h.outbox[target.id.SequenceNumber]) > 0,
		PacketsSentCount: len(h.outbox[target.id.SequenceNumber]) - packetsBefore,
		FaultFired:       target.faultFired,
	}
	target.faultFired = nil

	if target.step == cfdp.DestIdle {
		delete(h.txs, target.id.SequenceNumber)
		delete(h.outbox, target.id.SequenceNumber)
	}
	return result, nil
}

func (h *Handler) anyPendingTransaction() *transaction {
	for _, tx := range h.txs {
		if tx.step != cfdp.DestWaitingForMissingData {
			return tx
		}
	}
	for _, tx := range h.txs {
		return tx
	}
	return nil
}

func destEntityOf(pkt cfdp.PDU) (cfdp.EntityID, bool) {
	switch p := pkt.(type) {
	case cfdp.MetadataPDU:
		return p.DestEntityID, true
	case cfdp.FileDataPDU:
		return p.DestEntityID, true
	case cfdp.EOFPDU:
		return p.DestEntityID, true
	case cfdp.AckPDU:
		return p.DestEntityID, true
	case cfdp.NakPDU:
		return p.DestEntityID, true
	case cfdp.FinishedPDU:
		return p.DestEntityID, true
	default:
		return cfdp.EntityID{}, false
	}
}

func (h *Handler) adopt(id cfdp.TransactionID) *transaction {
	remote, err := h.mibTable.Remote(id.Source)
	var remoteCfg *mib.RemoteEntityConfig
	if err == nil {
		remoteCfg = remote
	} else {
		remoteCfg = &mib.RemoteEntityConfig{EntityID: id.Source}
	}
	tx := &transaction{
		id:           id,
		remote:       remoteCfg,
		mode:         remoteCfg.DefaultTransmissionMode,
		step:         cfdp.DestTransactionStart,
		received:     intervalset.New(),
		deliveryCode: cfdp.DeliveryIncomplete,
		fileStatus:   cfdp.FileStatusUnreported,
	}
	h.txs[id.SequenceNumber] = tx
	h.callbacks.TransactionIndication(user.TransactionIndication{TransactionID: id})
	h.log.Info("Destination %s: adopted new transaction", id)
	return tx
}

func (h *Handler) routeInbound(now time.Time, tx *transaction, pkt cfdp.PDU) {
	switch p := pkt.(type) {
	case cfdp.MetadataPDU:
		h.onMetadata(tx, p)
	case cfdp.FileDataPDU:
		h.onFileData(tx, p)
	case cfdp.EOFPDU:
		h.onEOF(now, tx, p)
	case cfdp.AckPDU:
		if p.AckedPDU == cfdp.AckOfFinished && tx.step == cfdp.DestWaitingForFinishedAck {
			if tx.ackTimer != nil {
				tx.ackTimer.Stop()
			}
			tx.step = cfdp.DestNoticeOfCompletion
		}
	}
}
