package source

import (
	"time"

	"github.com/avaneesh92/cfdp-go/pkg/cfdp"
	"github.com/avaneesh92/cfdp-go/pkg/user"
)

func (h *Handler) runCRCProcedure() {
	tx := h.tx
	checksum, err := h.fs.CalculateChecksum(tx.checksumType, tx.req.SourceFilePath, 0, tx.fileSize)
	if err != nil {
		h.declareFault(cfdp.FilestoreRejection)
		return
	}
	tx.checksum = checksum
	tx.step = cfdp.SourceSendingMetadata
}

func (h *Handler) sendMetadata() {
	tx := h.tx
	h.queue(cfdp.MetadataPDU{
		TransactionID:     tx.id,
		DestEntityID:      tx.req.DestEntityID,
		TransmissionMode:  tx.mode,
		ClosureRequested:  tx.closureRequested,
		ChecksumType:      tx.checksumType,
		FileSize:          tx.fileSize,
		LargeFile:         cfdp.IsLargeFile(tx.fileSize),
		SourceFilePath:    tx.req.SourceFilePath,
		DestFilePath:      tx.req.DestFilePath,
		MessagesToUser:    tx.req.MessagesToUser,
		FilestoreRequests: tx.req.FilestoreRequests,
	})
	if tx.fileSize == 0 {
		tx.step = cfdp.SourceSendingEOF
	} else {
		tx.step = cfdp.SourceSendingFileData
	}
}

func (h *Handler) sendNextFileDataSegment() {
	tx := h.tx
	if tx.offset >= tx.fileSize {
		tx.step = cfdp.SourceSendingEOF
		return
	}
	length := tx.maxSegLen
	remaining := tx.fileSize - tx.offset
	if uint64(length) > remaining {
		length = uint32(remaining)
	}
	data, err := h.fs.ReadAt(tx.readHandle, tx.offset, length)
	if err != nil {
		h.declareFault(cfdp.FilestoreRejection)
		return
	}
	h.queue(cfdp.FileDataPDU{
		TransactionID: tx.id,
		DestEntityID:  tx.req.DestEntityID,
		Offset:        tx.offset,
		Data:          data,
		LargeFile:     cfdp.IsLargeFile(tx.fileSize),
	})
	tx.offset += uint64(len(data))
	if tx.offset >= tx.fileSize {
		tx.step = cfdp.SourceSendingEOF
	}
}

func (h *Handler) sendNextRetransmission() {
	tx := h.tx
	if len(tx.outstandingNAKs) == 0 {
		tx.step = cfdp.SourceWaitingForFinished
		return
	}
	rng := tx.outstandingNAKs[0]
	tx.outstandingNAKs = tx.outstandingNAKs[1:]

	if rng.IsMetadataRequest() {
		h.sendMetadata()
		tx.step = cfdp.SourceRetransmitting
		return
	}

	length := uint64(tx.maxSegLen)
	if length == 0 || length > rng.Len() {
		length = rng.Len()
	}
	data, err := h.fs.ReadAt(tx.readHandle, rng.Start, uint32(length))
	if err != nil {
		h.declareFault(cfdp.FilestoreRejection)
		return
	}
	h.queue(cfdp.FileDataPDU{
		TransactionID: tx.id,
		DestEntityID:  tx.req.DestEntityID,
		Offset:        rng.Start,
		Data:          data,
		LargeFile:     cfdp.IsLargeFile(tx.fileSize),
	})
	if rng.Start+uint64(len(data)) < rng.End {
		tx.outstandingNAKs = append([]cfdp.ByteRange{{Start: rng.Start + uint64(len(data)), End: rng.End}}, tx.outstandingNAKs...)
	}
}

func (h *Handler) sendEOF(now time.Time) {
	tx := h.tx
	h.queue(cfdp.EOFPDU{
		TransactionID: tx.id,
		DestEntityID:  tx.req.DestEntityID,
		ConditionCode: tx.conditionCode,
		Checksum:      tx.checksum,
		FileSize:      tx.offset,
		LargeFile:     cfdp.IsLargeFile(tx.fileSize),
		FaultLocation: tx.faultLocation,
	})
	h.callbacks.EOFSentIndication(user.EOFSentIndication{TransactionID: tx.id})

	switch {
	case tx.mode == cfdp.Class1 && !tx.closureRequested:
		tx.step = cfdp.SourceNoticeOfCompletion
	case tx.mode == cfdp.Class1 && tx.closureRequested:
		tx.step = cfdp.SourceWaitingForFinished
	default: // Class2
		h.armACKTimer(now)
		tx.step = cfdp.SourceWaitingForEOFAck
	}
}

func (h *Handler) armACKTimer(now time.Time) {
	tx := h.tx
	if tx.ackTimer == nil {
		tx.ackTimer = tx.remote.TimerFactory(tx.remote.ACKTimerInterval)
	}
	tx.ackTimer.Reset(now)
}

func (h *Handler) checkEOFAckTimer(now time.Time) {
	tx := h.tx
	if tx.ackTimer == nil || !tx.ackTimer.HasExpired(now) {
		return
	}
	tx.ackRetries++
	if tx.ackRetries > tx.remote.ACKTimerLimit {
		if tx.cancelHandled {
			// The EOF(Cancel) went unacknowledged as well; close out
			// without declaring a second fault.
			tx.step = cfdp.SourceNoticeOfCompletion
			return
		}
		h.declareFault(cfdp.PositiveACKLimitReached)
		return
	}
	h.sendEOF(now)
}

func (h *Handler) sendAckOfFinished() {
	tx := h.tx
	h.queue(cfdp.AckPDU{
		TransactionID:      tx.id,
		DestEntityID:       tx.req.DestEntityID,
		AckedPDU:           cfdp.AckOfFinished,
		AckedConditionCode: tx.conditionCode,
		LargeFile:          cfdp.IsLargeFile(tx.fileSize),
	})
	tx.step = cfdp.SourceNoticeOfCompletion
}

func (h *Handler) completeTransaction() {
	tx := h.tx
	h.fs.Close(tx.readHandle)
	h.callbacks.TransactionFinishedIndication(user.TransactionFinishedIndication{
		TransactionID: tx.id,
		ConditionCode: tx.conditionCode,
		DeliveryCode:  tx.deliveryCode,
		FileStatus:    cfdp.FileStatusRetained,
	})
	tx.step = cfdp.SourceIdle
}

func (h *Handler) handleInboundPacket(now time.Time, pkt cfdp.PDU) {
	tx := h.tx
	if tx == nil || !pkt.TxID().Equal(tx.id) {
		return
	}
	switch p := pkt.(type) {
	case cfdp.AckPDU:
		if p.AckedPDU == cfdp.AckOfEOF && tx.step == cfdp.SourceWaitingForEOFAck {
			if tx.ackTimer != nil {
				tx.ackTimer.Stop()
			}
			tx.ackRetries = 0
			tx.step = cfdp.SourceWaitingForFinished
		}
	case cfdp.NakPDU:
		if tx.step == cfdp.SourceWaitingForFinished {
			tx.outstandingNAKs = append(tx.outstandingNAKs, p.MissingRanges...)
			tx.step = cfdp.SourceRetransmitting
		}
	case cfdp.FinishedPDU:
		if tx.step == cfdp.SourceWaitingForFinished {
			if tx.ackTimer != nil {
				tx.ackTimer.Stop()
			}
			tx.conditionCode = p.ConditionCode
			tx.deliveryCode = p.DeliveryCode
			tx.step = cfdp.SourceSendingAckOfFinished
		}
	}
}

// declareFault records a protocol fault and dispatches it per the remote
// entity's fault handler policy. ABANDON tears the transaction down
// without a Finished/EOF close-out exchange; every other policy routes
// through the normal cancellation closure path so the peer still observes
// a well-formed EOF(Cancel)/Finished exchange.
func (h *Handler) declareFault(code cfdp.ConditionCode) {
	tx := h.tx
	fired := code
	tx.faultFired = &fired
	h.callbacks.FaultIndication(user.FaultIndication{
		TransactionID: tx.id,
		ConditionCode: code,
		Progress:      tx.offset,
	})

	policy := tx.remote.FaultHandlerPolicyFor(code)
	if policy == cfdp.PolicyAbandon {
		h.fs.Close(tx.readHandle)
		h.callbacks.AbandonedIndication(user.AbandonedIndication{TransactionID: tx.id, ConditionCode: code})
		tx.step = cfdp.SourceIdle
		return
	}

	tx.conditionCode = code
	local := h.localID
	tx.faultLocation = &local
	tx.deliveryCode = cfdp.DeliveryIncomplete
	tx.cancelRequested = true
}

func (h *Handler) beginCancellation(now time.Time) {
	tx := h.tx
	tx.cancelHandled = true
	// declareFault already recorded the fault's own condition code before
	// setting cancelRequested; only an explicit CancelRequest call (which
	// never touches conditionCode) leaves it at NoError here.
	if tx.conditionCode == cfdp.NoError {
		tx.conditionCode = cfdp.CancelRequestReceived
	}
	local := h.localID
	tx.faultLocation = &local
	tx.deliveryCode = cfdp.DeliveryIncomplete

	checksum, err := h.fs.CalculateChecksum(tx.checksumType, tx.req.SourceFilePath, 0, tx.offset)
	if err == nil {
		tx.checksum = checksum
	}

	h.queue(cfdp.EOFPDU{
		TransactionID: tx.id,
		DestEntityID:  tx.req.DestEntityID,
		ConditionCode: tx.conditionCode,
		Checksum:      tx.checksum,
		FileSize:      tx.offset,
		LargeFile:     cfdp.IsLargeFile(tx.fileSize),
		FaultLocation: tx.faultLocation,
	})
	h.callbacks.EOFSentIndication(user.EOFSentIndication{TransactionID: tx.id})

	if tx.mode == cfdp.Class1 {
		tx.step = cfdp.SourceNoticeOfCompletion
	} else {
		h.armACKTimer(now)
		tx.step = cfdp.SourceWaitingForEOFAck
	}
}
