package destination

import (
	"hash/crc32"
	"time"

	"github.com/avaneesh92/cfdp-go/pkg/cfdp"
	"github.com/avaneesh92/cfdp-go/pkg/filestore"
	"github.com/avaneesh92/cfdp-go/pkg/user"
)

func (h *Handler) onMetadata(tx *transaction, p cfdp.MetadataPDU) {
	if tx.metadataReceived {
		// Duplicate Metadata: ignore if identical, otherwise a malformed
		// restart of the same transaction is a structural fault.
		dupDestPath := p.DestFilePath
		if h.fs.IsDirectory(dupDestPath) {
			dupDestPath = dupDestPath + "/" + filestore.FilenameFromPath(p.SourceFilePath)
		}
		if tx.sourcePath != p.SourceFilePath || tx.destPath != dupDestPath || tx.declaredFileSize != p.FileSize {
			h.declareFault(tx, cfdp.InvalidFileStructure)
		}
		return
	}

	tx.metadataReceived = true
	tx.mode = p.TransmissionMode
	tx.closureRequested = p.ClosureRequested
	tx.checksumType = p.ChecksumType
	tx.declaredFileSize = p.FileSize
	tx.sourcePath = p.SourceFilePath
	tx.filestoreReqs = p.FilestoreRequests

	destPath := p.DestFilePath
	if h.fs.IsDirectory(destPath) {
		destPath = destPath + "/" + filestore.FilenameFromPath(p.SourceFilePath)
	}
	tx.destPath = destPath

	handle, err := h.fs.OpenWrite(destPath, true)
	if err != nil {
		h.declareFault(tx, cfdp.FilestoreRejection)
		return
	}
	tx.writeHandle = handle
	// Only valid to run the incremental checksum if no File Data arrived
	// before we knew the checksum type.
	tx.contiguousValid = tx.received.IsEmpty()
	switch tx.checksumType {
	case cfdp.ChecksumCRC32:
		tx.runningHash = crc32.NewIEEE()
	case cfdp.ChecksumCRC32C:
		tx.runningHash = crc32.New(crc32.MakeTable(crc32.Castagnoli))
	}

	h.callbacks.MetadataRecvIndication(user.MetadataRecvIndication{
		TransactionID:  tx.id,
		SourceFilePath: p.SourceFilePath,
		DestFilePath:   destPath,
		FileSize:       p.FileSize,
	})

	if tx.step == cfdp.DestTransactionStart {
		tx.step = cfdp.DestReceivingFileData
	}
}

func (h *Handler) onFileData(tx *transaction, p cfdp.FileDataPDU) {
	if tx.step == cfdp.DestTransactionStart {
		tx.step = cfdp.DestReceivingFileData
	}
	if tx.step != cfdp.DestReceivingFileData && tx.step != cfdp.DestWaitingForMissingData {
		return
	}
	if !tx.metadataReceived {
		// No file is open until Metadata names it: the segment is not
		// written and its range stays missing.
		return
	}

	if tx.metadataReceived && p.Offset+uint64(len(p.Data)) > tx.declaredFileSize {
		h.declareFault(tx, cfdp.FileSizeError)
		return
	}

	if tx.writeHandle != nil {
		if err := h.fs.WriteAt(tx.writeHandle, p.Offset, p.Data); err != nil {
			h.declareFault(tx, cfdp.FilestoreRejection)
			return
		}
	}

	end := p.Offset + uint64(len(p.Data))
	tx.received.Add(p.Offset, end)

	if tx.contiguousValid {
		if p.Offset == tx.runningNextOffset {
			h.feedRunningChecksum(tx, p.Offset, p.Data)
			tx.runningNextOffset += uint64(len(p.Data))
		} else {
			tx.contiguousValid = false
		}
	}

	h.callbacks.FileSegmentRecvIndication(user.FileSegmentRecvIndication{
		TransactionID: tx.id,
		Offset:        p.Offset,
		Length:        uint64(len(p.Data)),
	})

	if tx.remote.ImmediateNAKMode && tx.mode == cfdp.Class2 && tx.metadataReceived {
		h.emitImmediateNAKIfGapsRemain(tx)
	}

	if tx.eofReceived && tx.metadataReceived && tx.received.Covers(tx.declaredFileSize) {
		tx.step = cfdp.DestTransferCompletion
	}
}

func (h *Handler) emitImmediateNAKIfGapsRemain(tx *transaction) {
	gaps := tx.received.Complement(tx.declaredFileSize)
	if len(gaps) == 0 {
		return
	}
	h.queue(tx.id, cfdp.NakPDU{
		TransactionID: tx.id,
		DestEntityID:  h.localID,
		ScopeStart:    0,
		ScopeEnd:      tx.declaredFileSize,
		MissingRanges: gaps,
		LargeFile:     cfdp.IsLargeFile(tx.declaredFileSize),
	})
}

func (h *Handler) onEOF(now time.Time, tx *transaction, p cfdp.EOFPDU) {
	tx.eofReceived = true
	tx.senderChecksum = p.Checksum
	if tx.declaredFileSize == 0 {
		tx.declaredFileSize = p.FileSize
	}
	if tx.mode == cfdp.Class2 {
		h.queue(tx.id, cfdp.AckPDU{
			TransactionID:      tx.id,
			DestEntityID:       h.localID,
			AckedPDU:           cfdp.AckOfEOF,
			AckedConditionCode: p.ConditionCode,
			LargeFile:          cfdp.IsLargeFile(tx.declaredFileSize),
		})
	}

	if p.ConditionCode.IsFault() {
		// The sender has abandoned the transfer; further waiting for
		// missing data is pointless, so close out straight to Finished
		// with the sender's fault carried through.
		tx.conditionCode = p.ConditionCode
		tx.faultLocation = p.FaultLocation
		tx.deliveryCode = cfdp.DeliveryIncomplete
		if tx.remote.DispositionOnCancellation && tx.destPath != "" {
			h.fs.DeleteFile(tx.destPath)
			tx.fileStatus = cfdp.FileStatusDiscarded
		}
		tx.step = cfdp.DestSendingFinished
		return
	}
	tx.step = cfdp.DestTransferCompletion
}

func (h *Handler) driveStep(now time.Time, tx *transaction) {
	switch tx.step {
	case cfdp.DestTransactionStart, cfdp.DestReceivingFileData:
		// Waiting on inbound PDUs; nothing to drive proactively.
	case cfdp.DestTransferCompletion:
		h.runTransferCompletion(now, tx)
	case cfdp.DestSendingNaks:
		h.sendNaks(now, tx)
	case cfdp.DestWaitingForMissingData:
		h.checkNAKTimer(now, tx)
		h.checkCheckTimer(now, tx)
	case cfdp.DestSendingFinished:
		h.sendFinished(tx)
	case cfdp.DestWaitingForFinishedAck:
		h.checkFinishedAckTimer(now, tx)
	case cfdp.DestNoticeOfCompletion:
		h.completeTransaction(tx)
	}
}

func (h *Handler) runTransferCompletion(now time.Time, tx *transaction) {
	if !tx.metadataReceived {
		// Open question resolved per the original implementation: defer
		// completion until Metadata arrives rather than declaring a
		// structural fault immediately.
		if tx.mode == cfdp.Class2 {
			tx.step = cfdp.DestSendingNaks
		}
		return
	}

	complete := tx.received.Covers(tx.declaredFileSize)
	if complete {
		h.finalizeChecksum(tx)
		if tx.conditionCode == cfdp.NoError {
			tx.deliveryCode = cfdp.DeliveryComplete
		}
		tx.step = cfdp.DestSendingFinished
		return
	}

	if tx.mode == cfdp.Class1 {
		if tx.checkTimer == nil {
			tx.checkTimer = tx.remote.TimerFactory(tx.remote.CheckTimerInterval)
			tx.checkTimer.Reset(now)
		}
		if tx.checkTimer.HasExpired(now) {
			tx.checkRetries++
			if tx.checkRetries > tx.remote.CheckTimerLimit {
				h.declareFault(tx, cfdp.CheckLimitReached)
				return
			}
			tx.checkTimer.Reset(now)
		}
		return
	}

	tx.step = cfdp.DestSendingNaks
}

// feedRunningChecksum extends the incremental checksum accumulator with a
// newly-written, in-order segment. Modular checksums are lane-aligned sums
// of big-endian uint32 words over the whole file, so each byte's
// contribution depends on its absolute file offset, not its position
// within this segment.
func (h *Handler) feedRunningChecksum(tx *transaction, offset uint64, data []byte) {
	switch tx.checksumType {
	case cfdp.ChecksumCRC32, cfdp.ChecksumCRC32C:
		if tx.runningHash != nil {
			tx.runningHash.Write(data)
		}
	case cfdp.ChecksumModular:
		for i, b := range data {
			lane := (offset + uint64(i)) % 4
			word := make([]byte, 4)
			word[lane] = b
			tx.runningModularSum += uint32(word[0])<<24 | uint32(word[1])<<16 | uint32(word[2])<<8 | uint32(word[3])
		}
	}
}

func (h *Handler) finalizeChecksum(tx *transaction) {
	var computed uint32
	var err error
	if tx.contiguousValid && tx.runningNextOffset == tx.declaredFileSize {
		switch tx.checksumType {
		case cfdp.ChecksumCRC32, cfdp.ChecksumCRC32C:
			if tx.runningHash != nil {
				computed = tx.runningHash.Sum32()
			}
		case cfdp.ChecksumModular:
			computed = tx.runningModularSum
		case cfdp.ChecksumNull:
			computed = 0
		}
	} else {
		computed, err = h.fs.CalculateChecksum(tx.checksumType, tx.destPath, 0, tx.declaredFileSize)
	}
	if err != nil {
		h.declareFault(tx, cfdp.FilestoreRejection)
		return
	}
	if computed != tx.senderChecksum {
		h.declareFault(tx, cfdp.FileChecksumFailure)
	}
}

func (h *Handler) sendNaks(now time.Time, tx *transaction) {
	gaps := tx.received.Complement(tx.declaredFileSize)
	if !tx.metadataReceived {
		gaps = append([]cfdp.ByteRange{{Start: 0, End: 0}}, gaps...)
	}
	h.queue(tx.id, cfdp.NakPDU{
		TransactionID: tx.id,
		DestEntityID:  h.localID,
		ScopeStart:    0,
		ScopeEnd:      tx.declaredFileSize,
		MissingRanges: gaps,
		LargeFile:     cfdp.IsLargeFile(tx.declaredFileSize),
	})
	if tx.nakTimer == nil {
		tx.nakTimer = tx.remote.TimerFactory(tx.remote.NAKTimerInterval)
	}
	tx.nakTimer.Reset(now)
	tx.step = cfdp.DestWaitingForMissingData
}

func (h *Handler) checkNAKTimer(now time.Time, tx *transaction) {
	if tx.metadataReceived && tx.received.Covers(tx.declaredFileSize) {
		if tx.nakTimer != nil {
			tx.nakTimer.Stop()
		}
		tx.step = cfdp.DestTransferCompletion
		return
	}
	if tx.nakTimer == nil || !tx.nakTimer.HasExpired(now) {
		return
	}
	tx.nakRetries++
	if tx.nakRetries > tx.remote.NAKTimerLimit {
		h.declareFault(tx, cfdp.NAKLimitReached)
		return
	}
	h.sendNaks(now, tx)
}

func (h *Handler) checkCheckTimer(now time.Time, tx *transaction) {
	// Class 2 relies solely on the NAK timer for outstanding-gap
	// discipline; the Check timer only applies in Class 1 (see
	// runTransferCompletion).
}

func (h *Handler) sendFinished(tx *transaction) {
	for _, req := range tx.filestoreReqs {
		if err := h.applyFilestoreRequest(tx, req); err != nil {
			tx.fileStatus = cfdp.FileStatusRejected
			break
		}
	}
	if tx.fileStatus == cfdp.FileStatusUnreported {
		tx.fileStatus = cfdp.FileStatusRetained
	}

	h.queue(tx.id, cfdp.FinishedPDU{
		TransactionID: tx.id,
		DestEntityID:  h.localID,
		ConditionCode: tx.conditionCode,
		DeliveryCode:  tx.deliveryCode,
		FileStatus:    tx.fileStatus,
		LargeFile:     cfdp.IsLargeFile(tx.declaredFileSize),
		FaultLocation: tx.faultLocation,
	})

	wantsFinished := tx.mode == cfdp.Class2 || tx.closureRequested
	if !wantsFinished {
		tx.step = cfdp.DestNoticeOfCompletion
		return
	}
	if tx.mode == cfdp.Class2 {
		tx.step = cfdp.DestWaitingForFinishedAck
	} else {
		tx.step = cfdp.DestNoticeOfCompletion
	}
}

func (h *Handler) applyFilestoreRequest(tx *transaction, req cfdp.FilestoreRequest) error {
	switch req.Action {
	case cfdp.FilestoreActionCreateFile:
		return h.fs.CreateFile(req.FirstPath)
	case cfdp.FilestoreActionDeleteFile:
		return h.fs.DeleteFile(req.FirstPath)
	case cfdp.FilestoreActionRenameFile:
		return h.fs.Rename(req.FirstPath, req.SecondPath)
	case cfdp.FilestoreActionAppendFile:
		return h.fs.Append(req.FirstPath, req.SecondPath)
	case cfdp.FilestoreActionReplaceFile:
		return h.fs.Replace(req.FirstPath, req.SecondPath)
	case cfdp.FilestoreActionCreateDirectory:
		return h.fs.CreateDirectory(req.FirstPath)
	case cfdp.FilestoreActionRemoveDirectory:
		return h.fs.RemoveDirectory(req.FirstPath)
	default:
		return nil
	}
}

func (h *Handler) checkFinishedAckTimer(now time.Time, tx *transaction) {
	if tx.ackTimer == nil {
		tx.ackTimer = tx.remote.TimerFactory(tx.remote.ACKTimerInterval)
		tx.ackTimer.Reset(now)
		return
	}
	if !tx.ackTimer.HasExpired(now) {
		return
	}
	tx.ackRetries++
	if tx.ackRetries > tx.remote.ACKTimerLimit {
		if tx.cancelHandled {
			// The cancellation Finished went unacknowledged as well; close
			// out without declaring a second fault.
			tx.step = cfdp.DestNoticeOfCompletion
			return
		}
		h.declareFault(tx, cfdp.PositiveACKLimitReached)
		return
	}
	h.sendFinished(tx)
	tx.ackTimer.Reset(now)
}

func (h *Handler) completeTransaction(tx *transaction) {
	h.fs.Close(tx.writeHandle)
	h.callbacks.TransactionFinishedIndication(user.TransactionFinishedIndication{
		TransactionID: tx.id,
		ConditionCode: tx.conditionCode,
		DeliveryCode:  tx.deliveryCode,
		FileStatus:    tx.fileStatus,
	})
	tx.step = cfdp.DestIdle
}

func (h *Handler) declareFault(tx *transaction, code cfdp.ConditionCode) {
	fired := code
	tx.faultFired = &fired
	h.callbacks.FaultIndication(user.FaultIndication{
		TransactionID: tx.id,
		ConditionCode: code,
		Progress:      h.Progress(tx.id),
	})

	policy := tx.remote.FaultHandlerPolicyFor(code)
	if policy == cfdp.PolicyAbandon {
		h.fs.Close(tx.writeHandle)
		h.callbacks.AbandonedIndication(user.AbandonedIndication{TransactionID: tx.id, ConditionCode: code})
		tx.step = cfdp.DestIdle
		return
	}

	tx.conditionCode = code
	local := h.localID
	tx.faultLocation = &local
	tx.deliveryCode = cfdp.DeliveryIncomplete
	if tx.remote.DispositionOnCancellation && tx.destPath != "" {
		h.fs.DeleteFile(tx.destPath)
		tx.fileStatus = cfdp.FileStatusDiscarded
	}
	tx.cancelRequested = true
}

func (h *Handler) beginCancellation(tx *transaction) {
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
	if tx.remote.DispositionOnCancellation && tx.destPath != "" {
		h.fs.DeleteFile(tx.destPath)
		tx.fileStatus = cfdp.FileStatusDiscarded
	}
	tx.step = cfdp.DestSendingFinished
}
