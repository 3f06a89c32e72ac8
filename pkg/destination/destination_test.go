package destination_test

import (
	"testing"
	"time"

	"github.com/avaneesh92/cfdp-go/pkg/cfdp"
	"github.com/avaneesh92/cfdp-go/pkg/countdown"
	"github.com/avaneesh92/cfdp-go/pkg/destination"
	"github.com/avaneesh92/cfdp-go/pkg/filestore"
	"github.com/avaneesh92/cfdp-go/pkg/mib"
	"github.com/avaneesh92/cfdp-go/pkg/user"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCallbacks struct {
	user.NoOpCallbacks
	metadata []user.MetadataRecvIndication
	finished []user.TransactionFinishedIndication
}

func (r *recordingCallbacks) MetadataRecvIndication(i user.MetadataRecvIndication) {
	r.metadata = append(r.metadata, i)
}

func (r *recordingCallbacks) TransactionFinishedIndication(i user.TransactionFinishedIndication) {
	r.finished = append(r.finished, i)
}

func mustEntity(t *testing.T, v uint64) cfdp.EntityID {
	t.Helper()
	id, err := cfdp.NewEntityID(1, v)
	require.NoError(t, err)
	return id
}

func newTestSetup(t *testing.T) (*destination.Handler, afero.Fs, *recordingCallbacks, cfdp.EntityID, cfdp.EntityID) {
	t.Helper()
	localID := mustEntity(t, 2)
	sourceID := mustEntity(t, 1)

	table := mib.NewTable(mib.LocalEntityConfig{EntityID: localID})
	table.AddRemote(&mib.RemoteEntityConfig{
		EntityID:                sourceID,
		DefaultTransmissionMode: cfdp.Class1,
		ACKTimerInterval:        time.Second,
		ACKTimerLimit:           3,
		NAKTimerInterval:        time.Second,
		NAKTimerLimit:           3,
		CheckTimerInterval:      time.Second,
		CheckTimerLimit:         3,
		DefaultChecksumType:     cfdp.ChecksumCRC32,
		MaxFileSegmentLen:       1024,
		TimerFactory:            countdown.NewWallClockFactory(),
	})

	fs := afero.NewMemMapFs()
	cb := &recordingCallbacks{}
	h := destination.New(localID, table, filestore.NewNative(fs), cb, nil)
	return h, fs, cb, sourceID, localID
}

func drainOutbound(h *destination.Handler, id cfdp.TransactionID) []cfdp.PDU {
	var out []cfdp.PDU
	for {
		pdu, ok := h.GetNextPDU(id)
		if !ok {
			break
		}
		out = append(out, pdu)
	}
	return out
}

func TestMetadataThenFileDataThenEOFCompletesClass1(t *testing.T) {
	h, fs, cb, sourceID, localID := newTestSetup(t)
	now := time.Unix(0, 0)

	txID := cfdp.TransactionID{Source: sourceID, SequenceNumber: 7}
	data := []byte("hello, cfdp")

	_, err := h.StateMachine(now, cfdp.MetadataPDU{
		TransactionID:    txID,
		DestEntityID:     localID,
		TransmissionMode: cfdp.Class1,
		ChecksumType:     cfdp.ChecksumCRC32,
		FileSize:         uint64(len(data)),
		SourceFilePath:   "/src/hello.txt",
		DestFilePath:     "/dst/hello.txt",
	})
	require.NoError(t, err)
	require.Len(t, cb.metadata, 1)

	_, err = h.StateMachine(now, cfdp.FileDataPDU{
		TransactionID: txID,
		DestEntityID:  localID,
		Offset:        0,
		Data:          data,
	})
	require.NoError(t, err)

	// Compute the expected checksum the sender would have reported.
	expected, cErr := filestore.NewNative(fs).CalculateChecksum(cfdp.ChecksumCRC32, "/dst/hello.txt", 0, uint64(len(data)))
	require.NoError(t, cErr)

	_, err = h.StateMachine(now, cfdp.EOFPDU{
		TransactionID: txID,
		DestEntityID:  localID,
		ConditionCode: cfdp.NoError,
		Checksum:      expected,
		FileSize:      uint64(len(data)),
	})
	require.NoError(t, err)

	for i := 0; i < 10 && h.Step(txID) != cfdp.DestIdle; i++ {
		h.StateMachine(now, nil)
		drainOutbound(h, txID)
	}

	require.Len(t, cb.finished, 1)
	assert.Equal(t, cfdp.NoError, cb.finished[0].ConditionCode)
	assert.Equal(t, cfdp.DeliveryComplete, cb.finished[0].DeliveryCode)

	content, rErr := afero.ReadFile(fs, "/dst/hello.txt")
	require.NoError(t, rErr)
	assert.Equal(t, data, content)
}

func TestClass2NakListsExactLostRanges(t *testing.T) {
	h, _, _, sourceID, localID := newTestSetup(t)
	now := time.Unix(0, 0)
	txID := cfdp.TransactionID{Source: sourceID, SequenceNumber: 9}

	const fileSize = 6144
	_, err := h.StateMachine(now, cfdp.MetadataPDU{
		TransactionID:    txID,
		DestEntityID:     localID,
		TransmissionMode: cfdp.Class2,
		ChecksumType:     cfdp.ChecksumCRC32,
		FileSize:         fileSize,
		DestFilePath:     "/dst/lossy.bin",
	})
	require.NoError(t, err)

	// Segments at offsets 0,1024,3072,5120 arrive; 2048 and 4096 are lost.
	for _, off := range []uint64{0, 1024, 3072, 5120} {
		_, err := h.StateMachine(now, cfdp.FileDataPDU{
			TransactionID: txID,
			DestEntityID:  localID,
			Offset:        off,
			Data:          make([]byte, 1024),
		})
		require.NoError(t, err)
	}

	_, err = h.StateMachine(now, cfdp.EOFPDU{
		TransactionID: txID,
		DestEntityID:  localID,
		ConditionCode: cfdp.NoError,
		FileSize:      fileSize,
	})
	require.NoError(t, err)
	drainOutbound(h, txID) // ACK of EOF

	var nak *cfdp.NakPDU
	for i := 0; i < 5 && nak == nil; i++ {
		h.StateMachine(now, nil)
		for _, pdu := range drainOutbound(h, txID) {
			if n, ok := pdu.(cfdp.NakPDU); ok {
				nak = &n
			}
		}
	}

	require.NotNil(t, nak)
	assert.Equal(t, []cfdp.ByteRange{
		{Start: 2048, End: 3072},
		{Start: 4096, End: 5120},
	}, nak.MissingRanges)
}

func TestReceiverReportsCancelRequestReceivedOnSenderEOFCancel(t *testing.T) {
	h, _, cb, sourceID, localID := newTestSetup(t)
	now := time.Unix(0, 0)
	txID := cfdp.TransactionID{Source: sourceID, SequenceNumber: 11}

	_, err := h.StateMachine(now, cfdp.MetadataPDU{
		TransactionID:    txID,
		DestEntityID:     localID,
		TransmissionMode: cfdp.Class1,
		ChecksumType:     cfdp.ChecksumCRC32,
		FileSize:         4096,
		DestFilePath:     "/dst/partial.bin",
	})
	require.NoError(t, err)

	_, err = h.StateMachine(now, cfdp.FileDataPDU{
		TransactionID: txID,
		DestEntityID:  localID,
		Offset:        0,
		Data:          make([]byte, 1500),
	})
	require.NoError(t, err)

	sourceFault := sourceID
	_, err = h.StateMachine(now, cfdp.EOFPDU{
		TransactionID: txID,
		DestEntityID:  localID,
		ConditionCode: cfdp.CancelRequestReceived,
		FileSize:      1500,
		FaultLocation: &sourceFault,
	})
	require.NoError(t, err)

	for i := 0; i < 5 && h.Step(txID) != cfdp.DestIdle; i++ {
		h.StateMachine(now, nil)
		drainOutbound(h, txID)
	}

	require.Len(t, cb.finished, 1)
	assert.Equal(t, cfdp.CancelRequestReceived, cb.finished[0].ConditionCode)
	assert.Equal(t, cfdp.DeliveryIncomplete, cb.finished[0].DeliveryCode)
}

func TestRestrictedFilestoreRejectsEscapingPath(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, base.MkdirAll("/sandbox", 0o755))
	restricted := filestore.NewRestricted(base, "/sandbox")

	err := restricted.CreateFile("../escape.bin")
	assert.Error(t, err)
}

func TestFilestoreRejectionFaultReportsOwnConditionCodeNotCancelRequestReceived(t *testing.T) {
	localID := mustEntity(t, 2)
	sourceID := mustEntity(t, 1)

	table := mib.NewTable(mib.LocalEntityConfig{EntityID: localID})
	table.AddRemote(&mib.RemoteEntityConfig{
		EntityID:                sourceID,
		DefaultTransmissionMode: cfdp.Class1,
		CheckTimerInterval:      time.Second,
		CheckTimerLimit:         3,
		DefaultChecksumType:     cfdp.ChecksumCRC32,
		MaxFileSegmentLen:       1024,
		TimerFactory:            countdown.NewWallClockFactory(),
	})

	base := afero.NewMemMapFs()
	require.NoError(t, base.MkdirAll("/sandbox", 0o755))
	restricted := filestore.NewRestricted(base, "/sandbox")

	cb := &recordingCallbacks{}
	h := destination.New(localID, table, restricted, cb, nil)

	now := time.Unix(0, 0)
	txID := cfdp.TransactionID{Source: sourceID, SequenceNumber: 21}

	// A destination path that escapes the restricted root makes onMetadata's
	// OpenWrite fail, which declareFault turns into FILESTORE_REJECTION.
	_, err := h.StateMachine(now, cfdp.MetadataPDU{
		TransactionID:    txID,
		DestEntityID:     localID,
		TransmissionMode: cfdp.Class1,
		ChecksumType:     cfdp.ChecksumCRC32,
		FileSize:         10,
		DestFilePath:     "../escape.bin",
	})
	require.NoError(t, err)

	for i := 0; i < 5 && h.Step(txID) != cfdp.DestIdle; i++ {
		h.StateMachine(now, nil)
		drainOutbound(h, txID)
	}

	require.Len(t, cb.finished, 1)
	assert.Equal(t, cfdp.FilestoreRejection, cb.finished[0].ConditionCode)
	assert.Equal(t, cfdp.DeliveryIncomplete, cb.finished[0].DeliveryCode)
}
