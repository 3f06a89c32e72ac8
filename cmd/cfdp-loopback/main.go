// Command cfdp-loopback wires a Source Handler and a Destination Handler
// together in-process, handing typed PDU values directly from one to the
// other (no byte encoding, no network transport), to
// demonstrate a complete Class 1 file transfer. It exists as a usage
// example, not a CLI tool: transport and CLI plumbing are out of this
// library's scope.
package main

import (
	"fmt"
	"time"

	"github.com/avaneesh92/cfdp-go/pkg/cfdp"
	"github.com/avaneesh92/cfdp-go/pkg/countdown"
	"github.com/avaneesh92/cfdp-go/pkg/destination"
	"github.com/avaneesh92/cfdp-go/pkg/filestore"
	"github.com/avaneesh92/cfdp-go/internal/logger"
	"github.com/avaneesh92/cfdp-go/pkg/mib"
	"github.com/avaneesh92/cfdp-go/pkg/source"
	"github.com/avaneesh92/cfdp-go/pkg/user"
	"github.com/spf13/afero"
)

type loggingCallbacks struct {
	user.NoOpCallbacks
	who string
	log logger.Logger
}

func (c loggingCallbacks) TransactionFinishedIndication(i user.TransactionFinishedIndication) {
	c.log.Info("%s: transaction %s finished, condition=%s delivery=%s", c.who, i.TransactionID, i.ConditionCode, i.DeliveryCode)
}

func (c loggingCallbacks) FaultIndication(i user.FaultIndication) {
	c.log.Warn("%s: fault on %s: %s", c.who, i.TransactionID, i.ConditionCode)
}

func main() {
	log := logger.NewDefaultLogger(logger.LevelInfo)

	sourceEntity, _ := cfdp.NewEntityID(1, 1)
	destEntity, _ := cfdp.NewEntityID(1, 2)

	remoteCfgForDest := &mib.RemoteEntityConfig{
		EntityID:                destEntity,
		DefaultTransmissionMode: cfdp.Class1,
		ACKTimerInterval:        time.Second,
		ACKTimerLimit:           5,
		NAKTimerInterval:        time.Second,
		NAKTimerLimit:           5,
		CheckTimerInterval:      time.Second,
		CheckTimerLimit:         5,
		DefaultChecksumType:     cfdp.ChecksumCRC32,
		MaxFileSegmentLen:       1024,
		TimerFactory:            countdown.NewWallClockFactory(),
	}
	sourceMIB := mib.NewTable(mib.LocalEntityConfig{EntityID: sourceEntity})
	sourceMIB.AddRemote(remoteCfgForDest)

	remoteCfgForSource := &mib.RemoteEntityConfig{
		EntityID:                sourceEntity,
		DefaultTransmissionMode: cfdp.Class1,
		ACKTimerInterval:        time.Second,
		ACKTimerLimit:           5,
		NAKTimerInterval:        time.Second,
		NAKTimerLimit:           5,
		CheckTimerInterval:      time.Second,
		CheckTimerLimit:         5,
		DefaultChecksumType:     cfdp.ChecksumCRC32,
		MaxFileSegmentLen:       1024,
		TimerFactory:            countdown.NewWallClockFactory(),
	}
	destMIB := mib.NewTable(mib.LocalEntityConfig{EntityID: destEntity})
	destMIB.AddRemote(remoteCfgForSource)

	memFs := afero.NewMemMapFs()
	fstore := filestore.NewNative(memFs)
	afero.WriteFile(memFs, "/outbox/report.txt", []byte("mission report payload"), 0o644)

	srcHandler := source.New(sourceEntity, sourceMIB, fstore, loggingCallbacks{who: "source", log: log}, log)
	dstHandler := destination.New(destEntity, destMIB, fstore, loggingCallbacks{who: "destination", log: log}, log)

	txID, err := srcHandler.PutRequest(cfdp.PutRequest{
		DestEntityID:   destEntity,
		SourceFilePath: "/outbox/report.txt",
		DestFilePath:   "/inbox/report.txt",
	})
	if err != nil {
		log.Error("put request failed: %v", err)
		return
	}
	log.Info("started transaction %s", txID)

	now := time.Unix(0, 0)
	for i := 0; i < 100; i++ {
		if _, err := srcHandler.StateMachine(now, nil); err != nil {
			log.Error("source state_machine: %v", err)
			return
		}
		for {
			pdu, ok := srcHandler.GetNextPDU()
			if !ok {
				break
			}
			if _, err := dstHandler.StateMachine(now, pdu); err != nil {
				log.Error("destination state_machine: %v", err)
				return
			}
		}
		for {
			pdu, ok := dstHandler.GetNextPDU(txID)
			if !ok {
				break
			}
			if _, err := srcHandler.StateMachine(now, pdu); err != nil {
				log.Error("source state_machine: %v", err)
				return
			}
		}
		if srcHandler.Step() == cfdp.SourceIdle && dstHandler.Step(txID) == cfdp.DestIdle {
			break
		}
	}

	content, _ := afero.ReadFile(memFs, "/inbox/report.txt")
	fmt.Printf("delivered content: %q\n", content)
}
