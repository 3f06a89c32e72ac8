// Package mib implements the Management Information Base: per-remote-entity
// configuration the Source and Destination Handlers consult for transfer
// defaults and Class 2 timer discipline. The table is supplied
// programmatically by the caller, the same way the teacher's
// MasterConfig/OutstationConfig are plain structs with no env/file loader
// of their own.
package mib

import (
	"fmt"
	"time"

	"github.com/avaneesh92/cfdp-go/pkg/cfdp"
	"github.com/avaneesh92/cfdp-go/pkg/countdown"
)

// RemoteEntityConfig holds the configuration this core needs for one
// remote CFDP entity.
type RemoteEntityConfig struct {
	EntityID cfdp.EntityID

	// DefaultTransmissionMode is used when a Put Request does not
	// override it.
	DefaultTransmissionMode cfdp.TransmissionMode

	// ACKTimerInterval/ACKTimerLimit govern the positive-ACK retry
	// discipline: the sender's wait for the ACK of EOF and the receiver's
	// wait for the ACK of Finished.
	ACKTimerInterval time.Duration
	ACKTimerLimit    uint32

	// NAKTimerInterval/NAKTimerLimit govern the receiver's NAK
	// retransmission-request discipline.
	NAKTimerInterval time.Duration
	NAKTimerLimit    uint32

	// CheckTimerInterval/CheckTimerLimit govern the receiver's wait for
	// trailing File Data when gaps remain and no Class 2 NAK cycle
	// applies (Class 1, with or without closure requested).
	CheckTimerInterval time.Duration
	CheckTimerLimit    uint32

	DefaultChecksumType       cfdp.ChecksumType
	MaxFileSegmentLen         uint32
	ClosureRequestedByDefault bool
	CRCOnTransmission         bool

	// ImmediateNAKMode, when set, makes the destination handler of a
	// Class 2 transfer queue a NAK after every File Data PDU that still
	// leaves gaps below the declared file size, listing all of those gaps,
	// outside the deferred/batched NAK procedure that otherwise runs only
	// at TRANSFER_COMPLETION and on NAK-timer expiry.
	ImmediateNAKMode bool

	// DispositionOnCancellation, when set, tells the destination handler
	// to delete a cancelled transaction's partial file from the
	// filestore instead of retaining it.
	DispositionOnCancellation bool

	// FaultHandlerOverrides maps a condition code to a non-default
	// policy; codes absent from this map use DefaultFaultHandlerPolicy.
	FaultHandlerOverrides map[cfdp.ConditionCode]cfdp.FaultHandlerPolicy

	// TimerFactory builds the CountdownTimer instances the handlers use
	// for this remote entity's ACK/NAK/Check timers.
	TimerFactory countdown.Factory
}

// DefaultFaultHandlerPolicy is applied to any condition code with no entry
// in a RemoteEntityConfig's FaultHandlerOverrides.
const DefaultFaultHandlerPolicy = cfdp.PolicyNoticeOfCancellation

// FaultHandlerPolicyFor resolves the policy for a condition code, falling
// back to DefaultFaultHandlerPolicy.
func (c *RemoteEntityConfig) FaultHandlerPolicyFor(code cfdp.ConditionCode) cfdp.FaultHandlerPolicy {
	if c.FaultHandlerOverrides != nil {
		if p, ok := c.FaultHandlerOverrides[code]; ok {
			return p
		}
	}
	return DefaultFaultHandlerPolicy
}

// LocalEntityConfig holds the configuration of this process's own CFDP
// entity.
type LocalEntityConfig struct {
	EntityID cfdp.EntityID
	// There is no per-indication enable mask: every indication fires.
}

// Table is a lookup of RemoteEntityConfig by entity ID.
type Table struct {
	local   LocalEntityConfig
	remotes map[uint64]*RemoteEntityConfig
}

// NewTable builds an empty MIB for the given local entity.
func NewTable(local LocalEntityConfig) *Table {
	return &Table{local: local, remotes: make(map[uint64]*RemoteEntityConfig)}
}

// Local returns the local entity's configuration.
func (t *Table) Local() LocalEntityConfig { return t.local }

// AddRemote registers or replaces a remote entity's configuration.
func (t *Table) AddRemote(cfg *RemoteEntityConfig) {
	t.remotes[cfg.EntityID.Uint64()] = cfg
}

// Remote looks up a remote entity's configuration.
func (t *Table) Remote(id cfdp.EntityID) (*RemoteEntityConfig, error) {
	cfg, ok := t.remotes[id.Uint64()]
	if !ok {
		return nil, fmt.Errorf("mib: no configuration for remote entity %s", id)
	}
	return cfg, nil
}
