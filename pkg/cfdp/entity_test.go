package cfdp_test

import (
	"testing"

	"github.com/avaneesh92/cfdp-go/pkg/cfdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityIDRejectsOversizedValue(t *testing.T) {
	_, err := cfdp.NewEntityID(1, 256)
	assert.Error(t, err)
}

func TestEntityIDRejectsInvalidWidth(t *testing.T) {
	_, err := cfdp.NewEntityID(0, 1)
	assert.Error(t, err)
	_, err = cfdp.NewEntityID(9, 1)
	assert.Error(t, err)
}

func TestPDUWidthPicksWiderEntity(t *testing.T) {
	a, err := cfdp.NewEntityID(1, 5)
	require.NoError(t, err)
	b, err := cfdp.NewEntityID(4, 70000)
	require.NoError(t, err)
	assert.Equal(t, uint8(4), cfdp.PDUWidth(a, b))
}

func TestTransactionIDEqualityIgnoresWidth(t *testing.T) {
	a, err := cfdp.NewEntityID(1, 10)
	require.NoError(t, err)
	b, err := cfdp.NewEntityID(2, 10)
	require.NoError(t, err)

	t1 := cfdp.TransactionID{Source: a, SequenceNumber: 1}
	t2 := cfdp.TransactionID{Source: b, SequenceNumber: 1}
	assert.True(t, t1.Equal(t2))
}
