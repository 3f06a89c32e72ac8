package cfdp_test

import (
	"math"
	"testing"

	"github.com/avaneesh92/cfdp-go/pkg/cfdp"
	"github.com/stretchr/testify/assert"
)

func TestIsLargeFileBoundary(t *testing.T) {
	assert.False(t, cfdp.IsLargeFile(0))
	assert.False(t, cfdp.IsLargeFile(math.MaxUint32))
	assert.True(t, cfdp.IsLargeFile(math.MaxUint32+1))
	assert.True(t, cfdp.IsLargeFile(5*1024*1024*1024))
}
