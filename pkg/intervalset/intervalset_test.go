package intervalset

import (
	"testing"

	"github.com/avaneesh92/cfdp-go/pkg/cfdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMergesOverlappingAndAdjacent(t *testing.T) {
	s := New()
	s.Add(0, 1024)
	s.Add(1024, 2048)
	s.Add(4096, 5120)
	s.Add(2000, 4200)

	got := s.Ranges()
	require.Len(t, got, 1)
	assert.Equal(t, cfdp.ByteRange{Start: 0, End: 5120}, got[0])
}

func TestComplementReportsLostSegments(t *testing.T) {
	s := New()
	s.Add(0, 2048)
	s.Add(3072, 4096)
	s.Add(5120, 6144)

	gaps := s.Complement(6144)
	assert.Equal(t, []cfdp.ByteRange{
		{Start: 2048, End: 3072},
		{Start: 4096, End: 5120},
	}, gaps)
}

func TestCoversTrueOnlyWhenNoGapsBelowBound(t *testing.T) {
	s := New()
	s.Add(0, 1024)
	assert.False(t, s.Covers(2048))
	s.Add(1024, 2048)
	assert.True(t, s.Covers(2048))
}

func TestRemoveExactSpanSplitsRange(t *testing.T) {
	s := New()
	s.Add(0, 1024)
	require.NoError(t, s.Remove(256, 512))

	got := s.Ranges()
	assert.Equal(t, []cfdp.ByteRange{
		{Start: 0, End: 256},
		{Start: 512, End: 1024},
	}, got)
}

func TestRemovePartialOverlapErrors(t *testing.T) {
	s := New()
	s.Add(256, 512)
	err := s.Remove(0, 1024)
	assert.Error(t, err)
}

func TestEmptySetComplementIsWholeFile(t *testing.T) {
	s := New()
	gaps := s.Complement(4096)
	require.Len(t, gaps, 1)
	assert.Equal(t, cfdp.ByteRange{Start: 0, End: 4096}, gaps[0])
}
