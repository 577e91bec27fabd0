package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounters_ExchangeZeroSemantics(t *testing.T) {
	c := New([]int{0, 1}, []int{0})

	c.IncTS()
	c.IncTS()
	c.IncHLTBit(0)
	c.IncHLTBit(0)
	c.IncHLTBit(1)
	c.IncHLT(100)
	c.IncHLT(101)

	first := c.Collect()
	assert.Equal(t, uint64(2), first.TSWords)
	assert.Equal(t, uint64(2), first.HLTBits[0])
	assert.Equal(t, uint64(1), first.HLTBits[1])
	assert.Equal(t, uint64(2), first.TotalHLT) // monotone, not reset

	second := c.Collect()
	assert.Equal(t, uint64(0), second.TSWords, "rate counters reset to zero after collection")
	assert.Equal(t, uint64(0), second.HLTBits[0])
	assert.Equal(t, uint64(2), second.TotalHLT, "monotone counters are loaded, not reset")
}

func TestCounters_RunTotalsSurvivesInterleavedCollect(t *testing.T) {
	c := New([]int{0}, nil)

	c.IncTS()
	c.IncHLTBit(0)
	c.IncHLT(100)

	// A mid-run telemetry poll must not erase what RunTotals reports
	// at stop, even though it zeroes Collect's own delta view.
	_ = c.Collect()
	assert.Equal(t, uint64(0), c.Collect().TSWords, "second immediate collect sees no further delta")

	c.IncTS()
	c.IncHLTBit(0)
	c.IncHLT(101)

	totals := c.RunTotals()
	assert.Equal(t, uint64(2), totals.TSWords, "RunTotals reflects the whole run, not just since last Collect")
	assert.Equal(t, uint64(2), totals.HLTBits[0])
	assert.Equal(t, uint64(2), totals.TotalHLT)

	// RunTotals itself must remain non-destructive too.
	again := c.RunTotals()
	assert.Equal(t, totals.TSWords, again.TSWords)
	assert.Equal(t, totals.HLTBits[0], again.HLTBits[0])
}

func TestCounters_UnconfiguredBitIgnored(t *testing.T) {
	c := New([]int{0}, nil)
	c.IncHLTBit(7) // not configured
	snap := c.Collect()
	_, ok := snap.HLTBits[7]
	assert.False(t, ok)
}

func TestCounters_OccupancyCapped(t *testing.T) {
	c := New(nil, nil)
	for i := 0; i < 1500; i++ {
		c.RecordOccupancy(i)
	}
	assert.LessOrEqual(t, c.occupancyLen(), occupancyCap)
	assert.Equal(t, occupancyCap, c.occupancyLen())
}

func TestCounters_ResetPerRunKeepsTotalHLT(t *testing.T) {
	c := New(nil, nil)
	c.IncHLT(1)
	c.IncHLT(2)
	c.IncLLT()
	c.IncChannelStatus()

	c.ResetPerRun()

	snap := c.Collect()
	assert.Equal(t, uint64(2), snap.TotalHLT)
	assert.Equal(t, uint64(0), snap.RunHLT)
	assert.Equal(t, uint64(0), snap.RunLLT)
	assert.Equal(t, uint64(0), snap.ChannelStatus)
}
