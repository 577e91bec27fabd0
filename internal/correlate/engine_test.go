package correlate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_HappyPathHLT(t *testing.T) {
	e := NewEngine()

	e.ObserveTS(0x0F00_0000_0000_0000)

	csPayload := (uint64(0x3) << 48) | (uint64(0x2) << 16) | uint64(0x1)
	e.ObserveChannelStatus(e.PromoteChannelStatusTimestamp(0x0A), csPayload)

	lltPayload, err := e.MatchLLT(0x0B)
	require.NoError(t, err)
	assert.Equal(t, csPayload, lltPayload)
	e.UpdateLLT(0x0B, 0x5)

	hltPayload, err := e.MatchHLT(0x0C)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x5), hltPayload)
}

func TestEngine_AdjacencyMiss(t *testing.T) {
	e := NewEngine()
	e.UpdateLLT(100, 0x1)

	payload, err := e.MatchHLT(102)
	assert.Equal(t, uint32(0), payload)
	var wmErr *WordMatchError
	require.True(t, errors.As(err, &wmErr))
	assert.Equal(t, "LLT", wmErr.Kind)
}

func TestEngine_WindowAbsorbsOneIntervening(t *testing.T) {
	e := NewEngine()
	e.UpdateLLT(10, 0x1) // prev_prev after next update
	e.UpdateLLT(20, 0x2) // unrelated intervening word, now prev

	// trigger at 11 should still match the ts=10 slot via prev_prev
	payload, err := e.MatchHLT(11)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1), payload)
}

func TestEngine_ChannelStatusTimestampPromotion(t *testing.T) {
	e := NewEngine()
	e.ObserveTS(0xA000_0000_0000_0000)
	promoted := e.PromoteChannelStatusTimestamp(0x0000_0000_0000_00FF)
	assert.Equal(t, uint64(0xA000_0000_0000_00FF), promoted)
}

func TestEngine_PrevPreferredOverPrevPrev(t *testing.T) {
	e := NewEngine()
	e.UpdateLLT(5, 0xAAAA) // becomes prev_prev
	e.UpdateLLT(5, 0xBBBB) // prev, same timestamp

	// Both slots are adjacent to a trigger at ts=6; prev must win.
	payload, err := e.MatchHLT(6)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xBBBB), payload)
}
