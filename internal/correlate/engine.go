// Package correlate implements the trigger-correlation engine: the
// two-slot sliding windows that answer "which payload caused this
// trigger timestamp?" for LLT-against-channel-status and
// HLT-against-LLT matching.
package correlate

import "fmt"

// slot is one entry of a two-slot window: the timestamp a word was
// observed at, and its composed payload.
type slot struct {
	ts      uint64
	payload uint64
	valid   bool
}

// window holds the "prev" and "prev_prev" observations for one kind of
// causing word (LLT or channel-status). The board guarantees a
// one-tick adjacency between a word and its trigger; the window is
// sized 2 to absorb at most one intervening unrelated word.
type window struct {
	prev     slot
	prevPrev slot
}

// update shifts prev into prev_prev and records the new observation as
// prev.
func (w *window) update(ts uint64, payload uint64) {
	w.prevPrev = w.prev
	w.prev = slot{ts: ts, payload: payload, valid: true}
}

// match looks for a slot adjacent to triggerTS, preferring prev over
// prev_prev. Returns the matched payload and true, or (0, false) on a
// miss.
func (w *window) match(triggerTS uint64) (uint64, bool) {
	if w.prev.valid && triggerTS == w.prev.ts+1 {
		return w.prev.payload, true
	}
	if w.prevPrev.valid && triggerTS == w.prevPrev.ts+1 {
		return w.prevPrev.payload, true
	}
	return 0, false
}

// WordMatchError describes a correlation miss: a trigger word whose
// timestamp wasn't adjacent to anything in the relevant window.
type WordMatchError struct {
	Kind      string // "LLT" or "ChannelStatus"
	TriggerTS uint64
}

func (e *WordMatchError) Error() string {
	return fmt.Sprintf("correlate: no %s word adjacent to trigger at ts=%d", e.Kind, e.TriggerTS)
}

// Engine carries all cross-word state the correlation rule needs:
// the LLT window, the channel-status window, and the top nibble of
// the most recently observed TS word (used to promote ChannelStatus's
// 60-bit on-wire timestamp to a full 64-bit value).
type Engine struct {
	llt           window
	channelStatus window
	tsTopNibble   uint64
}

// NewEngine returns a fresh engine with empty windows, as at conf/start.
func NewEngine() *Engine {
	return &Engine{}
}

// ObserveTS records a TS word's timestamp, capturing its top 4 bits
// for subsequent ChannelStatus promotion.
func (e *Engine) ObserveTS(ts uint64) {
	e.tsTopNibble = ts & 0xF000000000000000
}

// PromoteChannelStatusTimestamp composes a ChannelStatus word's full
// 64-bit timestamp from its 60-bit on-wire value and the last TS
// word's top nibble.
func (e *Engine) PromoteChannelStatusTimestamp(ts60 uint64) uint64 {
	return e.tsTopNibble | (ts60 & 0x0FFFFFFFFFFFFFFF)
}

// ObserveChannelStatus updates the channel-status window with a
// promoted timestamp and the composed (pds<<48)|(crt<<16)|beam payload.
func (e *Engine) ObserveChannelStatus(ts uint64, payload uint64) {
	e.channelStatus.update(ts, payload)
}

// MatchLLT answers an LLT trigger against the channel-status window,
// returning the matched payload (or 0) and a non-nil *WordMatchError
// on a miss. The caller is expected to log/report the error and
// proceed with payload 0, per spec.
func (e *Engine) MatchLLT(triggerTS uint64) (uint64, error) {
	payload, ok := e.channelStatus.match(triggerTS)
	if !ok {
		return 0, &WordMatchError{Kind: "ChannelStatus", TriggerTS: triggerTS}
	}
	return payload, nil
}

// UpdateLLT records a new LLT observation: timestamp and the low 32
// bits of its trigger word, masked per spec (0xFFFFFFFF).
func (e *Engine) UpdateLLT(ts uint64, triggerWord uint32) {
	e.llt.update(ts, uint64(triggerWord)&0xFFFFFFFF)
}

// MatchHLT answers an HLT trigger against the LLT window, returning
// the matched LLT payload (or 0) and a non-nil *WordMatchError on a
// miss.
func (e *Engine) MatchHLT(triggerTS uint64) (uint32, error) {
	payload, ok := e.llt.match(triggerTS)
	if !ok {
		return 0, &WordMatchError{Kind: "LLT", TriggerTS: triggerTS}
	}
	return uint32(payload), nil
}
