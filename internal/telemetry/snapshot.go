package telemetry

// Snapshot is a point-in-time view of the run counters, suitable for
// JSON serialization (admin HTTP/WebSocket, Redis mirror). TSWords,
// HLTBits and LLTBits hold deltas since the last collection in a
// Snapshot from Collect, and whole-run totals in one from RunTotals.
type Snapshot struct {
	TotalHLT      uint64 `json:"total_hlt"`
	RunHLT        uint64 `json:"run_hlt"`
	RunLLT        uint64 `json:"run_llt"`
	TSWords       uint64 `json:"ts_words"`
	ChannelStatus uint64 `json:"channel_status"`
	FailedSend    uint64 `json:"failed_send"`

	LastReadoutTS uint64 `json:"last_readout_ts"`
	LastSentTS    uint64 `json:"last_sent_ts"`

	HLTBits map[int]uint64 `json:"hlt_bits"`
	LLTBits map[int]uint64 `json:"llt_bits"`

	OccupancyMean float64 `json:"occupancy_mean"`
	OccupancyLen  int     `json:"occupancy_len"`
}

// Collect snapshots every counter for periodic telemetry. Rate-like
// counters (ts_word_counter and the per-bit HLT/LLT maps) deliver a
// delta since the previous collection — the effect of an atomic
// exchange-with-zero — computed against a baseline so the underlying
// run totals survive for RunTotals to read in full at stop; monotone
// counters (total HLT, last timestamps) are read with a plain load.
func (c *Counters) Collect() Snapshot {
	snap := c.loadAll()
	curTS := c.tsWords.Load()
	snap.TSWords = curTS - c.tsWordsBaseline.Swap(curTS)
	for bit, v := range c.hltBits {
		cur := v.Load()
		snap.HLTBits[bit] = cur - c.hltBitBaseline[bit].Swap(cur)
	}
	for bit, v := range c.lltBits {
		cur := v.Load()
		snap.LLTBits[bit] = cur - c.lltBitBaseline[bit].Swap(cur)
	}
	return snap
}

// RunTotals snapshots every counter as accumulated since the run
// started, with no destructive reset — used by the per-run trigger
// report, which needs the whole run's totals regardless of how many
// times Collect was called during the run.
func (c *Counters) RunTotals() Snapshot {
	snap := c.loadAll()
	snap.TSWords = c.tsWords.Load()
	for bit, v := range c.hltBits {
		snap.HLTBits[bit] = v.Load()
	}
	for bit, v := range c.lltBits {
		snap.LLTBits[bit] = v.Load()
	}
	return snap
}

func (c *Counters) loadAll() Snapshot {
	return Snapshot{
		TotalHLT:      c.totalHLT.Load(),
		RunHLT:        c.runHLT.Load(),
		RunLLT:        c.runLLT.Load(),
		ChannelStatus: c.chanStatus.Load(),
		FailedSend:    c.failedSend.Load(),
		LastReadoutTS: c.lastReadoutTS.Load(),
		LastSentTS:    c.lastSentTS.Load(),
		HLTBits:       make(map[int]uint64, len(c.hltBits)),
		LLTBits:       make(map[int]uint64, len(c.lltBits)),
		OccupancyMean: c.occupancyMean(),
		OccupancyLen:  c.occupancyLen(),
	}
}
