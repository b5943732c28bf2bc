package orderbook

// DepthLevel aggregates the live orders resting at one price.
type DepthLevel struct {
	Price    uint64 `json:"price"`
	Quantity uint64 `json:"quantity"`
	Orders   int    `json:"orders"`
}

// DepthSnapshot is a point-in-time view of the top of the book. Bids are
// ordered best (highest) first, asks best (lowest) first.
type DepthSnapshot struct {
	Symbol      string       `json:"symbol"`
	Bids        []DepthLevel `json:"bids"`
	Asks        []DepthLevel `json:"asks"`
	TimestampNs int64        `json:"timestamp_ns"`
}

// Depth collects up to maxLevels occupied levels per side, walking the
// bitmap outward from the best price. maxLevels <= 0 means every
// occupied level.
func (b *Book) Depth(maxLevels int) *DepthSnapshot {
	snap := &DepthSnapshot{
		Symbol:      b.spec.Symbol,
		TimestampNs: b.now(),
	}

	if idx := b.bids.bestIdx; idx >= 0 {
		for ok := true; ok && (maxLevels <= 0 || len(snap.Bids) < maxLevels); idx, ok = b.bids.bitmap.PrevOne(idx) {
			lvl := b.bids.levels[idx]
			snap.Bids = append(snap.Bids, DepthLevel{
				Price:    b.spec.IndexToPrice(idx),
				Quantity: lvl.qty,
				Orders:   lvl.live,
			})
		}
	}
	if idx := b.asks.bestIdx; idx >= 0 {
		for ok := true; ok && (maxLevels <= 0 || len(snap.Asks) < maxLevels); idx, ok = b.asks.bitmap.NextOne(idx) {
			lvl := b.asks.levels[idx]
			snap.Asks = append(snap.Asks, DepthLevel{
				Price:    b.spec.IndexToPrice(idx),
				Quantity: lvl.qty,
				Orders:   lvl.live,
			})
		}
	}
	return snap
}
