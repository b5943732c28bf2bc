package orderbook

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickmatch/tickmatch/internal/trading/contract"
	"github.com/tickmatch/tickmatch/internal/trading/model"
)

const testTimestamp = int64(1700000000000000000)

func testSpec(t testing.TB) *contract.Spec {
	t.Helper()
	spec, err := contract.New("TESTZ5", 1, 100, 200)
	require.NoError(t, err)
	return spec
}

func newTestBook(t testing.TB, spec *contract.Spec, opts Options) *Book {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() int64 { return testTimestamp }
	}
	return New(spec, opts)
}

func buy(user, qty, price uint64) *model.NewOrderRequest {
	return &model.NewOrderRequest{UserID: user, Symbol: "TESTZ5", Side: model.Buy, Price: price, Quantity: qty}
}

func sell(user, qty, price uint64) *model.NewOrderRequest {
	return &model.NewOrderRequest{UserID: user, Symbol: "TESTZ5", Side: model.Sell, Price: price, Quantity: qty}
}

func mustConsistent(t *testing.T, b *Book) {
	t.Helper()
	require.NoError(t, b.CheckConsistency())
}

func TestBook_RestThenCross(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{})

	trades, conf, err := b.MatchOrder(sell(1, 5, 150))
	require.NoError(t, err)
	assert.Empty(t, trades)
	require.NotNil(t, conf)
	assert.Equal(t, uint64(1), conf.OrderID)
	assert.Equal(t, uint64(5), conf.RemainingQuantity)
	assert.Equal(t, testTimestamp, conf.TimestampNs)
	mustConsistent(t, b)

	trades, conf, err = b.MatchOrder(buy(2, 5, 150))
	require.NoError(t, err)
	assert.Nil(t, conf)
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, uint64(1), tr.TradeID)
	assert.Equal(t, uint64(150), tr.MatchedPrice)
	assert.Equal(t, uint64(5), tr.MatchedQuantity)
	assert.Equal(t, uint64(2), tr.BuyerUserID)
	assert.Equal(t, uint64(1), tr.SellerUserID)
	assert.Equal(t, uint64(1), tr.SellerOrderID)
	assert.Equal(t, uint64(2), tr.BuyerOrderID)
	assert.Equal(t, testTimestamp, tr.TimestampNs)

	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)
	assert.Equal(t, 0, b.LiveOrders())
	mustConsistent(t, b)
}

func TestBook_PartialFillResidualRests(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{})

	_, conf, err := b.MatchOrder(sell(1, 3, 150))
	require.NoError(t, err)
	require.NotNil(t, conf)

	trades, conf, err := b.MatchOrder(buy(2, 5, 150))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(150), trades[0].MatchedPrice)
	assert.Equal(t, uint64(3), trades[0].MatchedQuantity)

	require.NotNil(t, conf)
	assert.Equal(t, uint64(2), conf.RemainingQuantity)
	assert.Equal(t, uint64(150), conf.Price)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, uint64(150), bid)
	_, ok = b.BestAsk()
	assert.False(t, ok)
	assert.Equal(t, 1, b.LiveOrders())
	mustConsistent(t, b)
}

func TestBook_SweepMultipleLevels(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{})

	for _, o := range []*model.NewOrderRequest{sell(1, 2, 150), sell(1, 3, 151), sell(1, 4, 152)} {
		_, _, err := b.MatchOrder(o)
		require.NoError(t, err)
	}

	trades, conf, err := b.MatchOrder(buy(2, 8, 152))
	require.NoError(t, err)
	assert.Nil(t, conf)
	require.Len(t, trades, 3)

	wantPrices := []uint64{150, 151, 152}
	wantQtys := []uint64{2, 3, 3}
	for i, tr := range trades {
		assert.Equal(t, wantPrices[i], tr.MatchedPrice, "trade %d", i)
		assert.Equal(t, wantQtys[i], tr.MatchedQuantity, "trade %d", i)
		assert.Equal(t, uint64(i+1), tr.TradeID, "trade ids must be sequential")
		assert.Equal(t, trades[0].TimestampNs, tr.TimestampNs, "one timestamp per call")
	}

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, uint64(152), ask)
	snap := b.Depth(0)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, uint64(1), snap.Asks[0].Quantity)
	mustConsistent(t, b)
}

func TestBook_FIFOWithinLevel(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{})

	_, _, err := b.MatchOrder(sell(11, 2, 150))
	require.NoError(t, err)
	_, _, err = b.MatchOrder(sell(22, 3, 150))
	require.NoError(t, err)

	trades, conf, err := b.MatchOrder(buy(33, 4, 150))
	require.NoError(t, err)
	assert.Nil(t, conf)
	require.Len(t, trades, 2)

	assert.Equal(t, uint64(11), trades[0].SellerUserID)
	assert.Equal(t, uint64(2), trades[0].MatchedQuantity)
	assert.Equal(t, uint64(22), trades[1].SellerUserID)
	assert.Equal(t, uint64(2), trades[1].MatchedQuantity)

	// Second seller keeps a residual of 1 at the same level.
	snap := b.Depth(0)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, uint64(150), snap.Asks[0].Price)
	assert.Equal(t, uint64(1), snap.Asks[0].Quantity)
	assert.Equal(t, 1, snap.Asks[0].Orders)
	mustConsistent(t, b)
}

func TestBook_CancelThenMatchSkipsCancelledHead(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{})

	_, conf, err := b.MatchOrder(sell(1, 5, 150))
	require.NoError(t, err)
	require.NotNil(t, conf)

	require.NoError(t, b.CancelOrder(conf.OrderID, 1))
	assert.Equal(t, 0, b.LiveOrders(), "cancel must drop the location immediately")
	_, ok := b.BestAsk()
	assert.False(t, ok, "cancelling the only ask empties the side")
	mustConsistent(t, b)

	trades, conf2, err := b.MatchOrder(buy(2, 5, 150))
	require.NoError(t, err)
	assert.Empty(t, trades, "cancelled order must not trade")
	require.NotNil(t, conf2)
	assert.Equal(t, uint64(5), conf2.RemainingQuantity)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, uint64(150), bid)
	mustConsistent(t, b)
}

func TestBook_OffGridPriceRejected(t *testing.T) {
	spec, err := contract.New("WIDEZ5", 10, 1000, 2000)
	require.NoError(t, err)
	b := newTestBook(t, spec, Options{})

	req := &model.NewOrderRequest{UserID: 1, Symbol: "WIDEZ5", Side: model.Buy, Price: 1005, Quantity: 1}
	trades, conf, err := b.MatchOrder(req)
	assert.ErrorIs(t, err, ErrPriceOffGrid)
	assert.Empty(t, trades)
	assert.Nil(t, conf)
	assert.Equal(t, 0, b.LiveOrders())

	// Range violations surface the same way.
	req.Price = 990
	_, _, err = b.MatchOrder(req)
	assert.ErrorIs(t, err, ErrPriceOffGrid)
	req.Price = 2010
	_, _, err = b.MatchOrder(req)
	assert.ErrorIs(t, err, ErrPriceOffGrid)
	mustConsistent(t, b)
}

func TestBook_CancelIdempotentOnOutput(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{})

	_, conf, err := b.MatchOrder(sell(1, 5, 150))
	require.NoError(t, err)
	require.NotNil(t, conf)

	require.NoError(t, b.CancelOrder(conf.OrderID, 1))
	err = b.CancelOrder(conf.OrderID, 1)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	err = b.CancelOrder(999, 1)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	mustConsistent(t, b)
}

func TestBook_CancelMiddleThenSweepCleansUp(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{})

	var ids []uint64
	for i := 0; i < 3; i++ {
		_, conf, err := b.MatchOrder(sell(uint64(i+1), 50, 150))
		require.NoError(t, err)
		require.NotNil(t, conf)
		ids = append(ids, conf.OrderID)
	}

	require.NoError(t, b.CancelOrder(ids[1], 2))
	assert.Equal(t, 2, b.LiveOrders())
	mustConsistent(t, b)

	trades, conf, err := b.MatchOrder(buy(9, 100, 150))
	require.NoError(t, err)
	assert.Nil(t, conf)
	require.Len(t, trades, 2)
	assert.Equal(t, ids[0], trades[0].SellerOrderID)
	assert.Equal(t, ids[2], trades[1].SellerOrderID)

	assert.Equal(t, 0, b.LiveOrders(), "every pop must drop its location entry")
	_, ok := b.BestAsk()
	assert.False(t, ok)
	mustConsistent(t, b)
}

func TestBook_EnforceCancelOwner(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{EnforceCancelOwner: true})

	_, conf, err := b.MatchOrder(sell(7, 5, 150))
	require.NoError(t, err)
	require.NotNil(t, conf)

	err = b.CancelOrder(conf.OrderID, 8)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, 1, b.LiveOrders(), "rejected cancel leaves the order live")

	require.NoError(t, b.CancelOrder(conf.OrderID, 7))
	assert.Equal(t, 0, b.LiveOrders())
	mustConsistent(t, b)
}

func TestBook_QueueOverflowLeavesBookUntouched(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{QueueCapacity: 2})

	_, c1, err := b.MatchOrder(sell(1, 1, 150))
	require.NoError(t, err)
	_, c2, err := b.MatchOrder(sell(2, 1, 150))
	require.NoError(t, err)
	require.NotNil(t, c1)
	require.NotNil(t, c2)

	trades, conf, err := b.MatchOrder(sell(3, 1, 150))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Empty(t, trades)
	assert.Nil(t, conf)

	assert.Equal(t, 2, b.LiveOrders())
	snap := b.Depth(0)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, uint64(2), snap.Asks[0].Quantity)
	mustConsistent(t, b)

	// The free level next door is unaffected.
	_, conf, err = b.MatchOrder(sell(4, 1, 151))
	require.NoError(t, err)
	require.NotNil(t, conf)
	mustConsistent(t, b)
}

func TestBook_OverflowReapsCancelledHead(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{QueueCapacity: 2})

	_, c1, err := b.MatchOrder(sell(1, 1, 150))
	require.NoError(t, err)
	_, _, err = b.MatchOrder(sell(2, 1, 150))
	require.NoError(t, err)

	require.NoError(t, b.CancelOrder(c1.OrderID, 1))

	// The ring is physically full but its head is cancelled; the rest
	// reaps it instead of overflowing.
	_, conf, err := b.MatchOrder(sell(3, 1, 150))
	require.NoError(t, err)
	require.NotNil(t, conf)
	assert.Equal(t, 2, b.LiveOrders())
	mustConsistent(t, b)
}

func TestBook_CrossRequiresTouch(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{})

	_, _, err := b.MatchOrder(sell(1, 5, 150))
	require.NoError(t, err)

	trades, conf, err := b.MatchOrder(buy(2, 5, 149))
	require.NoError(t, err)
	assert.Empty(t, trades, "below the touch must not cross")
	require.NotNil(t, conf)

	trades, _, err = b.MatchOrder(buy(3, 5, 150))
	require.NoError(t, err)
	require.Len(t, trades, 1, "at the touch must cross")
	mustConsistent(t, b)
}

func TestBook_BoundaryPricesRest(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{})

	_, conf, err := b.MatchOrder(buy(1, 1, 100))
	require.NoError(t, err)
	require.NotNil(t, conf)
	_, conf, err = b.MatchOrder(sell(2, 1, 200))
	require.NoError(t, err)
	require.NotNil(t, conf)

	_, _, err = b.MatchOrder(buy(3, 1, 99))
	assert.ErrorIs(t, err, ErrPriceOffGrid)
	_, _, err = b.MatchOrder(sell(4, 1, 201))
	assert.ErrorIs(t, err, ErrPriceOffGrid)
	mustConsistent(t, b)
}

func TestBook_SpreadAndMid(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{})

	_, ok := b.Spread()
	assert.False(t, ok)
	_, ok = b.MidPrice()
	assert.False(t, ok)

	_, _, err := b.MatchOrder(buy(1, 1, 140))
	require.NoError(t, err)
	_, _, err = b.MatchOrder(sell(2, 1, 150))
	require.NoError(t, err)

	spread, ok := b.Spread()
	require.True(t, ok)
	assert.Equal(t, uint64(10), spread)
	mid, ok := b.MidPrice()
	require.True(t, ok)
	assert.Equal(t, uint64(145), mid)
}

func TestBook_ResubmitGetsFreshOrder(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{})

	_, c1, err := b.MatchOrder(buy(1, 2, 140))
	require.NoError(t, err)
	_, c2, err := b.MatchOrder(buy(1, 2, 140))
	require.NoError(t, err)

	require.NotNil(t, c1)
	require.NotNil(t, c2)
	assert.NotEqual(t, c1.OrderID, c2.OrderID)
	assert.Equal(t, 2, b.LiveOrders())

	snap := b.Depth(0)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, uint64(4), snap.Bids[0].Quantity)
	assert.Equal(t, 2, snap.Bids[0].Orders)
	mustConsistent(t, b)
}

func TestBook_DepthOrdering(t *testing.T) {
	b := newTestBook(t, testSpec(t), Options{})

	for _, o := range []*model.NewOrderRequest{
		buy(1, 1, 140), buy(1, 2, 145), buy(1, 3, 138),
		sell(2, 4, 150), sell(2, 5, 155), sell(2, 6, 151),
	} {
		_, _, err := b.MatchOrder(o)
		require.NoError(t, err)
	}

	snap := b.Depth(2)
	require.Len(t, snap.Bids, 2)
	assert.Equal(t, uint64(145), snap.Bids[0].Price)
	assert.Equal(t, uint64(140), snap.Bids[1].Price)
	require.Len(t, snap.Asks, 2)
	assert.Equal(t, uint64(150), snap.Asks[0].Price)
	assert.Equal(t, uint64(151), snap.Asks[1].Price)

	full := b.Depth(0)
	assert.Len(t, full.Bids, 3)
	assert.Len(t, full.Asks, 3)
	assert.Equal(t, testTimestamp, full.TimestampNs)
}

func TestBook_RandomizedConservation(t *testing.T) {
	spec, err := contract.New("RNDZ5", 5, 1000, 2000)
	require.NoError(t, err)
	b := newTestBook(t, spec, Options{QueueCapacity: 64})
	rng := rand.New(rand.NewSource(42))

	var live []uint64
	for i := 0; i < 2000; i++ {
		if len(live) > 0 && rng.Intn(5) == 0 {
			pick := rng.Intn(len(live))
			err := b.CancelOrder(live[pick], 0)
			if err != nil {
				assert.ErrorIs(t, err, ErrOrderNotFound)
			}
			live = append(live[:pick], live[pick+1:]...)
		} else {
			req := &model.NewOrderRequest{
				UserID:   uint64(rng.Intn(50) + 1),
				Symbol:   "RNDZ5",
				Price:    1000 + uint64(rng.Intn(201))*5,
				Quantity: uint64(rng.Intn(20) + 1),
			}
			if rng.Intn(2) == 0 {
				req.Side = model.Buy
			} else {
				req.Side = model.Sell
			}
			trades, conf, err := b.MatchOrder(req)
			if err != nil {
				require.ErrorIs(t, err, ErrQueueFull)
				continue
			}

			var traded uint64
			for _, tr := range trades {
				traded += tr.MatchedQuantity
			}
			var rested uint64
			if conf != nil {
				rested = conf.RemainingQuantity
				live = append(live, conf.OrderID)
			}
			filled := traded + rested
			if conf == nil {
				assert.Equal(t, req.Quantity, traded, "fully matched order must conserve quantity")
			} else {
				assert.Equal(t, req.Quantity, filled, "partially matched order must conserve quantity")
			}
		}
		if i%100 == 0 {
			mustConsistent(t, b)
		}
	}
	mustConsistent(t, b)
}

func BenchmarkBook_RestAndCross(b *testing.B) {
	spec, _ := contract.New("BENCHZ5", 1, 1, 1000000)
	book := New(spec, Options{Now: func() int64 { return testTimestamp }})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		price := uint64(500000 + i%100)
		_, _, _ = book.MatchOrder(&model.NewOrderRequest{UserID: 1, Symbol: "BENCHZ5", Side: model.Sell, Price: price, Quantity: 1})
		_, _, _ = book.MatchOrder(&model.NewOrderRequest{UserID: 2, Symbol: "BENCHZ5", Side: model.Buy, Price: price, Quantity: 1})
	}
}

func BenchmarkBook_DeepSweep(b *testing.B) {
	spec, _ := contract.New("BENCHZ5", 1, 1, 1000000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		book := New(spec, Options{Now: func() int64 { return testTimestamp }})
		for p := uint64(0); p < 64; p++ {
			_, _, _ = book.MatchOrder(&model.NewOrderRequest{UserID: 1, Symbol: "BENCHZ5", Side: model.Sell, Price: 500000 + p, Quantity: 1})
		}
		b.StartTimer()
		_, _, _ = book.MatchOrder(&model.NewOrderRequest{UserID: 2, Symbol: "BENCHZ5", Side: model.Buy, Price: 500100, Quantity: 64})
	}
}
