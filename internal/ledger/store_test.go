package ledger_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"MarginCore/internal/event"
	"MarginCore/internal/fixedpoint"
	"MarginCore/internal/ledger"
	"MarginCore/internal/margin"
)

var ts = time.UnixMicro(1_700_000_000_000_000)

func units(n int64) fixedpoint.Dec { return fixedpoint.FromUnits(n) }

func newStore() (*ledger.Store, *event.ChanSink) {
	sink := event.NewChanSink(64)
	return ledger.NewStore(margin.DefaultParams(), sink), sink
}

func drain(sink *event.ChanSink) []event.Event {
	var out []event.Event
	for {
		select {
		case e := <-sink.C:
			out = append(out, e)
		default:
			return out
		}
	}
}

// checkFlatInvariant verifies size==0 implies collateral==0 and
// liquidationPrice==0 for every referenced position.
func checkFlatInvariant(t *testing.T, s *ledger.Store) {
	t.Helper()
	for _, pos := range s.Snapshot() {
		if pos.Size.IsZero() {
			if !pos.Collateral.IsZero() || !pos.LiquidationPrice.IsZero() {
				t.Fatalf("flat position %s holds collateral=%s liqPrice=%s",
					pos.TraderID, pos.Collateral, pos.LiquidationPrice)
			}
		}
	}
}

// Scenario A: open long 5.0 at 2000.0 with 10000.0 collateral.
func TestApply_OpenLong(t *testing.T) {
	s, sink := newStore()
	trader := uuid.New()

	res, err := s.Apply(trader, units(10_000), units(5), units(2000), ts)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if !res.Opened || res.Closed {
		t.Errorf("transition: opened=%v closed=%v, want opened only", res.Opened, res.Closed)
	}
	if !res.Fee.Equal(units(1)) {
		t.Errorf("fee: got %s, want 1", res.Fee)
	}
	if !res.Position.Collateral.Equal(units(9_999)) {
		t.Errorf("collateral: got %s, want 9999", res.Position.Collateral)
	}
	if !res.Position.EntryPrice.Equal(units(2000)) {
		t.Errorf("entry price: got %s, want 2000", res.Position.EntryPrice)
	}
	if !res.Position.LiquidationPrice.Equal(units(1900)) {
		t.Errorf("liquidation price: got %s, want 1900", res.Position.LiquidationPrice)
	}
	if !s.TotalSkew().Equal(units(5)) {
		t.Errorf("skew: got %s, want 5", s.TotalSkew())
	}

	events := drain(sink)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	opened, ok := events[0].(*event.PositionOpened)
	if !ok {
		t.Fatalf("got %T, want PositionOpened", events[0])
	}
	if opened.TraderID != trader || !opened.Size.Equal(units(5)) {
		t.Errorf("opened event: %+v", opened)
	}
	checkFlatInvariant(t, s)
}

// Scenario B: same setup with 50.0 collateral fails the margin check and
// leaves no state behind.
func TestApply_MarginRequirementFailed(t *testing.T) {
	s, sink := newStore()
	trader := uuid.New()

	_, err := s.Apply(trader, units(50), units(5), units(2000), ts)
	kind, ok := event.KindOf(err)
	if !ok || kind != event.RejectMarginRequirementFailed {
		t.Fatalf("got %v, want MarginRequirementFailed", err)
	}

	pos := s.Get(trader)
	if !pos.Size.IsZero() || !pos.Collateral.IsZero() {
		t.Errorf("rejected apply mutated state: %+v", pos)
	}
	if !s.TotalSkew().IsZero() {
		t.Errorf("rejected apply mutated skew: %s", s.TotalSkew())
	}
	if got := drain(sink); len(got) != 0 {
		t.Errorf("rejected apply emitted %d events", len(got))
	}
	checkFlatInvariant(t, s)
}

func TestApply_NegativeCollateral(t *testing.T) {
	s, _ := newStore()
	trader := uuid.New()

	_, err := s.Apply(trader, units(-1), fixedpoint.Zero(), units(2000), ts)
	kind, ok := event.KindOf(err)
	if !ok || kind != event.RejectNegativeCollateral {
		t.Fatalf("got %v, want NegativeCollateral", err)
	}
}

func TestApply_ZeroCollateralNonZeroSize(t *testing.T) {
	trader := uuid.New()

	// Zero margin rate so only step 3 can fire.
	s := ledger.NewStore(margin.Params{}, nil)
	_, err := s.Apply(trader, fixedpoint.Zero(), units(1), units(2000), ts)
	kind, ok := event.KindOf(err)
	if !ok || kind != event.RejectInsufficientCollateral {
		t.Fatalf("got %v, want InsufficientCollateral", err)
	}
}

func TestApply_FeeExceedsCollateral(t *testing.T) {
	trader := uuid.New()

	// No margin requirement, 100% fee: closing a position costs more than
	// the collateral left behind.
	params := margin.Params{FeeRate: fixedpoint.RateScale}
	s := ledger.NewStore(params, nil)

	if _, err := s.Apply(trader, units(10), units(1), units(1), ts); err != nil {
		t.Fatalf("setup apply: %v", err)
	}

	// Now grow the position at a price where the fee alone exceeds the
	// remaining collateral.
	_, err := s.Apply(trader, fixedpoint.Zero(), units(100), units(1000), ts)
	kind, ok := event.KindOf(err)
	if !ok || kind != event.RejectInsufficientCollateral {
		t.Fatalf("got %v, want InsufficientCollateral", err)
	}
}

// Round-trip: open, then negate the size and drain the collateral. The
// position returns to zero and the skew returns to its prior value.
func TestApply_OpenCloseRoundTrip(t *testing.T) {
	s, sink := newStore()
	trader := uuid.New()

	res, err := s.Apply(trader, units(10_000), units(5), units(2000), ts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Close: negate size, withdraw everything that will remain after the
	// closing fee (1.0 at this price and size).
	withdraw := res.Position.Collateral.Sub(units(1)).Neg()
	closeRes, err := s.Apply(trader, withdraw, units(-5), units(2000), ts)
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	if !closeRes.Closed || closeRes.Opened {
		t.Errorf("transition: opened=%v closed=%v, want closed only", closeRes.Opened, closeRes.Closed)
	}
	if !closeRes.Position.Size.IsZero() || !closeRes.Position.Collateral.IsZero() {
		t.Errorf("position not zeroed: %+v", closeRes.Position)
	}
	if !closeRes.Refund.IsZero() {
		t.Errorf("refund: got %s, want 0 (collateral fully drained)", closeRes.Refund)
	}
	if !s.TotalSkew().IsZero() {
		t.Errorf("skew: got %s, want 0", s.TotalSkew())
	}

	events := drain(sink)
	if len(events) != 2 {
		t.Fatalf("got %d events, want Opened+Closed", len(events))
	}
	if _, ok := events[1].(*event.PositionClosed); !ok {
		t.Errorf("second event: got %T, want PositionClosed", events[1])
	}
	checkFlatInvariant(t, s)
}

// Closing without draining refunds the remainder so a flat position never
// holds collateral.
func TestApply_CloseRefundsRemainder(t *testing.T) {
	s, _ := newStore()
	trader := uuid.New()

	if _, err := s.Apply(trader, units(10_000), units(5), units(2000), ts); err != nil {
		t.Fatalf("open: %v", err)
	}

	res, err := s.Apply(trader, fixedpoint.Zero(), units(-5), units(2000), ts)
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	// 9999 after opening fee, minus the 1.0 closing fee
	if !res.Refund.Equal(units(9_998)) {
		t.Errorf("refund: got %s, want 9998", res.Refund)
	}
	checkFlatInvariant(t, s)
}

// Zero-delta apply on a healthy position re-marks the entry price and
// charges no fee.
func TestApply_ZeroDeltaRemarks(t *testing.T) {
	s, sink := newStore()
	trader := uuid.New()

	open, err := s.Apply(trader, units(10_000), units(5), units(2000), ts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	drain(sink)

	res, err := s.Apply(trader, fixedpoint.Zero(), fixedpoint.Zero(), units(2010), ts)
	if err != nil {
		t.Fatalf("zero-delta apply: %v", err)
	}

	if !res.Fee.IsZero() {
		t.Errorf("fee: got %s, want 0", res.Fee)
	}
	if !res.Position.Size.Equal(open.Position.Size) {
		t.Errorf("size changed: %s -> %s", open.Position.Size, res.Position.Size)
	}
	if !res.Position.Collateral.Equal(open.Position.Collateral) {
		t.Errorf("collateral changed: %s -> %s", open.Position.Collateral, res.Position.Collateral)
	}
	if !res.Position.EntryPrice.Equal(units(2010)) {
		t.Errorf("entry price: got %s, want 2010", res.Position.EntryPrice)
	}
	events := drain(sink)
	if len(events) != 1 {
		t.Fatalf("got %d events, want one resize record", len(events))
	}
	resized, ok := events[0].(*event.PositionResized)
	if !ok {
		t.Fatalf("got %T, want PositionResized", events[0])
	}
	if !resized.Size.Equal(res.Position.Size) ||
		!resized.Collateral.Equal(res.Position.Collateral) ||
		resized.Version != res.Position.Version {
		t.Errorf("resize record does not match position: %+v vs %+v", resized, res.Position)
	}
}

// Monotonic fee: any non-zero size delta strictly reduces collateral below
// collateral + collateralDelta.
func TestApply_FeeIsMonotonic(t *testing.T) {
	s, _ := newStore()
	trader := uuid.New()

	res, err := s.Apply(trader, units(100_000), units(7), units(2000), ts)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Position.Collateral.Cmp(units(100_000)) >= 0 {
		t.Errorf("collateral %s not strictly below deposit", res.Position.Collateral)
	}
}

// Scenario D: two traders, long 3.0 and short 2.0, net skew 1.0.
func TestApply_SkewAcrossTraders(t *testing.T) {
	s, _ := newStore()
	t1, t2 := uuid.New(), uuid.New()

	if _, err := s.Apply(t1, units(1_000), units(3), units(2000), ts); err != nil {
		t.Fatalf("trader1: %v", err)
	}
	if _, err := s.Apply(t2, units(1_000), units(-2), units(2000), ts); err != nil {
		t.Fatalf("trader2: %v", err)
	}

	if !s.TotalSkew().Equal(units(1)) {
		t.Errorf("skew: got %s, want 1", s.TotalSkew())
	}
}

func TestApply_ShortLiquidationPrice(t *testing.T) {
	s, _ := newStore()
	trader := uuid.New()

	res, err := s.Apply(trader, units(1_000), units(-2), units(2000), ts)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.Position.LiquidationPrice.Equal(units(2100)) {
		t.Errorf("liquidation price: got %s, want 2100", res.Position.LiquidationPrice)
	}
}

// Concurrent applies to distinct traders must keep the skew aggregate
// consistent.
func TestApply_ConcurrentSkewConsistency(t *testing.T) {
	s, _ := newStore()

	const traders = 16
	var wg sync.WaitGroup
	for i := 0; i < traders; i++ {
		wg.Add(1)
		go func(short bool) {
			defer wg.Done()
			size := units(1)
			if short {
				size = size.Neg()
			}
			if _, err := s.Apply(uuid.New(), units(10_000), size, units(2000), ts); err != nil {
				t.Errorf("apply: %v", err)
			}
		}(i%2 == 1)
	}
	wg.Wait()

	if !s.TotalSkew().IsZero() {
		t.Errorf("skew after balanced concurrent opens: got %s, want 0", s.TotalSkew())
	}
	checkFlatInvariant(t, s)
}

func TestSnapshotRestore(t *testing.T) {
	s, _ := newStore()
	t1, t2 := uuid.New(), uuid.New()

	if _, err := s.Apply(t1, units(10_000), units(5), units(2000), ts); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := s.Apply(t2, units(10_000), units(-3), units(2000), ts); err != nil {
		t.Fatalf("apply: %v", err)
	}

	snap := s.Snapshot()
	seq := s.Sequence()

	restored := ledger.NewStore(margin.DefaultParams(), nil)
	restored.Restore(snap, seq)

	if !restored.TotalSkew().Equal(s.TotalSkew()) {
		t.Errorf("restored skew %s != %s", restored.TotalSkew(), s.TotalSkew())
	}
	if restored.Sequence() != seq {
		t.Errorf("restored sequence %d != %d", restored.Sequence(), seq)
	}
	p1 := restored.Get(t1)
	if !p1.Size.Equal(units(5)) {
		t.Errorf("restored position size: got %s, want 5", p1.Size)
	}
}

// ApplyReplayed installs post-event state directly, keeping the skew and
// sequence consistent with the source of the events.
func TestApplyReplayed(t *testing.T) {
	s, _ := newStore()
	t1, t2 := uuid.New(), uuid.New()

	s.ApplyReplayed(ledger.Position{
		TraderID: t1, Size: units(5), Collateral: units(9_999),
		EntryPrice: units(2000), LiquidationPrice: units(1900), Version: 1,
	}, 1)
	s.ApplyReplayed(ledger.Position{
		TraderID: t2, Size: units(-3), Collateral: units(6_000),
		EntryPrice: units(2000), LiquidationPrice: units(2100), Version: 1,
	}, 2)
	// t1 closes: the replayed post-state is the zero position.
	s.ApplyReplayed(ledger.Position{TraderID: t1, Version: 2}, 3)

	if !s.TotalSkew().Equal(units(-3)) {
		t.Errorf("skew: got %s, want -3", s.TotalSkew())
	}
	if s.Sequence() != 3 {
		t.Errorf("sequence: got %d, want 3", s.Sequence())
	}
	if p1 := s.Get(t1); !p1.IsFlat() {
		t.Errorf("replayed close left state: %+v", s.Get(t1))
	}
	if got := s.Get(t2); !got.Size.Equal(units(-3)) || got.Version != 1 {
		t.Errorf("replayed short: %+v", got)
	}
	checkFlatInvariant(t, s)
}

func TestGet_UnknownTraderIsZero(t *testing.T) {
	s, _ := newStore()
	pos := s.Get(uuid.New())
	if !pos.IsFlat() || !pos.Collateral.IsZero() {
		t.Errorf("unknown trader should read as zero position: %+v", pos)
	}
}
