package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarginCore/internal/event"
	"MarginCore/internal/fixedpoint"
	"MarginCore/internal/ledger"
	"MarginCore/internal/observability"
	"MarginCore/internal/oracle"
	"MarginCore/internal/risk"
)

// Settlement is a money-movement instruction for the external settlement
// collaborator. Amounts are what the collaborator must transfer; the
// ledger has already committed by the time it sees one.
type Settlement struct {
	TraderID uuid.UUID

	// Deposit the trader owes (positive collateral delta) or withdrawal
	// owed to the trader (negative).
	CollateralDelta fixedpoint.Dec

	// Fee collected by the venue.
	Fee fixedpoint.Dec

	// Refund returned to the trader after a full close.
	Refund fixedpoint.Dec

	// Seized collateral routed to the venue on liquidation.
	Seized fixedpoint.Dec
}

// Settler executes settlement instructions. Implementations talk to the
// custody or banking system; failures are reconciled out-of-band from the
// event log, so a Settle error never rolls back the ledger.
type Settler interface {
	Settle(ctx context.Context, s Settlement) error
}

// Config tunes the engine. Zero value is usable for tests.
type Config struct {
	// DedupCapacity sizes the idempotency LRU.
	DedupCapacity int

	// RequoteAfterSettle fetches a fresh quote for the post-trade
	// liquidation check instead of reusing the pre-trade price. A price
	// can move between the two phases and the check should see the move.
	RequoteAfterSettle bool
}

func DefaultConfig() Config {
	return Config{
		DedupCapacity:      100_000,
		RequoteAfterSettle: true,
	}
}

// Result reports the outcome of one processed trade request.
type Result struct {
	// Duplicate: the request ID was already processed, nothing was done.
	Duplicate bool

	Applied ledger.Applied

	// Price used for the apply; CheckPrice for the post-trade check. They
	// differ only when RequoteAfterSettle is on and the quote moved.
	Price      fixedpoint.Dec
	CheckPrice fixedpoint.Dec

	// Liquidated: the post-trade check force-closed the position.
	Liquidated bool
	Seized     fixedpoint.Dec
}

// Engine orchestrates a trade request end to end: quote, apply, settle,
// post-trade liquidation check. It also drives liquidation sweeps on mark
// price updates. All position state lives in the store; the engine holds
// only dedup and wiring.
type Engine struct {
	cfg        Config
	store      *ledger.Store
	normalizer *oracle.Normalizer
	feed       *oracle.FeedSource
	monitor    *risk.Monitor
	settler    Settler
	dedup      *Deduper
	metrics    *observability.Metrics
	log        zerolog.Logger

	// clock is swappable for tests. Everything downstream takes explicit
	// timestamps.
	clock func() time.Time
}

func New(
	cfg Config,
	store *ledger.Store,
	normalizer *oracle.Normalizer,
	feed *oracle.FeedSource,
	settler Settler,
	db DBDedupChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Engine {
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = DefaultConfig().DedupCapacity
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		normalizer: normalizer,
		feed:       feed,
		monitor:    risk.NewMonitor(store),
		settler:    settler,
		dedup:      NewDeduper(cfg.DedupCapacity, db),
		metrics:    metrics,
		log:        log,
		clock:      time.Now,
	}
}

// SetClock overrides the engine's time source.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// WarmDedup preloads the idempotency LRU, typically from the event log.
func (e *Engine) WarmDedup(requestIDs []string) {
	e.dedup.Warm(requestIDs)
}

// Process runs one trade request through the full pipeline. Reject errors
// carry an event.RejectKind; any other error is infrastructure.
func (e *Engine) Process(ctx context.Context, req *event.TradeRequest) (Result, error) {
	start := time.Now()

	if dup, tier := e.dedup.IsDuplicate(req.Key()); dup {
		if e.metrics != nil {
			e.metrics.DuplicateTrades.WithLabelValues(string(tier)).Inc()
		}
		e.log.Debug().Str("request_id", req.Key()).Msg("duplicate trade request ignored")
		return Result{Duplicate: true}, nil
	}

	now := e.clock()

	price, err := e.normalizer.Latest(ctx, req.Asset, now)
	if err != nil {
		e.recordReject(req, err)
		return Result{}, err
	}

	applied, err := e.store.Apply(req.TraderID, req.CollateralDelta, req.SizeDelta, price, now)
	if err != nil {
		e.recordReject(req, err)
		return Result{}, err
	}

	e.settle(ctx, Settlement{
		TraderID:        req.TraderID,
		CollateralDelta: req.CollateralDelta,
		Fee:             applied.Fee,
		Refund:          applied.Refund,
	})

	// Post-trade check. The position just written can already be under
	// water at the current quote.
	checkPrice, checkTime := price, now
	if e.cfg.RequoteAfterSettle {
		requoteAt := e.clock()
		if fresh, err := e.normalizer.Latest(ctx, req.Asset, requoteAt); err == nil {
			checkPrice, checkTime = fresh, requoteAt
		}
		// A quote that went invalid between phases keeps the apply price
		// and its timestamp.
	}

	seized, liquidated := e.monitor.Check(req.TraderID, checkPrice, checkTime)
	if liquidated {
		e.settle(ctx, Settlement{TraderID: req.TraderID, Seized: seized})
		if e.metrics != nil {
			e.metrics.Liquidations.Inc()
			e.metrics.CollateralSeized.Add(seized.Float64())
		}
		e.log.Warn().
			Str("trader_id", req.TraderID.String()).
			Str("seized", seized.String()).
			Str("mark_price", checkPrice.String()).
			Msg("position liquidated on post-trade check")
	}

	e.dedup.MarkProcessed(req.Key())

	if e.metrics != nil {
		e.metrics.TradesApplied.WithLabelValues(transitionLabel(applied)).Inc()
		e.metrics.TradeDuration.Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.store.Sequence()))
		e.metrics.TotalSkew.Set(e.store.TotalSkew().Float64())
		e.metrics.DedupLRUSize.Set(float64(e.dedup.Size()))
	}

	e.log.Info().
		Str("request_id", req.Key()).
		Str("trader_id", req.TraderID.String()).
		Str("size_delta", req.SizeDelta.String()).
		Str("price", price.String()).
		Str("fee", applied.Fee.String()).
		Bool("opened", applied.Opened).
		Bool("closed", applied.Closed).
		Bool("liquidated", liquidated).
		Msg("trade applied")

	return Result{
		Applied:    applied,
		Price:      price,
		CheckPrice: checkPrice,
		Liquidated: liquidated,
		Seized:     seized,
	}, nil
}

// HandleMarkPrice ingests a streamed mark price update and, when the
// update advances the feed, sweeps all positions against the new price.
// The sweep runs entirely in memory, so there is no failure to report:
// stale sequences, unsweepable quotes, and clean sweeps are all final.
func (e *Engine) HandleMarkPrice(upd *event.MarkPriceUpdate) {
	if !e.feed.Update(upd) {
		if e.metrics != nil {
			e.metrics.PriceUpdatesIgnored.WithLabelValues(upd.Asset).Inc()
		}
		return
	}
	if e.metrics != nil {
		e.metrics.PriceUpdates.WithLabelValues(upd.Asset).Inc()
		e.metrics.PriceSequence.WithLabelValues(upd.Asset).Set(float64(upd.PriceSequence))
	}

	now := e.clock()
	price, err := e.normalizer.Normalize(oracle.Quote{
		RawPrice:       upd.RawPrice,
		SourceDecimals: upd.SourceDecimals,
		UpdatedAt:      time.UnixMicro(upd.UpdatedAt),
	}, now)
	if err != nil {
		// Accepted by the feed but not usable for a sweep. Positions are
		// still checked on their next trade.
		e.log.Warn().Str("asset", upd.Asset).Err(err).Msg("mark price not sweepable")
		return
	}

	start := time.Now()
	seized, closed := e.monitor.Sweep(price, now)
	if e.metrics != nil {
		e.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		if closed > 0 {
			e.metrics.Liquidations.Add(float64(closed))
			e.metrics.CollateralSeized.Add(seized.Float64())
			e.metrics.TotalSkew.Set(e.store.TotalSkew().Float64())
		}
	}
	if closed > 0 {
		e.log.Warn().
			Str("asset", upd.Asset).
			Str("mark_price", price.String()).
			Int("positions_closed", closed).
			Str("seized", seized.String()).
			Msg("liquidation sweep closed positions")
	}
}

func (e *Engine) settle(ctx context.Context, s Settlement) {
	if e.settler == nil {
		return
	}
	if err := e.settler.Settle(ctx, s); err != nil {
		// The ledger has committed; reconciliation replays from the event
		// log. Never roll back here.
		if e.metrics != nil {
			e.metrics.SettlementErrors.Inc()
		}
		e.log.Error().
			Str("trader_id", s.TraderID.String()).
			Err(err).
			Msg("settlement instruction failed")
	}
}

func (e *Engine) recordReject(req *event.TradeRequest, err error) {
	reason := "internal"
	if kind, ok := event.KindOf(err); ok {
		reason = kind.String()
	}
	if e.metrics != nil {
		e.metrics.TradesRejected.WithLabelValues(reason).Inc()
	}
	e.log.Info().
		Str("request_id", req.Key()).
		Str("trader_id", req.TraderID.String()).
		Str("reason", reason).
		Err(err).
		Msg("trade rejected")
}

func transitionLabel(a ledger.Applied) string {
	switch {
	case a.Opened:
		return "opened"
	case a.Closed:
		return "closed"
	default:
		return "resized"
	}
}
