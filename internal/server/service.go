package server

import (
	"PerpLiquidator/internal/cache"
	"PerpLiquidator/internal/config"
	"PerpLiquidator/internal/core"
	fpmath "PerpLiquidator/internal/math"
	"PerpLiquidator/internal/observability"
	"PerpLiquidator/internal/query"
	"PerpLiquidator/internal/state"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Engine is the part of core.Engine the services call
type Engine interface {
	FlagPosition(cmd *core.FlagPositionCommand) (*core.FlagResult, error)
	LiquidatePosition(cmd *core.LiquidatePositionCommand) (*core.LiquidationResult, error)
	GetPositionDigest(accountID uuid.UUID, marketID string, now int64) (*core.PositionDigest, error)
	GetAccountDigest(accountID uuid.UUID, marketID string, now int64) (*core.AccountDigest, error)
	GetMarketDigest(marketID string, now int64) (*core.MarketDigest, error)
	GetRemainingLiquidatableSizeCapacity(marketID string, now int64) (state.CapacityView, error)
	GetLiquidationFees(accountID uuid.UUID, marketID string) (*core.LiquidationFees, error)
	GetFeeTierID(accountID uuid.UUID, now int64) uint8
	GetFeeTier(tierID uint8) state.FeeTier
	ComputeOrderFees(marketID string, tierID uint8, sizeDelta, price int64) (int64, error)
	ListFlaggedPositions(marketID string, limit int) []*state.LiquidationFlag
	GetSequence() int64
	GetStateHash() [32]byte
	CreateSnapshotState() *core.SnapshotState
}

// LiquidationServiceServer is the keeper-facing API
type LiquidationServiceServer interface {
	FlagPosition(context.Context, *FlagPositionRequest) (*FlagPositionResponse, error)
	LiquidatePosition(context.Context, *LiquidatePositionRequest) (*LiquidatePositionResponse, error)
	GetPositionDigest(context.Context, *PositionRequest) (*query.PositionView, error)
	GetAccountDigest(context.Context, *PositionRequest) (*query.AccountView, error)
	GetMarketDigest(context.Context, *MarketRequest) (*query.MarketView, error)
	GetRemainingLiquidatableSizeCapacity(context.Context, *MarketRequest) (*query.CapacityView, error)
	GetLiquidationFees(context.Context, *PositionRequest) (*query.LiquidationFeesView, error)
	GetFeeTier(context.Context, *FeeTierRequest) (*FeeTierResponse, error)
	ComputeOrderFees(context.Context, *ComputeOrderFeesRequest) (*ComputeOrderFeesResponse, error)
	ListFlaggedPositions(context.Context, *ListFlaggedPositionsRequest) (*ListFlaggedPositionsResponse, error)
	GetLiquidationHistory(context.Context, *LiquidationHistoryRequest) (*query.LiquidationHistory, error)
	GetKeeperEarnings(context.Context, *KeeperRequest) (*query.KeeperEarnings, error)
	GetBalances(context.Context, *BalancesRequest) (*query.BalanceResponse, error)
}

// liquidationService implements LiquidationServiceServer on the live
// engine. SQL-backed reads need the query service and fail with
// Unavailable without it.
type liquidationService struct {
	engine  Engine
	queries *query.QueryService
	tiers   *cache.FeeTierStore
	metrics *observability.Metrics
	now     func() time.Time
	logger  zerolog.Logger
}

func (s *liquidationService) nowMicros() int64 {
	return s.now().UnixMicro()
}

// observe records query latency and outcome per endpoint
func (s *liquidationService) observe(endpoint string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = status.Code(err).String()
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, outcome).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (s *liquidationService) FlagPosition(ctx context.Context, req *FlagPositionRequest) (*FlagPositionResponse, error) {
	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.FlagPosition(&core.FlagPositionCommand{
		CommandID: req.CommandID,
		AccountID: accountID,
		MarketID:  req.MarketID,
		Keeper:    req.Keeper,
		Timestamp: s.nowMicros(),
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("account_id", req.AccountID).
			Str("market_id", req.MarketID).
			Str("keeper", req.Keeper).
			Str("reason", core.RejectReason(err)).
			Msg("flag rejected")
		return nil, toStatus(err)
	}

	resp := &FlagPositionResponse{
		AccountID:     accountID.String(),
		MarketID:      result.Flagged.Market,
		Flagger:       result.Flagged.Flagger,
		Price:         query.Price(result.Flagged.Price),
		HealthFactor:  query.Rate(result.Health.HealthFactor),
		OrderCanceled: result.OrderCanceled != nil,
	}
	for _, sold := range result.CollateralSold {
		resp.CollateralSold = append(resp.CollateralSold, CollateralSale{
			Asset:        sold.Asset,
			Amount:       query.Quantity(sold.Amount),
			Price:        query.Price(sold.Price),
			CashCredited: query.Quote(sold.CashCredited),
		})
	}
	return resp, nil
}

func (s *liquidationService) LiquidatePosition(ctx context.Context, req *LiquidatePositionRequest) (*LiquidatePositionResponse, error) {
	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.LiquidatePosition(&core.LiquidatePositionCommand{
		CommandID: req.CommandID,
		AccountID: accountID,
		MarketID:  req.MarketID,
		Keeper:    req.Keeper,
		Timestamp: s.nowMicros(),
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("account_id", req.AccountID).
			Str("market_id", req.MarketID).
			Str("keeper", req.Keeper).
			Str("reason", core.RejectReason(err)).
			Msg("liquidation rejected")
		return nil, toStatus(err)
	}

	liq := result.Liquidated
	resp := &LiquidatePositionResponse{
		AccountID:      accountID.String(),
		MarketID:       liq.Market,
		SizeLiquidated: query.Quantity(liq.SizeLiquidated),
		SizeRemaining:  query.Quantity(liq.SizeRemaining),
		LiqReward:      query.Quote(liq.LiqReward),
		KeeperFee:      query.Quote(liq.KeeperFee),
		Price:          query.Price(liq.Price),
		Bypassed:       liq.Bypassed,
		Closed:         liq.SizeRemaining == 0,
		Capacity:       query.NewCapacityView(liq.Market, result.Capacity),
	}
	if result.FundingRecomputed != nil {
		rate := query.Rate(result.FundingRecomputed.FundingRate)
		resp.FundingRate = &rate
	}
	return resp, nil
}

func (s *liquidationService) GetPositionDigest(ctx context.Context, req *PositionRequest) (resp *query.PositionView, err error) {
	defer func(start time.Time) { s.observe("position_digest", start, err) }(time.Now())

	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		return nil, err
	}
	d, err := s.engine.GetPositionDigest(accountID, req.MarketID, s.nowMicros())
	if err != nil {
		return nil, toStatus(err)
	}
	v := query.NewPositionView(d)
	return &v, nil
}

func (s *liquidationService) GetAccountDigest(ctx context.Context, req *PositionRequest) (resp *query.AccountView, err error) {
	defer func(start time.Time) { s.observe("account_digest", start, err) }(time.Now())

	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		return nil, err
	}
	d, err := s.engine.GetAccountDigest(accountID, req.MarketID, s.nowMicros())
	if err != nil {
		return nil, toStatus(err)
	}
	v := query.NewAccountView(d)
	return &v, nil
}

func (s *liquidationService) GetMarketDigest(ctx context.Context, req *MarketRequest) (resp *query.MarketView, err error) {
	defer func(start time.Time) { s.observe("market_digest", start, err) }(time.Now())

	d, err := s.engine.GetMarketDigest(req.MarketID, s.nowMicros())
	if err != nil {
		return nil, toStatus(err)
	}
	v := query.NewMarketView(d)
	return &v, nil
}

func (s *liquidationService) GetRemainingLiquidatableSizeCapacity(ctx context.Context, req *MarketRequest) (resp *query.CapacityView, err error) {
	defer func(start time.Time) { s.observe("capacity", start, err) }(time.Now())

	c, err := s.engine.GetRemainingLiquidatableSizeCapacity(req.MarketID, s.nowMicros())
	if err != nil {
		return nil, toStatus(err)
	}
	v := query.NewCapacityView(req.MarketID, c)
	return &v, nil
}

func (s *liquidationService) GetLiquidationFees(ctx context.Context, req *PositionRequest) (resp *query.LiquidationFeesView, err error) {
	defer func(start time.Time) { s.observe("liquidation_fees", start, err) }(time.Now())

	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		return nil, err
	}
	fees, err := s.engine.GetLiquidationFees(accountID, req.MarketID)
	if err != nil {
		return nil, toStatus(err)
	}
	v := query.NewLiquidationFeesView(fees)
	return &v, nil
}

// tierOf reads the account's tier through the Redis mirror when one is
// configured.
func (s *liquidationService) tierOf(ctx context.Context, accountID uuid.UUID) uint8 {
	if s.tiers != nil {
		return s.tiers.TierOf(ctx, accountID, s.engine)
	}
	return s.engine.GetFeeTierID(accountID, s.nowMicros())
}

func (s *liquidationService) GetFeeTier(ctx context.Context, req *FeeTierRequest) (*FeeTierResponse, error) {
	tierID := req.TierID
	if req.AccountID != "" {
		accountID, err := parseAccountID(req.AccountID)
		if err != nil {
			return nil, err
		}
		tierID = s.tierOf(ctx, accountID)
	}
	return &FeeTierResponse{
		AccountID: req.AccountID,
		Tier:      query.NewFeeTierView(s.engine.GetFeeTier(tierID)),
	}, nil
}

func (s *liquidationService) ComputeOrderFees(ctx context.Context, req *ComputeOrderFeesRequest) (*ComputeOrderFeesResponse, error) {
	tierID := req.TierID
	if req.AccountID != "" {
		accountID, err := parseAccountID(req.AccountID)
		if err != nil {
			return nil, err
		}
		tierID = s.tierOf(ctx, accountID)
	}

	sizeDelta, err := config.ToFixed(req.SizeDelta, fpmath.QuantityConfig)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "size_delta: %v", err)
	}
	price, err := config.ToFixed(req.Price, fpmath.PriceConfig)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "price: %v", err)
	}
	if price < 0 {
		return nil, status.Error(codes.InvalidArgument, "price must not be negative")
	}

	fee, err := s.engine.ComputeOrderFees(req.MarketID, tierID, sizeDelta, price)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ComputeOrderFeesResponse{MarketID: req.MarketID, TierID: tierID, Fee: query.Quote(fee)}, nil
}

func (s *liquidationService) ListFlaggedPositions(ctx context.Context, req *ListFlaggedPositionsRequest) (*ListFlaggedPositionsResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = query.DefaultPageSize
	}
	flags := s.engine.ListFlaggedPositions(req.MarketID, limit)
	resp := &ListFlaggedPositionsResponse{Flags: make([]query.FlagView, 0, len(flags))}
	for _, f := range flags {
		resp.Flags = append(resp.Flags, query.NewFlagView(f))
	}
	return resp, nil
}

func (s *liquidationService) GetLiquidationHistory(ctx context.Context, req *LiquidationHistoryRequest) (resp *query.LiquidationHistory, err error) {
	defer func(start time.Time) { s.observe("liquidation_history", start, err) }(time.Now())

	if s.queries == nil {
		return nil, status.Error(codes.Unavailable, "liquidation history requires the database")
	}
	filter := query.HistoryFilter{Limit: req.Limit}
	if req.AccountID != "" {
		accountID, err := parseAccountID(req.AccountID)
		if err != nil {
			return nil, err
		}
		filter.AccountID = &accountID
	}
	if req.MarketID != "" {
		filter.MarketID = &req.MarketID
	}
	if req.Keeper != "" {
		filter.Keeper = &req.Keeper
	}
	if req.BeforeSequence > 0 {
		filter.BeforeSequence = &req.BeforeSequence
	}

	history, err := s.queries.GetLiquidationHistory(ctx, filter)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "liquidation history: %v", err)
	}
	return history, nil
}

func (s *liquidationService) GetKeeperEarnings(ctx context.Context, req *KeeperRequest) (resp *query.KeeperEarnings, err error) {
	defer func(start time.Time) { s.observe("keeper_earnings", start, err) }(time.Now())

	if req.Keeper == "" {
		return nil, status.Error(codes.InvalidArgument, "keeper is required")
	}
	if s.queries == nil {
		return nil, status.Error(codes.Unavailable, "keeper earnings require the database")
	}
	earnings, err := s.queries.GetKeeperEarnings(ctx, req.Keeper)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "keeper earnings: %v", err)
	}
	return earnings, nil
}

func (s *liquidationService) GetBalances(ctx context.Context, req *BalancesRequest) (resp *query.BalanceResponse, err error) {
	defer func(start time.Time) { s.observe("balances", start, err) }(time.Now())

	if (req.AccountID == "") == (req.Keeper == "") {
		return nil, status.Error(codes.InvalidArgument, "exactly one of account_id and keeper is required")
	}
	if s.queries == nil {
		return nil, status.Error(codes.Unavailable, "balances require the database")
	}

	if req.Keeper != "" {
		resp, err = s.queries.GetKeeperBalances(ctx, req.Keeper)
	} else {
		accountID, perr := parseAccountID(req.AccountID)
		if perr != nil {
			return nil, perr
		}
		resp, err = s.queries.GetAccountBalances(ctx, accountID)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "balances: %v", err)
	}
	return resp, nil
}

func parseAccountID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, status.Error(codes.InvalidArgument, "account_id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid account_id: %v", err)
	}
	return id, nil
}
