package server

import (
	"PerpLiquidator/internal/config"
	fpmath "PerpLiquidator/internal/math"
	"PerpLiquidator/internal/persistence"
	"PerpLiquidator/internal/projection"
	"PerpLiquidator/internal/query"
	"context"
	"database/sql"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Snapshotter stores engine snapshots and reads the event log head
type Snapshotter interface {
	TakeSnapshot(ctx context.Context, src persistence.SnapshotSource) (int64, error)
	GetLatestSequence(ctx context.Context) (int64, error)
}

// Injector submits admin events through the ingestion loop
type Injector interface {
	InjectPrice(ctx context.Context, marketID string, price, priceSequence int64) error
	InjectDeposit(ctx context.Context, accountID uuid.UUID, marketID, asset string, amount int64) error
	InjectKeeperEndorsement(ctx context.Context, address string, endorsed bool) error
}

// AdminServiceServer is the operator API
type AdminServiceServer interface {
	TakeSnapshot(context.Context, *Empty) (*TakeSnapshotResponse, error)
	RebuildProjections(context.Context, *Empty) (*RebuildProjectionsResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	GetEventLogInfo(context.Context, *Empty) (*EventLogInfoResponse, error)
	InjectPrice(context.Context, *InjectPriceRequest) (*Ack, error)
	InjectDeposit(context.Context, *InjectDepositRequest) (*Ack, error)
	SetKeeperEndorsement(context.Context, *SetKeeperEndorsementRequest) (*Ack, error)
}

type adminService struct {
	engine    Engine
	db        *sql.DB
	snapshots Snapshotter
	queries   *query.QueryService
	injector  Injector
	logger    zerolog.Logger
}

func (s *adminService) TakeSnapshot(ctx context.Context, _ *Empty) (*TakeSnapshotResponse, error) {
	if s.snapshots == nil {
		return nil, status.Error(codes.Unavailable, "snapshots require the database")
	}
	seq, err := s.snapshots.TakeSnapshot(ctx, s.engine)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "take snapshot: %v", err)
	}
	s.logger.Info().Int64("sequence", seq).Msg("snapshot taken on request")
	return &TakeSnapshotResponse{Sequence: seq}, nil
}

func (s *adminService) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildProjectionsResponse, error) {
	if s.db == nil {
		return nil, status.Error(codes.Unavailable, "rebuild requires the database")
	}
	if err := projection.RebuildProjections(ctx, s.db); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	s.logger.Info().Msg("projections rebuilt")
	return &RebuildProjectionsResponse{Rebuilt: true}, nil
}

func (s *adminService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	if s.queries == nil {
		return nil, status.Error(codes.Unavailable, "integrity check requires the database")
	}
	report, err := s.queries.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	if !report.IsHealthy {
		s.logger.Warn().
			Int("hash_chain_breaks", len(report.HashChainBreaks)).
			Int("unbalanced_assets", len(report.UnbalancedAssets)).
			Msg("integrity check failed")
	}
	return report, nil
}

func (s *adminService) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfoResponse, error) {
	resp := &EventLogInfoResponse{LastPersistedSequence: -1, EngineSequence: s.engine.GetSequence()}
	hash := s.engine.GetStateHash()
	resp.StateHash = hex.EncodeToString(hash[:])

	if s.snapshots != nil {
		seq, err := s.snapshots.GetLatestSequence(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
		}
		resp.LastPersistedSequence = seq
	}
	return resp, nil
}

func (s *adminService) InjectPrice(ctx context.Context, req *InjectPriceRequest) (*Ack, error) {
	if req.MarketID == "" {
		return nil, status.Error(codes.InvalidArgument, "market_id is required")
	}
	price, err := config.ToFixed(req.Price, fpmath.PriceConfig)
	if err != nil || price <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "price must be a positive amount with at most %d decimals", fpmath.PriceConfig.DecimalPrecision)
	}
	if err := s.injector.InjectPrice(ctx, req.MarketID, price, req.PriceSequence); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{Accepted: true}, nil
}

func (s *adminService) InjectDeposit(ctx context.Context, req *InjectDepositRequest) (*Ack, error) {
	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		return nil, err
	}
	if req.MarketID == "" || req.Asset == "" {
		return nil, status.Error(codes.InvalidArgument, "market_id and asset are required")
	}
	amount, err := config.ToFixed(req.Amount, fpmath.QuantityConfig)
	if err != nil || amount <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "amount must be a positive amount with at most %d decimals", fpmath.QuantityConfig.DecimalPrecision)
	}
	if err := s.injector.InjectDeposit(ctx, accountID, req.MarketID, req.Asset, amount); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{Accepted: true}, nil
}

func (s *adminService) SetKeeperEndorsement(ctx context.Context, req *SetKeeperEndorsementRequest) (*Ack, error) {
	if req.Address == "" {
		return nil, status.Error(codes.InvalidArgument, "address is required")
	}
	if err := s.injector.InjectKeeperEndorsement(ctx, req.Address, req.Endorsed); err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info().Str("address", req.Address).Bool("endorsed", req.Endorsed).Msg("keeper endorsement updated")
	return &Ack{Accepted: true}, nil
}
