package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// writeError renders a gRPC status with its gateway HTTP code
func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{Code: st.Code().String(), Message: st.Message()})
}

// handle registers a gateway route that decodes a JSON body (if any),
// binds path and query parameters, and calls the service handler in
// process.
func handle[Req, Resp any](
	mux *runtime.ServeMux,
	method, pattern string,
	bind func(r *http.Request, params map[string]string, req *Req) error,
	call func(context.Context, *Req) (*Resp, error),
) error {
	return mux.HandlePath(method, pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		req := new(Req)
		if r.Body != nil && r.Method != http.MethodGet {
			if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
				writeError(w, status.Errorf(codes.InvalidArgument, "decode body: %v", err))
				return
			}
		}
		if err := bind(r, params, req); err != nil {
			writeError(w, err)
			return
		}
		resp, err := call(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func queryInt(r *http.Request, name string, bits int) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, bits)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid %s: %q", name, v)
	}
	return n, nil
}

func bindMarket(_ *http.Request, p map[string]string, req *MarketRequest) error {
	req.MarketID = p["market_id"]
	return nil
}

func bindPosition(_ *http.Request, p map[string]string, req *PositionRequest) error {
	req.AccountID = p["account_id"]
	req.MarketID = p["market_id"]
	return nil
}

func bindFlags(r *http.Request, p map[string]string, req *ListFlaggedPositionsRequest) error {
	req.MarketID = p["market_id"]
	limit, err := queryInt(r, "limit", 32)
	req.Limit = int(limit)
	return err
}

func bindFeeTier(_ *http.Request, p map[string]string, req *FeeTierRequest) error {
	if v, ok := p["tier_id"]; ok {
		id, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "invalid tier_id: %q", v)
		}
		req.TierID = uint8(id)
	}
	req.AccountID = p["account_id"]
	return nil
}

func bindOrderFees(_ *http.Request, p map[string]string, req *ComputeOrderFeesRequest) error {
	req.MarketID = p["market_id"]
	return nil
}

func bindHistory(r *http.Request, _ map[string]string, req *LiquidationHistoryRequest) error {
	q := r.URL.Query()
	req.AccountID = q.Get("account_id")
	req.MarketID = q.Get("market_id")
	req.Keeper = q.Get("keeper")

	before, err := queryInt(r, "before_sequence", 64)
	if err != nil {
		return err
	}
	limit, err := queryInt(r, "limit", 32)
	if err != nil {
		return err
	}
	req.BeforeSequence = before
	req.Limit = int(limit)
	return nil
}

func bindKeeper(_ *http.Request, p map[string]string, req *KeeperRequest) error {
	req.Keeper = p["keeper"]
	return nil
}

func bindBalances(_ *http.Request, p map[string]string, req *BalancesRequest) error {
	req.AccountID = p["account_id"]
	req.Keeper = p["keeper"]
	return nil
}

func noBind[Req any](*http.Request, map[string]string, *Req) error { return nil }

// GatewayHandler builds the HTTP/JSON routes over both services
func (s *GRPCServer) GatewayHandler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	liq, admin := s.liquidation, s.admin

	err := errors.Join(
		// Keeper commands
		handle(mux, http.MethodPost, "/v1/liquidations/flag", noBind[FlagPositionRequest], liq.FlagPosition),
		handle(mux, http.MethodPost, "/v1/liquidations/liquidate", noBind[LiquidatePositionRequest], liq.LiquidatePosition),

		// Reads
		handle(mux, http.MethodGet, "/v1/markets/{market_id}", bindMarket, liq.GetMarketDigest),
		handle(mux, http.MethodGet, "/v1/markets/{market_id}/capacity", bindMarket, liq.GetRemainingLiquidatableSizeCapacity),
		handle(mux, http.MethodGet, "/v1/markets/{market_id}/flags", bindFlags, liq.ListFlaggedPositions),
		handle(mux, http.MethodGet, "/v1/flags", bindFlags, liq.ListFlaggedPositions),
		handle(mux, http.MethodPost, "/v1/markets/{market_id}/order-fees", bindOrderFees, liq.ComputeOrderFees),
		handle(mux, http.MethodGet, "/v1/accounts/{account_id}/markets/{market_id}", bindPosition, liq.GetAccountDigest),
		handle(mux, http.MethodGet, "/v1/accounts/{account_id}/markets/{market_id}/position", bindPosition, liq.GetPositionDigest),
		handle(mux, http.MethodGet, "/v1/accounts/{account_id}/markets/{market_id}/liquidation-fees", bindPosition, liq.GetLiquidationFees),
		handle(mux, http.MethodGet, "/v1/accounts/{account_id}/fee-tier", bindFeeTier, liq.GetFeeTier),
		handle(mux, http.MethodGet, "/v1/fee-tiers/{tier_id}", bindFeeTier, liq.GetFeeTier),
		handle(mux, http.MethodGet, "/v1/accounts/{account_id}/balances", bindBalances, liq.GetBalances),
		handle(mux, http.MethodGet, "/v1/liquidations", bindHistory, liq.GetLiquidationHistory),
		handle(mux, http.MethodGet, "/v1/keepers/{keeper}/earnings", bindKeeper, liq.GetKeeperEarnings),
		handle(mux, http.MethodGet, "/v1/keepers/{keeper}/balances", bindBalances, liq.GetBalances),

		// Admin
		handle(mux, http.MethodPost, "/v1/admin/snapshots", noBind[Empty], admin.TakeSnapshot),
		handle(mux, http.MethodPost, "/v1/admin/projections/rebuild", noBind[Empty], admin.RebuildProjections),
		handle(mux, http.MethodGet, "/v1/admin/integrity", noBind[Empty], admin.VerifyIntegrity),
		handle(mux, http.MethodGet, "/v1/admin/event-log", noBind[Empty], admin.GetEventLogInfo),
		handle(mux, http.MethodPost, "/v1/admin/prices", noBind[InjectPriceRequest], admin.InjectPrice),
		handle(mux, http.MethodPost, "/v1/admin/deposits", noBind[InjectDepositRequest], admin.InjectDeposit),
		handle(mux, http.MethodPost, "/v1/admin/keepers", noBind[SetKeeperEndorsementRequest], admin.SetKeeperEndorsement),
	)
	if err != nil {
		return nil, err
	}
	return mux, nil
}
