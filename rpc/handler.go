package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/indexer"
	"github.com/tolelom/tolmarket/metrics"
	"github.com/tolelom/tolmarket/oracle"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/vm/modules/market"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	svc     *market.Service
	indexer *indexer.Indexer
	dev     *DevOracles // nil unless dev mode is on
	metrics *metrics.Recorder
}

// NewHandler creates an RPC Handler.
func NewHandler(svc *market.Service, idx *indexer.Indexer) *Handler {
	return &Handler{svc: svc, indexer: idx}
}

// EnableDev exposes the dev_* methods backed by the in-process ledgers.
func (h *Handler) EnableDev(dev *DevOracles) { h.dev = dev }

// SetMetrics makes Dispatch count requests on m.
func (h *Handler) SetMetrics(m *metrics.Recorder) { h.metrics = m }

// Dispatch routes an RPC request to the correct method. authorized reports
// whether the request carried a valid bearer token; only state-changing
// methods require it.
func (h *Handler) Dispatch(req Request, authorized bool) Response {
	resp, label := h.dispatch(req, authorized)
	if h.metrics != nil {
		outcome := "ok"
		if resp.Error != nil {
			outcome = "error"
		}
		h.metrics.ObserveRPC(label, outcome)
	}
	return resp
}

func (h *Handler) dispatch(req Request, authorized bool) (Response, string) {
	if fn, ok := h.queries()[req.Method]; ok {
		return fn(req), req.Method
	}
	if req.Method == "market_sendCall" {
		if !authorized {
			return errResponse(req.ID, CodeUnauthorized, "unauthorized"), req.Method
		}
		return h.sendCall(req), req.Method
	}
	if h.dev != nil {
		if fn, ok := h.dev.methods()[req.Method]; ok {
			if !authorized {
				return errResponse(req.ID, CodeUnauthorized, "unauthorized"), req.Method
			}
			return fn(req), req.Method
		}
	}
	// One label for every unknown name keeps the metric bounded.
	return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method)), "unknown"
}

type method func(Request) Response

func (h *Handler) queries() map[string]method {
	return map[string]method{
		"market_getListing":            h.getListing,
		"market_getListingByPointer":   h.getListingByPointer,
		"market_getListingPointer":     h.getListingPointer,
		"market_isListed":              h.isListed,
		"market_getAllListings":        h.getAllListings,
		"market_numListings":           h.numListings,
		"market_getRoyalties":          h.getRoyalties,
		"market_status":                h.status,
		"market_getReservedState":      h.getReservedState,
		"market_getBalance":            h.getBalance,
		"market_isPaymentUnit":         h.isPaymentUnit,
		"market_paymentUnits":          h.paymentUnits,
		"market_hasRole":               h.hasRole,
		"market_roleMembers":           h.roleMembers,
		"market_params":                h.params,
		"market_currentImplementation": h.currentImplementation,
		"market_stateRoot":             h.stateRoot,
		"market_listingsBySeller":      h.listingsBySeller,
		"market_salesByAccount":        h.salesByAccount,
	}
}

// ---- params ----

type assetParams struct {
	AssetContract core.Address `json:"asset_contract"`
	AssetID       *uint256.Int `json:"asset_id"`
}

type accountParams struct {
	Account core.Address `json:"account"`
}

func parseParams(req Request, v any) error {
	if len(req.Params) == 0 {
		return errors.New("params required")
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	return nil
}

func parseAsset(req Request) (assetParams, *Response) {
	var p assetParams
	if err := parseParams(req, &p); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, err.Error())
		return p, &resp
	}
	if p.AssetID == nil {
		resp := errResponse(req.ID, CodeInvalidParams, "asset_id required")
		return p, &resp
	}
	return p, nil
}

func parseAccount(req Request) (core.Address, *Response) {
	var p accountParams
	if err := parseParams(req, &p); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, err.Error())
		return core.ZeroAddress, &resp
	}
	return p.Account, nil
}

// failure maps an engine error onto a JSON-RPC error. Rejections carry the
// engine's message so clients can match on it.
func failure(id any, err error) Response {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return errResponse(id, CodeInvalidParams, err.Error())
	case isRejection(err):
		return errResponse(id, CodeCallRejected, err.Error())
	default:
		return errResponse(id, CodeInternalError, err.Error())
	}
}

var rejections = []error{
	core.ErrInvalidPrice, core.ErrInvalidPaymentUnit, core.ErrInvalidPeriod,
	core.ErrZeroAddress, core.ErrZeroDenominator, core.ErrFeeTooHigh,
	core.ErrFeeExceedsPrice, core.ErrAmountMustBePositive, core.ErrAssetKindUnsupported,
	core.ErrContractPaused, core.ErrNotPaused, core.ErrNotAdministrator,
	core.ErrMissingReserverRole, core.ErrSenderNotOwner, core.ErrMarketplaceNotApproved,
	core.ErrOnlyOwnerCanUnlist, core.ErrOnlyRoyaltyReceiver, core.ErrTokenHasNoOwner,
	core.ErrNotListed, core.ErrAlreadyListed, core.ErrNftReserved,
	core.ErrReservedForAnotherAccount, core.ErrNftNotOwnedAnymore, core.ErrNftNotApprovedAnymore,
	core.ErrInsufficientFunds, core.ErrPaymentTokenNotSupported, core.ErrBalanceOverflow,
	core.ErrUnknownImplementation, core.ErrSchemaDowngrade, vm.ErrUnknownCall,
	// Refusals passed through from the in-process ledgers.
	oracle.ErrUnknownCollection, oracle.ErrNotAssetOwner, oracle.ErrTransferNotApproved,
	oracle.ErrInsufficientBalance, oracle.ErrInsufficientAllowance,
}

func isRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

// ---- queries ----

func (h *Handler) getListing(req Request) Response {
	p, bad := parseAsset(req)
	if bad != nil {
		return *bad
	}
	l, err := h.svc.GetListing(p.AssetContract, p.AssetID)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, l)
}

func (h *Handler) getListingByPointer(req Request) Response {
	var p struct {
		ListPtr *uint64 `json:"list_ptr"`
	}
	if err := parseParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if p.ListPtr == nil {
		return errResponse(req.ID, CodeInvalidParams, "list_ptr required")
	}
	l, err := h.svc.GetListingByPointer(*p.ListPtr)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, l)
}

func (h *Handler) getListingPointer(req Request) Response {
	p, bad := parseAsset(req)
	if bad != nil {
		return *bad
	}
	ptr, err := h.svc.GetListingPointer(p.AssetContract, p.AssetID)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, ptr)
}

func (h *Handler) isListed(req Request) Response {
	p, bad := parseAsset(req)
	if bad != nil {
		return *bad
	}
	ok, err := h.svc.IsListed(p.AssetContract, p.AssetID)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, ok)
}

func (h *Handler) getAllListings(req Request) Response {
	listings, err := h.svc.AllListings()
	if err != nil {
		return failure(req.ID, err)
	}
	if listings == nil {
		listings = []*core.Listing{}
	}
	return okResponse(req.ID, listings)
}

func (h *Handler) numListings(req Request) Response {
	n, err := h.svc.NumListings()
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, n)
}

func (h *Handler) getRoyalties(req Request) Response {
	p, bad := parseAsset(req)
	if bad != nil {
		return *bad
	}
	receiver, amount, err := h.svc.Royalties(p.AssetContract, p.AssetID)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"receiver": receiver,
		"amount":   amount,
	})
}

func (h *Handler) status(req Request) Response {
	p, bad := parseAsset(req)
	if bad != nil {
		return *bad
	}
	st, err := h.svc.Status(p.AssetContract, p.AssetID)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"is_seller_owner":         st.IsSellerOwner,
		"is_token_still_approved": st.IsTokenStillApproved,
		"stale":                   st.Stale(),
	})
}

func (h *Handler) getReservedState(req Request) Response {
	p, bad := parseAsset(req)
	if bad != nil {
		return *bad
	}
	rs, err := h.svc.ReservedState(p.AssetContract, p.AssetID)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, rs)
}

func (h *Handler) getBalance(req Request) Response {
	var p struct {
		PaymentUnit core.Address `json:"payment_unit"`
		Account     core.Address `json:"account"`
	}
	if err := parseParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	bal, err := h.svc.Balance(p.PaymentUnit, p.Account)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"payment_unit": p.PaymentUnit,
		"account":      p.Account,
		"balance":      bal,
	})
}

func (h *Handler) isPaymentUnit(req Request) Response {
	var p struct {
		PaymentUnit core.Address `json:"payment_unit"`
	}
	if err := parseParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	ok, err := h.svc.IsPaymentUnit(p.PaymentUnit)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, ok)
}

func (h *Handler) paymentUnits(req Request) Response {
	units, err := h.svc.PaymentUnits()
	if err != nil {
		return failure(req.ID, err)
	}
	if units == nil {
		units = []core.Address{}
	}
	return okResponse(req.ID, units)
}

type roleParams struct {
	Role    core.Role    `json:"role"`
	Account core.Address `json:"account"`
}

func (h *Handler) hasRole(req Request) Response {
	var p roleParams
	if err := parseParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	ok, err := h.svc.HasRole(p.Role, p.Account)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, ok)
}

func (h *Handler) roleMembers(req Request) Response {
	var p roleParams
	if err := parseParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	members, err := h.svc.RoleMembers(p.Role)
	if err != nil {
		return failure(req.ID, err)
	}
	if members == nil {
		members = []core.Address{}
	}
	return okResponse(req.ID, members)
}

func (h *Handler) params(req Request) Response {
	p, err := h.svc.Params()
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, p)
}

func (h *Handler) currentImplementation(req Request) Response {
	name, schema, err := h.svc.CurrentImplementation()
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"implementation": name,
		"schema":         schema,
	})
}

func (h *Handler) stateRoot(req Request) Response {
	root, dataRoot, err := h.svc.StateRoot()
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]string{
		"state_root": root,
		"data_root":  dataRoot,
	})
}

func (h *Handler) listingsBySeller(req Request) Response {
	account, bad := parseAccount(req)
	if bad != nil {
		return *bad
	}
	keys, err := h.indexer.ListingsBySeller(account)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if keys == nil {
		keys = []indexer.AssetKey{}
	}
	return okResponse(req.ID, keys)
}

func (h *Handler) salesByAccount(req Request) Response {
	account, bad := parseAccount(req)
	if bad != nil {
		return *bad
	}
	sales, err := h.indexer.SalesByAccount(account)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if sales == nil {
		sales = []indexer.Sale{}
	}
	return okResponse(req.ID, sales)
}

// ---- calls ----

// sendCall submits a state-changing call. The caller identity is taken from
// the request as-is; the bearer token is what authenticates it.
func (h *Handler) sendCall(req Request) Response {
	var call core.Call
	if err := parseParams(req, &call); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if call.Type == "" {
		return errResponse(req.ID, CodeInvalidParams, "type required")
	}
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	receipt, err := h.svc.Submit(&call)
	if err != nil {
		resp := failure(req.ID, err)
		resp.Error.Message = fmt.Sprintf("call %s: %s", call.ID, resp.Error.Message)
		return resp
	}
	return okResponse(req.ID, receipt)
}
