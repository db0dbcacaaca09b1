package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"

	"mabridge/bridge"
	"mabridge/ledger"
	"mabridge/logger"
	"mabridge/registry"
	"mabridge/types"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
)

// maximal accepted request body
const maxBodySize = 1 << 16

type Handlers struct {
	registry *registry.Registry
	validate *validator.Validate
	log      logger.Logger
}

func New(reg *registry.Registry, lg logger.Logger) *Handlers {
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Handlers{registry: reg, validate: newValidate(), log: lg}
}

// prev. bridge implementation compatibility
func (h *Handlers) State(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, &APIStateResponse{
		Status: "ok",
	}, http.StatusOK)
}

// HealthCheck reports whether the operation storage answers
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if _, err := h.registry.Operations.FindOperationsByStatus(r.Context(), types.OpStatusFailed); err != nil {
		h.log.Error("health check failed", "error", err)
		responseJSON(w, &APIResponse{
			Status:  "error",
			Message: "storage unavailable",
		}, http.StatusServiceUnavailable)
		return
	}
	responseJSON(w, &APIResponse{
		Status: "ok",
	}, http.StatusOK)
}

func (h *Handlers) chainInfo(r *http.Request, ch *registry.Chain) (*APIChain, error) {
	ctx := r.Context()
	current, err := ch.Bridge.Validator(ctx)
	if err != nil {
		return nil, err
	}
	last, err := ch.Bridge.Store().LastNonce(ctx)
	if err != nil {
		return nil, err
	}
	return &APIChain{
		ChainID:         ch.ID(),
		Name:            ch.Config.Name,
		BridgeAddress:   ch.Bridge.Address().Hex(),
		Owner:           ch.Bridge.Owner().Hex(),
		Validator:       current.Hex(),
		SourceToken:     ch.Bridge.SourceToken().Hex(),
		DestToken:       ch.Bridge.DestToken().Hex(),
		LastNonce:       last,
		SupportedChains: ch.Config.SupportedChains,
	}, nil
}

func (h *Handlers) Chains(w http.ResponseWriter, r *http.Request) {
	chains := make([]*APIChain, 0)
	for _, ch := range h.registry.Chains() {
		info, err := h.chainInfo(r, ch)
		if err != nil {
			h.log.Error("error reading chain", "chainId", ch.ID(), "error", err)
			responseError(w, "", "Error reading chain state", http.StatusInternalServerError)
			return
		}
		chains = append(chains, info)
	}
	responseJSON(w, chains, http.StatusOK)
}

// chain resolves the {chainId} parameter, writing the error response when it
// does not name a hosted chain
func (h *Handlers) chain(w http.ResponseWriter, r *http.Request) (*registry.Chain, bool) {
	chainID, err := uintParam(r, "chainId")
	if err != nil {
		responseError(w, "chainId", "Invalid chain id", http.StatusBadRequest)
		return nil, false
	}
	ch, ok := h.registry.Chain(chainID)
	if !ok {
		responseError(w, "chainId", "Chain not hosted by this bridge", http.StatusNotFound)
		return nil, false
	}
	return ch, true
}

func (h *Handlers) Chain(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.chain(w, r)
	if !ok {
		return
	}
	info, err := h.chainInfo(r, ch)
	if err != nil {
		h.log.Error("error reading chain", "chainId", ch.ID(), "error", err)
		responseError(w, "", "Error reading chain state", http.StatusInternalServerError)
		return
	}
	responseJSON(w, info, http.StatusOK)
}

func (h *Handlers) Swap(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.chain(w, r)
	if !ok {
		return
	}
	nonce, err := uintParam(r, "nonce")
	if err != nil {
		responseError(w, "nonce", "Invalid nonce", http.StatusBadRequest)
		return
	}

	ev, err := ch.Bridge.SwapEvent(r.Context(), nonce)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			h.log.Error("error reading swap", "chainId", ch.ID(), "nonce", nonce, "error", err)
		}
		responseError(w, "nonce", "No swap with this nonce", errorStatus(err))
		return
	}
	responseJSON(w, ev, http.StatusOK)
}

func (h *Handlers) Redemption(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.chain(w, r)
	if !ok {
		return
	}
	nonce, err := uintParam(r, "nonce")
	if err != nil {
		responseError(w, "nonce", "Invalid nonce", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	rec, err := ch.Bridge.RedemptionRecord(ctx, nonce)
	if err != nil {
		h.log.Error("error reading redemption record", "chainId", ch.ID(), "nonce", nonce, "error", err)
		responseError(w, "", "Error reading redemption", http.StatusInternalServerError)
		return
	}

	resp := &APIRedemptionResponse{Status: "ok", Nonce: nonce, Record: rec}
	if rec.Consumed() {
		ev, err := ch.Bridge.Store().Redemption(ctx, nonce)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			h.log.Error("error reading redemption", "chainId", ch.ID(), "nonce", nonce, "error", err)
			responseError(w, "", "Error reading redemption", http.StatusInternalServerError)
			return
		}
		resp.Redemption = ev
	}
	responseJSON(w, resp, http.StatusOK)
}

func (h *Handlers) Balance(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.chain(w, r)
	if !ok {
		return
	}
	side, err := registry.ParseSide(chi.URLParam(r, "side"))
	if err != nil {
		responseError(w, "side", "Token side must be source or dest", http.StatusBadRequest)
		return
	}
	address := chi.URLParam(r, "address")
	if err := ethav.Validate(address); err != nil {
		responseError(w, "address", "No ethereum address or invalid address provided", http.StatusBadRequest)
		return
	}

	account := common.HexToAddress(address)
	balance, err := ch.Ledger(side).BalanceOf(r.Context(), account)
	if err != nil {
		h.log.Error("error getting balance", "chainId", ch.ID(), "side", side, "address", account.Hex(), "error", err)
		responseError(w, "", "Error getting balance", http.StatusInternalServerError)
		return
	}
	responseJSON(w, &APIBalanceResponse{
		Status:  "ok",
		ChainID: ch.ID(),
		Side:    string(side),
		Token:   ch.TokenAddress(side).Hex(),
		Address: account.Hex(),
		Balance: balance.String(),
	}, http.StatusOK)
}

func (h *Handlers) Redeem(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.chain(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.log.Warn("error reading request body", "error", err)
		responseError(w, "", "Error reading request body", http.StatusBadRequest)
		return
	}

	var req RedeemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		responseError(w, "", "Cannot unmarshal input JSON", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		responseError(w, firstInvalidField(err), err.Error(), http.StatusBadRequest)
		return
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		responseError(w, "amount", "Amount must be a decimal integer", http.StatusBadRequest)
		return
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		responseError(w, "signature", "Signature must be 0x prefixed hex", http.StatusBadRequest)
		return
	}

	ev, err := ch.Bridge.Redeem(r.Context(), bridge.RedeemRequest{
		Nonce:         req.Nonce,
		SourceUser:    common.HexToAddress(req.SourceUser),
		SourceChainID: req.SourceChainID,
		Amount:        amount,
		Recipient:     common.HexToAddress(req.Recipient),
		Signature:     sig,
	})
	if err != nil {
		code := errorStatus(err)
		switch {
		case code == http.StatusInternalServerError:
			h.log.Error("redeem failed", "chainId", ch.ID(), "nonce", req.Nonce, "error", err)
		case errors.Is(err, bridge.ErrAlreadyRedeemed):
			// possible double spend attempt
			h.log.Warn("redeem of consumed nonce", "chainId", ch.ID(), "nonce", req.Nonce, "recipient", req.Recipient)
		default:
			h.log.Info("redeem rejected", "chainId", ch.ID(), "nonce", req.Nonce, "error", err)
		}
		responseError(w, "", err.Error(), code)
		return
	}

	responseJSON(w, &APIRedemptionResponse{
		Status:     "ok",
		Nonce:      ev.Nonce,
		Record:     types.RedemptionRecord{Nonce: ev.Nonce, Status: types.NonceConsumed},
		Redemption: ev,
	}, http.StatusOK)
}

// Operation returns the relay operation of a swap, signature included, so
// anybody can relay it by hand
func (h *Handlers) Operation(w http.ResponseWriter, r *http.Request) {
	chainID, err := uintParam(r, "chainId")
	if err != nil {
		responseError(w, "chainId", "Invalid chain id", http.StatusBadRequest)
		return
	}
	nonce, err := uintParam(r, "nonce")
	if err != nil {
		responseError(w, "nonce", "Invalid nonce", http.StatusBadRequest)
		return
	}

	op, err := h.registry.Operations.FindOperation(r.Context(), chainID, nonce)
	if err != nil {
		h.log.Error("error searching operations", "chainId", chainID, "nonce", nonce, "error", err)
		responseError(w, "", "Error searching operations", http.StatusInternalServerError)
		return
	}
	if op == nil {
		responseError(w, "nonce", "No bridge operation for this swap", http.StatusNotFound)
		return
	}
	responseJSON(w, op, http.StatusOK)
}

func (h *Handlers) OperationsByStatus(w http.ResponseWriter, r *http.Request) {
	status := chi.URLParam(r, "status")
	if !types.IsOpStatus(status) {
		responseError(w, "status", "Unknown operation status", http.StatusNotFound)
		return
	}

	ops, err := h.registry.Operations.FindOperationsByStatus(r.Context(), status)
	if err != nil {
		h.log.Error("error getting operations", "status", status, "error", err)
		responseJSON(w, nil, http.StatusInternalServerError)
		return
	}
	responseJSON(w, ops, http.StatusOK)
}
