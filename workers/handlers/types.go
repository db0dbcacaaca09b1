package handlers

import (
	"mabridge/types"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

type APIStateResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type APIChain struct {
	ChainID         uint64   `json:"chainId"`
	Name            string   `json:"name"`
	BridgeAddress   string   `json:"bridgeAddress"`
	Owner           string   `json:"owner"`
	Validator       string   `json:"validator"`
	SourceToken     string   `json:"sourceToken"`
	DestToken       string   `json:"destToken"`
	LastNonce       uint64   `json:"lastNonce"`
	SupportedChains []uint64 `json:"supportedChains,omitempty"`
}

type APIBalanceResponse struct {
	Status  string `json:"status"`
	ChainID uint64 `json:"chainId"`
	Side    string `json:"side"`
	Token   string `json:"token"`
	Address string `json:"address"`
	// base units, decimal string
	Balance string `json:"balance"`
}

type APIRedemptionResponse struct {
	Status     string                     `json:"status"`
	Nonce      uint64                     `json:"nonce"`
	Record     types.RedemptionRecord     `json:"record"`
	Redemption *types.RedemptionCompleted `json:"redemption,omitempty"`
}

// RedeemRequest is the body of POST /chains/{chainId}/redeem. Anybody may
// submit it, tokens always go to recipient.
type RedeemRequest struct {
	Nonce         uint64 `json:"nonce" validate:"required"`
	SourceUser    string `json:"sourceUser" validate:"required,ethaddr"`
	SourceChainID uint64 `json:"sourceChainId" validate:"required"`
	Amount        string `json:"amount" validate:"required,numeric"`
	Recipient     string `json:"recipient" validate:"required,ethaddr"`
	Signature     string `json:"signature" validate:"required,hexadecimal"`
}
