package custody

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// DepositRequest captures a deposit submission. Amount is a base-10 integer
// string in the asset's smallest unit.
type DepositRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// WithdrawRequest captures a withdrawal submission.
type WithdrawRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	To     string `json:"to"`
}

// OperationResponse is the API shape of a committed operation.
type OperationResponse struct {
	TransactionID string `json:"transaction_id"`
	Account       string `json:"account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	ValueUSD      string `json:"value_usd"`
	Balance       string `json:"balance"`
	CompletedAt   string `json:"completed_at"`
}

// BalanceResponse reports one vault entry.
type BalanceResponse struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// TotalResponse reports an asset's bank total, optionally with its live USD
// value.
type TotalResponse struct {
	Asset    string `json:"asset"`
	Total    string `json:"total"`
	ValueUSD string `json:"value_usd,omitempty"`
}

// ExposureResponse reports the tracked exposure against the configured cap.
type ExposureResponse struct {
	ExposureUSD string `json:"exposure_usd"`
	CapUSD      string `json:"cap_usd"`
}

// CountersResponse reports the observability counters.
type CountersResponse struct {
	Deposits    uint64 `json:"deposits"`
	Withdrawals uint64 `json:"withdrawals"`
}

// BindFeedRequest binds a price feed handle to an asset.
type BindFeedRequest struct {
	Feed string `json:"feed"`
}

// RegisterAssetRequest registers a token and its decimal precision.
type RegisterAssetRequest struct {
	Asset    string `json:"asset"`
	Decimals uint8  `json:"decimals"`
}

// AssetResponse describes one registered asset.
type AssetResponse struct {
	Asset    string `json:"asset"`
	Decimals uint8  `json:"decimals"`
}

func toOperationResponse(result OperationResult) OperationResponse {
	return OperationResponse{
		TransactionID: result.TransactionID,
		Account:       result.Account,
		Asset:         result.Asset,
		Amount:        result.Amount.String(),
		ValueUSD:      formatUSD(result.ValueUSD),
		Balance:       result.Balance.String(),
		CompletedAt:   result.CompletedAt.Format(time.RFC3339Nano),
	}
}

// formatUSD renders an 8-decimal fixed-point reference amount as a decimal
// string.
func formatUSD(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(ReferenceDecimals)).String()
}
