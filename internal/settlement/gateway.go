package settlement

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
)

// ErrTransferFailed surfaces any non-success outcome from the settlement
// layer. The custody service treats it as fatal for the whole operation.
var ErrTransferFailed = errors.New("settlement: transfer failed")

// Gateway moves asset units once accounting has decided. TransferIn pulls
// token deposits after validation; TransferOut realizes withdrawals and
// refunds rejected native deposits. Settlement is strictly ordered after
// accounting for withdrawals.
type Gateway interface {
	TransferIn(ctx context.Context, asset, from string, amount *big.Int) error
	TransferOut(ctx context.Context, asset, to string, amount *big.Int) error
}

// LoggerGateway records asset movements without touching an external system.
// It stands in for a real settlement connector during development.
type LoggerGateway struct {
	logger *slog.Logger
}

// NewLoggerGateway builds a gateway that logs every movement.
func NewLoggerGateway(logger *slog.Logger) *LoggerGateway {
	return &LoggerGateway{logger: logger}
}

// TransferIn acknowledges an inbound movement.
func (g *LoggerGateway) TransferIn(_ context.Context, asset, from string, amount *big.Int) error {
	g.logger.Info("settlement transfer in",
		slog.String("asset", asset),
		slog.String("from", from),
		slog.String("amount", amount.String()),
	)
	return nil
}

// TransferOut acknowledges an outbound movement.
func (g *LoggerGateway) TransferOut(_ context.Context, asset, to string, amount *big.Int) error {
	g.logger.Info("settlement transfer out",
		slog.String("asset", asset),
		slog.String("to", to),
		slog.String("amount", amount.String()),
	)
	return nil
}
