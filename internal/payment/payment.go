// Package payment initiates and refunds mobile-money charges.
package payment

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"aeropark-backend/internal/errs"
)

type Method string

const (
	OrangeMoney Method = "orange_money"
	AirtelMoney Method = "airtel_money"
	MPesa       Method = "mpesa"
)

var ErrUnsupportedMethod = errs.Sentinel("unsupported payment method", errs.ErrInvalidInput)

func ParseMethod(raw string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(raw))); m {
	case OrangeMoney, AirtelMoney, MPesa:
		return m, nil
	}
	return "", errs.Wrapf(ErrUnsupportedMethod, "%q", raw)
}

// Charge describes a payment request.
type Charge struct {
	HolderID  string
	Amount    int64
	Method    Method
	SpaceID   string
	Reference string
}

// Receipt is the outcome of a confirmed charge.
type Receipt struct {
	Reference string
	Confirmed bool
}

// Gateway initiates payments with a mobile-money operator.
type Gateway interface {
	Charge(ctx context.Context, c Charge) (Receipt, error)
	Refund(ctx context.Context, reference string, amount int64) error
}

// NewReference returns a payment reference of the form AP-XXXXXXXX.
func NewReference() string {
	return "AP-" + strings.ToUpper(uuid.NewString()[:8])
}

// StubGateway confirms every charge immediately.
type StubGateway struct {
	logger *slog.Logger
}

func NewStubGateway(logger *slog.Logger) *StubGateway {
	return &StubGateway{logger: logger}
}

func (g *StubGateway) Charge(ctx context.Context, c Charge) (Receipt, error) {
	ref := c.Reference
	if ref == "" {
		ref = NewReference()
	}
	g.logger.Info("payment confirmed",
		"reference", ref, "method", c.Method, "amount", c.Amount, "holder_id", c.HolderID)
	return Receipt{Reference: ref, Confirmed: true}, nil
}

func (g *StubGateway) Refund(ctx context.Context, reference string, amount int64) error {
	g.logger.Info("payment refunded", "reference", reference, "amount", amount)
	return nil
}
