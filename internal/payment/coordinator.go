// Package payment wraps the external payment gateway behind a small,
// timeout-bounded coordinator. Reservation state only ever changes on an
// explicit gateway success.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrDeclined           = errors.New("payment declined")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

type ChargeResult struct {
	ChargeRef string
}

type RefundResult struct {
	RefundRef string
}

// Gateway is the external billing capability.
type Gateway interface {
	Charge(ctx context.Context, amount int64, methodRef string) (*ChargeResult, error)
	Refund(ctx context.Context, chargeRef string) (*RefundResult, error)
}

// Coordinator bounds every gateway call with a timeout. A timed-out charge
// must never confirm a reservation, so timeouts surface as
// ErrGatewayUnavailable to the caller.
type Coordinator struct {
	gw      Gateway
	timeout time.Duration
}

func NewCoordinator(gw Gateway, timeout time.Duration) *Coordinator {
	return &Coordinator{gw: gw, timeout: timeout}
}

func (c *Coordinator) Charge(ctx context.Context, amount int64, methodRef string) (*ChargeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.gw.Charge(ctx, amount, methodRef)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("charge timed out: %w", ErrGatewayUnavailable)
		}
		return nil, fmt.Errorf("charge: %w", err)
	}
	return res, nil
}

func (c *Coordinator) Refund(ctx context.Context, chargeRef string) (*RefundResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.gw.Refund(ctx, chargeRef)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("refund timed out: %w", ErrGatewayUnavailable)
		}
		return nil, fmt.Errorf("refund: %w", err)
	}
	return res, nil
}
