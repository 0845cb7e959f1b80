package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Invoice is a fee or deposit payment request issued by the relayer.
type Invoice struct {
	PaymentRequest string
	Required       bool
}

// PayInvoice registers a refund invoice for paymentRequest and then pays it,
// returning the refund payment request.
func PayInvoice(ctx context.Context, e Engine, paymentRequest string) (string, error) {
	refund, err := e.CreateRefundInvoice(ctx, paymentRequest)
	if err != nil {
		return "", fmt.Errorf("failed to create refund invoice: %w", err)
	}
	if err := e.PayInvoice(ctx, paymentRequest); err != nil {
		return "", fmt.Errorf("failed to pay invoice: %w", err)
	}
	return refund, nil
}

// PayFeeAndDeposit pays the required invoices concurrently. A skipped invoice
// yields an empty refund request.
func PayFeeAndDeposit(ctx context.Context, e Engine, fee, deposit Invoice) (feeRefund, depositRefund string, err error) {
	g, gctx := errgroup.WithContext(ctx)
	if fee.Required {
		g.Go(func() error {
			r, err := PayInvoice(gctx, e, fee.PaymentRequest)
			if err != nil {
				return fmt.Errorf("fee: %w", err)
			}
			feeRefund = r
			return nil
		})
	}
	if deposit.Required {
		g.Go(func() error {
			r, err := PayInvoice(gctx, e, deposit.PaymentRequest)
			if err != nil {
				return fmt.Errorf("deposit: %w", err)
			}
			depositRefund = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return feeRefund, depositRefund, nil
}
