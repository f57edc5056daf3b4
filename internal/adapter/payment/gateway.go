// Package payment holds the billing-provider port implementations. The real
// provider protocol is out of scope; the test-mode gateway mirrors the
// upstream behavior when no provider credentials are configured.
package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/roppunt/fixframe/internal/domain"
)

// TestGateway approves every confirmation and issues random session ids. It
// implements domain.PaymentGateway.
type TestGateway struct{}

func (g *TestGateway) StartCheckout(ctx context.Context, job *domain.Job) (domain.CheckoutSession, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return domain.CheckoutSession{}, err
	}
	return domain.CheckoutSession{
		ID:       hex.EncodeToString(buf),
		Provider: "test",
	}, nil
}

func (g *TestGateway) ConfirmPayment(ctx context.Context, jobID, sessionID string) (bool, error) {
	return true, nil
}
