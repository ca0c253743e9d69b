package service

import (
	"context"

	"github.com/quizrace/internal/domain"
)

// StatusPaymentChecker reads the participant's persisted payment
// status. The payment flow itself lives outside this service; whatever
// settles a payment updates the participant record, and every request
// reloads it.
type StatusPaymentChecker struct{}

// HasPaid reports whether the participant's payment has settled
func (StatusPaymentChecker) HasPaid(_ context.Context, p *domain.Participant) (bool, error) {
	return p.Paid(), nil
}
