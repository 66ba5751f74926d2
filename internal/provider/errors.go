package provider

import (
	"errors"
	"fmt"

	"github.com/cypherlabdev/odds-consensus-service/internal/models"
)

// ErrMissingAPIKey means no provider credential is configured. It is raised
// before any network attempt.
var ErrMissingAPIKey = errors.New("provider API key is not configured")

// BudgetExceededError means the local daily budget or the provider-reported
// remaining quota is too low for another call. The call was never issued.
type BudgetExceededError struct {
	Status models.QuotaStatus
	Reason string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("provider call budget exceeded (%s): used %d of %d on %s",
		e.Reason, e.Status.Used, e.Status.Limit, e.Status.Date)
}

// ProviderError means the upstream returned a non-success response or the
// request failed in transit (including timeouts). Callers must not retry
// automatically; retries belong to the orchestration layer.
type ProviderError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider request %s failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("provider request %s failed: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsBudgetExceeded reports whether err is a budget denial.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}
