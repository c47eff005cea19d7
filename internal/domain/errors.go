package domain

import (
	"errors"
	"fmt"
)

// Reasons a campaign application can be rejected. Each maps to a distinct
// error code on the wire.
var (
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrCampaignInactive    = errors.New("campaign is not active")
	ErrCampaignExpired     = errors.New("campaign is outside its active date range")
	ErrCustomerNotEligible = errors.New("customer is not eligible for this campaign")
	ErrDailyLimitExceeded  = errors.New("daily transaction limit reached for this campaign")
	ErrBudgetExhausted     = errors.New("campaign budget is exhausted")
	ErrNothingToDiscount   = errors.New("no amount left to discount")
)

// ErrLockTimeout indicates a row lock could not be acquired within the
// configured bound. The whole operation is rolled back and may be retried.
var ErrLockTimeout = errors.New("lock wait timed out")

// RejectionError is a business rejection of a campaign application. It names
// the offending campaign and carries the reason sentinel for errors.Is checks.
type RejectionError struct {
	CampaignID   string
	CampaignName string
	Reason       error
}

func (e *RejectionError) Error() string {
	if e.CampaignName != "" {
		return fmt.Sprintf("campaign %q: %v", e.CampaignName, e.Reason)
	}
	return fmt.Sprintf("campaign %s: %v", e.CampaignID, e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.Reason
}

// Reject builds a RejectionError for the given campaign.
func Reject(c *Campaign, reason error) *RejectionError {
	return &RejectionError{CampaignID: c.ID, CampaignName: c.Name, Reason: reason}
}
