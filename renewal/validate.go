package renewal

import (
	"strings"
	"time"
)

// ValidateOffer checks the terms an agent attaches when sending an offer.
func ValidateOffer(offer Offer) error {
	if offer.Amount <= 0 {
		return &ValidationError{Field: "renewalAmount", Msg: "must be greater than zero"}
	}
	if strings.TrimSpace(offer.CoverType) == "" {
		return &ValidationError{Field: "insuranceCover", Msg: "is required"}
	}
	if strings.TrimSpace(offer.CoverageDetails) == "" {
		return &ValidationError{Field: "coverageDetails", Msg: "is required"}
	}
	return nil
}

// ValidateCompletion checks completion details against the submission time.
// The new expiry must be strictly after now.
func ValidateCompletion(details CompletionDetails, now time.Time) error {
	if strings.TrimSpace(details.PolicyNumber) == "" {
		return &ValidationError{Field: "newPolicyNumber", Msg: "is required"}
	}
	if details.ExpiryDate.IsZero() {
		return &ValidationError{Field: "newExpiryDate", Msg: "is required"}
	}
	if !details.ExpiryDate.After(now) {
		return &ValidationError{Field: "newExpiryDate", Msg: "must be in the future"}
	}
	return nil
}

// NormalizeReason trims an optional rejection reason. Absent reasons become
// the empty string.
func NormalizeReason(reason *string) string {
	if reason == nil {
		return ""
	}
	return strings.TrimSpace(*reason)
}
