package engine

import (
	"fmt"

	"algodesk/internal/domain"
)

// RiskManager enforces pre-trade rules. An intent that fails a check is
// recorded as REJECTED and never reaches a broker.
type RiskManager struct {
	maxQuantity int64
}

// NewRiskManager creates a RiskManager. A non-positive maxQuantity disables
// the per-order size limit.
func NewRiskManager(maxQuantity int64) *RiskManager {
	return &RiskManager{maxQuantity: maxQuantity}
}

// CheckOrder validates the intent and applies the size limit.
func (rm *RiskManager) CheckOrder(intent domain.OrderIntent) error {
	if err := intent.Validate(); err != nil {
		return err
	}
	if rm != nil && rm.maxQuantity > 0 && intent.Quantity > rm.maxQuantity {
		return fmt.Errorf("%w: quantity %d exceeds limit %d", domain.ErrInvalidIntent, intent.Quantity, rm.maxQuantity)
	}
	return nil
}
