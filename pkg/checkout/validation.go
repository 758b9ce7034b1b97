package checkout

import (
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/pharmalink-backend/pkg/errors"
)

// StockValidationInput describes one line's demand against live stock.
type StockValidationInput struct {
	DrugID    uuid.UUID
	DrugName  string
	Requested int
	Available int
}

// StockViolationDetail is returned to callers for every short line.
type StockViolationDetail struct {
	DrugID    uuid.UUID `json:"drug_id"`
	DrugName  string    `json:"drug_name,omitempty"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// ValidateStock fails with every line whose requested delivered quantity
// exceeds the available stock. Either all lines pass or none are accepted.
func ValidateStock(items []StockValidationInput) error {
	var violations []StockViolationDetail
	for _, item := range items {
		if item.Requested <= item.Available {
			continue
		}
		violations = append(violations, StockViolationDetail{
			DrugID:    item.DrugID,
			DrugName:  item.DrugName,
			Requested: item.Requested,
			Available: item.Available,
		})
	}
	if len(violations) == 0 {
		return nil
	}
	return StockUnavailable(violations)
}

// StockUnavailable builds the error carried by a failed stock check.
func StockUnavailable(violations []StockViolationDetail) error {
	return pkgerrors.New(pkgerrors.CodeStockUnavailable, fmt.Sprintf("insufficient stock for %d item(s)", len(violations))).WithDetails(map[string]any{
		"violations": violations,
	})
}

// MinimumOrderValueDetail explains a subtotal below the inventory minimum.
type MinimumOrderValueDetail struct {
	MinimumCents  int64 `json:"minimum_cents"`
	SubtotalCents int64 `json:"subtotal_cents"`
}

// ValidateMinimumOrderValue enforces an inventory's minimum subtotal; zero disables it.
func ValidateMinimumOrderValue(subtotalCents, minimumCents int64) error {
	if minimumCents <= 0 || subtotalCents >= minimumCents {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "order subtotal is below the inventory minimum").WithDetails(MinimumOrderValueDetail{
		MinimumCents:  minimumCents,
		SubtotalCents: subtotalCents,
	})
}
