package enums

import "fmt"

// PromotionKind discriminates the promotion rule stored on a drug row.
type PromotionKind string

const (
	PromotionKindNone         PromotionKind = "none"
	PromotionKindBuyNGetMFree PromotionKind = "buy_n_get_m_free"
)

var validPromotionKinds = []PromotionKind{
	PromotionKindNone,
	PromotionKindBuyNGetMFree,
}

// IsValid reports whether the value is a known PromotionKind.
func (p PromotionKind) IsValid() bool {
	for _, candidate := range validPromotionKinds {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePromotionKind converts raw input into a PromotionKind.
func ParsePromotionKind(value string) (PromotionKind, error) {
	for _, candidate := range validPromotionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid promotion kind %q", value)
}
