package controllers

import (
	"encoding/json"

	"github.com/angelmondragon/pharmalink-backend/pkg/pricing"
)

// Money is an amount in cents that travels as a decimal string ("12.50").
type Money int64

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(pricing.FormatCents(int64(m)))
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cents, err := pricing.ParseCents(raw)
	if err != nil {
		return err
	}
	*m = Money(cents)
	return nil
}

func optionalMoney(cents *int64) *Money {
	if cents == nil {
		return nil
	}
	m := Money(*cents)
	return &m
}
