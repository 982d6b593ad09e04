package core

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// CategoryTotal is the amount spent in one category.
type CategoryTotal struct {
	Category Category        `json:"category"`
	Total    decimal.Decimal `json:"total"`
}

// UnmarshalJSON tolerates totals sent as strings, numbers or null.
func (c *CategoryTotal) UnmarshalJSON(data []byte) error {
	var raw struct {
		Category string          `json:"category"`
		Total    json.RawMessage `json:"total"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Category = Category(raw.Category)
	c.Total = rawAmount(raw.Total)
	return nil
}
