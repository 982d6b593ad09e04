package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	Food      Category = "food"
	Travel    Category = "travel"
	Utilities Category = "utilities"
	Misc      Category = "misc"
)

// MaxTitleLength mirrors the backend column size.
const MaxTitleLength = 100

type (
	Category string

	// Expense is a record as returned by the backend.
	Expense struct {
		ID       int64           `json:"id"`
		Title    string          `json:"title"`
		Amount   decimal.Decimal `json:"amount"`
		Category Category        `json:"category"`
		Date     Date            `json:"date"`
		Notes    string          `json:"notes,omitempty"`
		OwnerID  int64           `json:"user,omitempty"`
	}

	// ExpenseInput is the writable part of an expense, sent on create and update.
	ExpenseInput struct {
		Title    string
		Amount   decimal.Decimal
		Category Category
		Date     Date
		Notes    string
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidDate     = errors.New("invalid date")
	ErrEmptyTitle      = errors.New("empty title")
	ErrTitleTooLong    = fmt.Errorf("title too long (max %d characters)", MaxTitleLength)
)

var categoryLabels = map[Category]string{
	Food:      "Food",
	Travel:    "Travel",
	Utilities: "Utilities",
	Misc:      "Miscellaneous",
}

// Categories returns the known categories in display order.
func Categories() []Category {
	return []Category{Food, Travel, Utilities, Misc}
}

// ParseCategory accepts a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
	return c, nil
}

func (c Category) Valid() bool {
	_, ok := categoryLabels[c]
	return ok
}

// Label returns the human readable name, or the raw value for unknown categories.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

func (c Category) String() string { return string(c) }

func (e ExpenseInput) Validate() error {
	title := strings.TrimSpace(e.Title)
	if title == "" {
		return ErrEmptyTitle
	}
	if len(title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !e.Amount.Equal(e.Amount.Round(2)) {
		return fmt.Errorf("%w: at most 2 decimal places", ErrInvalidAmount)
	}
	if !e.Category.Valid() {
		return ErrInvalidCategory
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON encodes the input with the backend field names.
func (e ExpenseInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Title    string `json:"title"`
		Amount   string `json:"amount"`
		Category string `json:"category"`
		Date     string `json:"date"`
		Notes    string `json:"notes"`
	}{
		Title:    strings.TrimSpace(e.Title),
		Amount:   e.Amount.StringFixed(2),
		Category: string(e.Category),
		Date:     e.Date.String(),
		Notes:    e.Notes,
	})
}

// Input returns the writable fields of the expense.
func (e Expense) Input() ExpenseInput {
	return ExpenseInput{
		Title:    e.Title,
		Amount:   e.Amount,
		Category: e.Category,
		Date:     e.Date,
		Notes:    e.Notes,
	}
}

// UnmarshalJSON is lenient: a malformed amount decodes to zero and a
// malformed date to the zero Date, so one bad record never breaks a listing.
func (e *Expense) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       int64           `json:"id"`
		Title    string          `json:"title"`
		Amount   json.RawMessage `json:"amount"`
		Category string          `json:"category"`
		Date     Date            `json:"date"`
		Notes    *string         `json:"notes"`
		OwnerID  *int64          `json:"user"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Expense{
		ID:       raw.ID,
		Title:    raw.Title,
		Amount:   rawAmount(raw.Amount),
		Category: Category(raw.Category),
		Date:     raw.Date,
	}
	if raw.Notes != nil {
		e.Notes = *raw.Notes
	}
	if raw.OwnerID != nil {
		e.OwnerID = *raw.OwnerID
	}
	return nil
}

func rawAmount(data json.RawMessage) decimal.Decimal {
	if len(data) == 0 {
		return decimal.Zero
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return decimal.Zero
	}
	d, _ := LenientAmount(v)
	return d
}
