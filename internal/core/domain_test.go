package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{}, false},
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("case %d expected ErrInvalidDate, got %v", i, err)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-05-10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "2024-05-10" {
		t.Fatalf("got %q", d.String())
	}
	for _, in := range []string{"", "2024-13-01", "10/05/2024", "abc"} {
		if _, err := ParseDate(in); !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("%q expected ErrInvalidDate, got %v", in, err)
		}
	}
}

func TestParseCategory(t *testing.T) {
	for _, in := range []string{"food", "FOOD", " Travel ", "utilities", "misc"} {
		if _, err := ParseCategory(in); err != nil {
			t.Fatalf("%q expected ok, got %v", in, err)
		}
	}
	if _, err := ParseCategory("rent"); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
	if Misc.Label() != "Miscellaneous" {
		t.Fatalf("unexpected label %q", Misc.Label())
	}
}

func TestExpenseInputValidate(t *testing.T) {
	good := ExpenseInput{
		Title:    "Lunch",
		Amount:   decimal.RequireFromString("12.50"),
		Category: Food,
		Date:     NewDate(2025, 1, 1),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []struct {
		mutate func(*ExpenseInput)
		want   error
	}{
		{func(e *ExpenseInput) { e.Title = "  " }, ErrEmptyTitle},
		{func(e *ExpenseInput) { e.Title = strings.Repeat("x", MaxTitleLength+1) }, ErrTitleTooLong},
		{func(e *ExpenseInput) { e.Amount = decimal.Zero }, ErrInvalidAmount},
		{func(e *ExpenseInput) { e.Amount = decimal.RequireFromString("-1") }, ErrInvalidAmount},
		{func(e *ExpenseInput) { e.Amount = decimal.RequireFromString("1.234") }, ErrInvalidAmount},
		{func(e *ExpenseInput) { e.Category = "rent" }, ErrInvalidCategory},
		{func(e *ExpenseInput) { e.Date = Date{} }, ErrInvalidDate},
	}
	for i, tc := range bads {
		e := good
		tc.mutate(&e)
		if err := e.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("case %d expected %v, got %v", i, tc.want, err)
		}
	}
}

func TestExpenseInputMarshal(t *testing.T) {
	in := ExpenseInput{
		Title:    " Taxi ",
		Amount:   decimal.RequireFromString("7.5"),
		Category: Travel,
		Date:     NewDate(2024, 3, 9),
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"title":"Taxi","amount":"7.50","category":"travel","date":"2024-03-09","notes":""}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}

func TestExpenseUnmarshalLenient(t *testing.T) {
	body := `[
		{"id":1,"title":"a","amount":"10.50","category":"food","date":"2024-05-01","notes":null,"user":3},
		{"id":2,"title":"b","amount":3,"category":"travel","date":"2024-05-02T10:00:00Z"},
		{"id":3,"title":"c","amount":"abc","category":"misc","date":"not-a-date"},
		{"id":4,"title":"d","amount":null,"category":"misc","date":null}
	]`
	var got []Expense
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 expenses, got %d", len(got))
	}
	if !got[0].Amount.Equal(decimal.RequireFromString("10.5")) || got[0].OwnerID != 3 || got[0].Notes != "" {
		t.Fatalf("unexpected first expense: %+v", got[0])
	}
	if got[1].Date.String() != "2024-05-02" || !got[1].Amount.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected second expense: %+v", got[1])
	}
	for _, e := range got[2:] {
		if !e.Amount.IsZero() || !e.Date.IsZero() {
			t.Fatalf("expected zero amount and date, got %+v", e)
		}
	}
}

func TestCategoryTotalUnmarshal(t *testing.T) {
	var got []CategoryTotal
	body := `[{"category":"food","total":"15.00"},{"category":"travel","total":3.5},{"category":"misc","total":null}]`
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got[0].Total.Equal(decimal.NewFromInt(15)) || !got[1].Total.Equal(decimal.RequireFromString("3.5")) || !got[2].Total.IsZero() {
		t.Fatalf("unexpected totals: %+v", got)
	}
}
