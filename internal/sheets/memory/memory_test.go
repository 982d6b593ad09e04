package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"expenses/internal/core"
	"expenses/internal/sheets"
)

func TestExport(t *testing.T) {
	x := New()
	ctx := context.Background()

	if _, err := x.Export(ctx, nil); !errors.Is(err, sheets.ErrNothingToExport) {
		t.Fatalf("Export(nil) error = %v", err)
	}

	e := core.Expense{Title: "Taxi", Amount: decimal.RequireFromString("7.5"), Category: core.Travel, Date: core.NewDate(2024, 2, 3)}
	ref, err := x.Export(ctx, []core.Expense{e, e})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if ref != "mem:2-3" {
		t.Errorf("ref = %q, want mem:2-3", ref)
	}

	ref, err = x.Export(ctx, []core.Expense{e})
	if err != nil {
		t.Fatalf("second Export() error = %v", err)
	}
	if ref != "mem:4-4" {
		t.Errorf("ref = %q, want mem:4-4", ref)
	}

	rows := x.Rows()
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}
	if rows[0][0] != "Date" {
		t.Errorf("header = %v", rows[0])
	}
	want := []string{"2024-02-03", "Taxi", "Travel", "7.50", ""}
	for i, cell := range want {
		if rows[1][i] != cell {
			t.Errorf("row[1][%d] = %q, want %q", i, rows[1][i], cell)
		}
	}
}
