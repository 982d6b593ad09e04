package sheets

import (
	"context"
	"errors"

	"expenses/internal/aggregate"
	"expenses/internal/core"
)

// ErrNothingToExport is returned when Export is given no expenses.
var ErrNothingToExport = errors.New("nothing to export")

// ExpenseExporter writes a list of expenses somewhere outside the backend.
// The returned reference identifies what was written (a sheet range, a row
// span) and is meant for display only.
type ExpenseExporter interface {
	Export(ctx context.Context, expenses []core.Expense) (ref string, err error)
}

// Header is the first row of an exported sheet.
var Header = []string{"Date", "Title", "Category", "Amount", "Notes"}

// Row renders e as sheet cells in Header order.
func Row(e core.Expense) []string {
	return []string{
		e.Date.String(),
		e.Title,
		e.Category.Label(),
		aggregate.FormatAmount(e.Amount),
		e.Notes,
	}
}
