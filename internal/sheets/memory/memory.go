// Package memory is an in-process exporter, used in tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"expenses/internal/core"
	"expenses/internal/sheets"
)

var _ sheets.ExpenseExporter = (*Exporter)(nil)

type Exporter struct {
	mu   sync.Mutex
	rows [][]string
}

func New() *Exporter {
	return &Exporter{}
}

// Export appends one row per expense, writing the header first on an empty
// sheet. The reference is the 1-based row span written.
func (x *Exporter) Export(_ context.Context, expenses []core.Expense) (string, error) {
	if len(expenses) == 0 {
		return "", sheets.ErrNothingToExport
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.rows) == 0 {
		x.rows = append(x.rows, append([]string(nil), sheets.Header...))
	}
	first := len(x.rows) + 1
	for _, e := range expenses {
		x.rows = append(x.rows, sheets.Row(e))
	}
	return fmt.Sprintf("mem:%d-%d", first, len(x.rows)), nil
}

// Rows returns a copy of everything exported so far, header included.
func (x *Exporter) Rows() [][]string {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([][]string, len(x.rows))
	for i, r := range x.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
