// Package render turns expense data into markdown and prints it, styled for
// terminals through glamour unless plain output is requested.
package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/glamour"
	"github.com/shopspring/decimal"

	"expenses/internal/aggregate"
	"expenses/internal/api"
	"expenses/internal/core"
	"expenses/internal/dashboard"
)

const (
	DefaultCurrency = "INR"
	DefaultWidth    = 100
	barWidth        = 30
)

type Options struct {
	Currency string
	Width    int
	// Plain prints raw markdown, for pipes and tests.
	Plain bool
}

type Renderer struct {
	w    io.Writer
	cur  *money.Currency
	opts Options
}

func New(w io.Writer, opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	cur := money.GetCurrency(strings.ToUpper(opts.Currency))
	if cur == nil {
		cur = money.GetCurrency(DefaultCurrency)
	}
	return &Renderer{w: w, cur: cur, opts: opts}
}

// Money formats d in the renderer's currency, rounded like
// aggregate.FormatAmount.
func (r *Renderer) Money(d decimal.Decimal) string {
	minor := d.Round(int32(r.cur.Fraction)).Shift(int32(r.cur.Fraction)).IntPart()
	return r.cur.Formatter().Format(minor)
}

// Print writes md to the output.
func (r *Renderer) Print(md string) error {
	if r.opts.Plain {
		_, err := io.WriteString(r.w, md)
		return err
	}

	tr, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(r.opts.Width),
	)
	if err != nil {
		return fmt.Errorf("create terminal renderer: %w", err)
	}
	out, err := tr.Render(md)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = io.WriteString(r.w, out)
	return err
}

func (r *Renderer) View(v dashboard.View) error {
	return r.Print(r.ViewMarkdown(v))
}

func (r *Renderer) Expense(e core.Expense) error {
	return r.Print(r.ExpenseMarkdown(e))
}

func (r *Renderer) Users(users []api.User) error {
	return r.Print(UsersMarkdown(users))
}

// ViewMarkdown renders the filter, the expense table and the summary.
func (r *Renderer) ViewMarkdown(v dashboard.View) string {
	var b strings.Builder
	b.WriteString("# Expenses\n\n")
	if desc := describeFilter(v); desc != "" {
		fmt.Fprintf(&b, "_%s_\n\n", desc)
	}
	b.WriteString(r.ExpensesMarkdown(v.Expenses))
	b.WriteString("\n")
	b.WriteString(r.SummaryMarkdown(v.Summary, v.Chart))
	return b.String()
}

func (r *Renderer) ExpensesMarkdown(expenses []core.Expense) string {
	if len(expenses) == 0 {
		return "No expenses found.\n"
	}

	var b strings.Builder
	b.WriteString("| ID | Date | Title | Category | Amount | Notes |\n")
	b.WriteString("|---:|---|---|---|---:|---|\n")
	for _, e := range expenses {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s |\n",
			e.ID, e.Date.String(), cell(e.Title), e.Category.Label(), r.Money(e.Amount), cell(e.Notes))
	}
	return b.String()
}

// SummaryMarkdown renders category totals with a proportional bar.
func (r *Renderer) SummaryMarkdown(summary []core.CategoryTotal, chart aggregate.ChartData) string {
	if len(summary) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Summary\n\n")
	b.WriteString("| Category | Total | Share | Shade |\n")
	b.WriteString("|---|---:|---|---|\n")

	total := aggregate.Total(summary)
	for i, s := range summary {
		label := strings.ToUpper(string(s.Category))
		if i < len(chart.Labels) {
			label = chart.Labels[i]
		}
		shade := ""
		if i < len(chart.Colors) {
			shade = chart.Colors[i]
		}
		fmt.Fprintf(&b, "| %s | %s | `%s` | %s |\n", label, r.Money(s.Total), bar(s.Total, total), shade)
	}
	fmt.Fprintf(&b, "| **Total** | **%s** | | |\n", r.Money(total))
	return b.String()
}

func (r *Renderer) ExpenseMarkdown(e core.Expense) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", e.Title)
	fmt.Fprintf(&b, "- **ID:** %d\n", e.ID)
	fmt.Fprintf(&b, "- **Date:** %s\n", e.Date.String())
	fmt.Fprintf(&b, "- **Category:** %s\n", e.Category.Label())
	fmt.Fprintf(&b, "- **Amount:** %s\n", r.Money(e.Amount))
	if e.Notes != "" {
		fmt.Fprintf(&b, "\n%s\n", e.Notes)
	}
	return b.String()
}

func UsersMarkdown(users []api.User) string {
	if len(users) == 0 {
		return "No users.\n"
	}
	var b strings.Builder
	b.WriteString("| ID | Username |\n|---:|---|\n")
	for _, u := range users {
		fmt.Fprintf(&b, "| %d | %s |\n", u.ID, cell(u.Username))
	}
	return b.String()
}

func describeFilter(v dashboard.View) string {
	f := v.Filter
	var parts []string
	if !f.StartDate.IsEmpty() {
		parts = append(parts, "from "+f.StartDate.String())
	}
	if !f.EndDate.IsEmpty() {
		parts = append(parts, "to "+f.EndDate.String())
	}
	if f.Category != "" {
		parts = append(parts, "category "+f.Category.Label())
	}
	if f.OwnerID != 0 {
		parts = append(parts, "user #"+strconv.FormatInt(f.OwnerID, 10))
	}
	if v.SummarySource == dashboard.SourceClient {
		parts = append(parts, "totals computed locally")
	}
	return strings.Join(parts, ", ")
}

func bar(part, total decimal.Decimal) string {
	if !total.IsPositive() || part.IsNegative() {
		return strings.Repeat(" ", barWidth)
	}
	n := int(part.Div(total).Mul(decimal.NewFromInt(barWidth)).Round(0).IntPart())
	n = max(0, min(n, barWidth))
	return strings.Repeat("█", n) + strings.Repeat("░", barWidth-n)
}

// cell escapes text for a markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
