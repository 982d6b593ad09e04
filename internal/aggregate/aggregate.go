// Package aggregate derives display structures from expense data. Every
// function here is pure.
package aggregate

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"expenses/internal/core"
)

// ChartData is what a chart renderer needs and nothing more.
type ChartData struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
	Colors []string  `json:"colors"`
}

// Summarize totals amounts per category in order of first appearance.
// Sums are exact; rounding happens only in FormatAmount.
func Summarize(expenses []core.Expense) []core.CategoryTotal {
	return merge(len(expenses), func(yield func(core.Category, decimal.Decimal)) {
		for _, e := range expenses {
			yield(e.Category, e.Amount)
		}
	})
}

// FromServer normalizes a summary returned by the backend: rows without a
// category are dropped and repeated categories are merged in place.
func FromServer(rows []core.CategoryTotal) []core.CategoryTotal {
	return merge(len(rows), func(yield func(core.Category, decimal.Decimal)) {
		for _, r := range rows {
			if r.Category == "" {
				continue
			}
			yield(r.Category, r.Total)
		}
	})
}

func merge(hint int, each func(func(core.Category, decimal.Decimal))) []core.CategoryTotal {
	out := make([]core.CategoryTotal, 0, min(hint, 8))
	index := make(map[core.Category]int)
	each(func(c core.Category, amount decimal.Decimal) {
		if i, ok := index[c]; ok {
			out[i].Total = out[i].Total.Add(amount)
			return
		}
		index[c] = len(out)
		out = append(out, core.CategoryTotal{Category: c, Total: amount})
	})
	return out
}

// Total is the sum of all category totals.
func Total(summary []core.CategoryTotal) decimal.Decimal {
	total := decimal.Zero
	for _, s := range summary {
		total = total.Add(s.Total)
	}
	return total
}

// FormatAmount renders v with exactly two decimals. v may be a number, a
// numeric string or a decimal; anything else renders as "0.00". Floats are
// taken at their shortest decimal representation, then rounded half away
// from zero, so 3.005 gives "3.01".
func FormatAmount(v any) string {
	d, _ := core.LenientAmount(v)
	return d.StringFixed(2)
}

// ColorRamp returns n grayscale colors, darkest first, evenly spaced in
// lightness. n <= 0 yields an empty slice.
func ColorRamp(n int) []string {
	if n <= 0 {
		return []string{}
	}
	step := 100 / float64(n+1)
	colors := make([]string, n)
	for i := 1; i <= n; i++ {
		colors[i-1] = fmt.Sprintf("hsl(0, 0%%, %d%%)", int(math.Floor(step*float64(i))))
	}
	return colors
}

// Chart maps a summary onto chart series.
func Chart(summary []core.CategoryTotal) ChartData {
	c := ChartData{
		Labels: make([]string, len(summary)),
		Values: make([]float64, len(summary)),
		Colors: ColorRamp(len(summary)),
	}
	for i, s := range summary {
		c.Labels[i] = strings.ToUpper(string(s.Category))
		c.Values[i] = s.Total.InexactFloat64()
	}
	return c
}
