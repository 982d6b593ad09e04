package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"expenses/internal/aggregate"
	"expenses/internal/core"
	"expenses/internal/dashboard"
	"expenses/internal/query"
)

// filterArgs are the filter flags shared by list, summary and export.
type filterArgs struct {
	from     string
	to       string
	category string
	user     string
}

func (fa *filterArgs) register(f *flag.FlagSet) {
	f.StringVar(&fa.from, "from", "", "First day to include (YYYY-MM-DD).")
	f.StringVar(&fa.to, "to", "", "Last day to include (YYYY-MM-DD).")
	f.StringVar(&fa.category, "category", "", "Only this category: food, travel, utilities or misc.")
	f.StringVar(&fa.user, "user", "", "Only this user id (staff only).")
}

func (fa *filterArgs) filter() (query.FilterState, error) {
	return query.Parse(map[string]string{
		query.ParamStartDate: fa.from,
		query.ParamEndDate:   fa.to,
		query.ParamCategory:  fa.category,
		query.ParamUser:      fa.user,
	})
}

// apply restores the session and fetches the view selected by fa.
func (fa *filterArgs) apply(ctx context.Context, a *App) (dashboard.View, error) {
	f, err := fa.filter()
	if err != nil {
		return dashboard.View{}, err
	}
	if err := a.start(ctx); err != nil {
		return dashboard.View{}, err
	}
	return a.dash.Apply(ctx, f)
}

type listCmd struct {
	app *App
	filterArgs
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list expenses with their category summary" }
func (*listCmd) Usage() string {
	return `expenses list [-from <date>] [-to <date>] [-category <category>] [-user <id>]

  Lists matching expenses followed by totals per category.
`
}

func (c *listCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *listCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	v, err := c.apply(ctx, c.app)
	if err != nil {
		return report(c.app.Stderr, err)
	}
	if err := c.app.renderer().View(v); err != nil {
		return report(c.app.Stderr, err)
	}
	return subcommands.ExitSuccess
}

type summaryCmd struct {
	app *App
	filterArgs
	json bool
}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "show totals per category" }
func (*summaryCmd) Usage() string {
	return `expenses summary [-json] [-from <date>] [-to <date>] [-category <category>] [-user <id>]

  The category filter narrows the listing only; totals always cover every
  category in the date range. With -json the chart series is printed instead.
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
	f.BoolVar(&c.json, "json", false, "Print chart data as JSON.")
}

type summaryJSON struct {
	Source  dashboard.SummarySource `json:"source"`
	Total   string                  `json:"total"`
	Summary []core.CategoryTotal    `json:"summary"`
	Chart   aggregate.ChartData     `json:"chart"`
}

func (c *summaryCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	v, err := c.apply(ctx, c.app)
	if err != nil {
		return report(c.app.Stderr, err)
	}

	if c.json {
		enc := json.NewEncoder(c.app.Stdout)
		enc.SetIndent("", "  ")
		out := summaryJSON{
			Source:  v.SummarySource,
			Total:   aggregate.FormatAmount(v.Total),
			Summary: v.Summary,
			Chart:   v.Chart,
		}
		if err := enc.Encode(out); err != nil {
			return report(c.app.Stderr, err)
		}
		return subcommands.ExitSuccess
	}

	r := c.app.renderer()
	md := r.SummaryMarkdown(v.Summary, v.Chart)
	if md == "" {
		md = "No expenses found.\n"
	}
	if err := r.Print(md); err != nil {
		return report(c.app.Stderr, err)
	}
	return subcommands.ExitSuccess
}

// expenseArgs are the writable fields as flags, shared by add and edit.
type expenseArgs struct {
	title    string
	amount   string
	category string
	date     string
	notes    string
}

func (ea *expenseArgs) register(f *flag.FlagSet) {
	f.StringVar(&ea.title, "title", "", "Title.")
	f.StringVar(&ea.amount, "amount", "", "Amount, at most two decimals.")
	f.StringVar(&ea.category, "category", "", "Category: food, travel, utilities or misc.")
	f.StringVar(&ea.date, "date", "", "Date (YYYY-MM-DD). Defaults to today on add.")
	f.StringVar(&ea.notes, "notes", "", "Free text notes.")
}

// overlay writes the flags named in set onto in.
func (ea *expenseArgs) overlay(in *core.ExpenseInput, set map[string]bool) error {
	if set["title"] {
		in.Title = strings.TrimSpace(ea.title)
	}
	if set["amount"] {
		d, err := core.ParseAmount(ea.amount)
		if err != nil {
			return invalidFlag("-amount", err)
		}
		in.Amount = d
	}
	if set["category"] {
		cat, err := core.ParseCategory(ea.category)
		if err != nil {
			return invalidFlag("-category", err)
		}
		in.Category = cat
	}
	if set["date"] {
		d, err := core.ParseDate(ea.date)
		if err != nil {
			return invalidFlag("-date", err)
		}
		in.Date = d
	}
	if set["notes"] {
		in.Notes = ea.notes
	}
	return nil
}

func visited(f *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	f.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return set
}

type addCmd struct {
	app *App
	expenseArgs
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "record an expense" }
func (*addCmd) Usage() string {
	return `expenses add -title <title> -amount <amount> -category <category> [-date <date>] [-notes <text>]
`
}

func (c *addCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *addCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a := c.app
	loc, err := a.Config.Location()
	if err != nil {
		return report(a.Stderr, err)
	}
	in := core.ExpenseInput{Date: core.Today(loc)}
	set := visited(f)
	set["title"], set["amount"], set["category"] = true, true, true
	if err := c.overlay(&in, set); err != nil {
		return report(a.Stderr, err)
	}
	if err := a.start(ctx); err != nil {
		return report(a.Stderr, err)
	}

	e, err := a.dash.Create(ctx, in)
	if err != nil {
		return report(a.Stderr, err)
	}
	fmt.Fprintf(a.Stdout, "Added expense %d.\n", e.ID)
	return subcommands.ExitSuccess
}

type editCmd struct {
	app *App
	expenseArgs
}

func (*editCmd) Name() string     { return "edit" }
func (*editCmd) Synopsis() string { return "change an expense" }
func (*editCmd) Usage() string {
	return `expenses edit [-title <title>] [-amount <amount>] [-category <category>] [-date <date>] [-notes <text>] <id>

  Only the given flags change; everything else keeps its current value.
`
}

func (c *editCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *editCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a := c.app
	id, err := expenseID(f)
	if err != nil {
		return report(a.Stderr, err)
	}
	set := visited(f)
	if len(set) == 0 {
		fmt.Fprintln(a.Stderr, "nothing to change")
		return subcommands.ExitUsageError
	}
	if err := a.start(ctx); err != nil {
		return report(a.Stderr, err)
	}

	current, err := a.dash.Get(ctx, id)
	if err != nil {
		return report(a.Stderr, err)
	}
	in := current.Input()
	if err := c.overlay(&in, set); err != nil {
		return report(a.Stderr, err)
	}
	if _, err := a.dash.Update(ctx, id, in); err != nil {
		return report(a.Stderr, err)
	}
	fmt.Fprintf(a.Stdout, "Updated expense %d.\n", id)
	return subcommands.ExitSuccess
}

type deleteCmd struct {
	app *App
}

func (*deleteCmd) Name() string     { return "delete" }
func (*deleteCmd) Synopsis() string { return "delete an expense" }
func (*deleteCmd) Usage() string {
	return `expenses delete <id>
`
}

func (*deleteCmd) SetFlags(*flag.FlagSet) {}

func (c *deleteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a := c.app
	id, err := expenseID(f)
	if err != nil {
		return report(a.Stderr, err)
	}
	if err := a.start(ctx); err != nil {
		return report(a.Stderr, err)
	}
	if err := a.dash.Delete(ctx, id); err != nil {
		return report(a.Stderr, err)
	}
	fmt.Fprintf(a.Stdout, "Deleted expense %d.\n", id)
	return subcommands.ExitSuccess
}

type showCmd struct {
	app *App
}

func (*showCmd) Name() string     { return "show" }
func (*showCmd) Synopsis() string { return "show one expense" }
func (*showCmd) Usage() string {
	return `expenses show <id>
`
}

func (*showCmd) SetFlags(*flag.FlagSet) {}

func (c *showCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a := c.app
	id, err := expenseID(f)
	if err != nil {
		return report(a.Stderr, err)
	}
	if err := a.start(ctx); err != nil {
		return report(a.Stderr, err)
	}
	e, err := a.dash.Get(ctx, id)
	if err != nil {
		return report(a.Stderr, err)
	}
	if err := a.renderer().Expense(e); err != nil {
		return report(a.Stderr, err)
	}
	return subcommands.ExitSuccess
}

func expenseID(f *flag.FlagSet) (int64, error) {
	if f.NArg() != 1 {
		return 0, invalidFlag("id", fmt.Errorf("expected exactly one expense id, got %d arguments", f.NArg()))
	}
	id, err := strconv.ParseInt(f.Arg(0), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalidFlag("id", fmt.Errorf("%q is not an expense id", f.Arg(0)))
	}
	return id, nil
}
