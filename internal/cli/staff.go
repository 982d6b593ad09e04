package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/google/subcommands"

	"expenses/internal/log"
	"expenses/internal/sheets/memory"
)

type usersCmd struct {
	app *App
}

func (*usersCmd) Name() string     { return "users" }
func (*usersCmd) Synopsis() string { return "list users, for filtering with -user (staff only)" }
func (*usersCmd) Usage() string {
	return `expenses users
`
}

func (*usersCmd) SetFlags(*flag.FlagSet) {}

func (c *usersCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a := c.app
	if err := a.start(ctx); err != nil {
		return report(a.Stderr, err)
	}
	users, err := a.dash.Users(ctx)
	if err != nil {
		return report(a.Stderr, err)
	}
	if err := a.renderer().Users(users); err != nil {
		return report(a.Stderr, err)
	}
	return subcommands.ExitSuccess
}

type exportCmd struct {
	app *App
	filterArgs
	dryRun bool
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "append matching expenses to the configured Google Sheet" }
func (*exportCmd) Usage() string {
	return `expenses export [-dry-run] [-from <date>] [-to <date>] [-category <category>] [-user <id>]

  Appends one row per matching expense to GOOGLE_SHEET_NAME in
  GOOGLE_SPREADSHEET_ID. With -dry-run the rows are printed instead.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
	f.BoolVar(&c.dryRun, "dry-run", false, "Print the rows instead of writing them.")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a := c.app
	exp, err := a.exporter(ctx, c.dryRun)
	if err != nil {
		return report(a.Stderr, err)
	}
	v, err := c.apply(ctx, a)
	if err != nil {
		return report(a.Stderr, err)
	}

	ref, err := exp.Export(ctx, v.Expenses)
	if err != nil {
		return report(a.Stderr, err)
	}
	a.Logger.InfoContext(ctx, "Exported expenses",
		log.FieldOperation, log.OpExport,
		log.FieldCount, len(v.Expenses),
		"ref", ref)

	if mem, ok := exp.(*memory.Exporter); ok && c.dryRun {
		if err := a.renderer().Print(rowsMarkdown(mem.Rows())); err != nil {
			return report(a.Stderr, err)
		}
		return subcommands.ExitSuccess
	}
	fmt.Fprintf(a.Stdout, "Exported %d expenses to %s.\n", len(v.Expenses), ref)
	return subcommands.ExitSuccess
}

// rowsMarkdown renders exported rows; the first row is the header.
func rowsMarkdown(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for _, c := range cells {
			c = strings.ReplaceAll(c, "|", `\|`)
			b.WriteString(" " + strings.ReplaceAll(c, "\n", " ") + " |")
		}
		b.WriteString("\n")
	}
	writeRow(rows[0])
	b.WriteString("|" + strings.Repeat("---|", len(rows[0])) + "\n")
	for _, r := range rows[1:] {
		writeRow(r)
	}
	return b.String()
}
