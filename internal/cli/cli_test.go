package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expenses/internal/api/apitest"
	"expenses/internal/config"
	"expenses/internal/core"
	"expenses/internal/credential"
	"expenses/internal/log"
	"expenses/internal/sheets/memory"
)

type result struct {
	status subcommands.ExitStatus
	stdout string
	stderr string
}

type harness struct {
	t     *testing.T
	srv   *apitest.Server
	cfg   *config.Config
	store credential.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := apitest.New(t)
	return &harness{
		t:   t,
		srv: srv,
		cfg: &config.Config{
			APIBaseURL:        srv.URL,
			RequestTimeout:    5 * time.Second,
			Profile:           "test",
			ProfileDir:        t.TempDir(),
			CredentialBackend: string(credential.FileBackend),
			Timezone:          "UTC",
			Currency:          "INR",
			RenderWidth:       80,
			UsersCacheTTL:     time.Minute,
			AMQPExchange:      "expenses",
		},
	}
}

// loginAs stores a fresh token for username in a shared memory store.
func (h *harness) loginAs(username string) string {
	h.t.Helper()
	if h.store == nil {
		h.store = credential.NewMemoryStore()
	}
	token := h.srv.IssueToken(username)
	require.NoError(h.t, h.store.Set(token))
	return token
}

// run executes one command line against a fresh App, like a new process.
func (h *harness) run(stdin string, args ...string) result {
	return h.runWith(nil, stdin, args...)
}

func (h *harness) runWith(setup func(*App), stdin string, args ...string) result {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	app := NewApp(h.cfg, log.Discard())
	app.Stdin = strings.NewReader(stdin)
	app.Stdout = &stdout
	app.Stderr = &stderr
	app.Plain = true
	if h.store != nil {
		app.Store = h.store
	}
	if setup != nil {
		setup(app)
	}
	defer app.Close()

	top := flag.NewFlagSet("expenses", flag.ContinueOnError)
	commander := subcommands.NewCommander(top, "expenses")
	commander.Output = &stdout
	commander.Error = &stderr
	Register(commander, app)
	require.NoError(h.t, top.Parse(args))

	status := commander.Execute(context.Background())
	return result{status: status, stdout: stdout.String(), stderr: stderr.String()}
}

func (h *harness) seed(owner int64, title, amount string, cat core.Category, date string) int64 {
	h.t.Helper()
	d, err := core.ParseDate(date)
	require.NoError(h.t, err)
	return h.srv.AddExpense(owner, core.Expense{
		Title:    title,
		Amount:   decimal.RequireFromString(amount),
		Category: cat,
		Date:     d,
	})
}

func TestLoginPersistsAcrossRuns(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("alice", "alice@example.com", "pw", false)

	res := h.run("alice\npw\n", "login")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, "Logged in as alice")

	res = h.run("", "whoami")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, "alice <alice@example.com> (user")
	assert.Contains(t, res.stdout, "token expires")

	res = h.run("", "logout")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)

	res = h.run("", "whoami")
	assert.Equal(t, subcommands.ExitFailure, res.status)
	assert.Contains(t, res.stderr, "expenses login")
}

func TestLoginWithFlagUsername(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("alice", "alice@example.com", "pw", false)

	res := h.run("pw\n", "login", "-u", "alice")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, "Logged in as alice")
}

func TestLoginRejected(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("alice", "alice@example.com", "pw", false)

	res := h.run("alice\nwrong\n", "login")
	assert.Equal(t, subcommands.ExitFailure, res.status)
	assert.Contains(t, res.stderr, "run `expenses login`")

	res = h.run("", "whoami")
	assert.Equal(t, subcommands.ExitFailure, res.status)
}

func TestMistypedReloginKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("alice", "alice@example.com", "pw", false)

	res := h.run("pw\n", "login", "-u", "alice")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)

	res = h.run("typo\n", "login", "-u", "alice")
	assert.Equal(t, subcommands.ExitFailure, res.status)

	res = h.run("", "whoami")
	assert.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, "alice <alice@example.com>")
}

func TestRegister(t *testing.T) {
	h := newHarness(t)

	res := h.run("bob\nbob@example.com\npw\npw\n", "register")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, "Registered bob")

	// Registering does not log in.
	res = h.run("", "whoami")
	assert.Equal(t, subcommands.ExitFailure, res.status)

	res = h.run("pw\n", "login", "-u", "bob")
	assert.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
}

func TestRegisterFailures(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("taken", "t@example.com", "pw", false)

	tests := []struct {
		name   string
		stdin  string
		args   []string
		status subcommands.ExitStatus
		stderr string
	}{
		{
			name:   "missing email",
			stdin:  "\npw\npw\n",
			args:   []string{"register", "-u", "carol"},
			status: subcommands.ExitUsageError,
			stderr: "email",
		},
		{
			name:   "password mismatch",
			stdin:  "pw\nother\n",
			args:   []string{"register", "-u", "carol", "-email", "c@example.com"},
			status: subcommands.ExitFailure,
			stderr: "didn't match",
		},
		{
			name:   "username taken",
			stdin:  "pw\npw\n",
			args:   []string{"register", "-u", "taken", "-email", "t2@example.com"},
			status: subcommands.ExitFailure,
			stderr: "already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.run(tt.stdin, tt.args...)
			assert.Equal(t, tt.status, res.status)
			assert.Contains(t, res.stderr, tt.stderr)
		})
	}
}

func TestListAndSummary(t *testing.T) {
	h := newHarness(t)
	alice := h.srv.AddUser("alice", "alice@example.com", "pw", false)
	h.seed(alice, "Lunch", "12.50", core.Food, "2025-01-10")
	h.seed(alice, "Train", "30.00", core.Travel, "2025-01-11")
	h.seed(alice, "Dinner", "7.25", core.Food, "2025-01-12")
	h.loginAs("alice")

	res := h.run("", "list", "-category", "food")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, "Lunch")
	assert.Contains(t, res.stdout, "Dinner")
	assert.NotContains(t, res.stdout, "| Train")
	assert.Contains(t, res.stdout, "category Food")

	res = h.run("", "summary", "-json", "-from", "2025-01-01", "-to", "2025-01-31")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)

	var out struct {
		Source string `json:"source"`
		Total  string `json:"total"`
		Chart  struct {
			Labels []string `json:"labels"`
			Colors []string `json:"colors"`
		} `json:"chart"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, "server", out.Source)
	assert.Equal(t, "49.75", out.Total)
	assert.Equal(t, []string{"FOOD", "TRAVEL"}, out.Chart.Labels)
	assert.Len(t, out.Chart.Colors, 2)

	res = h.run("", "summary")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, "## Summary")
	assert.Contains(t, res.stdout, "FOOD")
}

func TestSummaryFallsBackWhenEndpointFails(t *testing.T) {
	h := newHarness(t)
	alice := h.srv.AddUser("alice", "alice@example.com", "pw", false)
	h.seed(alice, "Lunch", "12.50", core.Food, "2025-01-10")
	h.loginAs("alice")
	h.srv.FailNext("/api/expenses/summary/", http.StatusInternalServerError)

	res := h.run("", "summary", "-json")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, `"source": "client"`)
	assert.Contains(t, res.stdout, `"total": "12.50"`)
}

func TestFilterFlagErrors(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("alice", "alice@example.com", "pw", false)
	h.loginAs("alice")

	tests := []struct {
		name   string
		args   []string
		stderr string
	}{
		{"malformed date", []string{"list", "-from", "10/01/2025"}, "invalid -from"},
		{"unknown category", []string{"list", "-category", "toys"}, "invalid -category"},
		{"bad user", []string{"summary", "-user", "x"}, "invalid -user"},
		{"future start", []string{"list", "-from", "2999-01-01"}, "-from"},
		{"end before start", []string{"list", "-from", "2025-02-01", "-to", "2025-01-01"}, "invalid -to"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := h.srv.Hits("/api/expenses/")
			res := h.run("", tt.args...)
			assert.Equal(t, subcommands.ExitUsageError, res.status)
			assert.Contains(t, res.stderr, tt.stderr)
			assert.Equal(t, before, h.srv.Hits("/api/expenses/"), "no listing request on invalid filter")
		})
	}
}

func TestAddEditShowDelete(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("alice", "alice@example.com", "pw", false)
	h.loginAs("alice")

	res := h.run("", "add", "-title", "Lunch", "-amount", "12.50", "-category", "food", "-date", "2025-01-10", "-notes", "team")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, "Added expense 1.")

	e, ok := h.srv.Expense(1)
	require.True(t, ok)
	assert.Equal(t, "Lunch", e.Title)
	assert.True(t, decimal.RequireFromString("12.50").Equal(e.Amount))

	res = h.run("", "edit", "-amount", "15", "1")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	e, _ = h.srv.Expense(1)
	assert.Equal(t, "Lunch", e.Title)
	assert.Equal(t, "team", e.Notes)
	assert.True(t, decimal.NewFromInt(15).Equal(e.Amount))

	res = h.run("", "show", "1")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, "# Lunch")
	assert.Contains(t, res.stdout, "2025-01-10")

	res = h.run("", "delete", "1")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	_, ok = h.srv.Expense(1)
	assert.False(t, ok)
}

func TestAddRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("alice", "alice@example.com", "pw", false)
	h.loginAs("alice")

	tests := []struct {
		name   string
		args   []string
		stderr string
	}{
		{"bad amount", []string{"add", "-title", "x", "-amount", "abc", "-category", "food"}, "invalid -amount"},
		{"bad category", []string{"add", "-title", "x", "-amount", "1", "-category", "toys"}, "invalid -category"},
		{"bad date", []string{"add", "-title", "x", "-amount", "1", "-category", "food", "-date", "soon"}, "invalid -date"},
		{"empty title", []string{"add", "-amount", "1", "-category", "food"}, "invalid input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.run("", tt.args...)
			assert.Equal(t, subcommands.ExitUsageError, res.status)
			assert.Contains(t, res.stderr, tt.stderr)
		})
	}
	assert.Equal(t, 0, h.srv.Hits("/api/expenses/"), "nothing created")
}

func TestExpenseIDArgument(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("alice", "alice@example.com", "pw", false)
	h.loginAs("alice")

	for _, args := range [][]string{{"show"}, {"show", "abc"}, {"delete", "0"}, {"edit", "-title", "x"}} {
		res := h.run("", args...)
		assert.Equal(t, subcommands.ExitUsageError, res.status, args)
		assert.Contains(t, res.stderr, "invalid id", args)
	}
}

func TestEditWithoutFlags(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("alice", "alice@example.com", "pw", false)
	h.loginAs("alice")

	res := h.run("", "edit", "1")
	assert.Equal(t, subcommands.ExitUsageError, res.status)
	assert.Contains(t, res.stderr, "nothing to change")
}

func TestRevokedTokenIsCleared(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("alice", "alice@example.com", "pw", false)
	token := h.loginAs("alice")
	h.srv.Revoke(token)

	res := h.run("", "list")
	assert.Equal(t, subcommands.ExitFailure, res.status)
	assert.Contains(t, res.stderr, "run `expenses login`")

	_, ok := h.store.Get()
	assert.False(t, ok, "rejected token must be cleared")
}

func TestOtherUsersExpenseKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("alice", "alice@example.com", "pw", false)
	bob := h.srv.AddUser("bob", "bob@example.com", "pw", false)
	id := h.seed(bob, "Bob lunch", "20", core.Food, "2025-01-10")
	token := h.loginAs("alice")
	ref := strconv.FormatInt(id, 10)

	for _, args := range [][]string{{"show", ref}, {"delete", ref}, {"edit", "-amount", "1", ref}} {
		res := h.run("", args...)
		assert.Equal(t, subcommands.ExitFailure, res.status, args)
		assert.Contains(t, res.stderr, "permission denied", args)
		assert.NotContains(t, res.stderr, "expenses login", args)
	}

	stored, ok := h.store.Get()
	assert.True(t, ok, "a permission denial keeps the credential")
	assert.Equal(t, token, stored)
	_, ok = h.srv.Expense(id)
	assert.True(t, ok)

	res := h.run("", "whoami")
	assert.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
}

func TestRemoteFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("alice", "alice@example.com", "pw", false)
	h.loginAs("alice")
	h.srv.FailNext("/api/expenses/", http.StatusBadGateway)

	res := h.run("", "list")
	assert.Equal(t, subcommands.ExitFailure, res.status)
	assert.Contains(t, res.stderr, "request failed, try again: Bad Gateway")

	_, ok := h.store.Get()
	assert.True(t, ok, "a remote failure keeps the session")

	res = h.run("", "list")
	assert.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
}

func TestUsers(t *testing.T) {
	h := newHarness(t)
	h.srv.AddUser("alice", "alice@example.com", "pw", false)
	h.srv.AddUser("root", "root@example.com", "pw", true)

	h.loginAs("alice")
	res := h.run("", "users")
	assert.Equal(t, subcommands.ExitFailure, res.status)
	assert.Contains(t, res.stderr, "staff only")

	h.loginAs("root")
	res = h.run("", "users")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, "alice")
	assert.Contains(t, res.stdout, "root")
}

func TestStaffFilterByUser(t *testing.T) {
	h := newHarness(t)
	alice := h.srv.AddUser("alice", "alice@example.com", "pw", false)
	bob := h.srv.AddUser("bob", "bob@example.com", "pw", false)
	h.srv.AddUser("root", "root@example.com", "pw", true)
	h.seed(alice, "Alice lunch", "10", core.Food, "2025-01-10")
	h.seed(bob, "Bob lunch", "20", core.Food, "2025-01-10")

	h.loginAs("root")
	res := h.run("", "list", "-user", strconv.FormatInt(bob, 10))
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, "Bob lunch")
	assert.NotContains(t, res.stdout, "Alice lunch")

	// Non-staff sessions ignore the owner filter.
	h.loginAs("alice")
	res = h.run("", "list", "-user", strconv.FormatInt(bob, 10))
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, "Alice lunch")
	assert.NotContains(t, res.stdout, "Bob lunch")
}

func TestExport(t *testing.T) {
	h := newHarness(t)
	alice := h.srv.AddUser("alice", "alice@example.com", "pw", false)
	h.seed(alice, "Lunch", "12.5", core.Food, "2025-01-10")
	h.seed(alice, "Train", "30", core.Travel, "2025-01-11")
	h.loginAs("alice")

	res := h.run("", "export")
	assert.Equal(t, subcommands.ExitFailure, res.status)
	assert.Contains(t, res.stderr, "GOOGLE_SPREADSHEET_ID")

	res = h.run("", "export", "-dry-run", "-category", "travel")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, "| Date | Title | Category | Amount | Notes |")
	assert.Contains(t, res.stdout, "| 2025-01-11 | Train | Travel | 30.00 |")
	assert.NotContains(t, res.stdout, "Lunch")

	sheet := memory.New()
	res = h.runWith(func(a *App) { a.Exporter = sheet }, "", "export")
	require.Equal(t, subcommands.ExitSuccess, res.status, res.stderr)
	assert.Contains(t, res.stdout, "Exported 2 expenses to mem:2-3.")
	assert.Len(t, sheet.Rows(), 3)

	res = h.runWith(func(a *App) { a.Exporter = sheet }, "", "export", "-from", "2025-02-01")
	assert.Equal(t, subcommands.ExitSuccess, res.status)
	assert.Contains(t, res.stderr, "nothing exported")
	assert.Len(t, sheet.Rows(), 3)
}

func TestBrokenStoreIsFatal(t *testing.T) {
	h := newHarness(t)
	h.cfg.CredentialBackend = "punchcard"

	res := h.run("", "whoami")
	assert.Equal(t, subcommands.ExitFailure, res.status)
	assert.Contains(t, res.stderr, "fatal: credential storage unavailable")
	assert.Equal(t, 0, h.srv.TotalHits())
}
