package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/subcommands"

	"expenses/internal/api"
	"expenses/internal/core"
	"expenses/internal/query"
	"expenses/internal/session"
)

func TestReport(t *testing.T) {
	_, parseErr := query.Parse(map[string]string{
		query.ParamStartDate: "yesterday",
		query.ParamCategory:  "toys",
	})

	tests := []struct {
		name   string
		err    error
		status subcommands.ExitStatus
		want   string
	}{
		{"nil", nil, subcommands.ExitSuccess, ""},
		{"storage", fmt.Errorf("%w: disk full", session.ErrStorage), subcommands.ExitFailure, "fatal: "},
		{"unauthorized", fmt.Errorf("list: %w", api.ErrUnauthorized), subcommands.ExitFailure, "run `expenses login`"},
		{"filter", parseErr, subcommands.ExitUsageError, "invalid -from, -category:"},
		{"flag", invalidFlag("-amount", core.ErrInvalidAmount), subcommands.ExitUsageError, "invalid -amount: invalid amount"},
		{"missing field", fmt.Errorf("%w: email", session.ErrMissingField), subcommands.ExitUsageError, "invalid input: missing required field: email"},
		{"remote detail", &api.RemoteError{StatusCode: 500, Body: `{"detail":"boom"}`}, subcommands.ExitFailure, "request failed, try again: boom"},
		{"remote transport", fmt.Errorf("list: %w", &api.RemoteError{Err: context.DeadlineExceeded}), subcommands.ExitFailure, "request failed, try again: remote request failed"},
		{"forbidden", fmt.Errorf("delete: %w", &api.RemoteError{StatusCode: 403, Body: `{"detail":"not yours"}`, Err: api.ErrForbidden}), subcommands.ExitFailure, "permission denied: not yours"},
		{"other", errors.New("odd"), subcommands.ExitFailure, "error: odd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if got := report(&buf, tt.err); got != tt.status {
				t.Errorf("report() = %v, want %v", got, tt.status)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("report() printed %q, want it to contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestPrompterReadsPipedLines(t *testing.T) {
	var out bytes.Buffer
	p := newPrompter(strings.NewReader("alice\r\ns3cret\n"), &out)

	user, err := p.Line("Username")
	if err != nil || user != "alice" {
		t.Fatalf("Line() = %q, %v", user, err)
	}
	pw, err := p.Secret("Password")
	if err != nil || pw != "s3cret" {
		t.Fatalf("Secret() = %q, %v", pw, err)
	}
	if _, err := p.Line("More"); !errors.Is(err, io.EOF) {
		t.Errorf("Line() at end of input error = %v, want io.EOF", err)
	}
	if out.Len() != 0 {
		t.Errorf("no prompt expected when stdin is not a terminal, got %q", out.String())
	}
}
