package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/subcommands"

	"expenses/internal/api"
	"expenses/internal/core"
	"expenses/internal/dashboard"
	"expenses/internal/query"
	"expenses/internal/session"
	"expenses/internal/sheets"
)

// filterFlags maps filter parameters to the flags that set them.
var filterFlags = map[string]string{
	query.ParamStartDate: "-from",
	query.ParamEndDate:   "-to",
	query.ParamCategory:  "-category",
	query.ParamUser:      "-user",
}

// flagError ties an input error to the flag it came from.
type flagError struct {
	flag string
	err  error
}

func (e *flagError) Error() string { return fmt.Sprintf("invalid %s: %v", e.flag, e.err) }
func (e *flagError) Unwrap() error { return e.err }

func invalidFlag(flag string, err error) error {
	return &flagError{flag: flag, err: err}
}

// report prints err for a human and picks the exit status.
func report(w io.Writer, err error) subcommands.ExitStatus {
	if err == nil {
		return subcommands.ExitSuccess
	}

	var (
		fe *flagError
		ve *query.ValidationError
		re *api.RemoteError
	)
	switch {
	case errors.Is(err, session.ErrStorage):
		fmt.Fprintf(w, "fatal: %v\n", err)
		return subcommands.ExitFailure

	case errors.Is(err, api.ErrUnauthorized),
		errors.Is(err, session.ErrAuthentication),
		errors.Is(err, dashboard.ErrNotAuthenticated):
		fmt.Fprintf(w, "%v\nnot logged in or session expired: run `expenses login`\n", err)
		return subcommands.ExitFailure

	case errors.As(err, &fe):
		fmt.Fprintln(w, fe.Error())
		return subcommands.ExitUsageError

	case errors.As(err, &ve):
		fmt.Fprintln(w, validationLine(ve))
		return subcommands.ExitUsageError

	case errors.Is(err, session.ErrMissingField),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidCategory),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrEmptyTitle),
		errors.Is(err, core.ErrTitleTooLong):
		fmt.Fprintf(w, "invalid input: %v\n", err)
		return subcommands.ExitUsageError

	case errors.Is(err, api.ErrForbidden):
		msg := "you may not access this"
		if errors.As(err, &re) && re.Detail() != "" {
			msg = re.Detail()
		}
		fmt.Fprintf(w, "permission denied: %s\n", msg)
		return subcommands.ExitFailure

	case errors.As(err, &re):
		msg := re.Error()
		if d := re.Detail(); d != "" {
			msg = d
		}
		fmt.Fprintf(w, "request failed, try again: %s\n", msg)
		return subcommands.ExitFailure

	case errors.Is(err, sheets.ErrNothingToExport):
		fmt.Fprintln(w, "no expenses match the filter, nothing exported")
		return subcommands.ExitSuccess
	}

	fmt.Fprintf(w, "error: %v\n", err)
	return subcommands.ExitFailure
}

// validationLine names the flags behind ve and lists the rules they broke.
func validationLine(ve *query.ValidationError) string {
	flags := make([]string, 0, len(ve.Fields))
	for _, field := range ve.Fields {
		if f, ok := filterFlags[field]; ok {
			flags = append(flags, f)
		} else {
			flags = append(flags, field)
		}
	}
	rules := strings.ReplaceAll(ve.Err.Error(), "\n", "; ")
	if len(flags) == 0 {
		return "invalid filter: " + rules
	}
	return fmt.Sprintf("invalid %s: %s", strings.Join(flags, ", "), rules)
}
