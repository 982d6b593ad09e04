package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/google/subcommands"

	"expenses/internal/amqp"
	"expenses/internal/dashboard"
)

type loginCmd struct {
	app      *App
	username string
}

func (*loginCmd) Name() string     { return "login" }
func (*loginCmd) Synopsis() string { return "log in and remember the session in the current profile" }
func (*loginCmd) Usage() string {
	return `expenses login [-u <username>]

  Prompts for the password. Without -u the username is prompted too.
`
}

func (c *loginCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.username, "u", "", "Username.")
}

func (c *loginCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a := c.app
	if err := a.start(ctx); err != nil {
		return report(a.Stderr, err)
	}

	p := newPrompter(a.Stdin, a.Stderr)
	username := strings.TrimSpace(c.username)
	if username == "" {
		u, err := p.Line("Username")
		if err != nil {
			return report(a.Stderr, fmt.Errorf("read username: %w", err))
		}
		username = strings.TrimSpace(u)
	}
	password, err := p.Secret("Password")
	if err != nil {
		return report(a.Stderr, fmt.Errorf("read password: %w", err))
	}

	if err := a.sess.Login(ctx, username, password); err != nil {
		return report(a.Stderr, err)
	}
	s, _ := a.sess.Current()
	a.dash.Publish(ctx, amqp.NewSessionEvent(amqp.SessionLogin, s.Username))
	fmt.Fprintf(a.Stdout, "Logged in as %s.\n", s.Username)
	return subcommands.ExitSuccess
}

type logoutCmd struct {
	app *App
}

func (*logoutCmd) Name() string     { return "logout" }
func (*logoutCmd) Synopsis() string { return "forget the stored session" }
func (*logoutCmd) Usage() string {
	return `expenses logout
`
}

func (*logoutCmd) SetFlags(*flag.FlagSet) {}

func (c *logoutCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a := c.app
	if err := a.start(ctx); err != nil {
		return report(a.Stderr, err)
	}
	s, ok := a.sess.Current()
	a.sess.Logout(ctx)
	if ok {
		a.dash.Publish(ctx, amqp.NewSessionEvent(amqp.SessionLogout, s.Username))
	}
	fmt.Fprintln(a.Stdout, "Logged out.")
	return subcommands.ExitSuccess
}

type registerCmd struct {
	app      *App
	username string
	email    string
}

func (*registerCmd) Name() string     { return "register" }
func (*registerCmd) Synopsis() string { return "create an account" }
func (*registerCmd) Usage() string {
	return `expenses register [-u <username>] [-email <email>]

  Prompts for anything not given as a flag, then for the password twice.
  Registering does not log in.
`
}

func (c *registerCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.username, "u", "", "Username.")
	f.StringVar(&c.email, "email", "", "Email address.")
}

func (c *registerCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a := c.app
	if err := a.start(ctx); err != nil {
		return report(a.Stderr, err)
	}

	p := newPrompter(a.Stdin, a.Stderr)
	username, email := c.username, c.email
	var err error
	if username == "" {
		if username, err = p.Line("Username"); err != nil {
			return report(a.Stderr, fmt.Errorf("read username: %w", err))
		}
	}
	if email == "" {
		if email, err = p.Line("Email"); err != nil {
			return report(a.Stderr, fmt.Errorf("read email: %w", err))
		}
	}
	password, err := p.Secret("Password")
	if err != nil {
		return report(a.Stderr, fmt.Errorf("read password: %w", err))
	}
	confirm, err := p.Secret("Confirm password")
	if err != nil {
		return report(a.Stderr, fmt.Errorf("read password: %w", err))
	}

	if err := a.sess.Register(ctx, strings.TrimSpace(username), strings.TrimSpace(email), password, confirm); err != nil {
		return report(a.Stderr, err)
	}
	fmt.Fprintf(a.Stdout, "Registered %s. Run `expenses login` to start.\n", strings.TrimSpace(username))
	return subcommands.ExitSuccess
}

type whoamiCmd struct {
	app *App
}

func (*whoamiCmd) Name() string     { return "whoami" }
func (*whoamiCmd) Synopsis() string { return "show the logged in user" }
func (*whoamiCmd) Usage() string {
	return `expenses whoami
`
}

func (*whoamiCmd) SetFlags(*flag.FlagSet) {}

func (c *whoamiCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a := c.app
	if err := a.start(ctx); err != nil {
		return report(a.Stderr, err)
	}
	s, ok := a.sess.Current()
	if !ok {
		return report(a.Stderr, dashboard.ErrNotAuthenticated)
	}

	role := "user"
	if s.IsStaff {
		role = "staff"
	}
	fmt.Fprintf(a.Stdout, "%s <%s> (%s, id %d)\n", s.Username, s.Email, role, s.ID)
	if !s.ExpiresAt.IsZero() {
		fmt.Fprintf(a.Stdout, "token expires %s\n", s.ExpiresAt.Local().Format(time.RFC3339))
	}
	return subcommands.ExitSuccess
}
