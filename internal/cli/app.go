package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/subcommands"
	"golang.org/x/term"

	"expenses/internal/amqp"
	"expenses/internal/api"
	"expenses/internal/config"
	"expenses/internal/credential"
	"expenses/internal/dashboard"
	"expenses/internal/log"
	"expenses/internal/render"
	"expenses/internal/session"
	"expenses/internal/sheets"
	"expenses/internal/sheets/google"
	"expenses/internal/sheets/memory"
)

// App carries what every subcommand shares. Collaborators are built on first
// use; the session is restored exactly once per process.
type App struct {
	Config *config.Config
	Logger *log.Logger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Plain forces raw markdown output. It is implied when stdout is not a
	// terminal.
	Plain bool

	// Store and Exporter, when set, replace what Config selects.
	Store    credential.Store
	Exporter sheets.ExpenseExporter

	startOnce sync.Once
	startErr  error
	closers   []func() error

	client *api.Client
	sess   *session.Manager
	dash   *dashboard.Controller
}

func NewApp(cfg *config.Config, logger *log.Logger) *App {
	if logger == nil {
		logger = log.Discard()
	}
	return &App{
		Config: cfg,
		Logger: logger,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Register adds every subcommand to c.
func Register(c *subcommands.Commander, app *App) {
	c.Register(&loginCmd{app: app}, "session")
	c.Register(&logoutCmd{app: app}, "session")
	c.Register(&registerCmd{app: app}, "session")
	c.Register(&whoamiCmd{app: app}, "session")

	c.Register(&listCmd{app: app}, "expenses")
	c.Register(&summaryCmd{app: app}, "expenses")
	c.Register(&showCmd{app: app}, "expenses")
	c.Register(&addCmd{app: app}, "expenses")
	c.Register(&editCmd{app: app}, "expenses")
	c.Register(&deleteCmd{app: app}, "expenses")
	c.Register(&exportCmd{app: app}, "expenses")

	c.Register(&usersCmd{app: app}, "staff")
}

// start opens the credential store, builds the backend client and restores
// the session. It returns an error only when the store cannot be opened.
func (a *App) start(ctx context.Context) error {
	a.startOnce.Do(func() {
		a.startErr = a.build(ctx)
	})
	return a.startErr
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	store := a.Store
	if store == nil {
		s, closeFn, err := credential.Open(ctx, credential.Config{
			Type:       credential.BackendType(cfg.CredentialBackend),
			Profile:    cfg.Profile,
			ProfileDir: cfg.ProfileDir,
			Logger:     a.Logger,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", session.ErrStorage, err)
		}
		store = s
		a.closers = append(a.closers, closeFn)
	}

	client, err := api.New(cfg.APIBaseURL,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithLogger(a.Logger))
	if err != nil {
		return err
	}
	a.client = client

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	a.sess = session.NewManager(store, client, a.Logger)
	opts := dashboard.Options{
		Logger:   a.Logger,
		Location: loc,
		UsersTTL: cfg.UsersCacheTTL,
	}
	if cfg.AMQPURL != "" {
		pub, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, a.Logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pub.Close)
		opts.Publisher = pub
	}
	a.dash = dashboard.New(client, a.sess, opts)
	a.sess.OnChange(func(st session.State, _ session.Session) {
		if st != session.Authenticated {
			a.dash.Forget()
		}
	})

	state := a.sess.Restore(ctx)
	<-a.sess.Ready()
	a.Logger.DebugContext(ctx, "Session ready", log.FieldState, state.String())
	return nil
}

// Close releases the store and the event publisher.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) renderer() *render.Renderer {
	plain := a.Plain
	if f, ok := a.Stdout.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		plain = true
	}
	return render.New(a.Stdout, render.Options{
		Currency: a.Config.Currency,
		Width:    a.Config.RenderWidth,
		Plain:    plain,
	})
}

var errNoSpreadsheet = errors.New("GOOGLE_SPREADSHEET_ID is not set; use -dry-run to preview")

func (a *App) exporter(ctx context.Context, dryRun bool) (sheets.ExpenseExporter, error) {
	switch {
	case dryRun:
		return memory.New(), nil
	case a.Exporter != nil:
		return a.Exporter, nil
	case a.Config.GoogleSpreadsheetID == "":
		return nil, errNoSpreadsheet
	}
	client, err := google.New(ctx, google.Config{
		SpreadsheetID:      a.Config.GoogleSpreadsheetID,
		SheetName:          a.Config.GoogleSheetName,
		ServiceAccountJSON: a.Config.GoogleServiceAccountJSON,
		ServiceAccountFile: a.Config.GoogleServiceAccountFile,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}
