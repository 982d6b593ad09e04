// Package dashboard drives the expense views: it validates filters, fetches
// the list and summary, aggregates them and keeps the currently displayed
// result.
//
// Fetches may overlap. Each Apply takes a generation number and its result
// is shown only if no newer generation has been shown already, so a slow
// response never overwrites a fresher one. Concurrent distinct actions are
// otherwise unordered.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"expenses/internal/aggregate"
	"expenses/internal/amqp"
	"expenses/internal/api"
	"expenses/internal/cache"
	"expenses/internal/core"
	"expenses/internal/log"
	"expenses/internal/query"
	"expenses/internal/session"
)

var (
	// ErrNotAuthenticated is returned when there is no session to act for.
	ErrNotAuthenticated = errors.New("not logged in")
	// ErrStaffOnly is returned when a non-staff session asks for staff data.
	ErrStaffOnly = errors.New("staff only")
)

// SummarySource tells where a view's category totals came from.
type SummarySource string

const (
	SourceServer SummarySource = "server"
	SourceClient SummarySource = "client"
)

type Backend interface {
	ListExpenses(ctx context.Context, token string, params url.Values) ([]core.Expense, error)
	Summary(ctx context.Context, token string, params url.Values) ([]core.CategoryTotal, error)
	GetExpense(ctx context.Context, token string, id int64) (core.Expense, error)
	CreateExpense(ctx context.Context, token string, in core.ExpenseInput) (core.Expense, error)
	UpdateExpense(ctx context.Context, token string, id int64, in core.ExpenseInput) (core.Expense, error)
	DeleteExpense(ctx context.Context, token string, id int64) error
	ListUsers(ctx context.Context, token string) ([]api.User, error)
}

// Session is the part of the session manager the controller uses.
type Session interface {
	Current() (session.Session, bool)
	Invalidate(ctx context.Context, reason error)
}

type Publisher interface {
	Publish(ctx context.Context, ev *amqp.Event) error
}

// View is a snapshot of what is displayed.
type View struct {
	Filter        query.FilterState
	Expenses      []core.Expense
	Summary       []core.CategoryTotal
	SummarySource SummarySource
	Chart         aggregate.ChartData
	Total         decimal.Decimal
	Generation    uint64
	FetchedAt     time.Time
}

type Options struct {
	Publisher Publisher
	Logger    *log.Logger
	// Location decides what "today" is for filter validation.
	Location *time.Location
	// UsersTTL is how long the staff user directory is cached. Zero disables it.
	UsersTTL time.Duration
	Now      func() time.Time
}

type Controller struct {
	backend Backend
	sess    Session
	pub     Publisher
	logger  *log.Logger
	loc     *time.Location
	now     func() time.Time
	users   *cache.LRU[string, []api.User]

	gen atomic.Uint64

	mu      sync.Mutex
	view    View
	shown   uint64
	current query.FilterState
}

func New(backend Backend, sess Session, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		backend: backend,
		sess:    sess,
		pub:     opts.Publisher,
		logger:  logger.WithComponent(log.ComponentDashboard),
		loc:     loc,
		now:     now,
		users:   cache.NewLRU[string, []api.User](8, opts.UsersTTL),
	}
}

// View returns the displayed snapshot.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Filter returns the filter of the displayed view.
func (c *Controller) Filter() query.FilterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Apply validates f, fetches matching expenses and their summary, and shows
// the result unless a newer fetch was shown meanwhile. Validation errors are
// returned before any request. On failure the displayed view is unchanged.
func (c *Controller) Apply(ctx context.Context, f query.FilterState) (View, error) {
	s, err := c.session()
	if err != nil {
		return c.View(), err
	}
	if !s.IsStaff {
		f.OwnerID = 0
	}

	today := core.DateOf(c.now().In(c.loc))
	if err := query.Validate(f, today); err != nil {
		return c.View(), err
	}

	gen := c.gen.Add(1)
	params := query.ToQueryParams(f)

	var (
		expenses   []core.Expense
		rows       []core.CategoryTotal
		summaryErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		expenses, err = c.backend.ListExpenses(gctx, s.Token, params)
		if err != nil {
			return fmt.Errorf("list expenses: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		rows, err = c.backend.Summary(gctx, s.Token, params)
		if errors.Is(err, api.ErrUnauthorized) {
			return fmt.Errorf("summary: %w", err)
		}
		summaryErr = err
		return nil
	})
	if err := g.Wait(); err != nil {
		return c.View(), c.fail(ctx, log.OpList, err)
	}

	v := View{
		Filter:        f,
		Expenses:      expenses,
		Summary:       aggregate.FromServer(rows),
		SummarySource: SourceServer,
		Generation:    gen,
		FetchedAt:     c.now(),
	}
	if summaryErr != nil {
		fields := log.NewFields().WithOperation(log.OpSummary).WithError(summaryErr).WithErrorType(log.ErrorTypeRemote)
		c.logger.WarnContext(ctx, "Summary unavailable, totalling locally", fields.ToSlice()...)
		v.Summary = aggregate.Summarize(expenses)
		v.SummarySource = SourceClient
	}
	v.Chart = aggregate.Chart(v.Summary)
	v.Total = aggregate.Total(v.Summary)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen <= c.shown {
		c.logger.DebugContext(ctx, "Discarding stale result", log.FieldGeneration, gen, "shown", c.shown)
		return c.view, nil
	}
	c.shown = gen
	c.view = v
	c.current = f
	c.logger.DebugContext(ctx, "View updated", log.FieldGeneration, gen, log.FieldCount, len(expenses))
	return v, nil
}

// Reset clears the filter and fetches again.
func (c *Controller) Reset(ctx context.Context) (View, error) {
	return c.Apply(ctx, query.Reset())
}

// Refresh fetches again with the displayed filter.
func (c *Controller) Refresh(ctx context.Context) (View, error) {
	return c.Apply(ctx, c.Filter())
}

func (c *Controller) Get(ctx context.Context, id int64) (core.Expense, error) {
	s, err := c.session()
	if err != nil {
		return core.Expense{}, err
	}
	e, err := c.backend.GetExpense(ctx, s.Token, id)
	if err != nil {
		return core.Expense{}, c.fail(ctx, log.OpRead, err)
	}
	return e, nil
}

func (c *Controller) Create(ctx context.Context, in core.ExpenseInput) (core.Expense, error) {
	s, err := c.session()
	if err != nil {
		return core.Expense{}, err
	}
	if err := in.Validate(); err != nil {
		return core.Expense{}, err
	}

	e, err := c.backend.CreateExpense(ctx, s.Token, in)
	if err != nil {
		return core.Expense{}, c.fail(ctx, log.OpCreate, err)
	}
	c.mutated(ctx, s, amqp.ExpenseCreated, log.OpCreate, e)
	return e, nil
}

func (c *Controller) Update(ctx context.Context, id int64, in core.ExpenseInput) (core.Expense, error) {
	s, err := c.session()
	if err != nil {
		return core.Expense{}, err
	}
	if err := in.Validate(); err != nil {
		return core.Expense{}, err
	}

	e, err := c.backend.UpdateExpense(ctx, s.Token, id, in)
	if err != nil {
		return core.Expense{}, c.fail(ctx, log.OpUpdate, err)
	}
	c.mutated(ctx, s, amqp.ExpenseUpdated, log.OpUpdate, e)
	return e, nil
}

func (c *Controller) Delete(ctx context.Context, id int64) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	if err := c.backend.DeleteExpense(ctx, s.Token, id); err != nil {
		return c.fail(ctx, log.OpDelete, err)
	}
	c.mutated(ctx, s, amqp.ExpenseDeleted, log.OpDelete, core.Expense{ID: id})
	return nil
}

// Users returns the user directory for staff sessions, cached per user.
func (c *Controller) Users(ctx context.Context) ([]api.User, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	if !s.IsStaff {
		return nil, ErrStaffOnly
	}

	users, hit, err := c.users.GetOrLoad(ctx, s.Username, func(ctx context.Context) ([]api.User, error) {
		return c.backend.ListUsers(ctx, s.Token)
	})
	if err != nil {
		return nil, c.fail(ctx, log.OpList, err)
	}
	c.logger.DebugContext(ctx, "User directory", log.FieldCount, len(users), "cache_hit", hit)
	return users, nil
}

// Forget drops cached data tied to the session.
func (c *Controller) Forget() {
	c.users.Purge()
}

func (c *Controller) session() (session.Session, error) {
	s, ok := c.sess.Current()
	if !ok {
		return session.Session{}, ErrNotAuthenticated
	}
	return s, nil
}

// fail logs err and, when the backend rejected the credential, ends the
// session. A permission denial leaves the session alone.
func (c *Controller) fail(ctx context.Context, op string, err error) error {
	fields := log.NewFields().WithOperation(op).WithError(err)
	if errors.Is(err, api.ErrUnauthorized) {
		fields.WithErrorType(log.ErrorTypeAuth)
		c.logger.WarnContext(ctx, "Request rejected", fields.ToSlice()...)
		c.Forget()
		c.sess.Invalidate(ctx, err)
		return err
	}
	if errors.Is(err, api.ErrForbidden) {
		fields.WithErrorType(log.ErrorTypeAuth)
		c.logger.WarnContext(ctx, "Request forbidden", fields.ToSlice()...)
		return err
	}
	fields.WithErrorType(log.ErrorTypeRemote)
	c.logger.ErrorContext(ctx, "Request failed", fields.ToSlice()...)
	return err
}

func (c *Controller) mutated(ctx context.Context, s session.Session, t amqp.EventType, op string, e core.Expense) {
	fields := log.NewFields().WithOperation(op).WithExpense(e.ID, string(e.Category), e.Amount.StringFixed(2))
	c.logger.InfoContext(ctx, "Expense saved", fields.ToSlice()...)

	c.Publish(ctx, amqp.NewExpenseEvent(t, e.ID, s.Username))

	if _, err := c.Refresh(ctx); err != nil {
		c.logger.WarnContext(ctx, "Refresh after change failed", log.FieldError, err)
	}
}

// Publish sends ev if a publisher is configured. Failures are only logged.
func (c *Controller) Publish(ctx context.Context, ev *amqp.Event) {
	if c.pub == nil {
		return
	}
	if err := c.pub.Publish(ctx, ev); err != nil {
		c.logger.WarnContext(ctx, "Event not published",
			log.FieldOperation, log.OpPublish,
			"type", string(ev.Type),
			log.FieldError, err)
	}
}
