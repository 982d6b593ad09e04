// Package apitest runs an in-process fake of the expense tracker backend for
// tests. It implements the same routes, filters and status codes as the real
// service, backed by in-memory maps.
package apitest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"expenses/internal/core"
)

var signingKey = []byte("apitest-signing-key")

// TokenTTL is the lifetime encoded in issued tokens.
const TokenTTL = time.Hour

type account struct {
	id       int64
	username string
	email    string
	password string
	staff    bool
}

// Server is a fake backend. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nextUser int64
	nextExp  int64
	users    map[string]*account
	expenses map[int64]core.Expense
	order    []int64
	revoked  map[string]bool
	failures map[string]int
	hits     map[string]int
}

// New starts a fake backend. It is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		users:    make(map[string]*account),
		expenses: make(map[int64]core.Expense),
		revoked:  make(map[string]bool),
		failures: make(map[string]int),
		hits:     make(map[string]int),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/jwt/create/", s.createToken)
		r.Get("/users/me/", s.authed(s.me))
		r.Post("/users/", s.register)
		r.Get("/users/", s.authed(s.listUsers))
	})

	r.Route("/api/expenses", func(r chi.Router) {
		r.Get("/", s.authed(s.listExpenses))
		r.Post("/", s.authed(s.createExpense))
		r.Get("/summary/", s.authed(s.summary))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.authed(s.getExpense))
			r.Put("/", s.authed(s.updateExpense))
			r.Delete("/", s.authed(s.deleteExpense))
		})
	})

	return r
}

// AddUser creates an account directly and returns its id.
func (s *Server) AddUser(username, email, password string, staff bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, email, password, staff)
}

func (s *Server) addUserLocked(username, email, password string, staff bool) int64 {
	s.nextUser++
	s.users[username] = &account{id: s.nextUser, username: username, email: email, password: password, staff: staff}
	return s.nextUser
}

// AddExpense stores e for owner and returns the assigned id.
func (s *Server) AddExpense(owner int64, e core.Expense) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextExp++
	e.ID = s.nextExp
	e.OwnerID = owner
	s.expenses[e.ID] = e
	s.order = append(s.order, e.ID)
	return e.ID
}

// Expense returns the stored expense with id.
func (s *Server) Expense(id int64) (core.Expense, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	return e, ok
}

// IssueToken returns a valid token for username without going through login.
func (s *Server) IssueToken(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.users[username]
	if !ok {
		return ""
	}
	tok, _ := sign(a)
	return tok
}

// Revoke makes the backend reject token from now on.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = true
}

// FailNext makes the next request to path answer with status.
func (s *Server) FailNext(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// Hits returns how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// TotalHits returns the number of requests served.
func (s *Server) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.hits {
		n += v
	}
	return n
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		status, fail := s.failures[r.URL.Path]
		delete(s.failures, r.URL.Path)
		s.mu.Unlock()

		if fail {
			writeJSON(w, status, map[string]string{"detail": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, a *account)

func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := s.authenticate(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": err.Error()})
			return
		}
		h(w, r, a)
	}
}

func (s *Server) authenticate(r *http.Request) (*account, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return nil, errors.New("Authentication credentials were not provided.")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.New("Given token not valid for any token type")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[raw] {
		return nil, errors.New("Token is blacklisted")
	}
	a, ok := s.users[claims.Subject]
	if !ok {
		return nil, errors.New("User not found")
	}
	return a, nil
}

func sign(a *account) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   a.username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		ID:        strconv.FormatInt(now.UnixNano(), 36),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
}

func (s *Server) createToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}

	s.mu.Lock()
	a, ok := s.users[body.Username]
	s.mu.Unlock()
	if !ok || a.password != body.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}

	tok, err := sign(a)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": tok, "refresh": tok})
}

func (s *Server) me(w http.ResponseWriter, _ *http.Request, a *account) {
	writeJSON(w, http.StatusOK, userJSON(a))
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username   string `json:"username"`
		Email      string `json:"email"`
		Password   string `json:"password"`
		RePassword string `json:"re_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}

	fieldErrs := map[string][]string{}
	if body.Password != body.RePassword {
		fieldErrs["non_field_errors"] = []string{"The two password fields didn't match."}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.users[body.Username]; taken {
		fieldErrs["username"] = []string{"A user with that username already exists."}
	}
	if len(fieldErrs) > 0 {
		writeJSON(w, http.StatusBadRequest, fieldErrs)
		return
	}

	id := s.addUserLocked(body.Username, body.Email, body.Password, false)
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "username": body.Username, "email": body.Email})
}

func (s *Server) listUsers(w http.ResponseWriter, _ *http.Request, a *account) {
	if !a.staff {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "You do not have permission to perform this action."})
		return
	}

	s.mu.Lock()
	accounts := make([]*account, 0, len(s.users))
	for _, u := range s.users {
		accounts = append(accounts, u)
	}
	s.mu.Unlock()

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].id < accounts[j].id })
	out := make([]map[string]any, 0, len(accounts))
	for _, u := range accounts {
		out = append(out, map[string]any{"id": u.id, "username": u.username})
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listExpenses(w http.ResponseWriter, r *http.Request, a *account) {
	matches, err := s.filter(r, a, true)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// summary groups by category in first-appearance order. Like the real
// backend it ignores the category filter.
func (s *Server) summary(w http.ResponseWriter, r *http.Request, a *account) {
	matches, err := s.filter(r, a, false)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	type row struct {
		Category core.Category `json:"category"`
		Total    string        `json:"total"`
	}
	var order []core.Category
	totals := map[core.Category]decimal.Decimal{}
	for _, e := range matches {
		if _, seen := totals[e.Category]; !seen {
			order = append(order, e.Category)
		}
		totals[e.Category] = totals[e.Category].Add(e.Amount)
	}

	out := make([]row, 0, len(order))
	for _, c := range order {
		out = append(out, row{Category: c, Total: totals[c].StringFixed(2)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) filter(r *http.Request, a *account, byCategory bool) ([]core.Expense, error) {
	q := r.URL.Query()

	var start, end core.Date
	var err error
	if v := q.Get("start_date"); v != "" {
		if start, err = core.ParseDate(v); err != nil {
			return nil, err
		}
	}
	if v := q.Get("end_date"); v != "" {
		if end, err = core.ParseDate(v); err != nil {
			return nil, err
		}
	}
	category := core.Category(q.Get("category"))

	var owner int64
	if v := q.Get("user"); v != "" && a.staff {
		if owner, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid user: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := []core.Expense{}
	for _, id := range s.order {
		e, ok := s.expenses[id]
		switch {
		case !ok:
			continue
		case !a.staff && e.OwnerID != a.id:
			continue
		case owner != 0 && e.OwnerID != owner:
			continue
		case !start.IsEmpty() && e.Date.Before(start.Time):
			continue
		case !end.IsEmpty() && e.Date.After(end.Time):
			continue
		case byCategory && category != "" && e.Category != category:
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// object resolves the {id} expense for a. Like the real backend it answers
// 404 for an unknown id and 403 for another user's expense; ok is false once
// the error has been written.
func (s *Server) object(w http.ResponseWriter, r *http.Request, a *account) (core.Expense, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return core.Expense{}, false
	}
	s.mu.Lock()
	e, ok := s.expenses[id]
	s.mu.Unlock()
	switch {
	case !ok:
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return core.Expense{}, false
	case !a.staff && e.OwnerID != a.id:
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "You do not have permission to perform this action."})
		return core.Expense{}, false
	}
	return e, true
}

func (s *Server) getExpense(w http.ResponseWriter, r *http.Request, a *account) {
	e, ok := s.object(w, r, a)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) createExpense(w http.ResponseWriter, r *http.Request, a *account) {
	e, fieldErrs := decodeExpense(r)
	if len(fieldErrs) > 0 {
		writeJSON(w, http.StatusBadRequest, fieldErrs)
		return
	}
	e.ID = s.AddExpense(a.id, e)
	e.OwnerID = a.id
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) updateExpense(w http.ResponseWriter, r *http.Request, a *account) {
	existing, ok := s.object(w, r, a)
	if !ok {
		return
	}
	e, fieldErrs := decodeExpense(r)
	if len(fieldErrs) > 0 {
		writeJSON(w, http.StatusBadRequest, fieldErrs)
		return
	}
	e.ID = existing.ID
	e.OwnerID = existing.OwnerID

	s.mu.Lock()
	s.expenses[e.ID] = e
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) deleteExpense(w http.ResponseWriter, r *http.Request, a *account) {
	e, ok := s.object(w, r, a)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.expenses, e.ID)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func decodeExpense(r *http.Request) (core.Expense, map[string][]string) {
	var body struct {
		Title    string `json:"title"`
		Amount   string `json:"amount"`
		Category string `json:"category"`
		Date     string `json:"date"`
		Notes    string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return core.Expense{}, map[string][]string{"non_field_errors": {"Invalid data."}}
	}

	errs := map[string][]string{}
	e := core.Expense{Title: body.Title, Category: core.Category(body.Category), Notes: body.Notes}
	if strings.TrimSpace(body.Title) == "" {
		errs["title"] = []string{"This field may not be blank."}
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		errs["amount"] = []string{"A valid number is required."}
	}
	e.Amount = amount
	if !e.Category.Valid() {
		errs["category"] = []string{fmt.Sprintf("%q is not a valid choice.", body.Category)}
	}
	if e.Date, err = core.ParseDate(body.Date); err != nil {
		errs["date"] = []string{"Date has wrong format. Use YYYY-MM-DD."}
	}
	return e, errs
}

func userJSON(a *account) map[string]any {
	return map[string]any{"id": a.id, "username": a.username, "email": a.email, "is_staff": a.staff}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
