// Package query turns user filter choices into backend query parameters.
package query

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"expenses/internal/core"
)

// Parameter names understood by the listing and summary endpoints.
const (
	ParamStartDate = "start_date"
	ParamEndDate   = "end_date"
	ParamCategory  = "category"
	ParamUser      = "user"
)

var (
	ErrEndBeforeStart = errors.New("end date is before start date")
	ErrStartInFuture  = errors.New("start date is in the future")
	ErrEndInFuture    = errors.New("end date is in the future")
	ErrInvalidUser    = errors.New("invalid user id")
)

// FilterState narrows which expenses are listed and summarized. Zero values
// mean "no constraint".
type FilterState struct {
	StartDate core.Date
	EndDate   core.Date
	Category  core.Category
	OwnerID   int64
}

func (f FilterState) IsEmpty() bool {
	return f == FilterState{}
}

// ValidationError lists every violated filter rule. Each rule can be matched
// with errors.Is.
type ValidationError struct {
	Fields []string
	Err    error
}

func (e *ValidationError) Error() string {
	return "invalid filter: " + strings.ReplaceAll(e.Err.Error(), "\n", "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate checks f against today. All rules are evaluated independently.
func Validate(f FilterState, today core.Date) error {
	var errs []error
	var fields []string
	add := func(field string, err error) {
		errs = append(errs, err)
		for _, existing := range fields {
			if existing == field {
				return
			}
		}
		fields = append(fields, field)
	}

	if !f.StartDate.IsEmpty() && !f.EndDate.IsEmpty() && f.StartDate.AfterDate(f.EndDate) {
		add(ParamEndDate, ErrEndBeforeStart)
	}
	if !f.StartDate.IsEmpty() && f.StartDate.AfterDate(today) {
		add(ParamStartDate, ErrStartInFuture)
	}
	if !f.EndDate.IsEmpty() && f.EndDate.AfterDate(today) {
		add(ParamEndDate, ErrEndInFuture)
	}
	if f.Category != "" && !f.Category.Valid() {
		add(ParamCategory, fmt.Errorf("%w: %q", core.ErrInvalidCategory, string(f.Category)))
	}
	if f.OwnerID < 0 {
		add(ParamUser, ErrInvalidUser)
	}

	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields, Err: errors.Join(errs...)}
}

// ToQueryParams serializes f, omitting absent fields.
func ToQueryParams(f FilterState) url.Values {
	v := url.Values{}
	if s := f.StartDate.String(); s != "" {
		v.Set(ParamStartDate, s)
	}
	if s := f.EndDate.String(); s != "" {
		v.Set(ParamEndDate, s)
	}
	if f.Category != "" {
		v.Set(ParamCategory, string(f.Category))
	}
	if f.OwnerID > 0 {
		v.Set(ParamUser, strconv.FormatInt(f.OwnerID, 10))
	}
	return v
}

// Reset returns the empty filter. It does not fetch anything.
func Reset() FilterState {
	return FilterState{}
}

// Today is the current calendar date in loc.
func Today(loc *time.Location) core.Date {
	return core.Today(loc)
}

// Parse builds a filter from raw input keyed by parameter name. Blank values
// are treated as absent.
func Parse(values map[string]string) (FilterState, error) {
	var f FilterState
	var errs []error
	var fields []string

	get := func(k string) string { return strings.TrimSpace(values[k]) }

	if s := get(ParamStartDate); s != "" {
		d, err := core.ParseDate(s)
		if err != nil {
			errs, fields = append(errs, err), append(fields, ParamStartDate)
		}
		f.StartDate = d
	}
	if s := get(ParamEndDate); s != "" {
		d, err := core.ParseDate(s)
		if err != nil {
			errs, fields = append(errs, err), append(fields, ParamEndDate)
		}
		f.EndDate = d
	}
	if s := get(ParamCategory); s != "" {
		c, err := core.ParseCategory(s)
		if err != nil {
			errs, fields = append(errs, err), append(fields, ParamCategory)
		}
		f.Category = c
	}
	if s := get(ParamUser); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			errs, fields = append(errs, fmt.Errorf("%w: %q", ErrInvalidUser, s)), append(fields, ParamUser)
		}
		f.OwnerID = id
	}

	if len(errs) > 0 {
		return FilterState{}, &ValidationError{Fields: fields, Err: errors.Join(errs...)}
	}
	return f, nil
}
