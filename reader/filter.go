package reader

import (
	"fmt"
	"net/url"

	"github.com/kinbiko/crashpipe"
)

// Defaults and bounds of a read query.
const (
	DefaultLimit = 50
	MinLimit     = 1
	MaxLimit     = 100

	DefaultOffset = 0

	DefaultDays = 30
	MinDays     = 1
	MaxDays     = 365
)

// Filter narrows down a read query.
type Filter struct {
	Limit   int
	Offset  int
	Days    int
	Version string
}

// FilterOption changes a single field of the Filter a query starts from.
type FilterOption func(*Filter)

// WithLimit sets the page size, 1-100.
func WithLimit(limit int) FilterOption { return func(f *Filter) { f.Limit = limit } }

// WithOffset sets the number of reports to skip, 0 or more.
func WithOffset(offset int) FilterOption { return func(f *Filter) { f.Offset = offset } }

// WithDays sets how many days to look back, 1-365.
func WithDays(days int) FilterOption { return func(f *Filter) { f.Days = days } }

// WithVersion only returns reports of the given app version. An empty
// version removes the filter, including the client's own version.
func WithVersion(version string) FilterOption { return func(f *Filter) { f.Version = version } }

func (c *Client) defaultFilter() Filter {
	return Filter{Limit: DefaultLimit, Offset: DefaultOffset, Days: DefaultDays, Version: c.cfg.AppVersion}
}

// Validate checks the filter bounds.
func (f Filter) Validate() error {
	if f.Limit < MinLimit || f.Limit > MaxLimit {
		return &crashpipe.ValidationError{Field: "limit", Reason: fmt.Sprintf("must be between %d and %d, got %d", MinLimit, MaxLimit, f.Limit)}
	}
	if f.Offset < 0 {
		return &crashpipe.ValidationError{Field: "offset", Reason: fmt.Sprintf("must not be negative, got %d", f.Offset)}
	}
	if f.Days < MinDays || f.Days > MaxDays {
		return &crashpipe.ValidationError{Field: "days", Reason: fmt.Sprintf("must be between %d and %d, got %d", MinDays, MaxDays, f.Days)}
	}
	return nil
}

// query encodes the filter, leaving out values equal to the endpoint's
// defaults.
func (f Filter) query() url.Values {
	q := url.Values{}
	if f.Limit != DefaultLimit {
		q.Set("limit", itoa(f.Limit))
	}
	if f.Offset != DefaultOffset {
		q.Set("offset", itoa(f.Offset))
	}
	if f.Days != DefaultDays {
		q.Set("days", itoa(f.Days))
	}
	if f.Version != "" {
		q.Set("version", f.Version)
	}
	return q
}
