package message

import (
	"net/url"
	"strconv"
)

// Filter is a set of field-match constraints over messages. The zero
// Filter matches everything. Filters are passed through unmodified to the
// messaging service for historical queries and subscriptions, and can
// also be evaluated locally via Matches.
type Filter struct {
	Type string `json:"type,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// Matches reports whether m satisfies every constraint in the filter.
func (f Filter) Matches(m *Message) bool {
	if f.Type != "" && !m.Is(f.Type) {
		return false
	}
	if f.From != "" && !m.IsFrom(f.From) {
		return false
	}
	if f.To != "" && !m.IsTo(f.To) {
		return false
	}
	if f.Tag != "" && !m.HasTag(f.Tag) {
		return false
	}
	return true
}

// IsZero reports whether the filter has no constraints.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// CommandTag returns the tag applied to messages that are command
// relevant for the given principal.
func CommandTag(principalID string) string {
	return "command:" + principalID
}

// CommandFilter returns the default filter used by command managers: all
// messages tagged as command relevant for the principal.
func CommandFilter(principalID string) Filter {
	return Filter{Tag: CommandTag(principalID)}
}

// FindOptions bound and order a historical message query.
type FindOptions struct {
	// SortDescending orders results newest-first by TS. The default is
	// oldest-first.
	SortDescending bool

	// Limit caps the number of results; zero means the service default.
	Limit int

	// Skip drops this many results before returning any.
	Skip int
}

// Query encodes the filter and options as URL query parameters for the
// REST transport.
func (f Filter) Query(opts FindOptions) url.Values {
	q := url.Values{}
	if f.Type != "" {
		q.Set("type", f.Type)
	}
	if f.From != "" {
		q.Set("from", f.From)
	}
	if f.To != "" {
		q.Set("to", f.To)
	}
	if f.Tag != "" {
		q.Set("tag", f.Tag)
	}
	if opts.SortDescending {
		q.Set("sort", "-ts")
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Skip > 0 {
		q.Set("skip", strconv.Itoa(opts.Skip))
	}
	return q
}

// FilterFromQuery decodes URL query parameters produced by Query. Used by
// services implementing the REST boundary and by tests.
func FilterFromQuery(q url.Values) (Filter, FindOptions) {
	f := Filter{
		Type: q.Get("type"),
		From: q.Get("from"),
		To:   q.Get("to"),
		Tag:  q.Get("tag"),
	}
	var opts FindOptions
	if q.Get("sort") == "-ts" {
		opts.SortDescending = true
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = limit
	}
	if skip, err := strconv.Atoi(q.Get("skip")); err == nil {
		opts.Skip = skip
	}
	return f, opts
}
