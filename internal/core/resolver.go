package core

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Match is a successful resolution: the canonical code and official name.
type Match struct {
	Code string
	Name string
}

// Resolver maps one free-text query to a Match.
//
// Implementations must be safe for concurrent use. A confirmed miss is
// reported as *NotFoundError; every other error is treated as a transport
// failure by the Driver.
type Resolver interface {
	Resolve(ctx context.Context, query string) (Match, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, query string) (Match, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, query string) (Match, error) {
	return f(ctx, query)
}

// NotFoundError signals that the resolver knows the query and has no match.
type NotFoundError struct {
	Query  string
	Reason string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("not found: %s", e.Query)
}

// TransportError wraps a failure to obtain an answer from the resolver:
// network errors, unexpected statuses, undecodable bodies.
type TransportError struct {
	Query string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("resolver unavailable for %q: %v", e.Query, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is, or wraps, a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// classify turns a resolver answer into an outcome for query.
func classify(query string, m Match, err error) Outcome {
	if err == nil {
		return Success{Query: query, Code: m.Code, Name: m.Name}
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		reason := nf.Reason
		if reason == "" {
			reason = nf.Error()
		}
		return NotFound{Query: query, Reason: reason}
	}
	return Error{Query: query, Reason: err.Error()}
}
