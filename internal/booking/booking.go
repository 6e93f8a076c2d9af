// Package booking answers calendar queries against connected devices.
//
// Results are derived from a fresh "Bookings List" command on every call
// and are never cached.
package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/roomlink-core/internal/normalize"
	"github.com/nerrad567/roomlink-core/internal/xapi"
)

// ErrQueryFailed wraps any failure of the underlying session or transport.
// The wrapped error keeps its type, so callers can still test for
// session.ErrNotConnected, xapi.ErrAuthFailed and the like.
var ErrQueryFailed = errors.New("booking: query failed")

// Schedule types accepted by the Bookings List command.
const (
	ScheduleUpcoming = "Upcoming"
	ScheduleCurrent  = "Current"
)

// ListCommand is the XAPI command used for every booking query.
const ListCommand = "Bookings List"

// Executor runs an XAPI command. *session.Session implements it.
type Executor interface {
	Execute(ctx context.Context, command string, params map[string]string) (*xapi.Node, error)
}

// Resolver finds the executor for a session reference; "" means the
// current device.
type Resolver interface {
	ResolveExecutor(ref string) (Executor, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ref string) (Executor, error)

// ResolveExecutor implements Resolver.
func (f ResolverFunc) ResolveExecutor(ref string) (Executor, error) {
	return f(ref)
}

// List is the result of a today's-bookings query.
type List struct {
	Status   string              `json:"status"`
	Bookings []normalize.Booking `json:"bookings"`
}

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Service runs booking queries.
type Service struct {
	resolver Resolver
	logger   Logger
}

// NewService creates a booking service over resolver.
func NewService(resolver Resolver) *Service {
	return &Service{resolver: resolver, logger: noopLogger{}}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// TodaysBookings lists upcoming bookings in the 1-day window starting
// today. Zero bookings is an empty list, not an error.
func (s *Service) TodaysBookings(ctx context.Context, ref string) (*List, error) {
	node, err := s.query(ctx, ref, ScheduleUpcoming)
	if err != nil {
		return nil, err
	}

	var list *List
	if err := safely(func() {
		list = &List{
			Status:   normalize.ResultStatus(node),
			Bookings: normalize.BookingsFrom(node),
		}
	}); err != nil {
		return nil, err
	}
	return list, nil
}

// CurrentBooking returns the booking in progress, or nil when there is
// none. An error is returned only when the query itself failed.
func (s *Service) CurrentBooking(ctx context.Context, ref string) (*normalize.Booking, error) {
	node, err := s.query(ctx, ref, ScheduleCurrent)
	if err != nil {
		return nil, err
	}

	var current *normalize.Booking
	if err := safely(func() {
		if bookings := normalize.BookingsFrom(node); len(bookings) > 0 {
			current = &bookings[0]
		}
	}); err != nil {
		return nil, err
	}
	return current, nil
}

func (s *Service) query(ctx context.Context, ref, scheduleType string) (node *xapi.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			node = nil
			err = fmt.Errorf("%w: panic: %v", ErrQueryFailed, r)
		}
		if err != nil {
			s.logger.Warn("booking query failed", "ref", ref, "schedule", scheduleType, "error", err)
		}
	}()

	exec, err := s.resolver.ResolveExecutor(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	node, err = exec.Execute(ctx, ListCommand, map[string]string{
		"Days":         "1",
		"DayOffset":    "0",
		"ScheduleType": scheduleType,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return node, nil
}

// safely runs fn and converts a panic into ErrQueryFailed.
func safely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: decoding bookings: %v", ErrQueryFailed, r)
		}
	}()
	fn()
	return nil
}
