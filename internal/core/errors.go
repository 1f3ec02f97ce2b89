package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderTerminal    = errors.New("order already terminal")
	ErrPositionNotFound = errors.New("position not found")
	ErrNotRunning       = errors.New("engine is not running")
	ErrAlreadyRunning   = errors.New("engine is already running")
	ErrUnsupportedVenue = errors.New("unsupported venue")
	ErrCircuitOpen      = errors.New("venue circuit breaker is open")
)

// InsufficientCapitalError is returned by admission control when the reserve
// required by an order exceeds the free cash.
type InsufficientCapitalError struct {
	Available float64
	Required  float64
}

func (e *InsufficientCapitalError) Error() string {
	return fmt.Sprintf("insufficient capital: available %.2f, required %.2f", e.Available, e.Required)
}

// RiskViolationError is returned when an order breaches a configured limit.
type RiskViolationError struct {
	Rule   string
	Limit  float64
	Actual float64
}

func (e *RiskViolationError) Error() string {
	return fmt.Sprintf("risk violation [%s]: limit %.4f, actual %.4f", e.Rule, e.Limit, e.Actual)
}

// InvalidOrderError is returned when an order fails structural validation or
// an illegal lifecycle transition is attempted.
type InvalidOrderError struct {
	Reason string
}

func (e *InvalidOrderError) Error() string {
	return "invalid order: " + e.Reason
}

// NoDataError is returned when a requested candle range is empty.
type NoDataError struct {
	Symbol string
	Start  time.Time
	End    time.Time
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no data for %s between %s and %s",
		e.Symbol, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

// ConnectionError wraps a transport failure talking to a venue. Retryable.
type ConnectionError struct {
	Venue string
	Op    string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Venue, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// VenueError is a definitive rejection from the venue. Not retryable.
type VenueError struct {
	Venue   string
	Code    int
	Message string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("%s rejected request (code %d): %s", e.Venue, e.Code, e.Message)
}
