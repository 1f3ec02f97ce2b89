// Package exchange defines the venue abstraction the live execution path
// talks to, plus auth and rate limiting shared by all adapters. Concrete
// venues live in subpackages and register themselves with the factory.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"velora/internal/core"
)

// VenueType classifies venues by their settlement model.
type VenueType string

const (
	VenueCEX   VenueType = "cex"
	VenueDEX   VenueType = "dex"
	VenueDEXL2 VenueType = "dex_l2"
)

// OrderRequest is a venue-neutral order submission. ClientOrderID carries
// the internal order id so stream events can be matched back.
type OrderRequest struct {
	Symbol        string
	Side          core.Side
	Type          core.OrderType
	Quantity      float64
	Price         float64
	StopPrice     float64
	ReduceOnly    bool
	ClientOrderID string
}

// OrderAck is the venue's synchronous response to a submission.
type OrderAck struct {
	VenueOrderID string
	Status       core.OrderStatus
	Timestamp    time.Time
}

// OrderEvent is one asynchronous order update from the venue's stream.
// FilledQuantity and AvgFillPrice are cumulative; the LastFill fields
// describe the individual execution that triggered the event.
type OrderEvent struct {
	VenueOrderID     string
	ClientOrderID    string
	Symbol           string
	Side             core.Side
	Status           core.OrderStatus
	FilledQuantity   float64
	AvgFillPrice     float64
	LastFillQuantity float64
	LastFillPrice    float64
	Commission       float64
	Reason           string
	Timestamp        time.Time
}

// MarketData serves historical and current prices.
type MarketData interface {
	Candles(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]core.Candle, error)
	Ticker(ctx context.Context, symbol string) (core.Ticker, error)
}

// Trading submits, amends and cancels orders at the venue.
type Trading interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, venueOrderID string) error
	ModifyOrder(ctx context.Context, symbol, venueOrderID string, price, quantity float64) (OrderAck, error)
}

// Exchange is a fully connected venue adapter.
type Exchange interface {
	MarketData
	Trading
	Name() string
	Venue() VenueType
	Connect(ctx context.Context) error
	// StreamOrderEvents delivers order updates until the context ends.
	// The channel closes when the stream terminates.
	StreamOrderEvents(ctx context.Context) (<-chan OrderEvent, error)
	Close() error
}

// Config selects and authenticates one venue.
type Config struct {
	Name    string     `mapstructure:"name" yaml:"name"`
	Testnet bool       `mapstructure:"testnet" yaml:"testnet"`
	Auth    AuthConfig `mapstructure:"auth" yaml:"auth"`
}

// Factory builds a connected-but-idle adapter from config.
type Factory func(cfg Config) (Exchange, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register installs a venue factory. Adapters call this from init.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = f
}

// New builds the adapter for the named venue. Venues without a registered
// adapter fail with ErrUnsupportedVenue.
func New(cfg Config) (Exchange, error) {
	registryMu.RLock()
	f, ok := registry[strings.ToLower(cfg.Name)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", core.ErrUnsupportedVenue, cfg.Name, strings.Join(Registered(), ", "))
	}
	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}
	return f(cfg)
}

// Registered lists the venues with an installed adapter, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
