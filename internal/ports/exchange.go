package ports

import (
	"context"
	"time"

	"cryptoMultiBot/internal/domain"
)

// OrderResponse holds the standardized details of an order returned by the exchange.
type OrderResponse struct {
	OrderID       int64
	Symbol        string
	ClientOrderID string
	Price         float64 // Order price (0 for market orders)
	AvgPrice      float64 // Average fill price
	StopPrice     float64 // Trigger price of stop and take-profit orders
	OrigQuantity  float64 // Original order quantity
	ExecutedQty   float64 // Quantity filled so far
	Status        string  // Exchange order status (e.g., NEW, FILLED)
	Type          string  // Order type (e.g., MARKET, STOP_MARKET)
	Side          string  // BUY or SELL
	PositionSide  string  // LONG or SHORT (hedge-mode position tag)
	ReduceOnly    bool
	Timestamp     time.Time
}

// ExchangePosition holds the standardized position state reported by the exchange.
type ExchangePosition struct {
	Symbol           string
	PositionAmt      float64 // Signed size: positive long, negative short
	EntryPrice       float64
	MarkPrice        float64
	UnRealizedProfit float64
	LiquidationPrice float64
	Leverage         int
	PositionSide     string // LONG, SHORT or BOTH
}

// Side returns the domain side of the reported position, derived from the
// position-side tag with the sign of the amount as fallback.
func (p *ExchangePosition) Side() domain.Side {
	switch p.PositionSide {
	case "LONG":
		return domain.SideLong
	case "SHORT":
		return domain.SideShort
	}
	if p.PositionAmt < 0 {
		return domain.SideShort
	}
	return domain.SideLong
}

// MarketDataFeed supplies prices and candle history to the strategy runners.
// Implementations must honor the context deadline; a failed fetch is wrapped
// with ErrDataUnavailable so callers can skip the tick and retry later.
type MarketDataFeed interface {
	// GetPrice retrieves the latest traded price for a symbol.
	GetPrice(ctx context.Context, symbol string) (float64, error)
	// GetKlines retrieves the most recent klines for a symbol and interval,
	// oldest first, up to the given limit.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)
}

// ExchangeClient defines the order and account surface of the exchange.
// Every order-placing call carries an explicit position side so the adapter
// never relies on side inference when the account holds both directions.
type ExchangeClient interface {
	// PlaceMarketOrder places a market order. reduceOnly guarantees the order
	// can only shrink an existing position.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, positionSide domain.Side, quantity string, reduceOnly bool) (*OrderResponse, error)
	// PlaceStopMarketOrder places a stop-market order at the given trigger price.
	PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, positionSide domain.Side, quantity, stopPrice string) (*OrderResponse, error)
	// PlaceTakeProfitMarketOrder places a take-profit-market order at the given trigger price.
	PlaceTakeProfitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, positionSide domain.Side, quantity, stopPrice string) (*OrderResponse, error)
	// CancelOrder cancels an open order by ID.
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	// GetOpenOrders retrieves all resting orders for a symbol.
	GetOpenOrders(ctx context.Context, symbol string) ([]*OrderResponse, error)
	// GetPositions retrieves all non-flat positions reported by the exchange.
	GetPositions(ctx context.Context) ([]*ExchangePosition, error)
	// GetMarkPrice retrieves the current mark price used for PnL and liquidation.
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
	// GetAccountBalance retrieves the available balance of the futures account.
	GetAccountBalance(ctx context.Context) (float64, error)
	// SetLeverage sets the leverage for a symbol before trading it.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error
	// SetServerTime synchronizes the client clock offset with the exchange.
	SetServerTime(ctx context.Context) error
}
