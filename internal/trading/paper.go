package trading

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/papertrade/models"
)

// PaperTrader simulates order execution against a virtual balance.
// State survives restarts through a JSON file that is fsynced on every
// mutation.
type PaperTrader struct {
	mu        sync.Mutex
	balance   float64
	positions map[string]*models.Position
	stateFile string
	logger    zerolog.Logger
}

type traderState struct {
	Balance   float64                     `json:"balance"`
	Positions map[string]*models.Position `json:"positions"`
}

// NewPaperTrader restores state from stateFile, or starts fresh with
// initialBalance when no usable state exists.
func NewPaperTrader(stateFile string, initialBalance float64) *PaperTrader {
	t := &PaperTrader{
		balance:   initialBalance,
		positions: make(map[string]*models.Position),
		stateFile: stateFile,
		logger:    log.With().Str("component", "paper_trader").Logger(),
	}
	t.loadState()
	return t
}

func (t *PaperTrader) loadState() {
	data, err := os.ReadFile(t.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			t.saveStateLocked()
			return
		}
		t.logger.Error().Err(err).Str("file", t.stateFile).Msg("Error loading state")
		return
	}

	var state traderState
	if err := json.Unmarshal(data, &state); err != nil {
		t.logger.Error().Err(err).Str("file", t.stateFile).Msg("Malformed state file, starting fresh")
		return
	}

	t.balance = state.Balance
	if state.Positions != nil {
		t.positions = state.Positions
	}
	t.logger.Info().Float64("balance", t.balance).Int("positions", len(t.positions)).Msg("Restored trading state")
}

func (t *PaperTrader) saveStateLocked() {
	data, err := json.MarshalIndent(traderState{Balance: t.balance, Positions: t.positions}, "", "  ")
	if err != nil {
		t.logger.Error().Err(err).Msg("Error encoding state")
		return
	}

	f, err := os.Create(t.stateFile)
	if err != nil {
		t.logger.Error().Err(err).Str("file", t.stateFile).Msg("Error opening state file")
		return
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		t.logger.Error().Err(err).Msg("Error writing state")
		return
	}
	if err := f.Sync(); err != nil {
		t.logger.Error().Err(err).Msg("Error syncing state file")
	}
}

// Balance returns the free (uninvested) balance.
func (t *PaperTrader) Balance() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance
}

// Position returns the current holding for a symbol, zero-valued when
// flat.
func (t *PaperTrader) Position(symbol string) models.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.positions[symbol]; ok {
		return *p
	}
	return models.Position{}
}

// PortfolioValue is the balance plus every position marked at the
// given prices. Positions without a price count at zero.
func (t *PaperTrader) PortfolioValue(prices map[string]float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	value := t.balance
	for symbol, position := range t.positions {
		if price, ok := prices[symbol]; ok {
			value += position.Quantity * price
		}
	}
	return value
}

// PlaceOrder executes a simulated order. A BUY that costs more than
// the free balance and a SELL of more than the held quantity both fail
// without touching any state. A successful SELL reports realized
// profit against the average entry price.
func (t *PaperTrader) PlaceOrder(symbol, action string, quantity, price float64) (profitLoss float64, err error) {
	if quantity <= 0 || price <= 0 {
		return 0, fmt.Errorf("invalid order: quantity=%v price=%v", quantity, price)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cost := quantity * price

	switch action {
	case models.ActionBuy:
		if cost > t.balance {
			return 0, fmt.Errorf("insufficient balance: need %.2f, have %.2f", cost, t.balance)
		}
		position, ok := t.positions[symbol]
		if !ok {
			position = &models.Position{}
			t.positions[symbol] = position
		}
		totalCost := position.Quantity*position.AvgPrice + cost
		totalQuantity := position.Quantity + quantity
		position.AvgPrice = totalCost / totalQuantity
		position.Quantity = totalQuantity
		t.balance -= cost

	case models.ActionSell:
		position, ok := t.positions[symbol]
		if !ok || position.Quantity < quantity {
			return 0, fmt.Errorf("insufficient position: want %v, have %v", quantity, t.heldQuantityLocked(symbol))
		}
		profitLoss = (price - position.AvgPrice) * quantity
		position.Quantity -= quantity
		if position.Quantity == 0 {
			delete(t.positions, symbol)
		}
		t.balance += cost

	default:
		return 0, fmt.Errorf("unknown action %q", action)
	}

	t.saveStateLocked()
	t.logger.Info().
		Str("symbol", symbol).
		Str("action", action).
		Float64("quantity", quantity).
		Float64("price", price).
		Float64("balance", t.balance).
		Msg("Order executed")
	return profitLoss, nil
}

func (t *PaperTrader) heldQuantityLocked(symbol string) float64 {
	if p, ok := t.positions[symbol]; ok {
		return p.Quantity
	}
	return 0
}

// Flush persists the current state. Used on shutdown.
func (t *PaperTrader) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.saveStateLocked()
}
