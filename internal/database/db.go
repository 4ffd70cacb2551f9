// Package database persists long-run indicator statistics and the
// trade ledger in PostgreSQL.
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/papertrade/models"
)

// DB represents a database connection
type DB struct {
	*sql.DB
	logger zerolog.Logger
}

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// New creates a new database connection
func New(params ConnectionParams) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		params.Host, params.Port, params.User, params.Password, params.DBName, params.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Check connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		return nil, err
	}

	return &DB{DB: db, logger: log.With().Str("component", "database").Logger()}, nil
}

// createTables creates the necessary tables if they don't exist
func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS indicator_performance (
			pair TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			indicator TEXT NOT NULL,
			success_rate DOUBLE PRECISION NOT NULL,
			total_trades INTEGER NOT NULL,
			last_updated TIMESTAMP NOT NULL,
			PRIMARY KEY (pair, timeframe, indicator)
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			pair TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			action TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			profit_loss DOUBLE PRECISION,
			indicators TEXT
		)
	`)
	return err
}

// UpsertIndicatorPerformance folds a fresh observation batch into the
// stored success rate with an incremental average, so the rate always
// reflects all trades ever counted.
func (db *DB) UpsertIndicatorPerformance(pair, timeframe, indicator string, successes, total int) error {
	if total <= 0 {
		return nil
	}
	rate := float64(successes) / float64(total)

	_, err := db.Exec(`
		INSERT INTO indicator_performance (
			pair, timeframe, indicator, success_rate, total_trades, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pair, timeframe, indicator) DO UPDATE SET
			success_rate = (indicator_performance.success_rate * indicator_performance.total_trades + $7)
				/ (indicator_performance.total_trades + $5),
			total_trades = indicator_performance.total_trades + $5,
			last_updated = $6
	`, pair, timeframe, indicator, rate, total, time.Now().UTC(), float64(successes))
	if err != nil {
		return fmt.Errorf("upserting indicator performance: %w", err)
	}
	return nil
}

// GetIndicatorPerformance loads the stored statistic for one
// (pair, timeframe, indicator). Missing rows return nil.
func (db *DB) GetIndicatorPerformance(pair, timeframe, indicator string) (*models.IndicatorPerformanceRecord, error) {
	rec := models.IndicatorPerformanceRecord{
		Pair:      pair,
		Timeframe: timeframe,
		Indicator: indicator,
	}
	err := db.QueryRow(`
		SELECT success_rate, total_trades, last_updated
		FROM indicator_performance
		WHERE pair = $1 AND timeframe = $2 AND indicator = $3
	`, pair, timeframe, indicator).Scan(&rec.SuccessRate, &rec.TotalTrades, &rec.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying indicator performance: %w", err)
	}
	return &rec, nil
}

// GetBestIndicators returns the top indicators for a pair/timeframe
// with at least ten recorded trades.
func (db *DB) GetBestIndicators(pair, timeframe string) ([]models.IndicatorPerformanceRecord, error) {
	rows, err := db.Query(`
		SELECT indicator, success_rate, total_trades, last_updated
		FROM indicator_performance
		WHERE pair = $1 AND timeframe = $2 AND total_trades >= 10
		ORDER BY success_rate DESC
		LIMIT 5
	`, pair, timeframe)
	if err != nil {
		return nil, fmt.Errorf("querying best indicators: %w", err)
	}
	defer rows.Close()

	var out []models.IndicatorPerformanceRecord
	for rows.Next() {
		rec := models.IndicatorPerformanceRecord{Pair: pair, Timeframe: timeframe}
		if err := rows.Scan(&rec.Indicator, &rec.SuccessRate, &rec.TotalTrades, &rec.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AddTrade appends one executed trade to the ledger.
func (db *DB) AddTrade(trade models.Trade) error {
	indicators, err := json.Marshal(trade.Indicators)
	if err != nil {
		return fmt.Errorf("encoding trade indicators: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO trades (pair, timestamp, action, price, quantity, profit_loss, indicators)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, trade.Pair, trade.Timestamp.UTC(), trade.Action, trade.Price, trade.Quantity, trade.ProfitLoss, string(indicators))
	if err != nil {
		return fmt.Errorf("inserting trade: %w", err)
	}
	return nil
}

// GetTradeHistory returns trades, optionally filtered by pair, newest
// first.
func (db *DB) GetTradeHistory(pair string) ([]models.Trade, error) {
	query := `
		SELECT pair, timestamp, action, price, quantity, profit_loss, indicators
		FROM trades
	`
	args := []any{}
	if pair != "" {
		query += ` WHERE pair = $1`
		args = append(args, pair)
	}
	query += ` ORDER BY timestamp DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trade history: %w", err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		var t models.Trade
		var indicators sql.NullString
		if err := rows.Scan(&t.Pair, &t.Timestamp, &t.Action, &t.Price, &t.Quantity, &t.ProfitLoss, &indicators); err != nil {
			return nil, err
		}
		if indicators.Valid && indicators.String != "" {
			if err := json.Unmarshal([]byte(indicators.String), &t.Indicators); err != nil {
				db.logger.Warn().Err(err).Str("pair", t.Pair).Msg("Skipping malformed indicator list")
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
