package executor

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// TradeRecord is one confirmed settlement, appended as a JSONL line so the
// history survives restarts and feeds offline evaluation.
type TradeRecord struct {
	RunID      string          `json:"run_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Pair       string          `json:"pair"`
	Action     string          `json:"action"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Total      decimal.Decimal `json:"total"`
	Commission decimal.Decimal `json:"commission"`
	OrderID    string          `json:"order_id"`
}

type TradeHistory struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

func NewTradeHistory(path, runID string) (*TradeHistory, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &TradeHistory{
		runID:  runID,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (h *TradeHistory) Append(record TradeRecord) {
	record.RunID = h.runID
	h.mu.Lock()
	defer h.mu.Unlock()
	payload, err := json.Marshal(record)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal trade record")
		return
	}
	if _, err := h.writer.Write(append(payload, '\n')); err != nil {
		log.Error().Err(err).Msg("failed to write trade record")
		return
	}
	if err := h.writer.Flush(); err != nil {
		log.Error().Err(err).Msg("failed to flush trade history")
	}
}

func (h *TradeHistory) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.writer.Flush(); err != nil {
		_ = h.file.Close()
		return err
	}
	return h.file.Close()
}
