package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/corepay/wallet-ledger/internal/model"
)

// HistoryFilter narrows a wallet's ledger to a time range. Date resolves to
// that whole day and wins over Start/End when both are given. All three are
// date strings in any accepted format.
type HistoryFilter struct {
	Date  string
	Start string
	End   string
}

// Accepted formats, tried in order. A bare date resolves to start-of-day as
// a range start and to the last nanosecond of the day as a range end.
var historyFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

const dateOnlyFormat = "2006-01-02"

// GetHistory returns the wallet's ledger rows matching the filter, ascending
// by commit time, ties broken by insertion order.
func (s *WalletService) GetHistory(ctx context.Context, walletID uint64, f HistoryFilter) ([]model.Transaction, error) {
	if _, err := s.repo.GetWallet(ctx, s.repo.DB(ctx), walletID); err != nil {
		if isRecordNotFound(err) {
			return nil, fmt.Errorf("wallet %d: %w", walletID, ErrWalletNotFound)
		}
		return nil, err
	}

	start, end, err := resolveRange(f)
	if err != nil {
		return nil, err
	}
	return s.repo.TransactionsInRange(ctx, walletID, start, end)
}

// resolveRange normalizes the filter into optional [start, end] bounds.
func resolveRange(f HistoryFilter) (*time.Time, *time.Time, error) {
	if f.Date != "" {
		day, err := parseBound(f.Date, false)
		if err != nil {
			return nil, nil, err
		}
		start := startOfDay(day)
		end := endOfDay(day)
		return &start, &end, nil
	}

	var start, end *time.Time
	if f.Start != "" {
		t, err := parseBound(f.Start, false)
		if err != nil {
			return nil, nil, err
		}
		start = &t
	}
	if f.End != "" {
		t, err := parseBound(f.End, true)
		if err != nil {
			return nil, nil, err
		}
		end = &t
	}
	if start != nil && end != nil && start.After(*end) {
		return nil, nil, fmt.Errorf("start %q after end %q: %w", f.Start, f.End, ErrInvalidDateFormat)
	}
	return start, end, nil
}

// parseBound tries each accepted format in order. Range inversion aside,
// the only failure mode is that no format matches.
func parseBound(s string, asEnd bool) (time.Time, error) {
	for _, layout := range historyFormats {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if layout == dateOnlyFormat && asEnd {
			t = endOfDay(t)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%q: %w", s, ErrInvalidDateFormat)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).Add(24*time.Hour - time.Nanosecond)
}

func isRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
