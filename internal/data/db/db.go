// Package db implements the attestation ledger, report store and registries on gorm.
package db

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/pkg/repro"
)

// maxInClause bounds the number of bind variables per IN list.
const maxInClause = 500

var (
	errNilDB  = errors.New("db cannot be nil")
	errNilCtx = errors.New("ctx cannot be nil")
)

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return errNilDB
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	return nil
}

// notFound converts gorm.ErrRecordNotFound into repro.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, repro.ErrNotFound)
	}
	return fmt.Errorf("error finding %s: %w", what, err)
}

// chunks splits items into consecutive slices of at most size elements.
func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

// uniqueStrings drops repeated values, keeping first occurrences.
func uniqueStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
