// Package dedupe filters entry links that already exist in the destination
// store.
package dedupe

import (
	"context"
	"errors"
	"fmt"
)

// DefaultBatchSize bounds the number of links per existence query.
const DefaultBatchSize = 30

// Querier answers which of the given links are already stored.
type Querier interface {
	ExistingLinks(ctx context.Context, links []string) ([]string, error)
}

// QueryError means the store could not be asked. Treating it as "nothing
// exists" would write duplicates, so callers must abort the batch.
type QueryError struct {
	Batch int
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("dedupe query batch %d: %v", e.Batch, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

type Gate struct {
	Querier   Querier
	BatchSize int
}

func New(q Querier, batchSize int) *Gate {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Gate{Querier: q, BatchSize: batchSize}
}

// Existing returns the subset of links present in the store. Links are
// queried in ceil(len/BatchSize) ordered batches; the first failure stops
// the scan.
func (g *Gate) Existing(ctx context.Context, links []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	if len(links) == 0 {
		return seen, nil
	}

	size := g.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	for i, batch := 0, 0; i < len(links); i, batch = i+size, batch+1 {
		end := min(i+size, len(links))
		found, err := g.Querier.ExistingLinks(ctx, links[i:end])
		if err != nil {
			return nil, &QueryError{Batch: batch, Err: err}
		}
		for _, l := range found {
			seen[l] = true
		}
	}
	return seen, nil
}

// Fresh returns the links not yet stored, in input order and without
// in-batch repeats.
func (g *Gate) Fresh(ctx context.Context, links []string) ([]string, error) {
	existing, err := g.Existing(ctx, links)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(links))
	for _, l := range links {
		if existing[l] {
			continue
		}
		existing[l] = true
		out = append(out, l)
	}
	return out, nil
}
