// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultChunkSize is the number of scripts a ParallelResolver sends
	// per call when none is configured.
	DefaultChunkSize = 100

	// DefaultMaxConcurrency is the number of concurrent calls a
	// ParallelResolver makes when none is configured.
	DefaultMaxConcurrency = 4
)

// ParallelResolver splits large UTXO queries into chunks resolved
// concurrently by an underlying resolver. Results keep the order of the
// scripts, and the first failing chunk fails the whole query.
type ParallelResolver struct {
	resolver       UtxoResolver
	chunkSize      int
	maxConcurrency int
}

// A compile-time assertion to ensure ParallelResolver is a UtxoResolver.
var _ UtxoResolver = (*ParallelResolver)(nil)

// NewParallelResolver wraps resolver. Non-positive sizes select the
// defaults.
func NewParallelResolver(resolver UtxoResolver, chunkSize,
	maxConcurrency int) *ParallelResolver {

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	return &ParallelResolver{
		resolver:       resolver,
		chunkSize:      chunkSize,
		maxConcurrency: maxConcurrency,
	}
}

// ResolveUtxo resolves the scripts chunk by chunk.
func (p *ParallelResolver) ResolveUtxo(ctx context.Context,
	scripts [][]byte) ([]fn.Set[Utxo], error) {

	results := make([]fn.Set[Utxo], len(scripts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrency)

	for start := 0; start < len(scripts); start += p.chunkSize {
		end := min(start+p.chunkSize, len(scripts))

		g.Go(func() error {
			sets, err := p.resolver.ResolveUtxo(
				ctx, scripts[start:end],
			)
			if err != nil {
				return fmt.Errorf("chunk [%d, %d): %w", start,
					end, err)
			}

			if len(sets) != end-start {
				return fmt.Errorf("%w: chunk [%d, %d) got %d",
					ErrResolverMismatch, start, end,
					len(sets))
			}

			// Chunks never overlap, so no locking is needed.
			copy(results[start:end], sets)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debugf("Resolved %d scripts in chunks of %d", len(scripts),
		p.chunkSize)

	return results, nil
}
