package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// maxPages stops a paginated fetch whose source never reports the end.
const maxPages = 1000

// PageFunc fetches the page at cursor and returns the cursor of the next page,
// or "" when there is none. The first call receives "".
type PageFunc[T any] func(ctx context.Context, cursor string) ([]T, string, error)

// Paginate fetches pages sequentially until the source reports no more, then
// deduplicates by key. A record seen twice keeps its first position and the
// last value. Records fetched before a failure are returned with the error.
func Paginate[T any](ctx context.Context, fetch PageFunc[T], key func(T) string) ([]T, error) {
	var (
		out    []T
		index  = map[string]int{}
		cursor string
		seen   = map[string]bool{}
	)
	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		items, next, err := fetch(ctx, cursor)
		if err != nil {
			return out, fmt.Errorf("page %d: %w", page+1, err)
		}
		for _, it := range items {
			k := key(it)
			if i, ok := index[k]; ok {
				out[i] = it
				continue
			}
			index[k] = len(out)
			out = append(out, it)
		}
		if next == "" {
			return out, nil
		}
		if seen[next] {
			return out, fmt.Errorf("pagination cursor %q repeated", next)
		}
		seen[next] = true
		cursor = next
	}
	return out, fmt.Errorf("pagination exceeded %d pages", maxPages)
}

// BatchOptions bounds a BatchFetch.
type BatchOptions struct {
	BatchSize   int
	Concurrency int
	// Delay is slept between batches.
	Delay   time.Duration
	Limiter *rate.Limiter
}

// BatchResult is the settled outcome for one id.
type BatchResult[K comparable, V any] struct {
	ID    K
	Value V
	Err   error
}

// BatchFetch calls fetch for every id in batches, at most Concurrency at a
// time and rate limited by Limiter. A failure never aborts other fetches:
// every id gets a result, in input order. Ids not reached before ctx is
// cancelled carry ctx's error.
func BatchFetch[K comparable, V any](ctx context.Context, ids []K, opts BatchOptions, fetch func(context.Context, K) (V, error)) []BatchResult[K, V] {
	if opts.BatchSize <= 0 {
		opts.BatchSize = len(ids)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	results := make([]BatchResult[K, V], len(ids))
	for i, id := range ids {
		results[i].ID = id
	}

	for start := 0; start < len(ids); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(ids))
		if start > 0 && opts.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.Delay):
			}
		}
		if err := ctx.Err(); err != nil {
			for i := start; i < len(ids); i++ {
				results[i].Err = err
			}
			return results
		}

		var g errgroup.Group
		g.SetLimit(opts.Concurrency)
		for i := start; i < end; i++ {
			g.Go(func() error {
				if opts.Limiter != nil {
					if err := opts.Limiter.Wait(ctx); err != nil {
						results[i].Err = err
						return nil
					}
				}
				results[i].Value, results[i].Err = fetch(ctx, ids[i])
				return nil
			})
		}
		_ = g.Wait()
	}
	return results
}

// chunks splits xs into consecutive slices of at most n.
func chunks[T any](xs []T, n int) [][]T {
	if n <= 0 {
		n = len(xs)
	}
	var out [][]T
	for len(xs) > 0 {
		k := min(n, len(xs))
		out = append(out, xs[:k:k])
		xs = xs[k:]
	}
	return out
}
