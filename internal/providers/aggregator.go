package providers

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/JustinTDCT/MetaFix/internal/models"
)

// Aggregator fans a request out to every configured provider and merges the
// results into one deterministically ordered list.
type Aggregator struct {
	providers []Provider
	priority  []string
}

func NewAggregator(providers []Provider, priority []string) *Aggregator {
	return &Aggregator{providers: providers, priority: priority}
}

// Fetch queries all providers concurrently. A provider error is logged and
// treated as an empty result so one flaky source never sinks the rest.
func (a *Aggregator) Fetch(ctx context.Context, req Request) []Result {
	results := make([][]Result, len(a.providers))

	var wg sync.WaitGroup
	for i, provider := range a.providers {
		wg.Add(1)
		go func(i int, provider Provider) {
			defer wg.Done()
			res, err := provider.Fetch(ctx, req)
			if err != nil {
				log.Printf("[providers] %s: %v", provider.Name(), err)
				return
			}
			results[i] = res
		}(i, provider)
	}
	wg.Wait()

	var merged []Result
	for _, res := range results {
		merged = append(merged, res...)
	}
	a.sortResults(merged)
	return merged
}

// FetchType is Fetch filtered to a single artwork kind.
func (a *Aggregator) FetchType(ctx context.Context, req Request, artworkType models.ArtworkType) []Result {
	all := a.Fetch(ctx, req)
	filtered := all[:0]
	for _, r := range all {
		if r.ArtworkType == artworkType {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// sortResults orders by configured provider priority, then score descending,
// then source and URL so equal candidates always land in the same order.
func (a *Aggregator) sortResults(results []Result) {
	rank := make(map[string]int, len(a.priority))
	for i, name := range a.priority {
		rank[name] = i
	}
	priorityOf := func(source models.ProviderName) int {
		if idx, ok := rank[string(source)]; ok {
			return idx
		}
		return 999
	}

	sort.SliceStable(results, func(i, j int) bool {
		pi, pj := priorityOf(results[i].Source), priorityOf(results[j].Source)
		if pi != pj {
			return pi < pj
		}
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Source != results[j].Source {
			return results[i].Source < results[j].Source
		}
		return results[i].ImageURL < results[j].ImageURL
	})
}
