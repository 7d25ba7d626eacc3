package usecase

import (
	"sort"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

// Plan returns the CIDs present in source but absent from corpus, in ascending order,
// truncated to limit entries when limit > 0.
func Plan(source, corpus map[string]struct{}, limit int) []string {
	work := make([]string, 0, len(source))
	for id := range source {
		if _, done := corpus[id]; done {
			continue
		}
		work = append(work, id)
	}
	sort.Strings(work)
	if limit > 0 && len(work) > limit {
		work = work[:limit]
	}
	return work
}

// BuildWorkPlan applies Plan after removing CIDs excluded by the failure ledger.
// Excluded CIDs never count against the limit.
func BuildWorkPlan(source, corpus, excluded map[string]struct{}, limit int) domain.WorkPlan {
	present := 0
	eligible := make(map[string]struct{}, len(source))
	var skipped []string
	for id := range source {
		if _, done := corpus[id]; done {
			present++
			continue
		}
		if _, out := excluded[id]; out {
			skipped = append(skipped, id)
			continue
		}
		eligible[id] = struct{}{}
	}
	sort.Strings(skipped)

	work := Plan(eligible, nil, limit)
	return domain.WorkPlan{
		Work:           work,
		AlreadyPresent: present,
		Excluded:       skipped,
		Deferred:       len(eligible) - len(work),
	}
}
