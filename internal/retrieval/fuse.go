package retrieval

import "sort"

// fuseRRF merges ranked candidate lists with Reciprocal Rank Fusion: each
// item contributes 1/(k+rank) per list it appears in, with k=60. Ties break
// by first-seen order across the input lists, which makes the output
// deterministic for identical inputs.
func fuseRRF(lists ...[]SearchResult) []SearchResult {
	type agg struct {
		item      SearchResult
		score     float64
		firstSeen int
	}
	m := map[string]*agg{}
	order := 0
	for _, list := range lists {
		for rank, item := range list {
			x, ok := m[item.SegmentID]
			if !ok {
				x = &agg{item: item, firstSeen: order}
				m[item.SegmentID] = x
				order++
			}
			x.score += 1.0 / float64(rrfK+rank+1)
		}
	}

	items := make([]*agg, 0, len(m))
	for _, v := range m {
		items = append(items, v)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].firstSeen < items[j].firstSeen
	})

	out := make([]SearchResult, 0, len(items))
	for _, x := range items {
		r := x.item
		r.Score = x.score
		out = append(out, r)
	}
	return out
}

// sortStableByScore orders results by descending score, preserving the prior
// order between equal scores.
func sortStableByScore(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
