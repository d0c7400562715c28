// Package budget implements the Token Budgeter: given a per-need set of
// ranked matches and a token budget, it returns a truncated set that never
// exceeds the budget while preserving at least one match per need that had
// one, per the spec's two-phase reservation-then-fill algorithm.
package budget

import (
	"encoding/json"
	"sort"

	"github.com/docker/contex/pkg/matcher"
)

// estimateTokens approximates a match's token cost from its serialized
// content, per the spec's documented tokenizer-unavailable fallback
// (len(serialized)/4). No tokenizer library is wired in: this router never
// needs exact token accounting, only a stable, monotone proxy for
// truncation decisions, so the stdlib-only estimate is the whole
// implementation (see DESIGN.md).
func estimateTokens(m matcher.Match) int {
	buf, err := json.Marshal(m.Content)
	if err != nil {
		buf = []byte(m.Description)
	}
	n := len(buf) / 4
	if n < 1 {
		n = 1
	}
	return n
}

type reservation struct {
	needIndex int
	need      string
	pos       int
	match     matcher.Match
	tokens    int
}

// Truncate returns a copy of matches whose total estimated token cost is
// at most budget, never dropping every candidate for a need that had at
// least one above-threshold candidate unless that single candidate alone
// exceeds the budget (I5). budget <= 0 means unbounded: the input is
// returned unchanged.
func Truncate(matches map[string][]matcher.Match, needs []string, budget int) map[string][]matcher.Match {
	if budget <= 0 {
		return matches
	}

	total := 0
	for _, need := range needs {
		for _, m := range matches[need] {
			total += estimateTokens(m)
		}
	}
	if total <= budget {
		return matches
	}

	out := make(map[string][]matcher.Match, len(needs))
	for _, need := range needs {
		out[need] = nil
	}

	type slot struct {
		needIndex int
		pos       int
	}

	used := 0
	reserved := make(map[slot]bool)

	// Phase A: reserve the highest-similarity candidate per need, in need
	// order, admitting it only if it fits in the remaining budget.
	for i, need := range needs {
		cands := matches[need]
		if len(cands) == 0 {
			continue
		}
		top := cands[0]
		tok := estimateTokens(top)
		if used+tok > budget {
			continue
		}
		used += tok
		out[need] = append(out[need], top)
		reserved[slot{i, 0}] = true
	}

	// Phase B: gather every remaining candidate, sort by descending
	// similarity with (need_index, original_position) tie-break, and admit
	// while it still fits.
	var rest []reservation
	for i, need := range needs {
		cands := matches[need]
		for pos, m := range cands {
			if reserved[slot{i, pos}] {
				continue
			}
			rest = append(rest, reservation{needIndex: i, need: need, pos: pos, match: m, tokens: estimateTokens(m)})
		}
	}
	sort.SliceStable(rest, func(a, b int) bool {
		if rest[a].match.Similarity != rest[b].match.Similarity {
			return rest[a].match.Similarity > rest[b].match.Similarity
		}
		if rest[a].needIndex != rest[b].needIndex {
			return rest[a].needIndex < rest[b].needIndex
		}
		return rest[a].pos < rest[b].pos
	})

	for _, r := range rest {
		if used+r.tokens > budget {
			continue
		}
		used += r.tokens
		out[r.need] = append(out[r.need], r.match)
	}

	// Re-sort each need's admitted matches by descending similarity so the
	// output preserves the contract's "sorted within each need" invariant
	// even though phase A/B admitted them out of order.
	for _, need := range needs {
		list := out[need]
		sort.SliceStable(list, func(a, b int) bool {
			return list[a].Similarity > list[b].Similarity
		})
		out[need] = list
	}

	return out
}
