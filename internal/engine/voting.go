package engine

import "sort"

// Tally resolves the active votes of one day. The strict plurality target is
// eliminated; a tie follows policy, and abstentions never eliminate anyone.
func Tally(votes []Vote, policy TiePolicy, seed int64, day int) VoteResultPayload {
	res := VoteResultPayload{Day: day, Distribution: make(map[string]int), Policy: policy}
	for _, v := range votes {
		if !v.Active() {
			continue
		}
		if v.TargetID == Abstain || v.TargetID == "" {
			res.Abstentions++
			continue
		}
		res.Distribution[v.TargetID]++
	}

	top := 0
	var leaders []string
	for target, n := range res.Distribution {
		switch {
		case n > top:
			top = n
			leaders = []string{target}
		case n == top:
			leaders = append(leaders, target)
		}
	}
	sort.Strings(leaders)

	switch {
	case len(leaders) == 1:
		res.Eliminated = leaders[0]
	case len(leaders) > 1:
		res.Tie = true
		res.Tied = leaders
		if policy == TieBreakSeeded {
			res.Eliminated = seededPick(seed, purposeVoteTie, day, leaders)
		}
	}
	return res
}
