package engine

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
)

// Purposes keep the random streams of independent decisions apart.
const (
	purposeDeal      = "deal"
	purposeMafiaKill = "mafia-kill"
	purposeVoteTie   = "vote-tie"
	purposeDefault   = "default"
)

// seededRand derives a generator from the game seed, a purpose and a round, so
// every pseudo-random choice can be reproduced from the log alone.
func seededRand(seed int64, purpose string, round int) *rand.Rand {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%d", seed, purpose, round)
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// seededPick returns one of candidates. The candidates are sorted first so the
// choice does not depend on the order they were collected in.
func seededPick(seed int64, purpose string, round int, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	return sorted[seededRand(seed, purpose, round).Intn(len(sorted))]
}
