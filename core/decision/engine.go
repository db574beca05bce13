package decision

import "fmt"

// TallyResult aggregates one track of a ledger: per-category counts plus the
// net penalty (plus votes minus minus votes). It is a function of the entry
// multiset only, never of map iteration order.
type TallyResult struct {
	Counts     [categoryCount]int `json:"counts"`
	NetPenalty int                `json:"netPenalty"`
}

func (t TallyResult) Count(c Category) int {
	level := c.Level()
	if level < 0 {
		return 0
	}
	return t.Counts[level]
}

// Tally counts the category and plus/minus votes on one track.
func Tally(votes map[string]VoteEntry, track Track) TallyResult {
	var result TallyResult
	for _, entry := range votes {
		if c := entry.category(track); c != nil && c.Valid() {
			result.Counts[c.Level()]++
		}
		if entry.plus(track) {
			result.NetPenalty++
		}
		if entry.minus(track) {
			result.NetPenalty--
		}
	}
	return result
}

// WinningCategory returns the category with the highest count on the track.
// Ties go to the lowest category index, the lenient reading: escalating needs
// a strict majority of category votes. ok is false when no category received
// any vote; the caller then defaults the decision (not the tally) to CAT0.
func WinningCategory(votes map[string]VoteEntry, track Track) (winner Category, ok bool) {
	tally := Tally(votes, track)
	best := -1
	for level := 0; level < categoryCount; level++ {
		if tally.Counts[level] > 0 && (best < 0 || tally.Counts[level] > tally.Counts[best]) {
			best = level
		}
	}
	if best < 0 {
		return Cat0, false
	}
	return CategoryFromLevel(best), true
}

// ShiftedSanction applies the net penalty to the decided category and clamps
// the result to the valid range, so steward plus/minus votes escalate or
// de-escalate the base decision before the sanction table is applied.
func ShiftedSanction(decided Category, netPenalty int) Category {
	return CategoryFromLevel(decided.Level() + netPenalty)
}

type sanction struct {
	seconds       int
	penaltyPoints int
}

var sanctionTable = map[Category]sanction{
	Cat1: {seconds: 5, penaltyPoints: 1},
	Cat2: {seconds: 10, penaltyPoints: 2},
	Cat3: {seconds: 15, penaltyPoints: 3},
	Cat4: {seconds: 20, penaltyPoints: 4},
	Cat5: {seconds: 30, penaltyPoints: 5},
}

// SanctionText renders the outcome line for a shifted sanction. CAT0 has no
// fixed penalty; its text comes from configuration.
func SanctionText(c Category, cat0Text string) string {
	if c == Cat0 || !c.Valid() {
		return cat0Text
	}
	s := sanctionTable[c]
	unit := "strafpunten"
	if s.penaltyPoints == 1 {
		unit = "strafpunt"
	}
	return fmt.Sprintf("%s: %d seconden tijdstraf + %d %s", c, s.seconds, s.penaltyPoints, unit)
}
