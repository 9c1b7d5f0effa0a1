package gtfs

import (
	"sort"
	"strings"

	"github.com/gonum/stat/combin"
	"github.com/gsmcwhirter/go-util/v7/errors"
)

var ErrUnknownRoute = errors.New("unknown route number")

// Direction is one direction of travel along a route: its resolved name
// and the merged stopping sequence.
type Direction struct {
	Name  string
	Stops []string
}

// Pattern holds a route's stopping pattern for both directions. Index 0
// carries trips with direction_id 1, index 1 those with direction_id 0.
type Pattern struct {
	Directions [2]Direction
}

// RouteStopPatterns resolves the stopping pattern of each requested route
// short name by merging the stop sequences of all of its trips, per
// direction. Direction names are the trip headsigns seen for that
// direction, joined with "/".
func (f *Feed) RouteStopPatterns(routeNums []string) (map[string]Pattern, error) {
	allRoutes, err := f.Routes()
	if err != nil {
		return nil, err
	}

	var routeIDs []string
	for _, num := range routeNums {
		route, ok := allRoutes[num]
		if !ok {
			return nil, errors.Wrap(ErrUnknownRoute, "route not in feed", "route", num)
		}
		routeIDs = append(routeIDs, route.IDs...)
	}

	tripsByRouteID, err := f.Trips(routeIDs)
	if err != nil {
		return nil, err
	}

	// split each route's trips by direction and collect headsigns
	type dirTrips struct {
		trips     []string
		headsigns map[string]bool
	}
	split := make(map[string][2]*dirTrips, len(routeNums))
	var fetch []string
	for _, num := range routeNums {
		dirs := [2]*dirTrips{
			{headsigns: map[string]bool{}},
			{headsigns: map[string]bool{}},
		}
		for _, id := range allRoutes[num].IDs {
			for _, trip := range tripsByRouteID[id] {
				idx := 1
				if trip.Direction {
					idx = 0
				}
				dirs[idx].trips = append(dirs[idx].trips, trip.ID)
				dirs[idx].headsigns[trip.Headsign] = true
				fetch = append(fetch, trip.ID)
			}
		}
		split[num] = dirs
	}

	sequences, err := f.TripStopSequences(fetch)
	if err != nil {
		return nil, err
	}

	patterns := make(map[string]Pattern, len(routeNums))
	for _, num := range routeNums {
		var pattern Pattern
		for idx, dir := range split[num] {
			tripSeqs := make([][]string, 0, len(dir.trips))
			for _, tripID := range dir.trips {
				tripSeqs = append(tripSeqs, sequences[tripID])
			}

			names := make([]string, 0, len(dir.headsigns))
			for name := range dir.headsigns {
				names = append(names, name)
			}
			sort.Strings(names)

			pattern.Directions[idx] = Direction{
				Name:  strings.Join(names, "/"),
				Stops: mergePatterns(tripSeqs),
			}
		}
		patterns[num] = pattern
	}

	return patterns, nil
}

// mergePatterns folds a set of per-trip stop sequences into one sequence.
// It greedily merges any sequence compatible with the running result; when
// stuck it looks for a mergeable pair among the leftovers to unblock the
// merge. Sequences that never become compatible are dropped.
func mergePatterns(patterns [][]string) []string {
	if len(patterns) == 0 {
		return nil
	}

	queue := make([][]string, len(patterns))
	copy(queue, patterns)

	result := queue[len(queue)-1]
	queue = queue[:len(queue)-1]

	for len(queue) > 0 {
		merged := false
		for i, candidate := range queue {
			if m, ok := mergeTwo(result, candidate); ok {
				result = m
				queue = append(queue[:i], queue[i+1:]...)
				merged = true
				break
			}
		}
		if merged {
			continue
		}

		if len(queue) >= 2 {
			var paired bool
			if queue, paired = mergeAnyPair(queue); paired {
				continue
			}
		}

		break
	}

	return result
}

// mergeAnyPair tries to merge some pair of leftover sequences, shrinking
// the queue by one on success.
func mergeAnyPair(queue [][]string) ([][]string, bool) {
	for _, combo := range combin.Combinations(len(queue), 2) {
		m, ok := mergeTwo(queue[combo[0]], queue[combo[1]])
		if !ok {
			continue
		}
		queue[combo[0]] = m
		queue[combo[1]] = queue[len(queue)-1]
		return queue[:len(queue)-1], true
	}
	return queue, false
}

// mergeTwo merges two stop sequences that share a stretch of stops. The
// overlap must start at the head of one of the sequences; within the
// overlap either side may skip stops the other serves (express and
// short-run variants), but conflicting orderings fail the merge.
func mergeTwo(a, b []string) ([]string, bool) {
	common := map[string]bool{}
	inB := map[string]int{}
	for i, s := range b {
		if _, ok := inB[s]; !ok {
			inB[s] = i
		}
	}
	inA := map[string]int{}
	for i, s := range a {
		if _, ok := inA[s]; !ok {
			inA[s] = i
		}
		if _, ok := inB[s]; ok {
			common[s] = true
		}
	}
	if len(common) == 0 {
		return nil, false
	}

	minA, maxA := -1, -1
	minB, maxB := -1, -1
	for s := range common {
		ia, ib := inA[s], inB[s]
		if minA == -1 || ia < minA {
			minA = ia
		}
		if ia > maxA {
			maxA = ia
		}
		if minB == -1 || ib < minB {
			minB = ib
		}
		if ib > maxB {
			maxB = ib
		}
	}

	if minA != 0 && minB != 0 {
		return nil, false
	}

	// arrange so that b's overlap starts at its head, i.e. b follows a
	if minB != 0 {
		a, b = b, a
		minA, minB = minB, minA
		maxA, maxB = maxB, maxA
	}

	overlapA := a[minA : maxA+1]
	overlapB := b[minB : maxB+1]

	overlap := make([]string, 0, len(overlapA))
	i, j := 0, 0
	for i < len(overlapA) && j < len(overlapB) {
		switch {
		case overlapA[i] == overlapB[j]:
			overlap = append(overlap, overlapA[i])
			i++
			j++
		case i < len(overlapA)-1 && overlapA[i+1] == overlapB[j]:
			// a serves an extra stop here, e.g. 28434,10443,28436 vs 28434,28436
			overlap = append(overlap, overlapA[i])
			i++
		case j < len(overlapB)-1 && overlapB[j+1] == overlapA[i]:
			overlap = append(overlap, overlapB[j])
			j++
		default:
			return nil, false
		}
	}

	merged := make([]string, 0, len(a)+len(b))
	merged = append(merged, a[:minA]...)
	merged = append(merged, overlap...)
	if maxB != len(b)-1 {
		merged = append(merged, b[maxB+1:]...)
	} else {
		// b is a subsequence of a
		merged = append(merged, a[maxA+1:]...)
	}

	return merged, true
}
