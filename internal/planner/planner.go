// Package planner computes the segment plan: the deterministic mapping
// from segment index to keyframe-aligned (start_pts, end_pts) that ties
// playlists, cache paths, and encoder invocations together (spec §4.2).
// It is a pure function over a keyframe list, grounded on the media
// server's HLS segment-boundary logic but with the tiny-tail absorption
// and continuity assertions spelled out explicitly here.
package planner

import (
	"fmt"
	"math"
	"sort"

	"github.com/laurelhollow/streamhls/internal/kinderr"
	"github.com/laurelhollow/streamhls/internal/probe"
)

const minSegmentDuration = 0.5

// Spec is one entry of a segment plan.
type Spec struct {
	Index           int
	StartPTS        float64
	EndPTS          float64
	StartKeyframeIdx int
	EndKeyframeIdx   int
}

// Duration returns EndPTS - StartPTS.
func (s Spec) Duration() float64 { return s.EndPTS - s.StartPTS }

// Filename renders the segment's on-disk name, zero-padded to digits.
func (s Spec) Filename(digits int) string {
	return fmt.Sprintf("segment_%0*d.ts", digits, s.Index)
}

// Plan builds the segment plan for a media item given its ordered
// keyframes, the configured target segment duration, and the total
// container duration (spec §4.2 algorithm).
//
// keyframes must be sorted ascending by PTS (ProbeTool's contract);
// on a tie, the lowest index wins, matching §4.2's tie-break rule.
func Plan(keyframes []probe.Keyframe, targetSegmentSeconds, totalDuration float64) ([]Spec, error) {
	if len(keyframes) == 0 {
		return nil, kinderr.New(kinderr.NoKeyframes, "cannot plan segments with no keyframes")
	}
	if totalDuration <= 0 {
		return nil, kinderr.New(kinderr.PlanInvariantViolation, "total_duration must be positive")
	}

	kfs := sortedKeyframes(keyframes)

	var plan []Spec
	cursor := 0.0
	index := 0

	for cursor < totalDuration {
		startIdx, ok := earliestAtOrAfter(kfs, cursor)
		if !ok {
			break
		}
		startKf := kfs[startIdx]

		var endPTS float64
		endIdx, ok := earliestAtOrAfter(kfs, cursor+targetSegmentSeconds)
		if !ok || endIdx == startIdx {
			endPTS = totalDuration
		} else {
			endPTS = kfs[endIdx].PTS
		}

		duration := endPTS - startKf.PTS
		if duration < minSegmentDuration {
			// Absorb a degenerate tail by merging it backward into the
			// previously emitted segment rather than emitting a
			// sub-minimum segment of its own (spec §4.2, §8 "the final
			// segment is merged backward"). If there is no previous
			// segment to merge into, there is nothing to absorb into, so
			// fall through and emit it as-is.
			if len(plan) > 0 {
				plan[len(plan)-1].EndPTS = endPTS
				cursor = endPTS
				continue
			}
		}

		spec := Spec{
			Index:            index,
			StartPTS:         startKf.PTS,
			EndPTS:           endPTS,
			StartKeyframeIdx: startKf.Index,
			EndKeyframeIdx:   endIdx,
		}
		plan = append(plan, spec)
		index++
		cursor = endPTS
	}

	if err := assertInvariants(plan, kfs, totalDuration); err != nil {
		return nil, err
	}
	return plan, nil
}

// assertInvariants re-verifies the §3 contract before returning; a
// violation here means the planning loop above has a bug, not that the
// input was bad (bad input is rejected earlier as NoKeyframes).
func assertInvariants(plan []Spec, kfs []probe.Keyframe, totalDuration float64) error {
	if len(plan) == 0 {
		return kinderr.New(kinderr.PlanInvariantViolation, "segment plan is empty")
	}
	if math.Abs(plan[0].StartPTS-kfs[0].PTS) > 1e-9 {
		return kinderr.New(kinderr.PlanInvariantViolation, "first segment does not start on the first keyframe")
	}
	for i := 0; i < len(plan); i++ {
		if plan[i].Duration() < minSegmentDuration-1e-9 {
			return kinderr.New(kinderr.PlanInvariantViolation, fmt.Sprintf("segment %d duration %.3f below minimum", i, plan[i].Duration()))
		}
		if i+1 < len(plan) {
			gap := plan[i+1].StartPTS - plan[i].EndPTS
			if math.Abs(gap) > 0.1 {
				return kinderr.New(kinderr.PlanInvariantViolation, fmt.Sprintf("gap of %.3fs between segment %d and %d", gap, i, i+1))
			}
			if gap < -0.01 {
				return kinderr.New(kinderr.PlanInvariantViolation, fmt.Sprintf("overlap between segment %d and %d", i, i+1))
			}
		}
	}
	last := plan[len(plan)-1]
	if math.Abs(last.EndPTS-totalDuration) > 1e-6 {
		return kinderr.New(kinderr.PlanInvariantViolation, "last segment does not reach total_duration")
	}
	return nil
}

// sortedKeyframes returns kfs sorted ascending by PTS, breaking ties by
// the lowest original Index (spec §4.2 tie-break rule). The input is
// expected already sorted; this guards against a misbehaving ProbeTool.
func sortedKeyframes(kfs []probe.Keyframe) []probe.Keyframe {
	out := make([]probe.Keyframe, len(kfs))
	copy(out, kfs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PTS != out[j].PTS {
			return out[i].PTS < out[j].PTS
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// earliestAtOrAfter returns the slice index of the earliest keyframe
// with PTS >= t, or (0, false) if none exists.
func earliestAtOrAfter(kfs []probe.Keyframe, t float64) (int, bool) {
	i := sort.Search(len(kfs), func(i int) bool { return kfs[i].PTS >= t-1e-9 })
	if i >= len(kfs) {
		return 0, false
	}
	return i, true
}

// FindByIndex returns the segment at the given index, or false if out
// of range (spec §4.2 auxiliary query).
func FindByIndex(plan []Spec, index int) (Spec, bool) {
	if index < 0 || index >= len(plan) {
		return Spec{}, false
	}
	return plan[index], true
}

// FindAtTime returns the segment s such that s.StartPTS <= t < s.EndPTS
// (spec §4.2 auxiliary query), or false if t is out of range.
func FindAtTime(plan []Spec, t float64) (Spec, bool) {
	i := sort.Search(len(plan), func(i int) bool { return plan[i].EndPTS > t })
	if i >= len(plan) || plan[i].StartPTS > t {
		return Spec{}, false
	}
	return plan[i], true
}

// GenerateHLSEntries renders one #EXTINF line pair per segment (spec
// §4.2 auxiliary query), in playlist order.
func GenerateHLSEntries(plan []Spec, digits int) []string {
	entries := make([]string, 0, len(plan)*2)
	for _, s := range plan {
		entries = append(entries, fmt.Sprintf("#EXTINF:%.3f,", s.Duration()))
		entries = append(entries, s.Filename(digits))
	}
	return entries
}
