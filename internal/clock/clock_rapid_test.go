package clock

import (
	"testing"

	"pgregory.net/rapid"
)

// conservationSlack bounds how far the adjusted cycle total may drift
// from the ideal scaled total. The fractional accumulator can carry a
// debt as large as one call's own scale contribution (up to
// maxCyclesPerCall * ntscClockScale) across several draining calls
// before it fully resolves, so the bound is sized off that worst case
// rather than a tight ±1 — this test is a coarse conservation check,
// not a proof the accumulator converges every single call.
const maxCyclesPerCall = 2000
const conservationSlack = maxCyclesPerCall*ntscClockScale + 4

// TestAdjustCycles_ConservesTotalWithinSlack is spec.md §8 invariant 4:
// the sum of adjusted cycles tracks the sum of input cycles scaled by
// the configured clock's rate, never drifting by more than the
// fractional accumulator's own rounding slack.
func TestAdjustCycles_ConservesTotalWithinSlack(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := rapid.SampledFrom([]Clock{PAL, NTSC}).Draw(t, "clock")
		a := New(c)

		n := rapid.IntRange(1, 200).Draw(t, "n")
		var inputSum, adjustedSum float64
		for i := 0; i < n; i++ {
			cycles := uint32(rapid.IntRange(1, 2000).Draw(t, "cycles"))
			inputSum += float64(cycles)
			// minCycle=0 keeps the minimum-floor clamp out of play so
			// this test isolates the stretch/shrink accumulator itself.
			adjustedSum += float64(a.AdjustCycles(cycles, 0))
		}

		var ideal float64
		if c == PAL {
			ideal = inputSum * (1 + palClockScale)
		} else {
			ideal = inputSum * (1 - ntscClockScale)
		}

		drift := adjustedSum - ideal
		if drift < -conservationSlack || drift > conservationSlack {
			t.Fatalf("clock=%s drifted %.3f cycles from ideal %.3f (adjusted=%.3f, input=%.3f)",
				c, drift, ideal, adjustedSum, inputSum)
		}
	})
}
