package profiles

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEligible_ScenarioD_LargeSource(t *testing.T) {
	got := Eligible(1920, 1080)
	var labels []string
	for _, p := range got {
		labels = append(labels, p.Label)
	}
	require.Equal(t, []string{"1080p", "720p", "480p", "360p"}, labels)
}

func TestEligible_ScenarioD_SmallSource(t *testing.T) {
	got := Eligible(640, 360)
	require.Len(t, got, 1)
	require.Equal(t, "360p", got[0].Label)
}

func TestEligible_SmallerThanSmallestFallsBackToSmallest(t *testing.T) {
	got := Eligible(320, 180)
	require.Len(t, got, 1)
	require.Equal(t, "360p", got[0].Label)
}

func TestEligible_EveryResultHeightAtMostSource(t *testing.T) {
	got := Eligible(1920, 1080)
	for _, p := range got {
		require.LessOrEqual(t, p.Height, 1080)
	}
}

func TestEligible_OrderedHighestFirst(t *testing.T) {
	got := Eligible(3840, 2160)
	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i-1].Height, got[i].Height)
	}
}

func TestByLabel(t *testing.T) {
	p, ok := ByLabel("720p")
	require.True(t, ok)
	require.Equal(t, 1280, p.Width)
	require.Equal(t, 720, p.Height)

	_, ok = ByLabel("unknown")
	require.False(t, ok)
}
