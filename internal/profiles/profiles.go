// Package profiles selects the quality ladder eligible for a given
// source resolution (spec §4.3). The bitrate table mirrors the shape of
// the media server's content analyzer (fixed per-label bitrate/buffer
// targets), generalized to the full six-rung ladder this spec requires.
package profiles

// Profile is an immutable quality rendition target (spec §3 QualityProfile).
type Profile struct {
	Label           string
	Width           int
	Height          int
	VideoBitrateBPS int
	MaxBitrateBPS   int
	BufferSizeBits  int
	AudioBitrateBPS int
}

// ladder is the fixed bitrate table, ordered highest-quality first
// (spec §4.3: "Bitrate table is fixed and part of the contract").
var ladder = []Profile{
	{Label: "2160p", Width: 3840, Height: 2160, VideoBitrateBPS: 16_000_000, MaxBitrateBPS: 17_000_000, BufferSizeBits: 32_000_000, AudioBitrateBPS: 192_000},
	{Label: "1440p", Width: 2560, Height: 1440, VideoBitrateBPS: 9_000_000, MaxBitrateBPS: 10_000_000, BufferSizeBits: 18_000_000, AudioBitrateBPS: 192_000},
	{Label: "1080p", Width: 1920, Height: 1080, VideoBitrateBPS: 5_000_000, MaxBitrateBPS: 5_500_000, BufferSizeBits: 10_000_000, AudioBitrateBPS: 160_000},
	{Label: "720p", Width: 1280, Height: 720, VideoBitrateBPS: 3_000_000, MaxBitrateBPS: 3_500_000, BufferSizeBits: 6_000_000, AudioBitrateBPS: 128_000},
	{Label: "480p", Width: 854, Height: 480, VideoBitrateBPS: 1_500_000, MaxBitrateBPS: 1_750_000, BufferSizeBits: 3_000_000, AudioBitrateBPS: 128_000},
	{Label: "360p", Width: 640, Height: 360, VideoBitrateBPS: 800_000, MaxBitrateBPS: 1_000_000, BufferSizeBits: 1_600_000, AudioBitrateBPS: 96_000},
}

// All returns the full fixed ladder, highest-quality first.
func All() []Profile {
	out := make([]Profile, len(ladder))
	copy(out, ladder)
	return out
}

// ByLabel returns the profile with the given label, or false if unknown.
func ByLabel(label string) (Profile, bool) {
	for _, p := range ladder {
		if p.Label == label {
			return p, true
		}
	}
	return Profile{}, false
}

// Eligible returns the ordered (highest-quality first) set of profiles
// whose target height does not exceed the source height. If none
// qualifies — the source is smaller than the smallest rung — the
// single smallest profile is returned instead (spec §4.3).
func Eligible(sourceWidth, sourceHeight int) []Profile {
	var eligible []Profile
	for _, p := range ladder {
		if p.Height <= sourceHeight {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		smallest := ladder[len(ladder)-1]
		return []Profile{smallest}
	}
	return eligible
}
