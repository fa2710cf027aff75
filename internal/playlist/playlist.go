// Package playlist renders master and variant HLS playlists (spec
// §4.6) using github.com/mogiioin/hls-m3u8's writer types, rather than
// hand-formatting text, so the output stays protocol-compliant as the
// library evolves. It trades the spec's illustrative tag ordering
// (documented in DESIGN.md as a deliberate deviation) for a real,
// spec-valid HLS encoder.
package playlist

import (
	"fmt"

	"github.com/mogiioin/hls-m3u8/m3u8"

	"github.com/laurelhollow/streamhls/internal/planner"
	"github.com/laurelhollow/streamhls/internal/profiles"
)

const codecs = "avc1.4d401f,mp4a.40.2"

// RenderMaster builds the master playlist bytes for a media's eligible
// profiles, ordered highest-quality first (spec §4.6).
func RenderMaster(eligible []profiles.Profile) []byte {
	master := m3u8.NewMasterPlaylist()
	for _, p := range eligible {
		bandwidth := uint32(p.MaxBitrateBPS + p.AudioBitrateBPS)
		master.Append(p.Label+"/playlist.m3u8", nil, m3u8.VariantParams{
			Bandwidth:  bandwidth,
			Resolution: fmt.Sprintf("%dx%d", p.Width, p.Height),
			Codecs:     codecs,
		})
	}
	return master.Encode().Bytes()
}

// RenderVariant builds one quality's VOD variant playlist bytes from a
// media's segment plan (spec §4.6).
func RenderVariant(plan []planner.Spec, digits int) ([]byte, error) {
	media, err := m3u8.NewMediaPlaylist(0, uint(len(plan)))
	if err != nil {
		return nil, fmt.Errorf("constructing variant playlist: %w", err)
	}
	media.MediaType = m3u8.VOD

	for _, s := range plan {
		if err := media.Append(s.Filename(digits), s.Duration(), ""); err != nil {
			return nil, fmt.Errorf("appending segment %d: %w", s.Index, err)
		}
	}
	media.Close()
	return media.Encode().Bytes(), nil
}
