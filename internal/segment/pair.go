package segment

import "github.com/forPelevin/lipseg/internal/types"

// Pair zips video and audio segments by position. Both inputs must already
// be ordered by index. When the counts differ the surplus of the longer side
// is dropped and reported in the warning; the warning is nil otherwise.
func Pair(video, audio []types.Segment) ([]types.SegmentPair, *types.PairingWarning) {
	n := min(len(video), len(audio))
	pairs := make([]types.SegmentPair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, types.SegmentPair{Index: i, Video: video[i], Audio: audio[i]})
	}

	if len(video) == len(audio) {
		return pairs, nil
	}

	w := &types.PairingWarning{VideoCount: len(video), AudioCount: len(audio)}
	longer := video
	w.Side = types.KindVideo
	if len(audio) > len(video) {
		longer = audio
		w.Side = types.KindAudio
	}
	for _, s := range longer[n:] {
		w.Dropped = append(w.Dropped, s.Index)
	}
	return pairs, w
}
