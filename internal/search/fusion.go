package search

import (
	"sort"

	"github.com/clipmind/clipmind-server/internal/vectorindex"
)

// Candidate is a fused, not-yet-enriched hit keyed by clip id.
type Candidate struct {
	ClipID      string
	VideoID     string
	Score       float64
	VisualScore float64
	TextScore   float64
	StartTime   float64
	EndTime     float64
	Text        string
}

// Fuse merges visual and text matches into one ranked candidate list.
// Matches are keyed by the clip_id in their metadata, never by parsing
// vector ids. Scores combine additively: a clip found by both
// modalities scores visualWeight*visual + textWeight*text, which is why
// cross-modal agreement ranks above either modality alone. When one
// modality hits the same clip more than once (several transcript
// segments in one scene), only its best score counts.
//
// Ordering is deterministic: descending by fused score, ties broken by
// first appearance (visual list first, then text).
func Fuse(visual, text []vectorindex.Match, visualWeight, textWeight float64) []Candidate {
	byClip := make(map[string]int)
	var candidates []Candidate

	add := func(m vectorindex.Match, isVisual bool) {
		clipID := m.Metadata.ClipID
		if clipID == "" {
			return
		}
		idx, ok := byClip[clipID]
		if !ok {
			idx = len(candidates)
			byClip[clipID] = idx
			candidates = append(candidates, Candidate{
				ClipID:    clipID,
				VideoID:   m.Metadata.VideoID,
				StartTime: m.Metadata.StartTime,
				EndTime:   m.Metadata.EndTime,
			})
		}
		c := &candidates[idx]
		if isVisual {
			c.VisualScore = max(c.VisualScore, m.Score)
		} else {
			c.TextScore = max(c.TextScore, m.Score)
			if c.Text == "" {
				c.Text = m.Metadata.Text
			}
		}
	}

	for _, m := range visual {
		add(m, true)
	}
	for _, m := range text {
		add(m, false)
	}

	for i := range candidates {
		c := &candidates[i]
		c.Score = visualWeight*c.VisualScore + textWeight*c.TextScore
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}
