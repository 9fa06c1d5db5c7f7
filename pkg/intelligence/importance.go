// Package intelligence provides the scoring heuristics used by the memory
// engine: importance evaluation at save time and relevance computation at
// search time.
package intelligence

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Scorer evaluates the importance of memory content using deterministic
// heuristics. Scores drive cache admission, eviction order, and search
// ranking, so the same input always produces the same score.
//
// The score starts from a neutral base and accumulates boosts:
//   - content length (substantial content tends to matter more)
//   - memory kind (preferences and goals outlive episodic chatter)
//   - signal keywords in the content, counted at most once
//
// The result is clamped to [0.0, 1.0].
//
// Example usage:
//
//	scorer := NewScorer()
//	score := scorer.Score("我喜欢在早晨喝咖啡", "preference")
//	// score == 0.5 + 0.3 + 0.1 == 0.9
type Scorer struct {
	kindBoosts map[string]float64
	keywords   []string
}

const (
	baseImportance = 0.5

	// longContentRunes is the rune count above which content earns the
	// length boost.
	longContentRunes = 100

	lengthBoost  = 0.1
	keywordBoost = 0.1
)

// NewScorer creates a scorer with the default kind boosts and keyword list.
func NewScorer() *Scorer {
	return &Scorer{
		kindBoosts: map[string]float64{
			"preference":        0.3,
			"goal":              0.4,
			"relationship":      0.2,
			"error_pattern":     0.35,
			"security_critical": 0.4,
		},
		keywords: []string{
			// Chinese signal words
			"重要", "关键", "目标", "计划", "偏好", "喜欢", "不喜欢",
			// English equivalents
			"important", "critical", "goal", "plan", "preference",
			"like", "dislike", "remember", "always", "never",
		},
	}
}

// Score evaluates the importance of content for the given memory kind.
// Returns a score in [0.0, 1.0].
func (s *Scorer) Score(content, kind string) float64 {
	score := baseImportance

	if utf8.RuneCountInString(content) > longContentRunes {
		score += lengthBoost
	}

	if boost, ok := s.kindBoosts[kind]; ok {
		score += boost
	}

	contentLower := strings.ToLower(content)
	for _, keyword := range s.keywords {
		if strings.Contains(contentLower, keyword) {
			score += keywordBoost
			break
		}
	}

	return clamp(score, 0.0, 1.0)
}

// KindBoost returns the boost applied for the given kind, or zero.
func (s *Scorer) KindBoost(kind string) float64 {
	return s.kindBoosts[kind]
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
