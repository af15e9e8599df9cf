package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/memorylane/companion/internal/utils"
)

// Similarity thresholds. They belong to the call site, not to the Scorer.
const (
	QuizThreshold         = 0.70 // session quiz answers
	MainQuestionThreshold = 0.80 // /post_quiz main questions
	SubQuestionThreshold  = 0.50 // /post_quiz sub-question relevance
)

const dateLayout = "2006-01-02"

type ScoreResult struct {
	IsCorrect  bool
	Similarity float64
}

// Scorer compares free-text answers.
type Scorer struct {
	embedder Embedder
}

func NewScorer(embedder Embedder) *Scorer {
	return &Scorer{embedder: embedder}
}

// Score normalises both answers. Two YYYY-MM-DD dates are compared exactly;
// anything else is compared by embedding similarity against threshold.
// Empty input on either side is never correct.
func (s *Scorer) Score(ctx context.Context, userAnswer, correctAnswer string, threshold float64) (ScoreResult, error) {
	user := normalizeAnswer(userAnswer)
	correct := normalizeAnswer(correctAnswer)
	if user == "" || correct == "" {
		return ScoreResult{}, nil
	}

	if ud, cd, ok := parseDates(user, correct); ok {
		if ud.Equal(cd) {
			return ScoreResult{IsCorrect: true, Similarity: 1}, nil
		}
		return ScoreResult{IsCorrect: false, Similarity: 0}, nil
	}

	sim, err := s.Similarity(ctx, user, correct)
	if err != nil {
		return ScoreResult{}, err
	}
	log.Debugf("Similarity of %q and %q: %.2f", user, correct, sim)
	return ScoreResult{IsCorrect: sim >= threshold, Similarity: sim}, nil
}

// Similarity embeds both texts and returns their cosine similarity in [0, 1].
func (s *Scorer) Similarity(ctx context.Context, a, b string) (float64, error) {
	va, err := s.embedder.Embed(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("failed to embed answer: %w", err)
	}
	vb, err := s.embedder.Embed(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("failed to embed reference: %w", err)
	}
	sim, err := utils.CosineSimilarity(va, vb)
	if err != nil {
		return 0, fmt.Errorf("failed to compare embeddings: %w", err)
	}
	return utils.Clamp01(sim), nil
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func parseDates(a, b string) (time.Time, time.Time, bool) {
	da, err := time.Parse(dateLayout, a)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	db, err := time.Parse(dateLayout, b)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return da, db, true
}
