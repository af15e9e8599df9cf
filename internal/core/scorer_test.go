package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScorer(t *testing.T) {
	scorer := NewScorer(newWordEmbedder())
	ctx := context.Background()

	tests := []struct {
		name        string
		user        string
		correct     string
		threshold   float64
		wantCorrect bool
		wantSim     float64
	}{
		{"identical text", "Blue", "blue", QuizThreshold, true, 1},
		{"surrounding whitespace", "  blue  ", "Blue", QuizThreshold, true, 1},
		{"unrelated text", "red", "blue", QuizThreshold, false, 0},
		{"same date", "2000-08-24", "2000-08-24", QuizThreshold, true, 1},
		{"different date", "2000-08-25", "2000-08-24", QuizThreshold, false, 0},
		{"empty user answer", "", "blue", QuizThreshold, false, 0},
		{"empty correct answer", "blue", "   ", QuizThreshold, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := scorer.Score(ctx, tt.user, tt.correct, tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCorrect, res.IsCorrect)
			assert.InDelta(t, tt.wantSim, res.Similarity, 1e-6)
		})
	}
}

func TestScorerThresholds(t *testing.T) {
	scorer := NewScorer(newWordEmbedder())
	ctx := context.Background()

	// One shared word out of two on each side: cosine 0.5.
	res, err := scorer.Score(ctx, "blue sky", "blue sea", SubQuestionThreshold)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Similarity, 1e-6)
	assert.True(t, res.IsCorrect)

	res, err = scorer.Score(ctx, "blue sky", "blue sea", QuizThreshold)
	require.NoError(t, err)
	assert.False(t, res.IsCorrect)

	res, err = scorer.Score(ctx, "blue sky", "blue sea", MainQuestionThreshold)
	require.NoError(t, err)
	assert.False(t, res.IsCorrect)
}

func TestScorerDateIgnoresEmbedder(t *testing.T) {
	embedder := newWordEmbedder()
	embedder.err = errBoom
	scorer := NewScorer(embedder)

	res, err := scorer.Score(context.Background(), "2022-06-15", "2022-06-15", QuizThreshold)
	require.NoError(t, err)
	assert.True(t, res.IsCorrect)
}

func TestScorerEmbedderError(t *testing.T) {
	embedder := newWordEmbedder()
	embedder.err = errBoom
	scorer := NewScorer(embedder)

	_, err := scorer.Score(context.Background(), "blue", "blue", QuizThreshold)
	assert.ErrorIs(t, err, errBoom)
}

func TestSimilarityIsClamped(t *testing.T) {
	scorer := NewScorer(newWordEmbedder())
	sim, err := scorer.Similarity(context.Background(), "a b c", "d e f")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sim, 0.0)
	assert.LessOrEqual(t, sim, 1.0)
}
