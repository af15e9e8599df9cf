package core

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorylane/companion/internal/store"
)

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func TestNextQuestionPreferences(t *testing.T) {
	profiles := &fakeProfiles{
		user: &store.User{ID: 1, FullName: "Vidusha"},
		pref: &store.UserPreference{UserID: 1, FavoriteColor: "Blue"},
	}
	selector := NewQuizSelector(profiles, testRand())
	ctx := context.Background()

	q, err := selector.NextQuestion(ctx, 1, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "What is your favorite color?", q.Text)
	assert.Equal(t, "Blue", q.Answer)
	assert.Empty(t, q.ImageBase64)

	_, err = selector.NextQuestion(ctx, 1, 1, []string{q.Text})
	assert.ErrorIs(t, err, ErrNoQuestion)
}

func TestNextQuestionNoPreferences(t *testing.T) {
	selector := NewQuizSelector(&fakeProfiles{user: &store.User{ID: 1}}, testRand())

	_, err := selector.NextQuestion(context.Background(), 1, 1, nil)
	assert.ErrorIs(t, err, ErrNoQuestion)
}

func TestNextQuestionLifeEventsExhaust(t *testing.T) {
	profiles := &fakeProfiles{events: []store.LifeEvent{{
		UserID:      1,
		EventTitle:  "Graduation Day",
		EventDate:   "2022-06-15",
		Description: "I graduated",
		Emotions:    []string{"proud", "happy"},
	}}}
	selector := NewQuizSelector(profiles, testRand())
	ctx := context.Background()

	var asked []string
	for {
		q, err := selector.NextQuestion(ctx, 1, 2, asked)
		if err != nil {
			assert.ErrorIs(t, err, ErrNoQuestion)
			break
		}
		assert.NotContains(t, asked, q.Text)
		asked = append(asked, q.Text)
		require.LessOrEqual(t, len(asked), 9)
	}
	assert.Len(t, asked, 9)
}

func TestNextQuestionOnlyUsesOwnProfile(t *testing.T) {
	profiles := &fakeProfiles{events: []store.LifeEvent{
		{UserID: 1, EventTitle: "Graduation Day", EventDate: "2022-06-15", Description: "I graduated"},
		{UserID: 2, EventTitle: "Wedding", EventDate: "2010-01-01", Description: "Someone else's wedding"},
	}}
	selector := NewQuizSelector(profiles, testRand())
	ctx := context.Background()

	for range 50 {
		q, err := selector.NextQuestion(ctx, 1, 3, nil)
		require.NoError(t, err)
		assert.NotContains(t, q.Text, "Wedding")
		assert.NotContains(t, q.Text, "2010-01-01")
	}
}

func TestNextQuestionImagesCarryPhoto(t *testing.T) {
	profiles := &fakeProfiles{images: []store.ImageWithContext{{
		UserID:       1,
		ImageBase64:  "aW1hZ2U=",
		ContextWho:   []string{"Amal"},
		ContextWhere: "Kandy",
		EventTitle:   "New Year Party",
		Description:  "A party",
	}}}
	selector := NewQuizSelector(profiles, testRand())

	for _, stage := range []int{4, 5} {
		q, err := selector.NextQuestion(context.Background(), 1, stage, nil)
		require.NoError(t, err)
		assert.Equal(t, "aW1hZ2U=", q.ImageBase64)
		assert.NotEmpty(t, q.Answer)
	}
}

func TestNextQuestionInvalidStage(t *testing.T) {
	selector := NewQuizSelector(&fakeProfiles{}, testRand())
	for _, stage := range []int{0, 6} {
		_, err := selector.NextQuestion(context.Background(), 1, stage, nil)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoQuestion)
	}
}

func TestHint(t *testing.T) {
	assert.Equal(t, "The answer starts with 'P'.", Hint("Paris"))
	assert.Equal(t, "The answer starts with 'ශ'.", Hint("ශ්‍රී ලංකා"))
	assert.Equal(t, "Try again!", Hint(""))
}

func TestLifeEventTemplatesSkipEmptyAnswers(t *testing.T) {
	questions := lifeEventTemplates(store.LifeEvent{EventTitle: "Trip"})
	for _, q := range questions {
		assert.NotEmpty(t, q.Answer, q.Text)
	}
	// Only the title and one-word summary questions have answers.
	assert.Len(t, questions, 2)
}
