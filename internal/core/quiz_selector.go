package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/memorylane/companion/internal/store"
)

// ErrNoQuestion means the user has no unasked question for a quiz stage.
var ErrNoQuestion = errors.New("no question available")

// MaxQuizStage is the last stage of a session quiz.
const MaxQuizStage = 5

type Question struct {
	Text        string `json:"question"`
	Answer      string `json:"answer"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

// ProfileReader is the read side of the profile store used to build questions.
type ProfileReader interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
	GetPreference(ctx context.Context, userID int64) (*store.UserPreference, error)
	GetLifeEvents(ctx context.Context, userID int64) ([]store.LifeEvent, error)
	GetImages(ctx context.Context, userID int64) ([]store.ImageWithContext, error)
}

// QuizSelector picks session quiz questions from a user's profile.
type QuizSelector struct {
	profiles ProfileReader

	mu  sync.Mutex
	rng *rand.Rand
}

func NewQuizSelector(profiles ProfileReader, rng *rand.Rand) *QuizSelector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &QuizSelector{profiles: profiles, rng: rng}
}

// NextQuestion returns a question for stage that is not in asked.
// Stage 1 asks about preferences, stages 2-3 about life events and stages
// 4-5 about photos. A row is chosen uniformly among the rows that still have
// an unasked question, then a question uniformly within that row.
func (q *QuizSelector) NextQuestion(ctx context.Context, userID int64, stage int, asked []string) (Question, error) {
	var groups [][]Question
	var err error
	switch stage {
	case 1:
		groups, err = q.preferenceQuestions(ctx, userID)
	case 2, 3:
		groups, err = q.lifeEventQuestions(ctx, userID)
	case 4, 5:
		groups, err = q.imageQuestions(ctx, userID)
	default:
		return Question{}, fmt.Errorf("invalid quiz stage %d", stage)
	}
	if err != nil {
		return Question{}, err
	}

	var eligible [][]Question
	for _, g := range groups {
		remaining := slices.DeleteFunc(slices.Clone(g), func(c Question) bool {
			return slices.Contains(asked, c.Text)
		})
		if len(remaining) > 0 {
			eligible = append(eligible, remaining)
		}
	}
	if len(eligible) == 0 {
		return Question{}, ErrNoQuestion
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	row := eligible[q.rng.IntN(len(eligible))]
	return row[q.rng.IntN(len(row))], nil
}

func (q *QuizSelector) preferenceQuestions(ctx context.Context, userID int64) ([][]Question, error) {
	pref, err := q.profiles.GetPreference(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences for quiz: %w", err)
	}

	var questions []Question
	add := func(text, answer string) {
		if strings.TrimSpace(answer) != "" {
			questions = append(questions, Question{Text: text, Answer: answer})
		}
	}
	add("What is your favorite color?", pref.FavoriteColor)
	add("What is your favorite food?", pref.FavoriteFood)
	add("What is your favorite movie?", pref.FavoriteMovie)
	add("What is your favorite song?", pref.FavoriteSong)
	add("What is your favorite hobby?", JoinAnswer(pref.Hobby))
	return [][]Question{questions}, nil
}

func (q *QuizSelector) lifeEventQuestions(ctx context.Context, userID int64) ([][]Question, error) {
	events, err := q.profiles.GetLifeEvents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load life events for quiz: %w", err)
	}
	groups := make([][]Question, 0, len(events))
	for _, ev := range events {
		groups = append(groups, lifeEventTemplates(ev))
	}
	return groups, nil
}

func lifeEventTemplates(ev store.LifeEvent) []Question {
	title := ev.EventTitle
	if title == "" {
		title = "Untitled Event"
	}
	date := ev.EventDate
	if date == "" {
		date = "Unknown date"
	}

	var out []Question
	add := func(text, answer string) {
		if strings.TrimSpace(answer) != "" {
			out = append(out, Question{Text: text, Answer: answer})
		}
	}
	add(fmt.Sprintf("Regarding the event on %s, what is the title?", date), ev.EventTitle)
	add(fmt.Sprintf("You had an event titled '%s' on %s. Can you describe what happened?", title, date), ev.Description)
	add(fmt.Sprintf("How did you feel during the event on %s?", date), JoinAnswer(ev.Emotions))
	add(fmt.Sprintf("What was the most memorable part of '%s'?", title), ev.Description)
	add(fmt.Sprintf("Can you recall the exact date of the event '%s'?", title), ev.EventDate)
	add(fmt.Sprintf("Think back to '%s'. What were two emotions you felt?", title), JoinAnswer(firstN(ev.Emotions, 2)))
	if words := strings.Fields(ev.EventTitle); len(words) > 0 {
		add(fmt.Sprintf("If you could summarize '%s' in one word, what would it be?", title), words[0])
	}
	add(fmt.Sprintf("What impact did the event on %s have on your life?", date), ev.Description)
	add(fmt.Sprintf("If you were to describe '%s' to a friend, what would you say?", title), ev.Description)
	return out
}

func (q *QuizSelector) imageQuestions(ctx context.Context, userID int64) ([][]Question, error) {
	images, err := q.profiles.GetImages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load images for quiz: %w", err)
	}
	groups := make([][]Question, 0, len(images))
	for _, img := range images {
		groups = append(groups, imageTemplates(img))
	}
	return groups, nil
}

func imageTemplates(img store.ImageWithContext) []Question {
	var out []Question
	add := func(text, answer string) {
		if strings.TrimSpace(answer) != "" {
			out = append(out, Question{Text: text, Answer: answer, ImageBase64: img.ImageBase64})
		}
	}
	add("This image is linked to an event. Can you recall which one?", img.EventTitle)
	add("Think back to this image. What was the occasion?", img.EventTitle)
	add("When was this photo taken?", img.ContextWhen)
	add("Where was this picture captured?", img.ContextWhere)
	if len(img.ContextWho) > 0 {
		add("Can you name one person in the image?", img.ContextWho[0])
	}
	add("List all the people you remember in this photo.", JoinAnswer(img.ContextWho))
	emotions := "Sentimental, Nostalgic"
	if strings.Contains(strings.ToLower(img.Description), "party") {
		emotions = "Happy, Excited"
	}
	add("What emotions does this image bring back?", emotions)
	add("If you had to give this image a title, what would it be?", img.EventTitle)
	add("Describe what was happening in this image.", img.Description)
	add("What do you remember most about this day?", img.Description)
	return out
}

// JoinAnswer renders a list-valued answer the way it is displayed and scored.
func JoinAnswer(values []string) string {
	return strings.Join(values, ", ")
}

func firstN(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}

// Hint gives the first character of the answer.
func Hint(answer string) string {
	if answer == "" {
		return "Try again!"
	}
	r, _ := utf8.DecodeRuneInString(answer)
	return fmt.Sprintf("The answer starts with '%c'.", r)
}
