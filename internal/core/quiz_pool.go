package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/memorylane/companion/internal/metrics"
	"github.com/memorylane/companion/internal/store"
)

// questionsPerCategory is how many pool questions GetQuiz samples per category.
const questionsPerCategory = 2

type PoolQuestion struct {
	Question     string   `json:"question"`
	Answer       string   `json:"answer"`
	SubQuestions []string `json:"sub_questions"`
}

type QuizSet struct {
	AboutMe      []PoolQuestion `json:"about_me"`
	LifeEvents   []PoolQuestion `json:"life_events"`
	ImageContext []PoolQuestion `json:"image_context"`
}

// AnsweredQuestion is one main question of a submitted quiz. SubQuestionAnswers
// pairs with SubQuestions by index.
type AnsweredQuestion struct {
	Question           string   `json:"question" validate:"required"`
	Answer             string   `json:"answer"`
	UserAnswer         string   `json:"user_answer"`
	SubQuestions       []string `json:"sub_questions"`
	SubQuestionAnswers []string `json:"sub_questions_answer"`
}

type SubQuestionResult struct {
	Question        string  `json:"question"`
	Answer          string  `json:"answer"`
	IsRelevant      bool    `json:"is_relevant"`
	SimilarityScore float64 `json:"similarity_score"`
}

type QuestionResult struct {
	Question        string              `json:"question"`
	UserAnswer      string              `json:"user_answer"`
	IsCorrect       bool                `json:"is_correct"`
	SimilarityScore float64             `json:"similarity_score"`
	SubQuestions    []SubQuestionResult `json:"sub_questions"`
}

// QuizPoolService serves the stateless profile quiz: a sampled question set
// with follow-up sub-questions, and scoring of a submitted set.
type QuizPoolService struct {
	profiles ProfileReader
	scorer   *Scorer

	mu  sync.Mutex
	rng *rand.Rand
}

func NewQuizPoolService(profiles ProfileReader, scorer *Scorer, rng *rand.Rand) *QuizPoolService {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &QuizPoolService{profiles: profiles, scorer: scorer, rng: rng}
}

// GetQuiz samples up to two questions per category from the user's profile.
func (s *QuizPoolService) GetQuiz(ctx context.Context, userID int64) (*QuizSet, error) {
	pool, err := s.buildPool(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &QuizSet{
		AboutMe:      s.sample(pool.AboutMe),
		LifeEvents:   s.sample(pool.LifeEvents),
		ImageContext: s.sample(pool.ImageContext),
	}, nil
}

func (s *QuizPoolService) sample(pool []PoolQuestion) []PoolQuestion {
	out := slices.Clone(pool)
	s.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if len(out) > questionsPerCategory {
		out = out[:questionsPerCategory]
	}
	return out
}

func (s *QuizPoolService) buildPool(ctx context.Context, userID int64) (*QuizSet, error) {
	pool := &QuizSet{AboutMe: []PoolQuestion{}, LifeEvents: []PoolQuestion{}, ImageContext: []PoolQuestion{}}

	user, err := s.profiles.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d for quiz pool: %w", userID, err)
	}
	pool.AboutMe = append(pool.AboutMe,
		PoolQuestion{Question: "What is your full name?", Answer: user.FullName, SubQuestions: nameSubQuestions},
		PoolQuestion{Question: "When is your birthday (YYYY-MM-DD)?", Answer: user.BirthDate, SubQuestions: birthdaySubQuestions},
		PoolQuestion{Question: "Where is your hometown?", Answer: user.Hometown, SubQuestions: hometownSubQuestions},
	)

	pref, err := s.profiles.GetPreference(ctx, userID)
	switch {
	case err == nil:
		pool.AboutMe = append(pool.AboutMe,
			PoolQuestion{Question: "What is your favorite color?", Answer: pref.FavoriteColor, SubQuestions: colorSubQuestions},
			PoolQuestion{Question: "What food do you love the most?", Answer: pref.FavoriteFood, SubQuestions: foodSubQuestions},
		)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to load preferences for quiz pool: %w", err)
	}

	events, err := s.profiles.GetLifeEvents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load life events for quiz pool: %w", err)
	}
	for _, ev := range events {
		pool.LifeEvents = append(pool.LifeEvents, PoolQuestion{
			Question:     fmt.Sprintf("What happened during %s?", ev.EventTitle),
			Answer:       ev.Description,
			SubQuestions: lifeEventSubQuestions(ev.EventTitle),
		})
	}

	images, err := s.profiles.GetImages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load images for quiz pool: %w", err)
	}
	for _, img := range images {
		pool.ImageContext = append(pool.ImageContext, PoolQuestion{
			Question:     fmt.Sprintf("Who are the people in the image from %s?", img.EventTitle),
			Answer:       JoinAnswer(img.ContextWho),
			SubQuestions: imageSubQuestions(img.EventTitle),
		})
	}
	return pool, nil
}

// PostQuiz scores submitted answers. A main answer is correct at
// MainQuestionThreshold; a sub-question answer is relevant to its
// sub-question at SubQuestionThreshold.
func (s *QuizPoolService) PostQuiz(ctx context.Context, userID int64, items []AnsweredQuestion) ([]QuestionResult, error) {
	results := make([]QuestionResult, 0, len(items))
	for _, item := range items {
		main, err := s.scorer.Score(ctx, item.UserAnswer, item.Answer, MainQuestionThreshold)
		if err != nil {
			return nil, fmt.Errorf("failed to score %q for user %d: %w", item.Question, userID, err)
		}
		metrics.RecordAnswer("post_quiz", main.IsCorrect)

		result := QuestionResult{
			Question:        item.Question,
			UserAnswer:      item.UserAnswer,
			IsCorrect:       main.IsCorrect,
			SimilarityScore: main.Similarity,
			SubQuestions:    []SubQuestionResult{},
		}
		for i, sub := range item.SubQuestions {
			if i >= len(item.SubQuestionAnswers) {
				break
			}
			answer := item.SubQuestionAnswers[i]
			rel, err := s.scorer.Score(ctx, answer, sub, SubQuestionThreshold)
			if err != nil {
				return nil, fmt.Errorf("failed to score sub-question %q: %w", sub, err)
			}
			result.SubQuestions = append(result.SubQuestions, SubQuestionResult{
				Question:        sub,
				Answer:          answer,
				IsRelevant:      rel.IsCorrect,
				SimilarityScore: rel.Similarity,
			})
		}
		results = append(results, result)
	}
	return results, nil
}

var (
	nameSubQuestions = []string{
		"Who gave you your name?",
		"Does your name have a special meaning or origin?",
		"Have you ever met someone with the same name?",
		"Do you like your full name? Why or why not?",
		"How did your family choose your name?",
		"Are there any nicknames associated with your full name?",
		"Does your full name have any historical or cultural significance?",
		"How do you feel when you hear your full name spoken aloud?",
		"Have you ever changed your name, or would you consider changing it?",
		"Do you have any fun facts about your name?",
	}
	birthdaySubQuestions = []string{
		"Do you remember a memorable birthday party?",
		"How do you usually celebrate your birthday?",
		"What's the best birthday gift you've ever received?",
		"Who do you like to celebrate your birthday with?",
		"What is the most special birthday memory you have?",
		"Have you ever had a surprise birthday party?",
		"What is your favorite part of your birthday celebration?",
		"How do you feel about getting older?",
		"What's a memorable birthday wish you've made?",
		"Do you have a favorite birthday tradition?",
	}
	hometownSubQuestions = []string{
		"What is the best memory you have from your hometown?",
		"Who do you miss the most from your hometown?",
		"How has your hometown changed over time?",
		"What makes your hometown special to you?",
		"Do you plan to visit your hometown again?",
		"What is the first thing you do when you go back to your hometown?",
		"What are the most famous places in your hometown?",
		"Do you still keep in touch with people from your hometown?",
		"How would you describe your hometown to someone who's never been there?",
		"Would you want to live in your hometown again?",
	}
	colorSubQuestions = []string{
		"How many clothes do you have in your favorite color?",
		"Do you associate any memories with this color?",
		"Can you describe a special moment when this color stood out to you?",
		"Do you like to decorate your space in this color?",
		"Does this color influence your mood?",
		"Have you ever painted a room or object in this color?",
		"What other colors do you like to pair with your favorite color?",
		"Does your favorite color change with the seasons or your mood?",
		"What was the first item you bought in your favorite color?",
		"Does your favorite color represent something to you personally?",
	}
	foodSubQuestions = []string{
		"When did you first try this food?",
		"Can you cook this food yourself?",
		"Who introduced you to this food?",
		"What is the most memorable experience you've had while eating this food?",
		"Is this food a part of any family or cultural tradition?",
		"What restaurant or place serves the best version of this food?",
		"How often do you eat this food?",
		"Is there a specific memory tied to eating this food?",
		"What is your favorite drink or side dish to pair with this food?",
		"How do you feel when you eat this food?",
	}
)

func lifeEventSubQuestions(title string) []string {
	return []string{
		fmt.Sprintf("When did %s occur (YYYY-MM-DD)?", title),
		"How did this event affect your life?",
		fmt.Sprintf("Who was the most important person during %s?", title),
		fmt.Sprintf("Can you describe the emotions you felt during %s?", title),
		fmt.Sprintf("Was there a specific moment that stands out from %s?", title),
		fmt.Sprintf("What did you learn from %s?", title),
		fmt.Sprintf("How has %s impacted you today?", title),
		fmt.Sprintf("Do you remember any funny or unexpected moments from %s?", title),
		fmt.Sprintf("Who helped you through %s?", title),
		fmt.Sprintf("Is there a specific song or memory tied to %s?", title),
	}
}

func imageSubQuestions(title string) []string {
	return []string{
		"What event is captured in this image?",
		"How do you feel about the people in this photo?",
		"Who was the most emotional person during the event?",
		"How did you interact with the people in this photo?",
		"Who is the person you remember the most from this photo?",
		"Do you still stay in touch with anyone from this event?",
		fmt.Sprintf("What story does this photo tell about %s?", title),
		"Who took this picture and why was it significant?",
		"Is there a memory associated with this specific photo?",
		"What moment in the event is captured in this photo?",
	}
}
