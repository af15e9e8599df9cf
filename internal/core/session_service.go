package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/memorylane/companion/internal/metrics"
	"github.com/memorylane/companion/internal/store"
)

var (
	// ErrSessionClosed rejects messages to a session that has ended.
	ErrSessionClosed = errors.New("chat session is closed")
	// ErrQuizAlreadyStarted is returned for "start quiz" once a quiz is running.
	ErrQuizAlreadyStarted = errors.New("quiz already started")
	// ErrNoActiveQuiz is returned for an answer when no question is pending.
	ErrNoActiveQuiz = errors.New("no active quiz")
)

const (
	GreetingMessage = `Hello! I am your therapy assistant. Would you like to take a quiz? Say "yes" to start or "no" to continue chatting.`
	ClosedMessage   = "Session closed due to inactivity or user exit."

	startQuizCommand = "start quiz"
)

var (
	greetingKeywords = []string{"hello", "hi", "hey"}
	quizKeywords     = []string{"yes", "quiz", "ques", "question", "start quiz", "questn", "do next", "session", "begin quiz", "play quiz"}
	exitKeywords     = []string{"exit", "stop", "quit"}
	helpKeywords     = []string{"help", "what can you do", "options"}
)

// SessionStore is the persistence the session manager needs.
type SessionStore interface {
	ProfileReader
	NextCounterValue(ctx context.Context, name string) (int64, error)
	CreateSession(ctx context.Context, session *store.ChatSession) error
	GetSession(ctx context.Context, id int64) (*store.ChatSession, error)
	TouchSession(ctx context.Context, id int64, at time.Time) error
	UpdateQuizState(ctx context.Context, id int64, expectedCount, newCount int, progress store.QuizProgress) error
	CloseSession(ctx context.Context, id int64, at time.Time, reason string, withScore bool) (*store.QuizScore, bool, error)
	CreateChatRecord(ctx context.Context, rec *store.ChatRecord) error
	AdvanceQuiz(ctx context.Context, id int64, expectedCount int, answered *store.QuizAnswer, next *store.ChatRecord, progress store.QuizProgress) error
	FinishQuiz(ctx context.Context, id int64, at time.Time, answered store.QuizAnswer) (*store.QuizScore, bool, error)
}

type SessionOptions struct {
	// Timeout is the inactivity after which the next message closes the session.
	Timeout time.Duration
	// MaxAttempts is the number of answers allowed per quiz question.
	MaxAttempts int
	// Memories, when set, grounds free-text replies in the user's profile.
	Memories *MemoryRetriever
	Now      func() time.Time
}

type SessionService struct {
	store     SessionStore
	selector  *QuizSelector
	scorer    *Scorer
	generator Generator
	opts      SessionOptions
}

func NewSessionService(st SessionStore, selector *QuizSelector, scorer *Scorer, gen Generator, opts SessionOptions) *SessionService {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SessionService{store: st, selector: selector, scorer: scorer, generator: gen, opts: opts}
}

type ChatReply struct {
	Message       string `json:"message"`
	UserMessage   string `json:"user_message,omitempty"`
	Quiz          bool   `json:"quiz,omitempty"`
	SessionClosed bool   `json:"session_closed,omitempty"`
}

type QuizReply struct {
	Question        string           `json:"question,omitempty"`
	Answer          string           `json:"answer,omitempty"`
	Hint            string           `json:"hint,omitempty"`
	ImageBase64     string           `json:"image_base64,omitempty"`
	QuizDone        bool             `json:"quiz_done"`
	IsCorrect       *bool            `json:"is_correct"`
	SimilarityScore *float64         `json:"similarity_score"`
	AttemptsLeft    int              `json:"attempts_left,omitempty"`
	Message         string           `json:"message,omitempty"`
	Score           *store.QuizScore `json:"score,omitempty"`
	SessionClosed   bool             `json:"session_closed,omitempty"`
}

func (s *SessionService) now() time.Time {
	return s.opts.Now().UTC()
}

// StartSession opens a new session for an existing user.
func (s *SessionService) StartSession(ctx context.Context, userID int64) (*store.ChatSession, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}

	id, err := s.store.NextCounterValue(ctx, store.SessionCounter)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate session id: %w", err)
	}
	now := s.now()
	session := &store.ChatSession{ID: id, UserID: userID, StartTime: now, LastActive: now}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	metrics.SessionsStarted.Inc()
	log.WithFields(log.Fields{"session_id": id, "user_id": userID}).Info("Chat session started")
	return session, nil
}

func (s *SessionService) GetSession(ctx context.Context, id int64) (*store.ChatSession, error) {
	return s.store.GetSession(ctx, id)
}

// Touch marks an open session as active now.
func (s *SessionService) Touch(ctx context.Context, id int64) error {
	err := s.store.TouchSession(ctx, id, s.now())
	if errors.Is(err, store.ErrNotFound) {
		if _, getErr := s.store.GetSession(ctx, id); getErr == nil {
			return ErrSessionClosed
		}
	}
	return err
}

// Close ends a session. When completed, the quiz score is computed and stored.
func (s *SessionService) Close(ctx context.Context, id int64, reason string, completed bool) (*store.QuizScore, error) {
	score, closed, err := s.store.CloseSession(ctx, id, s.now(), reason, completed)
	if err != nil {
		return nil, err
	}
	if !closed {
		if _, err := s.store.GetSession(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrSessionClosed
	}
	recordClose(id, reason)
	return score, nil
}

func recordClose(id int64, reason string) {
	metrics.SessionsClosed.WithLabelValues(reason).Inc()
	log.WithFields(log.Fields{"session_id": id, "reason": reason}).Info("Chat session closed")
}

// enter loads an open session for an inbound message. A session idle for at
// least the timeout is closed instead and reported through timedOut.
func (s *SessionService) enter(ctx context.Context, id int64) (session *store.ChatSession, timedOut bool, err error) {
	session, err = s.store.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if session.Closed() {
		return nil, false, ErrSessionClosed
	}

	now := s.now()
	if now.Sub(session.LastActive) >= s.opts.Timeout {
		if _, err := s.Close(ctx, id, store.EndReasonTimeout, false); err != nil {
			return nil, false, err
		}
		return session, true, nil
	}

	if err := s.store.TouchSession(ctx, id, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, ErrSessionClosed
		}
		return nil, false, err
	}
	session.LastActive = now
	return session, false, nil
}

// Chat handles a free-text message.
func (s *SessionService) Chat(ctx context.Context, id int64, message string) (*ChatReply, error) {
	input := strings.ToLower(strings.TrimSpace(message))

	session, timedOut, err := s.enter(ctx, id)
	if err != nil {
		return nil, err
	}
	if timedOut {
		return &ChatReply{Message: ClosedMessage, SessionClosed: true}, nil
	}

	rec := &store.ChatRecord{SessionID: id, Kind: store.RecordKindChat, Question: input}
	if err := s.store.CreateChatRecord(ctx, rec); err != nil {
		return nil, err
	}

	switch {
	case slices.Contains(greetingKeywords, input):
		return &ChatReply{UserMessage: input, Message: fmt.Sprintf("Hello! How can I assist you today, %s?", s.userName(ctx, session.UserID))}, nil
	case containsAny(input, quizKeywords):
		return &ChatReply{UserMessage: input, Message: "Let's start the quiz!", Quiz: true}, nil
	case input == "no":
		return &ChatReply{UserMessage: input, Message: "Alright! Let me know if you need anything else."}, nil
	case slices.Contains(exitKeywords, input):
		if _, err := s.Close(ctx, id, store.EndReasonUserExit, false); err != nil {
			return nil, err
		}
		return &ChatReply{UserMessage: input, Message: ClosedMessage, SessionClosed: true}, nil
	case slices.Contains(helpKeywords, input):
		return &ChatReply{UserMessage: input, Message: `I can chat with you, start a quiz, and provide helpful responses. Just say "quiz" to start!`}, nil
	}

	prompt := input
	if s.opts.Memories != nil {
		prompt = s.opts.Memories.Augment(ctx, session.UserID, input)
	}
	reply, err := s.generator.GenerateReply(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate reply: %w", err)
	}
	return &ChatReply{UserMessage: input, Message: reply}, nil
}

func (s *SessionService) userName(ctx context.Context, userID int64) string {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).Warnf("Failed to load user %d for greeting", userID)
		}
		return "User"
	}
	return user.FullName
}

// Quiz handles "start quiz" and answers to the pending quiz question.
func (s *SessionService) Quiz(ctx context.Context, id int64, answer string) (*QuizReply, error) {
	answer = strings.TrimSpace(answer)

	session, timedOut, err := s.enter(ctx, id)
	if err != nil {
		return nil, err
	}
	if timedOut {
		return &QuizReply{Message: ClosedMessage, SessionClosed: true}, nil
	}

	if strings.EqualFold(answer, startQuizCommand) {
		if session.QuizCount != 0 {
			return nil, ErrQuizAlreadyStarted
		}
		q, err := s.selector.NextQuestion(ctx, session.UserID, 1, nil)
		if err != nil {
			return nil, err
		}
		return s.ask(ctx, session, q, nil, nil)
	}

	if !session.Quiz.Pending() {
		return nil, ErrNoActiveQuiz
	}

	res, err := s.scorer.Score(ctx, answer, session.Quiz.Answer, QuizThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to score answer: %w", err)
	}
	metrics.RecordAnswer("session_quiz", res.IsCorrect)

	attempts := session.Quiz.Attempts + 1
	if !res.IsCorrect && attempts < s.opts.MaxAttempts {
		progress := session.Quiz
		progress.Attempts = attempts
		if err := s.store.UpdateQuizState(ctx, id, session.QuizCount, session.QuizCount, progress); err != nil {
			return nil, err
		}
		return &QuizReply{
			Question:        progress.Question,
			Answer:          progress.Answer,
			Hint:            Hint(progress.Answer),
			ImageBase64:     progress.ImageBase64,
			IsCorrect:       &res.IsCorrect,
			SimilarityScore: &res.Similarity,
			AttemptsLeft:    s.opts.MaxAttempts - attempts,
		}, nil
	}

	// The next question is chosen before anything is written, so a failure
	// here leaves the pending question in place for a retry.
	answered := store.QuizAnswer{RecordID: session.Quiz.RecordID, Answer: answer, IsCorrect: res.IsCorrect}
	if session.QuizCount >= MaxQuizStage {
		return s.finish(ctx, session, answered, &res)
	}
	next, err := s.selector.NextQuestion(ctx, session.UserID, session.QuizCount+1, session.Quiz.Asked)
	if errors.Is(err, ErrNoQuestion) {
		log.WithField("session_id", id).Infof("No question for stage %d, ending quiz early", session.QuizCount+1)
		return s.finish(ctx, session, answered, &res)
	}
	if err != nil {
		return nil, err
	}
	return s.ask(ctx, session, next, &answered, &res)
}

// ask makes q the pending question and advances quiz_count by one. The
// answered record, when given, is filled in the same store transaction.
func (s *SessionService) ask(ctx context.Context, session *store.ChatSession, q Question, answered *store.QuizAnswer, prev *ScoreResult) (*QuizReply, error) {
	rec := &store.ChatRecord{SessionID: session.ID, Kind: store.RecordKindQuiz, Question: q.Text}
	progress := store.QuizProgress{
		Question:    q.Text,
		Answer:      q.Answer,
		ImageBase64: q.ImageBase64,
		Asked:       append(slices.Clone(session.Quiz.Asked), q.Text),
	}
	if err := s.store.AdvanceQuiz(ctx, session.ID, session.QuizCount, answered, rec, progress); err != nil {
		return nil, fmt.Errorf("failed to advance quiz: %w", err)
	}
	log.WithFields(log.Fields{"session_id": session.ID, "quiz_count": session.QuizCount + 1}).Debugf("Next quiz question: %s", q.Text)

	reply := &QuizReply{
		Question:    q.Text,
		Answer:      q.Answer,
		Hint:        Hint(q.Answer),
		ImageBase64: q.ImageBase64,
	}
	if prev != nil {
		reply.IsCorrect = &prev.IsCorrect
		reply.SimilarityScore = &prev.Similarity
	}
	return reply, nil
}

func (s *SessionService) finish(ctx context.Context, session *store.ChatSession, answered store.QuizAnswer, last *ScoreResult) (*QuizReply, error) {
	score, closed, err := s.store.FinishQuiz(ctx, session.ID, s.now(), answered)
	if err != nil {
		return nil, fmt.Errorf("failed to finish quiz: %w", err)
	}
	if !closed {
		return nil, ErrSessionClosed
	}
	recordClose(session.ID, store.EndReasonQuizComplete)
	return &QuizReply{
		Question:        fmt.Sprintf("Quiz complete! Your score: %.2f%%. Thanks for playing!", score.Score),
		QuizDone:        true,
		IsCorrect:       &last.IsCorrect,
		SimilarityScore: &last.Similarity,
		Score:           score,
		SessionClosed:   true,
	}, nil
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
