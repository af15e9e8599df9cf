package store

import "time"

type User struct {
	ID           int64     `json:"user_id"`
	FullName     string    `json:"full_name"`
	BirthDate    string    `json:"birth_date"` // YYYY-MM-DD
	Hometown     string    `json:"hometown"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"created_at"`
}

// UserPreference is kept one-per-user; writes replace the previous row.
type UserPreference struct {
	UserID        int64    `json:"user_id"`
	Hobby         []string `json:"hobby"`
	FavoriteColor string   `json:"favorite_color"`
	FavoriteFood  string   `json:"favorite_food"`
	FavoriteSong  string   `json:"favorite_song"`
	FavoriteMovie string   `json:"favorite_movie"`
}

type Person struct {
	Name         string `json:"person_name"`
	Relationship string `json:"relationship"`
}

type LifeEvent struct {
	ID            string    `json:"event_id"` // UUID
	UserID        int64     `json:"user_id"`
	EventTitle    string    `json:"event_title"`
	EventDate     string    `json:"event_date"` // YYYY-MM-DD, may be empty
	Description   string    `json:"description"`
	Emotions      []string  `json:"emotions"`
	RelatedPeople []Person  `json:"related_people,omitempty"`
	CreatedAt     time.Time `json:"-"`
}

type ImageWithContext struct {
	ID           string    `json:"image_id"` // UUID
	UserID       int64     `json:"user_id"`
	ImageBase64  string    `json:"image_base64"`
	ContextWho   []string  `json:"context_who"`
	ContextWhere string    `json:"context_where"`
	ContextWhen  string    `json:"context_when"` // YYYY-MM-DD, may be empty
	EventTitle   string    `json:"event_title"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"-"`
}

// Session close reasons.
const (
	EndReasonTimeout      = "timeout"
	EndReasonUserExit     = "user_exit"
	EndReasonQuizComplete = "quiz_complete"
)

type ChatSession struct {
	ID         int64        `json:"session_id"`
	UserID     int64        `json:"user_id"`
	StartTime  time.Time    `json:"start_time"`
	LastActive time.Time    `json:"last_active"`
	EndTime    *time.Time   `json:"end_time"`
	EndReason  string       `json:"end_reason,omitempty"`
	QuizCount  int          `json:"quiz_count"`
	Quiz       QuizProgress `json:"-"`
}

func (s *ChatSession) Closed() bool {
	return s.EndTime != nil
}

// QuizProgress is the in-flight quiz state persisted on the session row.
type QuizProgress struct {
	Question    string
	Answer      string
	ImageBase64 string
	RecordID    string // pending quiz ChatRecord
	Attempts    int
	Asked       []string
}

func (p QuizProgress) Pending() bool {
	return p.RecordID != ""
}

// QuizAnswer is the evaluated answer to a pending quiz record.
type QuizAnswer struct {
	RecordID  string
	Answer    string
	IsCorrect bool
}

// Chat record kinds.
const (
	RecordKindChat = "chat"
	RecordKindQuiz = "quiz"
)

type ChatRecord struct {
	ID        string    `json:"id"` // UUID
	SessionID int64     `json:"session_id"`
	Kind      string    `json:"kind"`
	Question  string    `json:"question"`
	Answer    *string   `json:"answer"`
	IsCorrect bool      `json:"is_correct"`
	CreatedAt time.Time `json:"created_at"`
}

type QuizScore struct {
	SessionID      int64   `json:"session_id"`
	TotalQuestions int     `json:"total_questions"`
	CorrectAnswers int     `json:"correct_answers"`
	Score          float64 `json:"score"`
}

// NewQuizScore derives the percentage score; zero questions score 0.
func NewQuizScore(sessionID int64, total, correct int) QuizScore {
	var score float64
	if total > 0 {
		score = float64(correct) / float64(total) * 100
	}
	return QuizScore{
		SessionID:      sessionID,
		TotalQuestions: total,
		CorrectAnswers: correct,
		Score:          score,
	}
}
