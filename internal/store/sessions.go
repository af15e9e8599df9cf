package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session methods

func (s *SQLiteStore) CreateSession(ctx context.Context, session *ChatSession) error {
	asked, err := encodeList(session.Quiz.Asked)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO chat_sessions (id, user_id, start_time, last_active, quiz_count, asked_json)
        VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.StartTime, session.LastActive, session.QuizCount, asked)
	if err != nil {
		return fmt.Errorf("failed to insert chat session %d: %w", session.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id int64) (*ChatSession, error) {
	var session ChatSession
	var endTime sql.NullTime
	var endReason sql.NullString
	var asked string
	err := s.db.QueryRowContext(ctx, `
        SELECT id, user_id, start_time, last_active, end_time, end_reason, quiz_count,
               current_question, current_answer, current_image, current_record_id, quiz_attempts, asked_json
        FROM chat_sessions WHERE id = ?`, id).Scan(
		&session.ID, &session.UserID, &session.StartTime, &session.LastActive, &endTime, &endReason, &session.QuizCount,
		&session.Quiz.Question, &session.Quiz.Answer, &session.Quiz.ImageBase64, &session.Quiz.RecordID,
		&session.Quiz.Attempts, &asked)
	if err != nil {
		return nil, notFoundOr(err, "failed to get chat session %d", id)
	}
	if endTime.Valid {
		t := endTime.Time
		session.EndTime = &t
	}
	session.EndReason = endReason.String
	if session.Quiz.Asked, err = decodeList(asked); err != nil {
		return nil, err
	}
	return &session, nil
}

// TouchSession moves last_active of an open session.
func (s *SQLiteStore) TouchSession(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE chat_sessions SET last_active = ? WHERE id = ? AND end_time IS NULL", at, id)
	if err != nil {
		return fmt.Errorf("failed to touch chat session %d: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateQuizState writes quiz_count and the quiz progress in one statement.
// The update only applies to an open session whose quiz_count has not moved
// past the expected value, so a stale writer cannot rewind the counter.
func (s *SQLiteStore) UpdateQuizState(ctx context.Context, id int64, expectedCount, newCount int, progress QuizProgress) error {
	return updateQuizState(ctx, s.db, id, expectedCount, newCount, progress)
}

func updateQuizState(ctx context.Context, q querier, id int64, expectedCount, newCount int, progress QuizProgress) error {
	asked, err := encodeList(progress.Asked)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
        UPDATE chat_sessions SET
            quiz_count = ?, current_question = ?, current_answer = ?, current_image = ?,
            current_record_id = ?, quiz_attempts = ?, asked_json = ?
        WHERE id = ? AND end_time IS NULL AND quiz_count = ?`,
		newCount, progress.Question, progress.Answer, progress.ImageBase64,
		progress.RecordID, progress.Attempts, asked, id, expectedCount)
	if err != nil {
		return fmt.Errorf("failed to update quiz state of session %d: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("quiz state of session %d changed concurrently: %w", id, ErrConflict)
	}
	return nil
}

// AdvanceQuiz moves a session to its next quiz question in one transaction:
// the answered record (if any) is filled, next is inserted as the pending
// record, and quiz_count goes from expectedCount to expectedCount+1 with
// progress. Nothing is written when any step fails.
func (s *SQLiteStore) AdvanceQuiz(ctx context.Context, id int64, expectedCount int, answered *QuizAnswer, next *ChatRecord, progress QuizProgress) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if answered != nil {
			if err := completeQuizRecord(ctx, tx, *answered); err != nil {
				return err
			}
		}
		if err := insertChatRecord(ctx, tx, next); err != nil {
			return err
		}
		progress.RecordID = next.ID
		return updateQuizState(ctx, tx, id, expectedCount, expectedCount+1, progress)
	})
}

// CloseSession sets end_time once. With withScore, the quiz score of the
// session is computed from its evaluated quiz records and stored in the same
// transaction. The returned bool is false when the session was already closed.
func (s *SQLiteStore) CloseSession(ctx context.Context, id int64, at time.Time, reason string, withScore bool) (*QuizScore, bool, error) {
	var score *QuizScore
	var closed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		score, closed, err = closeSession(ctx, tx, id, at, reason, withScore, nil)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return score, closed, nil
}

// FinishQuiz fills the last answered record and closes the session with its
// quiz score, in one transaction.
func (s *SQLiteStore) FinishQuiz(ctx context.Context, id int64, at time.Time, answered QuizAnswer) (*QuizScore, bool, error) {
	var score *QuizScore
	var closed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		score, closed, err = closeSession(ctx, tx, id, at, EndReasonQuizComplete, true, &answered)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return score, closed, nil
}

func closeSession(ctx context.Context, tx *sql.Tx, id int64, at time.Time, reason string, withScore bool, answered *QuizAnswer) (*QuizScore, bool, error) {
	res, err := tx.ExecContext(ctx, `
        UPDATE chat_sessions SET end_time = ?, end_reason = ?, current_record_id = ''
        WHERE id = ? AND end_time IS NULL`, at, reason, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to close chat session %d: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return nil, false, nil
	}
	if answered != nil {
		if err := completeQuizRecord(ctx, tx, *answered); err != nil {
			return nil, false, err
		}
	}
	if !withScore {
		return nil, true, nil
	}

	var total, correct int
	err = tx.QueryRowContext(ctx, `
        SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_correct THEN 1 ELSE 0 END), 0)
        FROM chat_records WHERE session_id = ? AND kind = 'quiz' AND answer IS NOT NULL`, id).Scan(&total, &correct)
	if err != nil {
		return nil, false, fmt.Errorf("failed to count quiz answers for session %d: %w", id, err)
	}
	qs := NewQuizScore(id, total, correct)
	_, err = tx.ExecContext(ctx,
		"INSERT INTO quiz_scores (session_id, total_questions, correct_answers, score) VALUES (?, ?, ?, ?)",
		qs.SessionID, qs.TotalQuestions, qs.CorrectAnswers, qs.Score)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert quiz score for session %d: %w", id, err)
	}
	return &qs, true, nil
}

func (s *SQLiteStore) GetQuizScore(ctx context.Context, sessionID int64) (*QuizScore, error) {
	var qs QuizScore
	err := s.db.QueryRowContext(ctx,
		"SELECT session_id, total_questions, correct_answers, score FROM quiz_scores WHERE session_id = ?",
		sessionID).Scan(&qs.SessionID, &qs.TotalQuestions, &qs.CorrectAnswers, &qs.Score)
	if err != nil {
		return nil, notFoundOr(err, "failed to get quiz score for session %d", sessionID)
	}
	return &qs, nil
}

// Chat record methods

func (s *SQLiteStore) CreateChatRecord(ctx context.Context, rec *ChatRecord) error {
	return insertChatRecord(ctx, s.db, rec)
}

func insertChatRecord(ctx context.Context, q querier, rec *ChatRecord) error {
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()
	_, err := q.ExecContext(ctx,
		"INSERT INTO chat_records (id, session_id, kind, question, answer, is_correct, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.SessionID, rec.Kind, rec.Question, rec.Answer, rec.IsCorrect, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chat record: %w", err)
	}
	return nil
}

// completeQuizRecord fills the answer of a pending quiz record. A record is
// filled at most once; a second fill is a conflict.
func completeQuizRecord(ctx context.Context, q querier, a QuizAnswer) error {
	res, err := q.ExecContext(ctx,
		"UPDATE chat_records SET answer = ?, is_correct = ? WHERE id = ? AND kind = 'quiz' AND answer IS NULL",
		a.Answer, a.IsCorrect, a.RecordID)
	if err != nil {
		return fmt.Errorf("failed to complete quiz record %s: %w", a.RecordID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("quiz record %s already answered: %w", a.RecordID, ErrConflict)
	}
	return nil
}

func (s *SQLiteStore) GetChatRecords(ctx context.Context, sessionID int64) ([]ChatRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, kind, question, answer, is_correct, created_at FROM chat_records WHERE session_id = ? ORDER BY created_at ASC, rowid ASC",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat records: %w", err)
	}
	defer rows.Close()

	var records []ChatRecord
	for rows.Next() {
		var rec ChatRecord
		var answer sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Kind, &rec.Question, &answer, &rec.IsCorrect, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat record row: %w", err)
		}
		if answer.Valid {
			a := answer.String
			rec.Answer = &a
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
