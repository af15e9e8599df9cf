package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User methods

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	user.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (full_name, birth_date, hometown, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		user.FullName, user.BirthDate, user.Hometown, nullString(user.Email), nullString(user.PasswordHash), user.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user with email %q: %w", user.Email, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	user.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}
	return nil
}

// EnsureUser inserts user under its explicit id unless that id already exists.
// It reports whether a row was created.
func (s *SQLiteStore) EnsureUser(ctx context.Context, user *User) (bool, error) {
	user.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO users (id, full_name, birth_date, hometown, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		user.ID, user.FullName, user.BirthDate, user.Hometown, nullString(user.Email), nullString(user.PasswordHash), user.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to ensure user %d: %w", user.ID, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

const userColumns = "id, full_name, birth_date, hometown, email, password_hash, created_at"

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var email, hash sql.NullString
	if err := row.Scan(&user.ID, &user.FullName, &user.BirthDate, &user.Hometown, &email, &hash, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.Email = email.String
	user.PasswordHash = hash.String
	return &user, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		return nil, notFoundOr(err, "failed to get user %d", id)
	}
	return user, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email))
	if err != nil {
		return nil, notFoundOr(err, "failed to query user by email")
	}
	return user, nil
}

func upsertAboutMe(ctx context.Context, q querier, user *User) error {
	_, err := q.ExecContext(ctx, `
        INSERT INTO users (id, full_name, birth_date, hometown, created_at) VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            full_name = excluded.full_name,
            birth_date = excluded.birth_date,
            hometown = excluded.hometown`,
		user.ID, user.FullName, user.BirthDate, user.Hometown, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert user %d: %w", user.ID, err)
	}
	return nil
}

// Preference methods

func (s *SQLiteStore) UpsertPreference(ctx context.Context, pref *UserPreference) error {
	return upsertPreference(ctx, s.db, pref)
}

func upsertPreference(ctx context.Context, q querier, pref *UserPreference) error {
	hobbies, err := encodeList(pref.Hobby)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
        INSERT INTO user_preferences (user_id, hobby_json, favorite_color, favorite_food, favorite_song, favorite_movie)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET
            hobby_json = excluded.hobby_json,
            favorite_color = excluded.favorite_color,
            favorite_food = excluded.favorite_food,
            favorite_song = excluded.favorite_song,
            favorite_movie = excluded.favorite_movie`,
		pref.UserID, hobbies, pref.FavoriteColor, pref.FavoriteFood, pref.FavoriteSong, pref.FavoriteMovie)
	if err != nil {
		return fmt.Errorf("failed to upsert preference for user %d: %w", pref.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPreference(ctx context.Context, userID int64) (*UserPreference, error) {
	var pref UserPreference
	var hobbies string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, hobby_json, favorite_color, favorite_food, favorite_song, favorite_movie FROM user_preferences WHERE user_id = ?",
		userID).Scan(&pref.UserID, &hobbies, &pref.FavoriteColor, &pref.FavoriteFood, &pref.FavoriteSong, &pref.FavoriteMovie)
	if err != nil {
		return nil, notFoundOr(err, "failed to get preference for user %d", userID)
	}
	if pref.Hobby, err = decodeList(hobbies); err != nil {
		return nil, err
	}
	return &pref, nil
}

// Life event methods

func (s *SQLiteStore) CreateLifeEvent(ctx context.Context, event *LifeEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertLifeEvent(ctx, tx, event)
	})
}

func insertLifeEvent(ctx context.Context, q querier, event *LifeEvent) error {
	event.ID = uuid.NewString()
	event.CreatedAt = time.Now().UTC()
	emotions, err := encodeList(event.Emotions)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		"INSERT INTO life_events (id, user_id, event_title, event_date, description, emotions_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		event.ID, event.UserID, event.EventTitle, event.EventDate, event.Description, emotions, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert life event: %w", err)
	}
	for _, p := range event.RelatedPeople {
		_, err = q.ExecContext(ctx,
			"INSERT INTO life_event_people (event_id, person_name, relationship) VALUES (?, ?, ?)",
			event.ID, p.Name, p.Relationship)
		if err != nil {
			return fmt.Errorf("failed to insert related person for event %s: %w", event.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetLifeEvents(ctx context.Context, userID int64) ([]LifeEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, event_title, event_date, description, emotions_json, created_at FROM life_events WHERE user_id = ? ORDER BY created_at ASC, rowid ASC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query life events: %w", err)
	}
	defer rows.Close()

	var events []LifeEvent
	for rows.Next() {
		var ev LifeEvent
		var emotions string
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.EventTitle, &ev.EventDate, &ev.Description, &emotions, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan life event row: %w", err)
		}
		if ev.Emotions, err = decodeList(emotions); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate life events: %w", err)
	}
	rows.Close()

	for i := range events {
		people, err := s.getRelatedPeople(ctx, events[i].ID)
		if err != nil {
			return nil, err
		}
		events[i].RelatedPeople = people
	}
	return events, nil
}

func (s *SQLiteStore) getRelatedPeople(ctx context.Context, eventID string) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT person_name, relationship FROM life_event_people WHERE event_id = ? ORDER BY rowid", eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query related people: %w", err)
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.Name, &p.Relationship); err != nil {
			return nil, fmt.Errorf("failed to scan related person: %w", err)
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// Image methods

func (s *SQLiteStore) CreateImage(ctx context.Context, img *ImageWithContext) error {
	return insertImage(ctx, s.db, img)
}

func insertImage(ctx context.Context, q querier, img *ImageWithContext) error {
	img.ID = uuid.NewString()
	img.CreatedAt = time.Now().UTC()
	who, err := encodeList(img.ContextWho)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
        INSERT INTO images_with_context
            (id, user_id, image_base64, context_who_json, context_where, context_when, event_title, description, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.UserID, img.ImageBase64, who, img.ContextWhere, img.ContextWhen, img.EventTitle, img.Description, img.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetImages(ctx context.Context, userID int64) ([]ImageWithContext, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, image_base64, context_who_json, context_where, context_when, event_title, description, created_at
        FROM images_with_context WHERE user_id = ? ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var images []ImageWithContext
	for rows.Next() {
		var img ImageWithContext
		var who string
		if err := rows.Scan(&img.ID, &img.UserID, &img.ImageBase64, &who, &img.ContextWhere, &img.ContextWhen,
			&img.EventTitle, &img.Description, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan image row: %w", err)
		}
		if img.ContextWho, err = decodeList(who); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// UserData is the full profile written by SaveUserData.
type UserData struct {
	AboutMe    User
	Preference *UserPreference
	LifeEvents []LifeEvent
	Images     []ImageWithContext
}

// SaveUserData writes a whole profile in one transaction; nothing is kept on failure.
func (s *SQLiteStore) SaveUserData(ctx context.Context, data *UserData) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertAboutMe(ctx, tx, &data.AboutMe); err != nil {
			return err
		}
		if data.Preference != nil {
			data.Preference.UserID = data.AboutMe.ID
			if err := upsertPreference(ctx, tx, data.Preference); err != nil {
				return err
			}
		}
		for i := range data.LifeEvents {
			data.LifeEvents[i].UserID = data.AboutMe.ID
			if err := insertLifeEvent(ctx, tx, &data.LifeEvents[i]); err != nil {
				return err
			}
		}
		for i := range data.Images {
			data.Images[i].UserID = data.AboutMe.ID
			if err := insertImage(ctx, tx, &data.Images[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
