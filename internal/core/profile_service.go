package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/memorylane/companion/internal/auth"
	"github.com/memorylane/companion/internal/store"
)

// ErrInvalidCredentials is returned by Login for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ProfileStore is the persistence the profile service needs.
type ProfileStore interface {
	ProfileReader
	CreateUser(ctx context.Context, user *store.User) error
	EnsureUser(ctx context.Context, user *store.User) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	UpsertPreference(ctx context.Context, pref *store.UserPreference) error
	CreateLifeEvent(ctx context.Context, event *store.LifeEvent) error
	CreateImage(ctx context.Context, img *store.ImageWithContext) error
	SaveUserData(ctx context.Context, data *store.UserData) error
}

type ProfileService struct {
	store ProfileStore
}

func NewProfileService(st ProfileStore) *ProfileService {
	return &ProfileService{store: st}
}

type NewUser struct {
	FullName  string `json:"full_name" validate:"required"`
	BirthDate string `json:"birth_date" validate:"required,datetime=2006-01-02"`
	Hometown  string `json:"hometown"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6"`
}

func (s *ProfileService) CreateUser(ctx context.Context, in NewUser) (*store.User, error) {
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &store.User{
		FullName:     in.FullName,
		BirthDate:    in.BirthDate,
		Hometown:     in.Hometown,
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SeedDefaultUser creates the demo account with id 1 when it does not exist yet.
func (s *ProfileService) SeedDefaultUser(ctx context.Context) error {
	hash, err := auth.HashPassword("vidusha123")
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	created, err := s.store.EnsureUser(ctx, &store.User{
		ID:           1,
		FullName:     "Vidusha",
		BirthDate:    "2000-08-24",
		Hometown:     "Malabe",
		Email:        "vidusha@example.com",
		PasswordHash: hash,
	})
	if err != nil {
		return err
	}
	if created {
		log.Info("Created default user with user_id=1")
	} else {
		log.Info("User with user_id=1 already exists")
	}
	return nil
}

func (s *ProfileService) CreatePreference(ctx context.Context, pref *store.UserPreference) error {
	return s.store.UpsertPreference(ctx, pref)
}

func (s *ProfileService) CreateLifeEvent(ctx context.Context, ev *store.LifeEvent) error {
	return s.store.CreateLifeEvent(ctx, ev)
}

func (s *ProfileService) CreateImage(ctx context.Context, img *store.ImageWithContext) error {
	return s.store.CreateImage(ctx, img)
}

func (s *ProfileService) GetUser(ctx context.Context, id int64) (*store.User, error) {
	return s.store.GetUser(ctx, id)
}

// GetPreferences lists the user's preference rows (zero or one).
func (s *ProfileService) GetPreferences(ctx context.Context, userID int64) ([]store.UserPreference, error) {
	pref, err := s.store.GetPreference(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return []store.UserPreference{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []store.UserPreference{*pref}, nil
}

func (s *ProfileService) GetLifeEvents(ctx context.Context, userID int64) ([]store.LifeEvent, error) {
	return s.store.GetLifeEvents(ctx, userID)
}

func (s *ProfileService) GetImages(ctx context.Context, userID int64) ([]store.ImageWithContext, error) {
	return s.store.GetImages(ctx, userID)
}

// Login checks an email/password pair and issues a token for the user.
func (s *ProfileService) Login(ctx context.Context, email, password string) (*store.User, string, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if user.PasswordHash == "" || !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := auth.GenerateJWT(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}
	return user, token, nil
}

type FavoriteThings struct {
	Color string `json:"color"`
	Food  string `json:"food"`
	Song  string `json:"song"`
	Movie string `json:"movie"`
}

type AboutMeInput struct {
	FullName       string         `json:"full_name" validate:"required"`
	BirthDate      string         `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Hometown       string         `json:"hometown"`
	Hobbies        []string       `json:"hobbies"`
	FavoriteThings FavoriteThings `json:"favorite_things"`
}

type LifeEventInput struct {
	EventTitle    string   `json:"event_title" validate:"required"`
	Date          string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Description   string   `json:"description"`
	Emotions      []string `json:"emotions"`
	RelatedPeople []string `json:"related_people"` // "Name (relationship)"
}

type ImageContextInput struct {
	Who         []string `json:"who"`
	Where       string   `json:"where"`
	When        string   `json:"when" validate:"omitempty,datetime=2006-01-02"`
	EventTitle  string   `json:"event_title"`
	Description string   `json:"description"`
}

type ImageInput struct {
	ImageBase64 string            `json:"image_base64" validate:"required,base64"`
	Context     ImageContextInput `json:"context"`
}

type UserDataInput struct {
	AboutMe           AboutMeInput     `json:"about_me" validate:"required"`
	LifeEvents        []LifeEventInput `json:"life_events" validate:"dive"`
	ImagesWithContext []ImageInput     `json:"images_with_context" validate:"dive"`
}

// SaveUserData replaces the root profile of userID and appends the given
// life events and images, all in one transaction.
func (s *ProfileService) SaveUserData(ctx context.Context, userID int64, in UserDataInput) error {
	data := &store.UserData{
		AboutMe: store.User{
			ID:        userID,
			FullName:  in.AboutMe.FullName,
			BirthDate: in.AboutMe.BirthDate,
			Hometown:  in.AboutMe.Hometown,
		},
		Preference: &store.UserPreference{
			UserID:        userID,
			Hobby:         in.AboutMe.Hobbies,
			FavoriteColor: in.AboutMe.FavoriteThings.Color,
			FavoriteFood:  in.AboutMe.FavoriteThings.Food,
			FavoriteSong:  in.AboutMe.FavoriteThings.Song,
			FavoriteMovie: in.AboutMe.FavoriteThings.Movie,
		},
	}
	for _, ev := range in.LifeEvents {
		people := make([]store.Person, 0, len(ev.RelatedPeople))
		for _, p := range ev.RelatedPeople {
			people = append(people, ParsePerson(p))
		}
		data.LifeEvents = append(data.LifeEvents, store.LifeEvent{
			UserID:        userID,
			EventTitle:    ev.EventTitle,
			EventDate:     ev.Date,
			Description:   ev.Description,
			Emotions:      ev.Emotions,
			RelatedPeople: people,
		})
	}
	for _, img := range in.ImagesWithContext {
		data.Images = append(data.Images, store.ImageWithContext{
			UserID:       userID,
			ImageBase64:  img.ImageBase64,
			ContextWho:   img.Context.Who,
			ContextWhere: img.Context.Where,
			ContextWhen:  img.Context.When,
			EventTitle:   img.Context.EventTitle,
			Description:  img.Context.Description,
		})
	}
	if err := s.store.SaveUserData(ctx, data); err != nil {
		return fmt.Errorf("failed to save user data for user %d: %w", userID, err)
	}
	return nil
}

// ParsePerson splits "Name (relationship)". Without parentheses the whole
// string is the name.
func ParsePerson(s string) store.Person {
	s = strings.TrimSpace(s)
	open := strings.LastIndex(s, " (")
	if open < 0 || !strings.HasSuffix(s, ")") {
		return store.Person{Name: s}
	}
	return store.Person{
		Name:         strings.TrimSpace(s[:open]),
		Relationship: strings.TrimSpace(s[open+2 : len(s)-1]),
	}
}
