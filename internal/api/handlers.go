package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/memorylane/companion/internal/auth"
	"github.com/memorylane/companion/internal/core"
	"github.com/memorylane/companion/internal/store"
)

type SessionManager interface {
	StartSession(ctx context.Context, userID int64) (*store.ChatSession, error)
	Chat(ctx context.Context, id int64, message string) (*core.ChatReply, error)
	Quiz(ctx context.Context, id int64, answer string) (*core.QuizReply, error)
}

type QuizPool interface {
	GetQuiz(ctx context.Context, userID int64) (*core.QuizSet, error)
	PostQuiz(ctx context.Context, userID int64, items []core.AnsweredQuestion) ([]core.QuestionResult, error)
}

type Profiles interface {
	CreateUser(ctx context.Context, in core.NewUser) (*store.User, error)
	CreatePreference(ctx context.Context, pref *store.UserPreference) error
	CreateLifeEvent(ctx context.Context, ev *store.LifeEvent) error
	CreateImage(ctx context.Context, img *store.ImageWithContext) error
	GetUser(ctx context.Context, id int64) (*store.User, error)
	GetPreferences(ctx context.Context, userID int64) ([]store.UserPreference, error)
	GetLifeEvents(ctx context.Context, userID int64) ([]store.LifeEvent, error)
	GetImages(ctx context.Context, userID int64) ([]store.ImageWithContext, error)
	SaveUserData(ctx context.Context, userID int64, in core.UserDataInput) error
	Login(ctx context.Context, email, password string) (*store.User, string, error)
}

type Extractor interface {
	Extract(ctx context.Context, imageBase64 string) (*core.ExtractResult, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the collaborators behind the HTTP API.
type Services struct {
	Sessions  SessionManager
	QuizPool  QuizPool
	Profiles  Profiles
	Extractor Extractor
	Health    Pinger
}

type APIHandler struct {
	svc Services
}

func NewAPIHandler(svc Services) *APIHandler {
	return &APIHandler{svc: svc}
}

type ctxKey int

const userIDKey ctxKey = iota

// JWTAuthMiddleware requires a bearer token issued by /request_login and puts
// the user id in the request context.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || tokenString == "" {
			writeJSON(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		userID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			log.WithError(err).Debug("Rejected bearer token")
			writeJSON(w, http.StatusUnauthorized, &APIError{StatusCode: http.StatusUnauthorized, Err: "Invalid token"})
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("Invalid %s", name)
	}
	return id, nil
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Health.Ping(r.Context()); err != nil {
		log.WithError(err).Error("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Chat

type StartChatResponse struct {
	Message   string `json:"message"`
	SessionID int64  `json:"session_id"`
}

func (h *APIHandler) StartChatHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	session, err := h.svc.Sessions.StartSession(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, "User not found!")
		return
	}
	writeJSON(w, http.StatusOK, StartChatResponse{Message: core.GreetingMessage, SessionID: session.ID})
}

type ChatRequest struct {
	Message string `json:"message" validate:"required"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "session_id")
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	reply, err := h.svc.Sessions.Chat(r.Context(), sessionID, req.Message)
	if err != nil {
		writeError(w, r, err, "Chat session not found!")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type QuizRequest struct {
	Answer string `json:"answer" validate:"required"`
}

func (h *APIHandler) QuizHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "session_id")
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	var req QuizRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	reply, err := h.svc.Sessions.Quiz(r.Context(), sessionID, req.Answer)
	if err != nil {
		writeError(w, r, err, "Chat session not found!")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// Quiz pool

func (h *APIHandler) GetQuizHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	set, err := h.svc.QuizPool.GetQuiz(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, set)
}

type PostQuizRequest struct {
	AboutMe      []core.AnsweredQuestion `json:"about_me" validate:"dive"`
	LifeEvents   []core.AnsweredQuestion `json:"life_events" validate:"dive"`
	ImageContext []core.AnsweredQuestion `json:"image_context" validate:"dive"`
}

type PostQuizResponse struct {
	Status string                `json:"status"`
	Result []core.QuestionResult `json:"result"`
}

func (h *APIHandler) PostQuizHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	var req PostQuizRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	items := make([]core.AnsweredQuestion, 0, len(req.AboutMe)+len(req.LifeEvents)+len(req.ImageContext))
	items = append(items, req.AboutMe...)
	items = append(items, req.LifeEvents...)
	items = append(items, req.ImageContext...)
	if len(items) == 0 {
		writeError(w, r, badRequest("No answers submitted"), "")
		return
	}

	results, err := h.svc.QuizPool.PostQuiz(r.Context(), userID, items)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, PostQuizResponse{Status: "success", Result: results})
}

// Profile

type SaveUserRequest struct {
	UserData *core.UserDataInput `json:"user_data" validate:"required"`
}

func (h *APIHandler) SaveUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	var req SaveUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	if err := h.svc.Profiles.SaveUserData(r.Context(), userID, *req.UserData); err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User data saved successfully"})
}

func (h *APIHandler) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req core.NewUser
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	user, err := h.svc.Profiles.CreateUser(r.Context(), req)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "User created successfully", "user_id": user.ID})
}

type CreatePreferenceRequest struct {
	UserID        int64    `json:"user_id" validate:"required,gt=0"`
	Hobby         []string `json:"hobby"`
	FavoriteColor string   `json:"favorite_color"`
	FavoriteFood  string   `json:"favorite_food"`
	FavoriteSong  string   `json:"favorite_song"`
	FavoriteMovie string   `json:"favorite_movie"`
}

func (h *APIHandler) CreatePreferenceHandler(w http.ResponseWriter, r *http.Request) {
	var req CreatePreferenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	pref := &store.UserPreference{
		UserID:        req.UserID,
		Hobby:         req.Hobby,
		FavoriteColor: req.FavoriteColor,
		FavoriteFood:  req.FavoriteFood,
		FavoriteSong:  req.FavoriteSong,
		FavoriteMovie: req.FavoriteMovie,
	}
	if err := h.svc.Profiles.CreatePreference(r.Context(), pref); err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User preference created"})
}

type CreateLifeEventRequest struct {
	UserID        int64    `json:"user_id" validate:"required,gt=0"`
	EventTitle    string   `json:"event_title" validate:"required"`
	EventDate     string   `json:"event_date" validate:"omitempty,datetime=2006-01-02"`
	Description   string   `json:"description"`
	Emotions      []string `json:"emotions"`
	RelatedPeople []string `json:"related_people"`
}

func (h *APIHandler) CreateLifeEventHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateLifeEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	ev := &store.LifeEvent{
		UserID:      req.UserID,
		EventTitle:  req.EventTitle,
		EventDate:   req.EventDate,
		Description: req.Description,
		Emotions:    req.Emotions,
	}
	for _, p := range req.RelatedPeople {
		ev.RelatedPeople = append(ev.RelatedPeople, core.ParsePerson(p))
	}
	if err := h.svc.Profiles.CreateLifeEvent(r.Context(), ev); err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Life event created", "event_id": ev.ID})
}

type CreateImageRequest struct {
	UserID       int64    `json:"user_id" validate:"required,gt=0"`
	ImageBase64  string   `json:"image_base64" validate:"required,base64"`
	ContextWho   []string `json:"context_who"`
	ContextWhere string   `json:"context_where"`
	ContextWhen  string   `json:"context_when" validate:"omitempty,datetime=2006-01-02"`
	EventTitle   string   `json:"event_title"`
	Description  string   `json:"description"`
}

func (h *APIHandler) CreateImageHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateImageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	img := &store.ImageWithContext{
		UserID:       req.UserID,
		ImageBase64:  req.ImageBase64,
		ContextWho:   req.ContextWho,
		ContextWhere: req.ContextWhere,
		ContextWhen:  req.ContextWhen,
		EventTitle:   req.EventTitle,
		Description:  req.Description,
	}
	if err := h.svc.Profiles.CreateImage(r.Context(), img); err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Image with context created", "image_id": img.ID})
}

type UserResponse struct {
	UserID    int64  `json:"user_id"`
	FullName  string `json:"full_name"`
	BirthDate string `json:"birth_date"`
	Hometown  string `json:"hometown"`
}

func (h *APIHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	user, err := h.svc.Profiles.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{
		UserID:    user.ID,
		FullName:  user.FullName,
		BirthDate: user.BirthDate,
		Hometown:  user.Hometown,
	})
}

func (h *APIHandler) GetPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	prefs, err := h.svc.Profiles.GetPreferences(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *APIHandler) GetLifeEventsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	events, err := h.svc.Profiles.GetLifeEvents(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	if len(events) == 0 {
		writeError(w, r, notFound("No life events found for this user"), "")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *APIHandler) GetImagesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	images, err := h.svc.Profiles.GetImages(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	if len(images) == 0 {
		writeError(w, r, notFound("No images found for this user"), "")
		return
	}
	writeJSON(w, http.StatusOK, images)
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Message string `json:"message"`
	UserID  int64  `json:"user_id"`
	Token   string `json:"token"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	user, token, err := h.svc.Profiles.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Message: "Login successful", UserID: user.ID, Token: token})
}

// WhoAmIHandler returns the profile of the authenticated user.
func (h *APIHandler) WhoAmIHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(userIDKey).(int64)
	user, err := h.svc.Profiles.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{
		UserID:    user.ID,
		FullName:  user.FullName,
		BirthDate: user.BirthDate,
		Hometown:  user.Hometown,
	})
}

// Image extraction

type ExtractRequest struct {
	Image string `json:"image"`
}

func (h *APIHandler) ExtractHandler(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		writeError(w, r, badRequest("No image provided"), "")
		return
	}
	res, err := h.svc.Extractor.Extract(r.Context(), req.Image)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
