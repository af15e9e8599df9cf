package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorylane/companion/internal/auth"
	"github.com/memorylane/companion/internal/config"
	"github.com/memorylane/companion/internal/core"
	"github.com/memorylane/companion/internal/store"
)

type mockSessions struct {
	startFunc func(ctx context.Context, userID int64) (*store.ChatSession, error)
	chatFunc  func(ctx context.Context, id int64, message string) (*core.ChatReply, error)
	quizFunc  func(ctx context.Context, id int64, answer string) (*core.QuizReply, error)
}

func (m *mockSessions) StartSession(ctx context.Context, userID int64) (*store.ChatSession, error) {
	if m.startFunc != nil {
		return m.startFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockSessions) Chat(ctx context.Context, id int64, message string) (*core.ChatReply, error) {
	if m.chatFunc != nil {
		return m.chatFunc(ctx, id, message)
	}
	return nil, nil
}

func (m *mockSessions) Quiz(ctx context.Context, id int64, answer string) (*core.QuizReply, error) {
	if m.quizFunc != nil {
		return m.quizFunc(ctx, id, answer)
	}
	return nil, nil
}

type mockQuizPool struct {
	getFunc  func(ctx context.Context, userID int64) (*core.QuizSet, error)
	postFunc func(ctx context.Context, userID int64, items []core.AnsweredQuestion) ([]core.QuestionResult, error)
}

func (m *mockQuizPool) GetQuiz(ctx context.Context, userID int64) (*core.QuizSet, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, userID)
	}
	return &core.QuizSet{}, nil
}

func (m *mockQuizPool) PostQuiz(ctx context.Context, userID int64, items []core.AnsweredQuestion) ([]core.QuestionResult, error) {
	if m.postFunc != nil {
		return m.postFunc(ctx, userID, items)
	}
	return nil, nil
}

type mockProfiles struct {
	createUserFunc   func(ctx context.Context, in core.NewUser) (*store.User, error)
	createEventFunc  func(ctx context.Context, ev *store.LifeEvent) error
	getUserFunc      func(ctx context.Context, id int64) (*store.User, error)
	getEventsFunc    func(ctx context.Context, userID int64) ([]store.LifeEvent, error)
	saveUserDataFunc func(ctx context.Context, userID int64, in core.UserDataInput) error
	loginFunc        func(ctx context.Context, email, password string) (*store.User, string, error)
}

func (m *mockProfiles) CreateUser(ctx context.Context, in core.NewUser) (*store.User, error) {
	if m.createUserFunc != nil {
		return m.createUserFunc(ctx, in)
	}
	return &store.User{ID: 1}, nil
}

func (m *mockProfiles) CreatePreference(context.Context, *store.UserPreference) error { return nil }

func (m *mockProfiles) CreateLifeEvent(ctx context.Context, ev *store.LifeEvent) error {
	if m.createEventFunc != nil {
		return m.createEventFunc(ctx, ev)
	}
	return nil
}

func (m *mockProfiles) CreateImage(_ context.Context, img *store.ImageWithContext) error {
	img.ID = "image-1"
	return nil
}

func (m *mockProfiles) GetUser(ctx context.Context, id int64) (*store.User, error) {
	if m.getUserFunc != nil {
		return m.getUserFunc(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockProfiles) GetPreferences(context.Context, int64) ([]store.UserPreference, error) {
	return []store.UserPreference{}, nil
}

func (m *mockProfiles) GetLifeEvents(ctx context.Context, userID int64) ([]store.LifeEvent, error) {
	if m.getEventsFunc != nil {
		return m.getEventsFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockProfiles) GetImages(context.Context, int64) ([]store.ImageWithContext, error) {
	return nil, nil
}

func (m *mockProfiles) SaveUserData(ctx context.Context, userID int64, in core.UserDataInput) error {
	if m.saveUserDataFunc != nil {
		return m.saveUserDataFunc(ctx, userID, in)
	}
	return nil
}

func (m *mockProfiles) Login(ctx context.Context, email, password string) (*store.User, string, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, email, password)
	}
	return nil, "", core.ErrInvalidCredentials
}

type mockExtractor struct {
	extractFunc func(ctx context.Context, imageBase64 string) (*core.ExtractResult, error)
}

func (m *mockExtractor) Extract(ctx context.Context, imageBase64 string) (*core.ExtractResult, error) {
	if m.extractFunc != nil {
		return m.extractFunc(ctx, imageBase64)
	}
	return &core.ExtractResult{Objects: []string{}}, nil
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(context.Context) error { return m.err }

type testServices struct {
	sessions  *mockSessions
	quizPool  *mockQuizPool
	profiles  *mockProfiles
	extractor *mockExtractor
	health    mockPinger
}

func newTestServices() *testServices {
	return &testServices{
		sessions:  &mockSessions{},
		quizPool:  &mockQuizPool{},
		profiles:  &mockProfiles{},
		extractor: &mockExtractor{},
	}
}

func (s *testServices) router() http.Handler {
	h := NewAPIHandler(Services{
		Sessions:  s.sessions,
		QuizPool:  s.quizPool,
		Profiles:  s.profiles,
		Extractor: s.extractor,
		Health:    s.health,
	})
	return NewRouter(h, []string{"*"})
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	svc := newTestServices()
	rec := doRequest(t, svc.router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	svc.health = mockPinger{err: errors.New("db down")}
	rec = doRequest(t, svc.router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStartChat(t *testing.T) {
	svc := newTestServices()
	svc.sessions.startFunc = func(_ context.Context, userID int64) (*store.ChatSession, error) {
		if userID != 1 {
			return nil, fmt.Errorf("failed to load user %d: %w", userID, store.ErrNotFound)
		}
		return &store.ChatSession{ID: 7, UserID: 1}, nil
	}
	router := svc.router()

	rec := doRequest(t, router, http.MethodGet, "/start_chat/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(7), body["session_id"])
	assert.Equal(t, core.GreetingMessage, body["message"])

	rec = doRequest(t, router, http.MethodGet, "/start_chat/2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found!", decodeBody(t, rec)["message"])

	rec = doRequest(t, router, http.MethodGet, "/start_chat/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid user_id", decodeBody(t, rec)["message"])
}

func TestChatErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKey    string
		wantValue  string
	}{
		{"not found", store.ErrNotFound, http.StatusNotFound, "message", "Chat session not found!"},
		{"closed", core.ErrSessionClosed, http.StatusGone, "message", "Chat session is closed."},
		{"conflict", fmt.Errorf("failed to advance quiz: %w", store.ErrConflict), http.StatusConflict, "message", "The quiz has already moved on. Please try again."},
		{"internal", errors.New("generator exploded"), http.StatusInternalServerError, "error", "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestServices()
			svc.sessions.chatFunc = func(context.Context, int64, string) (*core.ChatReply, error) {
				return nil, tt.err
			}
			rec := doRequest(t, svc.router(), http.MethodPost, "/chat/1", ChatRequest{Message: "hello"})
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantValue, decodeBody(t, rec)[tt.wantKey])
			assert.NotContains(t, rec.Body.String(), "exploded")
		})
	}
}

func TestChat(t *testing.T) {
	svc := newTestServices()
	svc.sessions.chatFunc = func(_ context.Context, id int64, message string) (*core.ChatReply, error) {
		assert.Equal(t, int64(3), id)
		return &core.ChatReply{UserMessage: message, Message: "Let's start the quiz!", Quiz: true}, nil
	}
	router := svc.router()

	rec := doRequest(t, router, http.MethodPost, "/chat/3", ChatRequest{Message: "quiz"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["quiz"])
	assert.Equal(t, "quiz", body["user_message"])

	rec = doRequest(t, router, http.MethodPost, "/chat/3", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message is required", decodeBody(t, rec)["message"])

	rec = doRequest(t, router, http.MethodPost, "/chat/3", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuiz(t *testing.T) {
	svc := newTestServices()
	svc.sessions.quizFunc = func(_ context.Context, _ int64, answer string) (*core.QuizReply, error) {
		switch answer {
		case "start quiz":
			return &core.QuizReply{Question: "What is your favorite color?", Answer: "Blue", Hint: "The answer starts with 'B'."}, nil
		case "again":
			return nil, core.ErrQuizAlreadyStarted
		case "twice":
			return nil, fmt.Errorf("failed to advance quiz: %w", store.ErrConflict)
		default:
			return nil, core.ErrNoQuestion
		}
	}
	router := svc.router()

	rec := doRequest(t, router, http.MethodPost, "/quiz/1", QuizRequest{Answer: "start quiz"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "What is your favorite color?", body["question"])
	assert.Equal(t, false, body["quiz_done"])
	assert.Nil(t, body["is_correct"])

	rec = doRequest(t, router, http.MethodPost, "/quiz/1", QuizRequest{Answer: "again"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Quiz already started!", decodeBody(t, rec)["message"])

	rec = doRequest(t, router, http.MethodPost, "/quiz/1", QuizRequest{Answer: "twice"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "The quiz has already moved on. Please try again.", decodeBody(t, rec)["message"])

	rec = doRequest(t, router, http.MethodPost, "/quiz/1", QuizRequest{Answer: "other"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No more quizzes available.", decodeBody(t, rec)["message"])
}

func TestPostQuiz(t *testing.T) {
	svc := newTestServices()
	var got []core.AnsweredQuestion
	svc.quizPool.postFunc = func(_ context.Context, _ int64, items []core.AnsweredQuestion) ([]core.QuestionResult, error) {
		got = items
		return []core.QuestionResult{{Question: items[0].Question, IsCorrect: true, SimilarityScore: 1}}, nil
	}
	router := svc.router()

	rec := doRequest(t, router, http.MethodPost, "/post_quiz/1", map[string]any{
		"about_me": []map[string]any{{
			"question":             "Where is your hometown?",
			"answer":               "Malabe",
			"user_answer":          "malabe",
			"sub_questions":        []string{"What makes your hometown special to you?"},
			"sub_questions_answer": []string{"the temple"},
		}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Len(t, body["result"], 1)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"the temple"}, got[0].SubQuestionAnswers)

	rec = doRequest(t, router, http.MethodPost, "/post_quiz/1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/post_quiz/1", map[string]any{
		"about_me": []map[string]any{{"answer": "x"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "about_me[0].question is required", decodeBody(t, rec)["message"])
}

func TestSaveUser(t *testing.T) {
	svc := newTestServices()
	var savedID int64
	svc.profiles.saveUserDataFunc = func(_ context.Context, userID int64, in core.UserDataInput) error {
		savedID = userID
		if in.AboutMe.FullName == "fail" {
			return errors.New("disk full")
		}
		return nil
	}
	router := svc.router()

	payload := map[string]any{"user_data": map[string]any{
		"about_me": map[string]any{
			"full_name":       "Vidusha",
			"birth_date":      "2000-08-24",
			"hometown":        "Malabe",
			"hobbies":         []string{"reading"},
			"favorite_things": map[string]string{"color": "Blue"},
		},
		"life_events":         []any{},
		"images_with_context": []any{},
	}}
	rec := doRequest(t, router, http.MethodPost, "/save_user/9", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User data saved successfully", decodeBody(t, rec)["message"])
	assert.Equal(t, int64(9), savedID)

	payload["user_data"].(map[string]any)["about_me"].(map[string]any)["birth_date"] = "24/08/2000"
	rec = doRequest(t, router, http.MethodPost, "/save_user/9", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "user_data.about_me.birth_date must be a YYYY-MM-DD date", decodeBody(t, rec)["message"])

	rec = doRequest(t, router, http.MethodPost, "/save_user/9", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload["user_data"].(map[string]any)["about_me"] = map[string]any{"full_name": "fail"}
	rec = doRequest(t, router, http.MethodPost, "/save_user/9", payload)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeBody(t, rec)["error"])
}

func TestCreateUser(t *testing.T) {
	svc := newTestServices()
	svc.profiles.createUserFunc = func(_ context.Context, in core.NewUser) (*store.User, error) {
		if in.Email == "taken@example.com" {
			return nil, store.ErrDuplicate
		}
		return &store.User{ID: 5, FullName: in.FullName}, nil
	}
	router := svc.router()

	req := core.NewUser{FullName: "Vidusha", BirthDate: "2000-08-24", Email: "v@example.com", Password: "vidusha123"}
	rec := doRequest(t, router, http.MethodPost, "/create_user", req)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "User created successfully", body["message"])
	assert.Equal(t, float64(5), body["user_id"])

	req.Email = "taken@example.com"
	rec = doRequest(t, router, http.MethodPost, "/create_user", req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	req.Email = "not-an-email"
	rec = doRequest(t, router, http.MethodPost, "/create_user", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateLifeEventParsesPeople(t *testing.T) {
	svc := newTestServices()
	var got *store.LifeEvent
	svc.profiles.createEventFunc = func(_ context.Context, ev *store.LifeEvent) error {
		ev.ID = "event-1"
		got = ev
		return nil
	}

	rec := doRequest(t, svc.router(), http.MethodPost, "/create_life_event", CreateLifeEventRequest{
		UserID:        1,
		EventTitle:    "Graduation Day",
		EventDate:     "2022-06-15",
		RelatedPeople: []string{"Amal (brother)"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "event-1", decodeBody(t, rec)["event_id"])
	require.NotNil(t, got)
	assert.Equal(t, []store.Person{{Name: "Amal", Relationship: "brother"}}, got.RelatedPeople)
}

func TestCreateImage(t *testing.T) {
	svc := newTestServices()
	rec := doRequest(t, svc.router(), http.MethodPost, "/create_image", CreateImageRequest{UserID: 1, ImageBase64: "aW1hZ2U="})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image-1", decodeBody(t, rec)["image_id"])

	rec = doRequest(t, svc.router(), http.MethodPost, "/create_image", CreateImageRequest{UserID: 1, ImageBase64: "%%%"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUserAndLists(t *testing.T) {
	svc := newTestServices()
	svc.profiles.getUserFunc = func(_ context.Context, id int64) (*store.User, error) {
		if id == 1 {
			return &store.User{ID: 1, FullName: "Vidusha", BirthDate: "2000-08-24", Hometown: "Malabe", PasswordHash: "secret-hash"}, nil
		}
		return nil, store.ErrNotFound
	}
	router := svc.router()

	rec := doRequest(t, router, http.MethodGet, "/get_user/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Vidusha", decodeBody(t, rec)["full_name"])
	assert.NotContains(t, rec.Body.String(), "secret-hash")

	rec = doRequest(t, router, http.MethodGet, "/get_user/2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", decodeBody(t, rec)["message"])

	rec = doRequest(t, router, http.MethodGet, "/get_life_events/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No life events found for this user", decodeBody(t, rec)["message"])

	rec = doRequest(t, router, http.MethodGet, "/get_images/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/get_preferences/1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestLoginAndWhoAmI(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"
	svc := newTestServices()
	svc.profiles.loginFunc = func(_ context.Context, email, password string) (*store.User, string, error) {
		if email != "vidusha@example.com" || password != "vidusha123" {
			return nil, "", core.ErrInvalidCredentials
		}
		token, err := auth.GenerateJWT(1)
		return &store.User{ID: 1}, token, err
	}
	svc.profiles.getUserFunc = func(_ context.Context, id int64) (*store.User, error) {
		return &store.User{ID: id, FullName: "Vidusha"}, nil
	}
	router := svc.router()

	rec := doRequest(t, router, http.MethodPost, "/request_login", LoginRequest{Email: "vidusha@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decodeBody(t, rec)["error"])

	rec = doRequest(t, router, http.MethodPost, "/request_login", LoginRequest{Email: "vidusha@example.com", Password: "vidusha123"})
	require.Equal(t, http.StatusOK, rec.Code)
	var login LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	assert.Equal(t, "Login successful", login.Message)
	assert.Equal(t, int64(1), login.UserID)
	require.NotEmpty(t, login.Token)

	rec = doRequest(t, router, http.MethodGet, "/whoami", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	whoami := httptest.NewRecorder()
	router.ServeHTTP(whoami, req)
	require.Equal(t, http.StatusOK, whoami.Code)
	assert.Equal(t, "Vidusha", decodeBody(t, whoami)["full_name"])

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	bad := httptest.NewRecorder()
	router.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
}

func TestExtract(t *testing.T) {
	svc := newTestServices()
	svc.extractor.extractFunc = func(_ context.Context, image string) (*core.ExtractResult, error) {
		if image == "bad" {
			return nil, fmt.Errorf("%w: illegal base64 data", core.ErrInvalidImage)
		}
		return &core.ExtractResult{EventTitle: "What event is this image related to?", Objects: []string{"cake"}}, nil
	}
	router := svc.router()

	rec := doRequest(t, router, http.MethodPost, "/extract", ExtractRequest{Image: "aW1hZ2U="})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"cake"}, decodeBody(t, rec)["objects"])

	rec = doRequest(t, router, http.MethodPost, "/extract", ExtractRequest{Image: "bad"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/extract", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No image provided", decodeBody(t, rec)["message"])

	rec = doRequest(t, router, http.MethodPost, "/extract", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "Invalid request body")
}

func TestMetricsEndpoint(t *testing.T) {
	svc := newTestServices()
	router := svc.router()
	doRequest(t, router, http.MethodGet, "/health", nil)

	rec := doRequest(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `companion_http_requests_total{method="GET",route="/health",status="200"}`)
}

func TestCORSPreflight(t *testing.T) {
	svc := newTestServices()
	req := httptest.NewRequest(http.MethodOptions, "/chat/1", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	svc.router().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
