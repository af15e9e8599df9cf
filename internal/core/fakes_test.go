package core

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/require"

	"github.com/memorylane/companion/internal/store"
)

const fakeEmbeddingDims = 512

// wordEmbedder gives every distinct word its own dimension, so identical
// texts have similarity 1 and texts without shared words have similarity 0.
type wordEmbedder struct {
	mu    sync.Mutex
	index map[string]int
	err   error
}

func newWordEmbedder() *wordEmbedder {
	return &wordEmbedder{index: make(map[string]int)}
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	vec := make([]float32, fakeEmbeddingDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		i, ok := e.index[w]
		if !ok {
			i = len(e.index) % fakeEmbeddingDims
			e.index[w] = i
		}
		vec[i]++
	}
	return vec, nil
}

type fakeGenerator struct {
	reply string
	err   error
	calls []string
}

func (g *fakeGenerator) GenerateReply(_ context.Context, message string) (string, error) {
	g.calls = append(g.calls, message)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type fakeDetector struct {
	objects  []string
	err      error
	mimeType string
}

func (d *fakeDetector) DetectObjects(_ context.Context, _ []byte, mimeType string) ([]string, error) {
	d.mimeType = mimeType
	if d.err != nil {
		return nil, d.err
	}
	return d.objects, nil
}

// fakeProfiles is an in-memory ProfileReader for a single user.
type fakeProfiles struct {
	user   *store.User
	pref   *store.UserPreference
	events []store.LifeEvent
	images []store.ImageWithContext
}

func (p *fakeProfiles) GetUser(_ context.Context, id int64) (*store.User, error) {
	if p.user == nil || p.user.ID != id {
		return nil, store.ErrNotFound
	}
	return p.user, nil
}

func (p *fakeProfiles) GetPreference(_ context.Context, userID int64) (*store.UserPreference, error) {
	if p.pref == nil || p.pref.UserID != userID {
		return nil, store.ErrNotFound
	}
	return p.pref, nil
}

func (p *fakeProfiles) GetLifeEvents(_ context.Context, userID int64) ([]store.LifeEvent, error) {
	var out []store.LifeEvent
	for _, ev := range p.events {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (p *fakeProfiles) GetImages(_ context.Context, userID int64) ([]store.ImageWithContext, error) {
	var out []store.ImageWithContext
	for _, img := range p.images {
		if img.UserID == userID {
			out = append(out, img)
		}
	}
	return out, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errBoom = errors.New("boom")

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "companion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedProfile stores a user with one preference row, one life event and one photo.
func seedProfile(t *testing.T, st *store.SQLiteStore) int64 {
	t.Helper()
	ctx := context.Background()

	user := &store.User{FullName: "Vidusha", BirthDate: "2000-08-24", Hometown: "Malabe"}
	require.NoError(t, st.CreateUser(ctx, user))
	require.NoError(t, st.UpsertPreference(ctx, &store.UserPreference{UserID: user.ID, FavoriteColor: "Blue"}))
	require.NoError(t, st.CreateLifeEvent(ctx, &store.LifeEvent{
		UserID:      user.ID,
		EventTitle:  "Graduation Day",
		EventDate:   "2022-06-15",
		Description: "I graduated from university with my family watching",
		Emotions:    []string{"proud", "happy", "nervous"},
	}))
	require.NoError(t, st.CreateImage(ctx, &store.ImageWithContext{
		UserID:       user.ID,
		ImageBase64:  "aW1hZ2U=",
		ContextWho:   []string{"Amal", "Nimali"},
		ContextWhere: "Kandy",
		ContextWhen:  "2019-04-14",
		EventTitle:   "New Year Party",
		Description:  "A family party with games and sweets",
	}))
	return user.ID
}
