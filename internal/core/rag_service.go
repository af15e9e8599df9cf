package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"github.com/memorylane/companion/internal/store"
	"github.com/memorylane/companion/internal/utils"
)

const (
	NumRelevantMemories       = 3    // Number of memories to put in front of the generator
	MemorySimilarityThreshold = 0.6  // Minimum similarity for a memory to count as relevant
	MemoryCacheSize           = 1024 // Memory embeddings kept across requests
)

// MemoryRetriever finds the user's life events and photos that relate to a
// chat message, so free-text replies can refer back to them.
type MemoryRetriever struct {
	profiles  ProfileReader
	embedder  Embedder
	threshold float64
	cache     *lru.Cache[string, []float32] // memory text -> embedding, least recently used evicted
}

func NewMemoryRetriever(profiles ProfileReader, embedder Embedder, threshold float64) *MemoryRetriever {
	return newMemoryRetriever(profiles, embedder, threshold, MemoryCacheSize)
}

func newMemoryRetriever(profiles ProfileReader, embedder Embedder, threshold float64, cacheSize int) *MemoryRetriever {
	if threshold <= 0 {
		threshold = MemorySimilarityThreshold
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		// Only a non-positive size fails.
		cache, _ = lru.New[string, []float32](MemoryCacheSize)
	}
	return &MemoryRetriever{
		profiles:  profiles,
		embedder:  embedder,
		threshold: threshold,
		cache:     cache,
	}
}

type ScoredMemory struct {
	Text       string
	Similarity float64
}

// RelevantMemories returns up to NumRelevantMemories memories of userID whose
// similarity to query reaches the threshold, most similar first.
func (m *MemoryRetriever) RelevantMemories(ctx context.Context, userID int64, query string) ([]ScoredMemory, error) {
	memories, err := m.memoryTexts(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return nil, nil
	}

	queryEmbedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get query embedding: %w", err)
	}

	var scored []ScoredMemory
	for _, text := range memories {
		emb, err := m.embedding(ctx, text)
		if err != nil {
			return nil, err
		}
		sim, err := utils.CosineSimilarity(queryEmbedding, emb)
		if err != nil {
			log.WithError(err).Warn("Skipping memory with incomparable embedding")
			continue
		}
		if sim >= m.threshold {
			scored = append(scored, ScoredMemory{Text: text, Similarity: sim})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > NumRelevantMemories {
		scored = scored[:NumRelevantMemories]
	}
	return scored, nil
}

// Augment prefixes message with the relevant memories of userID. Retrieval
// failures are logged and the message is returned unchanged.
func (m *MemoryRetriever) Augment(ctx context.Context, userID int64, message string) string {
	memories, err := m.RelevantMemories(ctx, userID, message)
	if err != nil {
		log.WithError(err).Warnf("Failed to retrieve memories for user %d, proceeding without them", userID)
		return message
	}
	if len(memories) == 0 {
		return message
	}
	log.Debugf("Retrieved %d relevant memories for user %d", len(memories), userID)

	var b strings.Builder
	b.WriteString("Some memories the user has shared that may be relevant:\n")
	for _, mem := range memories {
		b.WriteString("- ")
		b.WriteString(mem.Text)
		b.WriteString("\n")
	}
	b.WriteString("\nThe user says: ")
	b.WriteString(message)
	return b.String()
}

func (m *MemoryRetriever) embedding(ctx context.Context, text string) ([]float32, error) {
	if emb, ok := m.cache.Get(text); ok {
		return emb, nil
	}

	emb, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed memory: %w", err)
	}
	m.cache.Add(text, emb)
	return emb, nil
}

func (m *MemoryRetriever) memoryTexts(ctx context.Context, userID int64) ([]string, error) {
	events, err := m.profiles.GetLifeEvents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load life events for memories: %w", err)
	}
	images, err := m.profiles.GetImages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load images for memories: %w", err)
	}

	texts := make([]string, 0, len(events)+len(images))
	for _, ev := range events {
		texts = append(texts, lifeEventMemory(ev))
	}
	for _, img := range images {
		texts = append(texts, imageMemory(img))
	}
	return texts, nil
}

func lifeEventMemory(ev store.LifeEvent) string {
	var b strings.Builder
	b.WriteString(ev.EventTitle)
	if ev.EventDate != "" {
		fmt.Fprintf(&b, " (%s)", ev.EventDate)
	}
	if ev.Description != "" {
		fmt.Fprintf(&b, ": %s.", strings.TrimSuffix(ev.Description, "."))
	}
	if len(ev.Emotions) > 0 {
		fmt.Fprintf(&b, " Felt %s.", JoinAnswer(ev.Emotions))
	}
	if len(ev.RelatedPeople) > 0 {
		names := make([]string, 0, len(ev.RelatedPeople))
		for _, p := range ev.RelatedPeople {
			if p.Relationship != "" {
				names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.Relationship))
			} else {
				names = append(names, p.Name)
			}
		}
		fmt.Fprintf(&b, " With %s.", JoinAnswer(names))
	}
	return b.String()
}

func imageMemory(img store.ImageWithContext) string {
	var b strings.Builder
	b.WriteString("Photo")
	if img.EventTitle != "" {
		fmt.Fprintf(&b, " from %s", img.EventTitle)
	}
	if img.ContextWhere != "" {
		fmt.Fprintf(&b, " in %s", img.ContextWhere)
	}
	if img.ContextWhen != "" {
		fmt.Fprintf(&b, " on %s", img.ContextWhen)
	}
	if len(img.ContextWho) > 0 {
		fmt.Fprintf(&b, " with %s", JoinAnswer(img.ContextWho))
	}
	if img.Description != "" {
		fmt.Fprintf(&b, ": %s", img.Description)
	}
	return b.String()
}
