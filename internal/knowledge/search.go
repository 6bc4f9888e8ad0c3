// ABOUTME: Keyword search over the knowledge base with relevance scoring
// ABOUTME: Normalizes Spanish text, strips stopwords and re-ranks candidate rows

package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tisals/chatbot-gateway/internal/store"
)

// Scoring weights. A term hit in the question outweighs category outweighs
// answer; full-query and exact-category matches earn a flat bonus.
const (
	scoreTermInQuestion  = 10
	scoreTermInCategory  = 5
	scoreTermInAnswer    = 2
	scoreQueryInQuestion = 20
	scoreCategoryExact   = 15
)

// minTermLength is the shortest word considered a search term.
const minTermLength = 3

// Store defines what the search service needs from storage.
type Store interface {
	SearchKnowledgeCandidates(ctx context.Context, terms []string, limit int) ([]*store.KnowledgeEntry, error)
	GetKnowledgeEntry(ctx context.Context, id int64) (*store.KnowledgeEntry, error)
}

// Service ranks knowledge base entries against free-text queries.
type Service struct {
	store  Store
	logger *slog.Logger
}

// New creates a knowledge search service.
func New(st Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		logger: logger.With("component", "knowledge"),
	}
}

// ScoredEntry is a knowledge entry with its relevance score.
type ScoredEntry struct {
	*store.KnowledgeEntry
	Score int
}

// Search returns up to limit entries ordered by descending relevance.
// A query with no useful terms (empty, or stopwords only) returns an empty
// result, never an error and never a match-everything scan. Ties preserve the
// candidate fetch order, which is insertion order.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]ScoredEntry, error) {
	if limit <= 0 {
		limit = 5
	}

	terms := ExtractKeyTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	// Fetch extra candidates so re-ranking has headroom
	candidates, err := s.store.SearchKnowledgeCandidates(ctx, terms, limit*3)
	if err != nil {
		return nil, fmt.Errorf("fetching candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	normalizedQuery := strings.Trim(Normalize(query), trimCutset)
	scored := make([]ScoredEntry, 0, len(candidates))
	for _, entry := range candidates {
		scored = append(scored, ScoredEntry{
			KnowledgeEntry: entry,
			Score:          relevanceScore(normalizedQuery, entry),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}

	s.logger.Debug("knowledge search", "terms", len(terms), "candidates", len(candidates), "returned", len(scored))
	return scored, nil
}

// GetByID returns a single knowledge entry.
func (s *Service) GetByID(ctx context.Context, id int64) (*store.KnowledgeEntry, error) {
	return s.store.GetKnowledgeEntry(ctx, id)
}

// relevanceScore computes the relevance of an entry against the normalized query.
func relevanceScore(normalizedQuery string, entry *store.KnowledgeEntry) int {
	question := Normalize(entry.Question)
	category := Normalize(entry.Category)
	answer := Normalize(entry.Answer)

	score := 0
	for _, term := range strings.Fields(normalizedQuery) {
		term = strings.Trim(term, trimCutset)
		if len(term) < minTermLength {
			continue
		}
		if strings.Contains(question, term) {
			score += scoreTermInQuestion
		}
		if strings.Contains(category, term) {
			score += scoreTermInCategory
		}
		if strings.Contains(answer, term) {
			score += scoreTermInAnswer
		}
	}

	if strings.Contains(question, normalizedQuery) {
		score += scoreQueryInQuestion
	}
	if category == normalizedQuery {
		score += scoreCategoryExact
	}

	return score
}
