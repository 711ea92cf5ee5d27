// Package topics resolves topic names against the conference's topic
// vocabulary.
package topics

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

type Topic struct {
	ID   int
	Name string
}

type Source interface {
	ListTopics(ctx context.Context) ([]Topic, error)
}

// Store is a Source that can also add entries, normally the save transaction.
type Store interface {
	Source
	InsertTopic(ctx context.Context, name string) (int, error)
}

const cacheKey = "topics"

// Vocabulary caches the committed topic list between saves.
type Vocabulary struct {
	cache *cache.Cache
}

func NewVocabulary() *Vocabulary {
	return &Vocabulary{
		cache: cache.New(10*time.Minute, 15*time.Minute),
	}
}

func (v *Vocabulary) Load(ctx context.Context, src Source) (*Set, error) {
	if cached, found := v.cache.Get(cacheKey); found {
		return cached.(*Set), nil
	}
	set, err := read(ctx, src)
	if err != nil {
		return nil, err
	}
	v.cache.Set(cacheKey, set, cache.DefaultExpiration)
	return set, nil
}

// Create inserts a topic through st and returns the vocabulary as st now
// sees it. The result is not cached because the insert may still roll back.
func (v *Vocabulary) Create(ctx context.Context, st Store, name string) (*Set, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return nil, fmt.Errorf("create topic: empty name")
	}
	if _, err := st.InsertTopic(ctx, name); err != nil {
		return nil, fmt.Errorf("create topic: %w", err)
	}
	v.Invalidate()
	return read(ctx, st)
}

func (v *Vocabulary) Invalidate() {
	v.cache.Delete(cacheKey)
}

func read(ctx context.Context, src Source) (*Set, error) {
	list, err := src.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return NewSet(list), nil
}

// Set is an immutable snapshot of the vocabulary.
type Set struct {
	topics []Topic
	byID   map[int]string
}

func NewSet(list []Topic) *Set {
	s := &Set{topics: make([]Topic, len(list)), byID: make(map[int]string, len(list))}
	copy(s.topics, list)
	sort.Slice(s.topics, func(i, j int) bool { return s.topics[i].ID < s.topics[j].ID })
	for _, t := range s.topics {
		s.byID[t.ID] = t.Name
	}
	return s
}

func (s *Set) All() []Topic {
	out := make([]Topic, len(s.topics))
	copy(out, s.topics)
	return out
}

func (s *Set) Name(id int) (string, bool) {
	name, ok := s.byID[id]
	return name, ok
}

func (s *Set) Len() int {
	return len(s.topics)
}

// Find returns the ids matching key: a known id, otherwise names equal to
// key ignoring case and runs of white space.
func (s *Set) Find(key string) []int {
	key = strings.Join(strings.Fields(key), " ")
	if key == "" {
		return nil
	}
	if id, err := strconv.Atoi(key); err == nil {
		if _, ok := s.byID[id]; ok {
			return []int{id}
		}
		return nil
	}
	var ids []int
	for _, t := range s.topics {
		if strings.EqualFold(strings.Join(strings.Fields(t.Name), " "), key) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
