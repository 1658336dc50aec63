package topics

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/exceptions"
)

// DeleteHook runs while the deleted topic is still write locked, so nothing can
// subscribe to it concurrently.
type DeleteHook func(topicId string)

type entry struct {
	mu      sync.RWMutex
	topic   data.Topic
	deleted bool
}

// Registry owns topic identity. The registry lock only guards the indexes;
// each topic carries its own lock for create/delete vs subscribe ordering.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*entry
	byId   map[string]*entry
	hooks  []DeleteHook
	logger zerolog.Logger
	now    func() time.Time
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byName: make(map[string]*entry),
		byId:   make(map[string]*entry),
		logger: logger.With().Str("component", "topic_registry").Logger(),
		now:    time.Now,
	}
}

func (r *Registry) OnDelete(hook DeleteHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

func (r *Registry) CreateTopic(name string) (data.Topic, error) {
	if err := ValidateName(name); err != nil {
		return data.Topic{}, err
	}
	r.mu.RLock()
	existing, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return existing.topic, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[name]; ok {
		return existing.topic, nil
	}
	created := &entry{
		topic: data.Topic{
			Id:         uuid.NewString(),
			Name:       name,
			CreateTime: r.now(),
		},
	}
	r.byName[name] = created
	r.byId[created.topic.Id] = created
	r.logger.Info().Str("topic_id", created.topic.Id).Str("name", name).Msg("topic created")
	return created.topic, nil
}

func (r *Registry) _lookup(topicId string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byId[topicId]
	return e, ok
}

func (r *Registry) GetTopic(topicId string) (data.Topic, error) {
	e, ok := r._lookup(topicId)
	if !ok {
		return data.Topic{}, exceptions.NotFound("topic", topicId)
	}
	return e.topic, nil
}

func (r *Registry) ListTopics() []data.Topic {
	r.mu.RLock()
	items := make([]data.Topic, 0, len(r.byId))
	for _, e := range r.byId {
		items = append(items, e.topic)
	}
	r.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreateTime.Equal(items[j].CreateTime) {
			return items[i].Name < items[j].Name
		}
		return items[i].CreateTime.Before(items[j].CreateTime)
	})
	return items
}

// Guard runs fn while holding the topic's read lock. A topic deleted before
// the lock is acquired yields a NotFoundError.
func (r *Registry) Guard(topicId string, fn func(data.Topic) error) error {
	e, ok := r._lookup(topicId)
	if !ok {
		return exceptions.NotFound("topic", topicId)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.deleted {
		return exceptions.NotFound("topic", topicId)
	}
	return fn(e.topic)
}

// DeleteTopic removes the topic and cascades to every registered hook. A second
// delete of the same id is reported as NotFound.
func (r *Registry) DeleteTopic(topicId string) error {
	e, ok := r._lookup(topicId)
	if !ok {
		return exceptions.NotFound("topic", topicId)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return exceptions.NotFound("topic", topicId)
	}
	e.deleted = true
	r.mu.Lock()
	delete(r.byId, topicId)
	if current, ok := r.byName[e.topic.Name]; ok && current == e {
		delete(r.byName, e.topic.Name)
	}
	hooks := make([]DeleteHook, len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.Unlock()
	for _, hook := range hooks {
		hook(topicId)
	}
	r.logger.Info().Str("topic_id", topicId).Str("name", e.topic.Name).Msg("topic deleted")
	return nil
}
