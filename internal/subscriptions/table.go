package subscriptions

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"iter"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/endpoints"
	"philcali.me/notify/internal/exceptions"
	"philcali.me/notify/internal/notifications"
	"philcali.me/notify/internal/topics"
)

type Topics interface {
	Guard(topicId string, fn func(data.Topic) error) error
	OnDelete(hook topics.DeleteHook)
}

type record struct {
	sub   data.Subscription
	token string
}

type bucket struct {
	mu    sync.RWMutex
	order []*record
	byId  map[string]*record
}

func (b *bucket) _remove(id string) bool {
	if _, ok := b.byId[id]; !ok {
		return false
	}
	delete(b.byId, id)
	for i, r := range b.order {
		if r.sub.Id == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return true
}

// Table owns subscription records grouped per topic. Records are only mutated
// under their bucket's write lock and are copied out, so readers never see a
// half-written subscription.
type Table struct {
	mu            sync.RWMutex
	buckets       map[string]*bucket
	index         map[string]string
	topics        Topics
	confirmations notifications.ConfirmationChannel
	logger        zerolog.Logger
	now           func() time.Time
}

func NewTable(topics Topics, confirmations notifications.ConfirmationChannel, logger zerolog.Logger) *Table {
	table := &Table{
		buckets:       make(map[string]*bucket),
		index:         make(map[string]string),
		topics:        topics,
		confirmations: confirmations,
		logger:        logger.With().Str("component", "subscription_table").Logger(),
		now:           time.Now,
	}
	topics.OnDelete(table._dropTopic)
	return table
}

func _newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generate confirmation token")
	}
	return hex.EncodeToString(buf), nil
}

func (t *Table) _bucket(topicId string, create bool) *bucket {
	t.mu.RLock()
	b, ok := t.buckets[topicId]
	t.mu.RUnlock()
	if ok || !create {
		return b
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok = t.buckets[topicId]; !ok {
		b = &bucket{byId: make(map[string]*record)}
		t.buckets[topicId] = b
	}
	return b
}

// Subscribe registers an endpoint on a topic. Subscribing the same endpoint twice
// returns the existing subscription unless it was rejected.
func (t *Table) Subscribe(ctx context.Context, topicId string, kind data.EndpointKind, address string) (data.Subscription, error) {
	if !kind.Valid() {
		return data.Subscription{}, exceptions.InvalidEndpoint(string(kind), address, "unsupported protocol")
	}
	normalized, err := endpoints.Normalize(kind, address)
	if err != nil {
		return data.Subscription{}, err
	}
	token, err := _newToken()
	if err != nil {
		return data.Subscription{}, err
	}
	var created data.Subscription
	existed := false
	err = t.topics.Guard(topicId, func(topic data.Topic) error {
		b := t._bucket(topic.Id, true)
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, r := range b.order {
			if r.sub.Kind == kind && r.sub.Address == normalized && r.sub.State != data.REJECTED {
				created = r.sub
				existed = true
				return nil
			}
		}
		now := t.now()
		state := data.CONFIRMED
		if kind.RequiresConfirmation() {
			state = data.PENDING
		}
		r := &record{
			sub: data.Subscription{
				Id:         uuid.NewString(),
				TopicId:    topic.Id,
				Kind:       kind,
				Address:    normalized,
				State:      state,
				CreateTime: now,
				UpdateTime: now,
			},
			token: token,
		}
		b.order = append(b.order, r)
		b.byId[r.sub.Id] = r
		t.mu.Lock()
		t.index[r.sub.Id] = topic.Id
		t.mu.Unlock()
		created = r.sub
		return nil
	})
	if err != nil || existed {
		return created, err
	}
	if created.State == data.PENDING && t.confirmations != nil {
		if err := t.confirmations.SendConfirmation(ctx, created, token); err != nil {
			t.Unsubscribe(created.Id)
			return data.Subscription{}, errors.Wrapf(err, "send confirmation for subscription %s to %s", created.Id, created.Address)
		}
	}
	t.logger.Info().
		Str("subscription_id", created.Id).
		Str("topic_id", created.TopicId).
		Str("protocol", string(kind)).
		Str("state", string(created.State)).
		Msg("subscription created")
	return created, nil
}

func (t *Table) _locate(subscriptionId string) (*bucket, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	topicId, ok := t.index[subscriptionId]
	if !ok {
		return nil, false
	}
	b, ok := t.buckets[topicId]
	return b, ok
}

func (t *Table) _transition(subscriptionId string, token string, to data.ConfirmationState) (data.Subscription, error) {
	b, ok := t._locate(subscriptionId)
	if !ok {
		return data.Subscription{}, exceptions.NotFound("subscription", subscriptionId)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.byId[subscriptionId]
	if !ok {
		return data.Subscription{}, exceptions.NotFound("subscription", subscriptionId)
	}
	if subtle.ConstantTimeCompare([]byte(r.token), []byte(token)) != 1 {
		return data.Subscription{}, exceptions.Confirmation(subscriptionId, "token does not match")
	}
	if r.sub.State == to {
		return r.sub, nil
	}
	if r.sub.State != data.PENDING {
		return data.Subscription{}, exceptions.Confirmation(subscriptionId, "subscription is "+string(r.sub.State))
	}
	r.sub.State = to
	r.sub.UpdateTime = t.now()
	return r.sub, nil
}

func (t *Table) ConfirmSubscription(subscriptionId string, token string) (data.Subscription, error) {
	return t._transition(subscriptionId, token, data.CONFIRMED)
}

func (t *Table) RejectSubscription(subscriptionId string, token string) (data.Subscription, error) {
	return t._transition(subscriptionId, token, data.REJECTED)
}

func (t *Table) GetSubscription(subscriptionId string) (data.Subscription, error) {
	b, ok := t._locate(subscriptionId)
	if !ok {
		return data.Subscription{}, exceptions.NotFound("subscription", subscriptionId)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.byId[subscriptionId]
	if !ok {
		return data.Subscription{}, exceptions.NotFound("subscription", subscriptionId)
	}
	return r.sub, nil
}

// Unsubscribe is a no-op for unknown or already removed subscriptions.
func (t *Table) Unsubscribe(subscriptionId string) {
	b, ok := t._locate(subscriptionId)
	if !ok {
		return
	}
	b.mu.Lock()
	removed := b._remove(subscriptionId)
	b.mu.Unlock()
	if removed {
		t.mu.Lock()
		delete(t.index, subscriptionId)
		t.mu.Unlock()
		t.logger.Info().Str("subscription_id", subscriptionId).Msg("subscription removed")
	}
}

func (t *Table) _snapshot(topicId string, filter func(data.Subscription) bool) []data.Subscription {
	b := t._bucket(topicId, false)
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	items := make([]data.Subscription, 0, len(b.order))
	for _, r := range b.order {
		if filter == nil || filter(r.sub) {
			items = append(items, r.sub)
		}
	}
	return items
}

// ListByTopic yields the topic's subscriptions in creation order. Every range
// over the returned sequence starts from a fresh snapshot.
func (t *Table) ListByTopic(topicId string) (iter.Seq[data.Subscription], error) {
	if err := t.topics.Guard(topicId, func(data.Topic) error { return nil }); err != nil {
		return nil, err
	}
	return func(yield func(data.Subscription) bool) {
		for _, sub := range t._snapshot(topicId, nil) {
			if !yield(sub) {
				return
			}
		}
	}, nil
}

// Confirmed returns the confirmed subscriptions of a topic at this instant.
func (t *Table) Confirmed(topicId string) ([]data.Subscription, error) {
	var items []data.Subscription
	err := t.topics.Guard(topicId, func(data.Topic) error {
		items = t._snapshot(topicId, func(sub data.Subscription) bool {
			return sub.State == data.CONFIRMED
		})
		return nil
	})
	return items, err
}

func (t *Table) _dropTopic(topicId string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[topicId]
	if !ok {
		return
	}
	delete(t.buckets, topicId)
	b.mu.Lock()
	for id := range b.byId {
		delete(t.index, id)
	}
	count := len(b.order)
	b.order = nil
	b.byId = make(map[string]*record)
	b.mu.Unlock()
	t.logger.Info().Str("topic_id", topicId).Int("subscriptions", count).Msg("subscriptions cascaded")
}
