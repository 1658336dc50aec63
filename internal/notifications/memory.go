package notifications

import (
	"context"
	"sync"

	"philcali.me/notify/internal/data"
)

// MemoryDeliveryLog keeps the latest record of each attempt, bounded per topic.
// Direct sends are filed under an empty topic id.
type MemoryDeliveryLog struct {
	mu       sync.RWMutex
	capacity int
	byTopic  map[string][]data.DeliveryAttempt
}

func NewMemoryDeliveryLog(capacity int) *MemoryDeliveryLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryDeliveryLog{
		capacity: capacity,
		byTopic:  make(map[string][]data.DeliveryAttempt),
	}
}

func (ml *MemoryDeliveryLog) Record(ctx context.Context, attempt data.DeliveryAttempt) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	attempts := ml.byTopic[attempt.TopicId]
	for i := range attempts {
		if attempts[i].Id == attempt.Id {
			attempts[i] = attempt
			return nil
		}
	}
	attempts = append(attempts, attempt)
	if len(attempts) > ml.capacity {
		attempts = attempts[len(attempts)-ml.capacity:]
	}
	ml.byTopic[attempt.TopicId] = attempts
	return nil
}

func (ml *MemoryDeliveryLog) ListDeliveries(topicId string, params data.QueryParams) (data.QueryResults[data.DeliveryAttempt], error) {
	ml.mu.RLock()
	snapshot := make([]data.DeliveryAttempt, len(ml.byTopic[topicId]))
	copy(snapshot, ml.byTopic[topicId])
	ml.mu.RUnlock()
	return data.Page(snapshot, params, func(attempt data.DeliveryAttempt) string {
		return attempt.Id
	}), nil
}

// Forget drops the history of a deleted topic.
func (ml *MemoryDeliveryLog) Forget(topicId string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	delete(ml.byTopic, topicId)
}
