package delivery

import (
	"sync"
	"time"

	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/exceptions"
)

// Attempt tracks one target of a published message. Its record keeps changing
// after Publish returns while work is still in flight.
type Attempt struct {
	mu     sync.Mutex
	record data.DeliveryAttempt
	err    error
	done   chan struct{}
	settle func()
}

func (a *Attempt) Snapshot() data.DeliveryAttempt {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record
}

// Err is the failure that made the attempt terminal, if any.
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

func (a *Attempt) _start(now time.Time) (data.DeliveryAttempt, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.record.State != data.QUEUED {
		return a.record, false
	}
	a.record.State = data.IN_FLIGHT
	a.record.UpdateTime = now
	return a.record, true
}

func (a *Attempt) _tried(now time.Time) data.DeliveryAttempt {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record.Attempts++
	a.record.UpdateTime = now
	return a.record
}

func (a *Attempt) _finish(state data.AttemptState, providerMessageId string, err error, now time.Time) (data.DeliveryAttempt, bool) {
	return a._finishIf(nil, state, providerMessageId, err, now)
}

// _expire fails an attempt that never left the queue.
func (a *Attempt) _expire(now time.Time) (data.DeliveryAttempt, bool) {
	return a._finishIf(func(current data.AttemptState) bool {
		return current == data.QUEUED
	}, data.FAILED, "", exceptions.Timeout("delivery attempt", a.record.Id), now)
}

func (a *Attempt) _finishIf(allowed func(data.AttemptState) bool, state data.AttemptState, providerMessageId string, err error, now time.Time) (data.DeliveryAttempt, bool) {
	a.mu.Lock()
	if a.record.State.Terminal() || (allowed != nil && !allowed(a.record.State)) {
		defer a.mu.Unlock()
		return a.record, false
	}
	a.record.State = state
	a.record.ProviderMessageId = providerMessageId
	a.record.UpdateTime = now
	if err != nil {
		a.record.LastError = err.Error()
	}
	a.err = err
	record := a.record
	close(a.done)
	a.mu.Unlock()
	if a.settle != nil {
		a.settle()
	}
	return record, true
}

type Summary struct {
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	OptedOut  int `json:"optedOut"`
	Pending   int `json:"pending"`
}

type Receipt struct {
	MessageId    string
	Summary      Summary
	Attempts     []*Attempt
	Deduplicated bool
	done         chan struct{}
}

func newReceipt(messageId string, attempts []*Attempt) *Receipt {
	receipt := &Receipt{
		MessageId: messageId,
		Attempts:  attempts,
		done:      make(chan struct{}),
	}
	remaining := 0
	for _, attempt := range attempts {
		if !attempt.record.State.Terminal() {
			remaining++
		}
	}
	if remaining == 0 {
		close(receipt.done)
		return receipt
	}
	var mu sync.Mutex
	for _, attempt := range attempts {
		if attempt.record.State.Terminal() {
			continue
		}
		attempt.settle = func() {
			mu.Lock()
			defer mu.Unlock()
			remaining--
			if remaining == 0 {
				close(receipt.done)
			}
		}
	}
	return receipt
}

// Done is closed once every attempt is terminal.
func (r *Receipt) Done() <-chan struct{} {
	return r.done
}

// Current recounts the attempts as they are now.
func (r *Receipt) Current() Summary {
	summary := Summary{Total: len(r.Attempts)}
	for _, attempt := range r.Attempts {
		switch attempt.Snapshot().State {
		case data.DELIVERED:
			summary.Delivered++
		case data.FAILED:
			summary.Failed++
		case data.OPTED_OUT:
			summary.OptedOut++
		default:
			summary.Pending++
		}
	}
	return summary
}

func (r *Receipt) Snapshots() []data.DeliveryAttempt {
	items := make([]data.DeliveryAttempt, len(r.Attempts))
	for i, attempt := range r.Attempts {
		items[i] = attempt.Snapshot()
	}
	return items
}

func (r *Receipt) _duplicate() *Receipt {
	return &Receipt{
		MessageId:    r.MessageId,
		Summary:      r.Current(),
		Attempts:     r.Attempts,
		Deduplicated: true,
		done:         r.done,
	}
}
