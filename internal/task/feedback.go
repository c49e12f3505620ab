package task

import (
	"fmt"
	"slices"
)

// QueueFeedback appends an item to the feedback queue.
func (t *Task) QueueFeedback(text string) error {
	return t.update(func(m *Meta) {
		m.Feedback = append(slices.Clip(m.Feedback), text)
	})
}

// PopFeedback removes and returns the oldest queued item.
func (t *Task) PopFeedback() (string, bool, error) {
	if len(t.Meta.Feedback) == 0 {
		return "", false, nil
	}
	item := t.Meta.Feedback[0]
	err := t.update(func(m *Meta) {
		m.Feedback = append([]string{}, m.Feedback[1:]...)
	})
	if err != nil {
		return "", false, err
	}
	return item, true, nil
}

// RemoveFeedback deletes the queued item at index.
func (t *Task) RemoveFeedback(index int) error {
	if index < 0 || index >= len(t.Meta.Feedback) {
		return fmt.Errorf("feedback index %d out of range (queue has %d)", index, len(t.Meta.Feedback))
	}
	return t.update(func(m *Meta) {
		q := append([]string{}, m.Feedback[:index]...)
		m.Feedback = append(q, m.Feedback[index+1:]...)
	})
}

// ClearFeedbackQueue empties the queue.
func (t *Task) ClearFeedbackQueue() error {
	return t.update(func(m *Meta) { m.Feedback = []string{} })
}

// FeedbackQueue returns a copy of the queued items, oldest first.
func (t *Task) FeedbackQueue() []string {
	return append([]string(nil), t.Meta.Feedback...)
}
