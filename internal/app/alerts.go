package app

import (
	"context"
	"errors"
	"fmt"

	"scibot/internal/notifier"
	"scibot/internal/task/scheduler"
	kit "scibot/internal/transport"
)

// Notifier is the part of notifier.Service alerts need.
type Notifier interface {
	Enabled() bool
	Notify(ctx context.Context, n notifier.Notification) error
}

// alertText formats a job failure for operators. Panics keep the panic value;
// returned errors are shown without the scheduler wrapper.
func alertText(job string, err error) string {
	var ce *scheduler.CallbackError
	if errors.As(err, &ce) {
		if ce.Panic != nil {
			return fmt.Sprintf("[Job Error] %s: panic: %v", job, ce.Panic)
		}
		if ce.Err != nil {
			err = ce.Err
		}
	}
	return fmt.Sprintf("[Job Error] %s: %v", job, err)
}

// failureReporter sends each job failure to every alert chat.
// A disabled notifier makes it a no-op; the scheduler has already logged the failure.
func failureReporter(n Notifier, chats []int64) scheduler.FailureReporter {
	return func(ctx context.Context, job string, err error) error {
		if n == nil || !n.Enabled() || len(chats) == 0 {
			return nil
		}
		text := alertText(job, err)
		var errs []error
		for _, id := range chats {
			nerr := n.Notify(ctx, notifier.Notification{
				Priority: notifier.PriorityAlert,
				Target:   kit.ChatTarget{ChatID: id},
				Text:     text,
				Options:  &kit.SendOptions{DisablePreview: true},
			})
			if nerr != nil {
				errs = append(errs, fmt.Errorf("chat %d: %w", id, nerr))
			}
		}
		return errors.Join(errs...)
	}
}
