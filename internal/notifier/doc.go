// Package notifier delivers operator alerts, such as job failures, to
// Telegram chats.
//
// Notify never blocks: messages go into a bounded queue drained by
// supervised workers that share one rate limiter and retry failed sends with
// jittered exponential backoff. Identical messages to the same target are
// suppressed for a configurable window so a job failing every poll does not
// flood the owner.
//
// Delivery failures are logged and reported through the event hook. They
// are never returned to the caller of Notify.
package notifier
