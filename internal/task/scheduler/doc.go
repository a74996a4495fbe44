// Package scheduler runs named recurring jobs with failure isolation.
//
// The scheduler is poll-driven: a Loop calls RunDue on a fixed interval and
// every job whose next run has passed is executed in registration order.
// A failing or panicking job is contained at the job boundary; it is logged,
// reported, and rescheduled according to the configured failure policy.
package scheduler
