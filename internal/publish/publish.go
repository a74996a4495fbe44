// Package publish is the boundary through which composed messages leave scibot.
//
// Publishers never retry; a failure is returned to the calling job so the
// dedup ledger entry is not recorded and the next run can try again.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	logx "scibot/pkg/logx"
)

// ID identifies a published message on the remote side (a post URI, a message id).
type ID string

type Publisher interface {
	Publish(ctx context.Context, text string) (ID, error)
}

// PostRef points at an existing social post.
type PostRef struct {
	URI string
	CID string
}

// Post is a candidate for a repost or like.
type Post struct {
	Ref    PostRef
	Author string
	Text   string
}

// Source selects where candidates are read from.
// Source selects where candidate posts come from. List wins over Query,
// Query over Actor; all empty means the home timeline.
type Source struct {
	Actor string   // handle or DID of an author feed
	Query []string // search terms, one search per term
	List  string   // at:// URI of a curated list
	Limit int64
}

// Social is a publisher that can also amplify existing posts.
type Social interface {
	Publisher
	Repost(ctx context.Context, ref PostRef) (ID, error)
	Like(ctx context.Context, ref PostRef) (ID, error)
	Candidates(ctx context.Context, src Source) ([]Post, error)
}

var ErrEmptyMessage = errors.New("empty message")

// Error is an external publication failure.
type Error struct {
	Publisher string
	Op        string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish %s %s: %v", e.Publisher, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind classifies the failure for scheduler logs.
func (e *Error) ErrorKind() string { return "publish" }

func wrap(publisher, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Publisher: publisher, Op: op, Err: err}
}

// NewLimiter returns a token bucket allowing one call per every with the given burst.
// every <= 0 disables limiting.
func NewLimiter(every time.Duration, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Every(every), burst)
}

// Limited waits for a limiter token before each publication.
type Limited struct {
	next Publisher
	lim  *rate.Limiter
}

func NewLimited(next Publisher, lim *rate.Limiter) *Limited {
	return &Limited{next: next, lim: lim}
}

func (l *Limited) Publish(ctx context.Context, text string) (ID, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return "", wrap("limiter", "wait", err)
	}
	return l.next.Publish(ctx, text)
}

// LimitedSocial applies one limiter to every write of a Social publisher.
// Candidate reads are not limited.
type LimitedSocial struct {
	Social
	lim *rate.Limiter
}

func NewLimitedSocial(next Social, lim *rate.Limiter) *LimitedSocial {
	return &LimitedSocial{Social: next, lim: lim}
}

func (l *LimitedSocial) Publish(ctx context.Context, text string) (ID, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return "", wrap("limiter", "wait", err)
	}
	return l.Social.Publish(ctx, text)
}

func (l *LimitedSocial) Repost(ctx context.Context, ref PostRef) (ID, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return "", wrap("limiter", "wait", err)
	}
	return l.Social.Repost(ctx, ref)
}

func (l *LimitedSocial) Like(ctx context.Context, ref PostRef) (ID, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return "", wrap("limiter", "wait", err)
	}
	return l.Social.Like(ctx, ref)
}

// DryRun logs messages instead of publishing them.
type DryRun struct {
	log logx.Logger
	seq atomic.Uint64
}

func NewDryRun(log logx.Logger) *DryRun {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DryRun{log: log}
}

func (d *DryRun) Publish(ctx context.Context, text string) (ID, error) {
	if err := ctx.Err(); err != nil {
		return "", wrap("dryrun", "post", err)
	}
	if text == "" {
		return "", wrap("dryrun", "post", ErrEmptyMessage)
	}
	id := ID(fmt.Sprintf("dryrun:%d", d.seq.Add(1)))
	d.log.Info("dry-run publish", logx.String("id", string(id)), logx.String("text", text))
	return id, nil
}

func (d *DryRun) Repost(ctx context.Context, ref PostRef) (ID, error) {
	if err := ctx.Err(); err != nil {
		return "", wrap("dryrun", "repost", err)
	}
	d.log.Info("dry-run repost", logx.String("uri", ref.URI))
	return ID("dryrun:repost:" + ref.URI), nil
}

func (d *DryRun) Like(ctx context.Context, ref PostRef) (ID, error) {
	if err := ctx.Err(); err != nil {
		return "", wrap("dryrun", "like", err)
	}
	d.log.Info("dry-run like", logx.String("uri", ref.URI))
	return ID("dryrun:like:" + ref.URI), nil
}

// Candidates returns nothing; a dry run has no social source.
func (d *DryRun) Candidates(context.Context, Source) ([]Post, error) { return nil, nil }
