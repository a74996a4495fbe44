package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"scibot/internal/compose"
	"scibot/internal/publish"
	"scibot/internal/task/scheduler"
	logx "scibot/pkg/logx"
)

const (
	ActionPostFeed = "post_feed"
	ActionRepost   = "repost"
	ActionLike     = "like"
)

// Actions maps action names to job callbacks.
type Actions struct {
	mu sync.RWMutex
	m  map[string]scheduler.Func
}

func NewActions() *Actions { return &Actions{m: map[string]scheduler.Func{}} }

func (a *Actions) Register(name string, fn scheduler.Func) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m[strings.ToLower(strings.TrimSpace(name))] = fn
}

func (a *Actions) Lookup(name string) (scheduler.Func, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fn, ok := a.m[strings.ToLower(strings.TrimSpace(name))]
	return fn, ok
}

func (a *Actions) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.m))
	for k := range a.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ErrNoSocial is returned by repost and like when the publisher cannot amplify posts.
var ErrNoSocial = errors.New("publisher does not support reposts or likes")

// Deps are the collaborators of the standard actions. Social may be nil.
type Deps struct {
	Feed      FeedSource
	Composer  *compose.Composer
	Publisher publish.Publisher
	Social    publish.Social
	Dedup     *Deduper

	Self       string
	ListURI    string
	Include    []string
	Exclude    []string
	MaxPosts   int
	MaxReposts int
	MaxLikes   int
	FetchLimit int64
	Log        logx.Logger
}

// StandardActions registers post_feed, repost and like.
func StandardActions(d Deps) *Actions {
	a := NewActions()
	poster := &FeedPoster{
		Source:    d.Feed,
		Composer:  d.Composer,
		Publisher: d.Publisher,
		Dedup:     d.Dedup,
		MaxPosts:  d.MaxPosts,
		Log:       d.Log.With(logx.String("action", ActionPostFeed)),
	}
	a.Register(ActionPostFeed, poster.Run)

	for _, m := range []struct {
		name string
		mode AmplifyMode
		max  int
	}{
		{ActionRepost, ModeRepost, d.MaxReposts},
		{ActionLike, ModeLike, d.MaxLikes},
	} {
		if d.Social == nil {
			a.Register(m.name, func(context.Context, ...string) error { return ErrNoSocial })
			continue
		}
		amp := &Amplifier{
			Social:     d.Social,
			Dedup:      d.Dedup,
			Mode:       m.mode,
			Self:       d.Self,
			ListURI:    d.ListURI,
			Include:    d.Include,
			Exclude:    d.Exclude,
			MaxActions: m.max,
			FetchLimit: d.FetchLimit,
			Log:        d.Log.With(logx.String("action", m.name)),
		}
		a.Register(m.name, amp.Run)
	}
	return a
}

// JobDef is a configured job before its recurrence is parsed.
// Schedule entries use scheduler.ParseRecurrence syntax and are combined.
type JobDef struct {
	Name     string
	Action   string
	Schedule []string
	Args     []string
	Timeout  time.Duration
}

// DefaultJobs is the schedule used when the configuration lists no jobs.
// repost_list is included only when a list URI is configured.
func DefaultJobs(listURI string) []JobDef {
	jobs := []JobDef{
		{Name: "rss", Action: ActionPostFeed, Schedule: []string{"22:20", "06:20", "14:20"}},
		{Name: "repost_own", Action: ActionRepost, Schedule: []string{"01:10", "09:10", "17:10"}, Args: []string{"own"}},
		{Name: "repost_search", Action: ActionRepost, Schedule: []string{"cron:20 */3 * * *"}, Args: []string{"search"}},
	}
	if strings.TrimSpace(listURI) != "" {
		jobs = append(jobs, JobDef{Name: "repost_list", Action: ActionRepost, Schedule: []string{"cron:25 1-22/3 * * *"}, Args: []string{"list"}})
	}
	return append(jobs, JobDef{Name: "like", Action: ActionLike, Schedule: []string{"every:30m"}, Args: []string{"timeline"}})
}

// BuildJobs resolves actions and recurrences for defs.
func BuildJobs(defs []JobDef, actions *Actions, loc *time.Location) ([]scheduler.JobSpec, error) {
	out := make([]scheduler.JobSpec, 0, len(defs))
	for _, d := range defs {
		fn, ok := actions.Lookup(d.Action)
		if !ok {
			return nil, &scheduler.ConfigError{Job: d.Name, Field: "action", Value: d.Action,
				Err: fmt.Errorf("unknown action (have %s)", strings.Join(actions.Names(), ", "))}
		}
		rec, err := scheduler.ParseRecurrences(d.Schedule, loc)
		if err != nil {
			var ce *scheduler.ConfigError
			if errors.As(err, &ce) && ce.Job == "" {
				ce.Job = d.Name
			}
			return nil, err
		}
		out = append(out, scheduler.JobSpec{
			Name:       d.Name,
			Recurrence: rec,
			Func:       fn,
			Args:       d.Args,
			Timeout:    d.Timeout,
		})
	}
	return out, nil
}
