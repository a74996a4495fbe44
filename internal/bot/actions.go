package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"scibot/internal/compose"
	"scibot/internal/feed"
	"scibot/internal/publish"
	logx "scibot/pkg/logx"
)

// FeedSource yields feed items newest first.
type FeedSource interface {
	Fetch(ctx context.Context) ([]feed.Item, error)
}

// FeedPoster publishes new feed items. It is the post_feed action.
type FeedPoster struct {
	Source    FeedSource
	Composer  *compose.Composer
	Publisher publish.Publisher
	Dedup     *Deduper
	MaxPosts  int // per run; args[0] overrides
	Log       logx.Logger
}

// Run publishes up to MaxPosts items the ledger has not seen. The first
// publish or ledger error ends the run.
func (p *FeedPoster) Run(ctx context.Context, args ...string) error {
	max, err := limitArg(args, 0, p.MaxPosts, 1)
	if err != nil {
		return err
	}
	items, err := p.Source.Fetch(ctx)
	if err != nil {
		return err
	}

	posted := 0
	for _, it := range items {
		if posted >= max {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := p.Composer.Message(it.Title, it.Link)
		outcome, _, err := p.Dedup.PublishOnce(ctx, it.Key(), func(ctx context.Context) (publish.ID, error) {
			return p.Publisher.Publish(ctx, msg)
		})
		if err != nil {
			return err
		}
		if outcome == Published {
			posted++
		}
	}
	p.log().Info("feed run done", logx.Int("items", len(items)), logx.Int("posted", posted))
	return nil
}

func (p *FeedPoster) log() logx.Logger {
	if p.Log.IsZero() {
		return logx.Nop()
	}
	return p.Log
}

var errNoSearchTerms = errors.New("no search terms")

// AmplifyMode selects what the Amplifier does with a matching post.
type AmplifyMode string

const (
	ModeRepost AmplifyMode = "repost"
	ModeLike   AmplifyMode = "like"
)

// Amplifier reposts or likes posts from a social source that pass the word
// filters. It backs the repost and like actions.
//
// args[0] selects the source:
//   - empty or "timeline": the home timeline
//   - "own": the account's own posts
//   - "search": a keyword search over the include words
//   - "list" or "list:<at-uri>": a curated list, ListURI by default
//   - anything else: a handle or DID
//
// args[1] overrides MaxActions.
type Amplifier struct {
	Social     publish.Social
	Dedup      *Deduper
	Mode       AmplifyMode
	Self       string // own handle, used for the "own" source
	ListURI    string // default for the "list" source
	Include    []string
	Exclude    []string
	MaxActions int
	FetchLimit int64
	Log        logx.Logger
}

func (a *Amplifier) Run(ctx context.Context, args ...string) error {
	max, err := limitArg(args, 1, a.MaxActions, 1)
	if err != nil {
		return err
	}
	src, own, err := a.source(args)
	if errors.Is(err, errNoSearchTerms) {
		a.log().Warn("search source has no include words; nothing to do", logx.String("mode", string(a.Mode)))
		return nil
	}
	if err != nil {
		return err
	}
	posts, err := a.Social.Candidates(ctx, src)
	if err != nil {
		return err
	}

	done := 0
	for _, post := range posts {
		if done >= max {
			break
		}
		// Own posts are reposted without the include filter.
		if !Matches(post.Text, a.Include, a.Exclude, own) {
			continue
		}
		ref := post.Ref
		outcome, _, err := a.Dedup.PublishOnce(ctx, string(a.Mode)+":"+ref.URI, func(ctx context.Context) (publish.ID, error) {
			if a.Mode == ModeLike {
				return a.Social.Like(ctx, ref)
			}
			return a.Social.Repost(ctx, ref)
		})
		if err != nil {
			return err
		}
		if outcome == Published {
			done++
		}
	}
	a.log().Info("amplify run done", logx.String("mode", string(a.Mode)), logx.Int("candidates", len(posts)), logx.Int("done", done))
	return nil
}

func (a *Amplifier) source(args []string) (publish.Source, bool, error) {
	src := publish.Source{Limit: a.FetchLimit}
	arg := ""
	if len(args) > 0 {
		arg = strings.TrimSpace(args[0])
	}
	low := strings.ToLower(arg)
	switch {
	case low == "" || low == "timeline":
	case low == "own" || low == "self":
		src.Actor = a.Self
		return src, true, nil
	case low == "search":
		for _, w := range a.Include {
			if w = strings.TrimSpace(w); w != "" {
				src.Query = append(src.Query, w)
			}
		}
		if len(src.Query) == 0 {
			return src, false, errNoSearchTerms
		}
	case low == "list" || strings.HasPrefix(low, "list:"):
		uri := strings.TrimSpace(arg[len("list"):])
		uri = strings.TrimSpace(strings.TrimPrefix(uri, ":"))
		if uri == "" {
			uri = a.ListURI
		}
		if uri == "" {
			return src, false, fmt.Errorf("list source needs social.list_uri or list:<at-uri>")
		}
		src.List = uri
	default:
		src.Actor = arg
	}
	return src, false, nil
}

func (a *Amplifier) log() logx.Logger {
	if a.Log.IsZero() {
		return logx.Nop()
	}
	return a.Log
}

// Matches reports whether text passes the filters: no exclude word appears
// and, unless skipInclude is set, at least one include word does. An empty
// include list accepts everything. Matching is case-insensitive substring.
func Matches(text string, include, exclude []string, skipInclude bool) bool {
	low := strings.ToLower(text)
	for _, w := range exclude {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" && strings.Contains(low, w) {
			return false
		}
	}
	if skipInclude || len(include) == 0 {
		return true
	}
	for _, w := range include {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" && strings.Contains(low, w) {
			return true
		}
	}
	return false
}

// limitArg reads an optional positive int from args[i], else def, else fallback.
func limitArg(args []string, i, def, fallback int) (int, error) {
	if i < len(args) {
		if raw := strings.TrimSpace(args[i]); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid limit %q", raw)
			}
			return n, nil
		}
	}
	if def > 0 {
		return def, nil
	}
	return fallback, nil
}
