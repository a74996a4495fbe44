package publish

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	appbsky "github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"

	logx "scibot/pkg/logx"
)

const (
	DefaultBlueskyHost = "https://bsky.social"

	collectionPost   = "app.bsky.feed.post"
	collectionLike   = "app.bsky.feed.like"
	collectionRepost = "app.bsky.feed.repost"
)

type BlueskyConfig struct {
	Host        string
	Identifier  string
	AppPassword string
	Langs       []string
	Timeout     time.Duration
}

// Bluesky publishes posts and amplifies existing ones on an atproto PDS.
// The session is created on first use and refreshed once when the access token expires.
type Bluesky struct {
	cfg  BlueskyConfig
	log  logx.Logger
	http *http.Client

	mu     sync.Mutex
	client *xrpc.Client
}

func NewBluesky(cfg BlueskyConfig, log logx.Logger) (*Bluesky, error) {
	if strings.TrimSpace(cfg.Identifier) == "" || strings.TrimSpace(cfg.AppPassword) == "" {
		return nil, errors.New("bluesky identifier and app password are required")
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = DefaultBlueskyHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bluesky{cfg: cfg, log: log, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (b *Bluesky) session(ctx context.Context) (*xrpc.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	client := &xrpc.Client{Host: b.cfg.Host, Client: b.http}
	sess, err := comatproto.ServerCreateSession(ctx, client, &comatproto.ServerCreateSession_Input{
		Identifier: b.cfg.Identifier,
		Password:   b.cfg.AppPassword,
	})
	if err != nil {
		return nil, err
	}
	client.Auth = &xrpc.AuthInfo{
		AccessJwt:  sess.AccessJwt,
		RefreshJwt: sess.RefreshJwt,
		Handle:     sess.Handle,
		Did:        sess.Did,
	}
	b.client = client
	b.log.Info("bluesky session created", logx.String("handle", sess.Handle), logx.String("did", sess.Did))
	return client, nil
}

// refresh swaps the access token using the refresh token. On failure the
// session is dropped so the next call logs in again.
func (b *Bluesky) refresh(ctx context.Context, client *xrpc.Client) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	refreshClient := &xrpc.Client{
		Host:   client.Host,
		Client: b.http,
		Auth:   &xrpc.AuthInfo{AccessJwt: client.Auth.RefreshJwt, RefreshJwt: client.Auth.RefreshJwt},
	}
	sess, err := comatproto.ServerRefreshSession(ctx, refreshClient)
	if err != nil {
		b.client = nil
		return err
	}
	client.Auth.AccessJwt = sess.AccessJwt
	client.Auth.RefreshJwt = sess.RefreshJwt
	client.Auth.Handle = sess.Handle
	client.Auth.Did = sess.Did
	b.log.Debug("bluesky session refreshed")
	return nil
}

func isExpiredToken(err error) bool {
	return err != nil && strings.Contains(err.Error(), "ExpiredToken")
}

// call runs fn with an authenticated client, refreshing the session once on an expired token.
func (b *Bluesky) call(ctx context.Context, op string, fn func(c *xrpc.Client) error) error {
	client, err := b.session(ctx)
	if err != nil {
		return wrap("bluesky", "login", err)
	}
	err = fn(client)
	if isExpiredToken(err) {
		if rerr := b.refresh(ctx, client); rerr != nil {
			return wrap("bluesky", "refresh", rerr)
		}
		err = fn(client)
	}
	return wrap("bluesky", op, err)
}

func (b *Bluesky) createRecord(ctx context.Context, op, collection string, rec *util.LexiconTypeDecoder) (ID, error) {
	var uri string
	err := b.call(ctx, op, func(c *xrpc.Client) error {
		out, err := comatproto.RepoCreateRecord(ctx, c, &comatproto.RepoCreateRecord_Input{
			Collection: collection,
			Repo:       c.Auth.Did,
			Record:     rec,
		})
		if err != nil {
			return err
		}
		uri = out.Uri
		return nil
	})
	if err != nil {
		return "", err
	}
	return ID(uri), nil
}

func (b *Bluesky) Publish(ctx context.Context, text string) (ID, error) {
	if strings.TrimSpace(text) == "" {
		return "", wrap("bluesky", "post", ErrEmptyMessage)
	}
	post := &appbsky.FeedPost{
		Text:      text,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Langs:     b.cfg.Langs,
	}
	return b.createRecord(ctx, "post", collectionPost, &util.LexiconTypeDecoder{Val: post})
}

func (b *Bluesky) Repost(ctx context.Context, ref PostRef) (ID, error) {
	rec := &appbsky.FeedRepost{
		Subject:   &comatproto.RepoStrongRef{Uri: ref.URI, Cid: ref.CID},
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	return b.createRecord(ctx, "repost", collectionRepost, &util.LexiconTypeDecoder{Val: rec})
}

func (b *Bluesky) Like(ctx context.Context, ref PostRef) (ID, error) {
	rec := &appbsky.FeedLike{
		Subject:   &comatproto.RepoStrongRef{Uri: ref.URI, Cid: ref.CID},
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	return b.createRecord(ctx, "like", collectionLike, &util.LexiconTypeDecoder{Val: rec})
}

// Candidates reads original posts from a list, a keyword search, an actor's
// feed or the home timeline. Reposts in feeds are skipped; search hits are
// merged by URI in term order.
func (b *Bluesky) Candidates(ctx context.Context, src Source) ([]Post, error) {
	limit := src.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if terms := searchTerms(src); src.List == "" && len(terms) > 0 {
		return b.search(ctx, terms, limit)
	}

	var feed []*appbsky.FeedDefs_FeedViewPost
	err := b.call(ctx, "feed", func(c *xrpc.Client) error {
		switch {
		case strings.TrimSpace(src.List) != "":
			out, err := appbsky.FeedGetListFeed(ctx, c, "", limit, strings.TrimSpace(src.List))
			if err != nil {
				return err
			}
			feed = out.Feed
		case strings.TrimSpace(src.Actor) != "":
			out, err := appbsky.FeedGetAuthorFeed(ctx, c, src.Actor, "", "", false, limit)
			if err != nil {
				return err
			}
			feed = out.Feed
		default:
			out, err := appbsky.FeedGetTimeline(ctx, c, "", "", limit)
			if err != nil {
				return err
			}
			feed = out.Feed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	posts := make([]Post, 0, len(feed))
	for _, item := range feed {
		if item == nil || item.Reason != nil {
			continue
		}
		if p, ok := postFromView(item.Post); ok {
			posts = append(posts, p)
		}
	}
	return posts, nil
}

func (b *Bluesky) search(ctx context.Context, terms []string, limit int64) ([]Post, error) {
	var posts []Post
	seen := map[string]struct{}{}
	for _, term := range terms {
		var hits []*appbsky.FeedDefs_PostView
		err := b.call(ctx, "search", func(c *xrpc.Client) error {
			out, err := appbsky.FeedSearchPosts(ctx, c, "", "", "", "", limit, "", term, "", "latest", nil, "", "")
			if err != nil {
				return err
			}
			hits = out.Posts
			return nil
		})
		if err != nil {
			return nil, err
		}
		for _, pv := range hits {
			p, ok := postFromView(pv)
			if !ok {
				continue
			}
			if _, dup := seen[p.Ref.URI]; dup {
				continue
			}
			seen[p.Ref.URI] = struct{}{}
			posts = append(posts, p)
		}
	}
	return posts, nil
}

func searchTerms(src Source) []string {
	var out []string
	for _, t := range src.Query {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func postFromView(pv *appbsky.FeedDefs_PostView) (Post, bool) {
	if pv == nil {
		return Post{}, false
	}
	p := Post{Ref: PostRef{URI: pv.Uri, CID: pv.Cid}}
	if pv.Author != nil {
		p.Author = pv.Author.Handle
	}
	if pv.Record != nil {
		if fp, ok := pv.Record.Val.(*appbsky.FeedPost); ok {
			p.Text = fp.Text
		}
	}
	return p, true
}
