// Package feed fetches RSS and Atom feeds and merges them into one
// newest-first item list with stable keys for the dedup ledger.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	logx "scibot/pkg/logx"
)

// Item is one entry of a fetched feed.
type Item struct {
	Title     string
	Link      string
	GUID      string
	Published time.Time // zero when the feed gives no date
	Feed      string    // source feed URL
}

// Key is the ledger key for the item: its canonical link, or the GUID when
// the entry has no link.
func (i Item) Key() string {
	if k := CanonicalURL(i.Link); k != "" {
		return k
	}
	return strings.TrimSpace(i.GUID)
}

type Config struct {
	URLs        []string
	Timeout     time.Duration
	Concurrency int
	UserAgent   string
}

// ErrAllFailed is returned when no configured feed could be fetched.
var ErrAllFailed = errors.New("all feeds failed")

// FetchError reports failed feeds. It is returned only when every feed failed.
type FetchError struct {
	Failed map[string]error
}

func (e *FetchError) Error() string {
	urls := make([]string, 0, len(e.Failed))
	for u := range e.Failed {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	parts := make([]string, 0, len(urls))
	for _, u := range urls {
		parts = append(parts, fmt.Sprintf("%s: %v", u, e.Failed[u]))
	}
	return fmt.Sprintf("%v (%s)", ErrAllFailed, strings.Join(parts, "; "))
}

func (e *FetchError) Unwrap() error { return ErrAllFailed }

// ErrorKind classifies the failure for scheduler logs.
func (e *FetchError) ErrorKind() string { return "feed" }

type Fetcher struct {
	cfg  Config
	log  logx.Logger
	http *http.Client
}

func NewFetcher(cfg Config, log logx.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "scibot/1.0"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{cfg: cfg, log: log, http: &http.Client{Timeout: cfg.Timeout}}
}

// Fetch reads every feed concurrently and returns the combined items, newest
// first, with duplicate keys removed. A failing feed is logged and skipped.
func (f *Fetcher) Fetch(ctx context.Context) ([]Item, error) {
	if len(f.cfg.URLs) == 0 {
		return nil, nil
	}

	// Results are kept per feed so duplicates resolve in configuration order.
	var (
		mu      sync.Mutex
		results = make([][]Item, len(f.cfg.URLs))
		failed  = map[string]error{}
		nFailed int
	)
	var g errgroup.Group
	g.SetLimit(f.cfg.Concurrency)
	for i, u := range f.cfg.URLs {
		u := strings.TrimSpace(u)
		if u == "" {
			continue
		}
		g.Go(func() error {
			items, err := f.fetchOne(ctx, u)
			if err != nil {
				f.log.Warn("feed fetch failed", logx.String("url", u), logx.Err(err))
				mu.Lock()
				failed[u] = err
				nFailed++
				mu.Unlock()
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if nFailed > 0 && nFailed == countNonEmpty(f.cfg.URLs) {
		return nil, &FetchError{Failed: failed}
	}
	var all []Item
	for _, items := range results {
		all = append(all, items...)
	}
	return Combine(all), nil
}

func (f *Fetcher) fetchOne(ctx context.Context, u string) ([]Item, error) {
	fp := gofeed.NewParser()
	fp.Client = f.http
	fp.UserAgent = f.cfg.UserAgent
	parsed, err := fp.ParseURLWithContext(u, ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		item := Item{
			Title: strings.TrimSpace(it.Title),
			Link:  strings.TrimSpace(it.Link),
			GUID:  strings.TrimSpace(it.GUID),
			Feed:  u,
		}
		switch {
		case it.PublishedParsed != nil:
			item.Published = *it.PublishedParsed
		case it.UpdatedParsed != nil:
			item.Published = *it.UpdatedParsed
		}
		out = append(out, item)
	}
	f.log.Debug("feed fetched", logx.String("url", u), logx.Int("items", len(out)))
	return out, nil
}

// Combine drops items without a key or title, keeps the first item for each
// key and sorts newest first. Undated items sort last in their original order.
func Combine(items []Item) []Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		k := it.Key()
		if k == "" || it.Title == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Published, out[j].Published
		if a.IsZero() != b.IsZero() {
			return !a.IsZero()
		}
		return a.After(b)
	})
	return out
}

// CanonicalURL normalizes a link for deduplication: lowercase scheme and
// host, no fragment, no utm_* tracking parameters, no trailing slash on the
// path. Non-URL input is returned trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if strings.HasPrefix(strings.ToLower(k), "utm_") {
				q.Del(k)
			}
		}
		u.RawQuery = q.Encode()
	}
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String()
}

func countNonEmpty(ss []string) int {
	n := 0
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}
