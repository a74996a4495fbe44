// Package compose turns feed items into short publishable messages.
package compose

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxLength = 250
	DefaultSeparator = " "
	ellipsis         = "..."
)

type Config struct {
	Hashtags  []string // words or phrases to tag, matched case-insensitively at a word start
	MaxLength int      // title budget in runes before the ellipsis
	Separator string   // placed between title and link
}

// Composer is immutable after New and safe for concurrent use.
type Composer struct {
	maxLength int
	separator string
	tags      []tagRule
}

type tagRule struct {
	re     *regexp.Regexp
	phrase bool
}

func New(cfg Config) *Composer {
	c := &Composer{maxLength: cfg.MaxLength, separator: cfg.Separator}
	if c.maxLength <= 0 {
		c.maxLength = DefaultMaxLength
	}
	if c.separator == "" {
		c.separator = DefaultSeparator
	}
	for _, tag := range cfg.Hashtags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		c.tags = append(c.tags, tagRule{
			re:     regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(tag)),
			phrase: strings.Contains(tag, " "),
		})
	}
	return c
}

// InsertHashtags prefixes the first occurrence of each configured tag with '#'.
// A multi-word tag also loses the first space after its position, so
// "harm reduction" becomes "#harmreduction".
func (c *Composer) InsertHashtags(title string) string {
	for _, tag := range c.tags {
		loc := tag.re.FindStringIndex(title)
		if loc == nil {
			continue
		}
		pos := loc[0]
		if pos > 0 && title[pos-1] == '#' {
			continue
		}
		rest := title[pos:]
		if tag.phrase {
			rest = strings.Replace(rest, " ", "", 1)
		}
		title = title[:pos] + "#" + rest
	}
	return title
}

// Message builds "<title with hashtags, shortened><separator><link>".
func (c *Composer) Message(title, link string) string {
	title = Shorten(c.InsertHashtags(strings.TrimSpace(title)), c.maxLength)
	link = strings.TrimSpace(link)
	if link == "" {
		return title
	}
	return title + c.separator + link
}

// Shorten truncates s to max runes and appends "..." when it was longer.
func Shorten(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + ellipsis
}
