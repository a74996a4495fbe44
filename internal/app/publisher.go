package app

import (
	"fmt"

	"scibot/internal/config"
	"scibot/internal/publish"
	kit "scibot/internal/transport"
	logx "scibot/pkg/logx"
)

// buildPublisher returns the configured publisher behind the rate limiter.
// social is nil when the target cannot repost or like; self is the account
// used for own-post reposts.
func buildPublisher(c config.PublisherConfig, sender kit.Sender, log logx.Logger) (pub publish.Publisher, social publish.Social, self string, err error) {
	lim := publish.NewLimiter(config.DurationOr(c.MinInterval, 0), c.Burst)
	switch c.Driver {
	case "bluesky":
		b, err := publish.NewBluesky(publish.BlueskyConfig{
			Host:        c.Bluesky.Host,
			Identifier:  c.Bluesky.Identifier,
			AppPassword: c.Bluesky.AppPassword,
			Langs:       c.Bluesky.Langs,
			Timeout:     config.DurationOr(c.Bluesky.Timeout, 0),
		}, log)
		if err != nil {
			return nil, nil, "", err
		}
		s := publish.NewLimitedSocial(b, lim)
		return s, s, c.Bluesky.Identifier, nil
	case "telegram":
		if sender == nil {
			return nil, nil, "", fmt.Errorf("telegram publisher requires a telegram token")
		}
		ch := publish.NewChannel(sender, kit.ChatTarget{ChatID: c.Telegram.ChatID, ThreadID: c.Telegram.ThreadID}, c.Telegram.DisablePreview)
		return publish.NewLimited(ch, lim), nil, "", nil
	case "dryrun", "":
		s := publish.NewLimitedSocial(publish.NewDryRun(log), lim)
		return s, s, "", nil
	default:
		return nil, nil, "", fmt.Errorf("unknown publisher driver %q", c.Driver)
	}
}
