// Package channel holds the tenant model: a Channel owns at most one Bot
// per messenger and everything a menu-driven conversation needs.
package channel

import "github.com/menubot/menubot/internal/messenger"

// Channel is a tenant. The dispatch engine consumes it read-only.
type Channel struct {
	ID              int64
	Name            string
	Slug            string
	Description     string
	MediaAllowed    bool
	GeoAllowed      bool
	MailingAllowed  bool
	WelcomeActionID int64
	Bots            []Bot
}

// Bot is one messenger credential under a Channel. Tokens are globally
// unique; a channel carries at most one bot per messenger.
type Bot struct {
	ID          int64
	ChannelID   int64
	Messenger   messenger.Messenger
	Token       string
	Description string
}

// Bot returns the channel's bot for the given messenger, if present.
func (c Channel) Bot(m messenger.Messenger) (Bot, bool) {
	for _, bot := range c.Bots {
		if bot.Messenger == m {
			return bot, true
		}
	}
	return Bot{}, false
}

// Token returns the bot token for the given messenger, or empty string.
func (c Channel) Token(m messenger.Messenger) string {
	if bot, ok := c.Bot(m); ok {
		return bot.Token
	}
	return ""
}
