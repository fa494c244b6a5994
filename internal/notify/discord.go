package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/auction-settlement/internal/auction"
)

// MessageSender is the part of *discordgo.Session the Discord notifier uses.
type MessageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts closing announcements to a Discord channel.
type Discord struct {
	sender    MessageSender
	channelID string
	evaluator auction.Evaluator
}

// NewDiscord creates a REST-only Discord session for the bot token.
func NewDiscord(token, channelID string, ev auction.Evaluator) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	return NewDiscordWithSender(session, channelID, ev), nil
}

// NewDiscordWithSender builds a Discord notifier on an existing sender.
func NewDiscordWithSender(sender MessageSender, channelID string, ev auction.Evaluator) *Discord {
	return &Discord{sender: sender, channelID: channelID, evaluator: ev}
}

func (d *Discord) Notify(ctx context.Context, a *auction.Auction) error {
	if _, err := d.sender.ChannelMessageSend(d.channelID, d.message(a), discordgo.WithContext(ctx)); err != nil {
		return &NotificationError{Notifier: "discord", AuctionID: a.ID, Err: err}
	}
	return nil
}

func (d *Discord) message(a *auction.Auction) string {
	w, err := d.evaluator.Evaluate(a)
	if errors.Is(err, auction.ErrEmptyAuction) {
		return fmt.Sprintf("Auction `%s` (%s) closed without bids.", a.ID, a.Description)
	}
	return fmt.Sprintf("Auction `%s` (%s) closed! Winner: **%s** with **%s**", a.ID, a.Description, w.Bidder.Name, w.Amount.StringFixed(2))
}
