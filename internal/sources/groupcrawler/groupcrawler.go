// Package groupcrawler adapts a group-messaging crawler (a Telegram-style
// system) into a sources.Client, grounded on
// original_source/src/telegram_to_engagement_db/cache.py, which confirms
// this origin tracks its own per-channel watermark cache alongside the
// shared incremental cache component.
package groupcrawler

import (
	"context"
	"fmt"
	"time"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/sources"
)

// Config names the channel this adapter crawls.
type Config struct {
	ChannelID string
}

// API is the minimal group-messaging API surface this adapter needs.
type API interface {
	FetchMessages(ctx context.Context, channelID string, since *time.Time) ([]GroupMessage, error)
}

// GroupMessage is one channel message as the upstream API returns it.
type GroupMessage struct {
	MessageID string
	SenderID  string
	Text      string
	SentUTC   time.Time
}

type Client struct {
	api API
	cfg Config
}

func NewClient(api API, cfg Config) *Client {
	return &Client{api: api, cfg: cfg}
}

func (c *Client) FetchSince(ctx context.Context, since *time.Time) ([]sources.RawRecord, error) {
	messages, err := c.api.FetchMessages(ctx, c.cfg.ChannelID, since)
	if err != nil {
		return nil, fmt.Errorf("groupcrawler: fetch channel %s: %w", c.cfg.ChannelID, err)
	}
	records := make([]sources.RawRecord, 0, len(messages))
	for _, m := range messages {
		records = append(records, sources.RawRecord{
			// origin_id is {source_kind, group id, message id} (spec
			// §4.D.2); a group crawler has no separate field id, since each
			// message is a single free-text response.
			OriginID:     fmt.Sprintf("group_crawler.%s.%s", c.cfg.ChannelID, m.MessageID),
			Text:         m.Text,
			ContactID:    m.SenderID,
			SubmittedUTC: m.SentUTC,
		})
	}
	return records, nil
}
