// Package webform adapts a structured-question web form tool (a
// KoboToolbox-style system) into a sources.Client, grounded on
// original_source/src/kobotoolbox_to_engagement_db/kobotoolbox_to_engagement_db.py.
package webform

import (
	"context"
	"fmt"
	"time"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/sources"
)

// Config names the form and the question whose answer becomes the message
// text.
type Config struct {
	FormID       string
	QuestionName string
}

// API is the minimal web-form API surface this adapter needs.
type API interface {
	FetchSubmissions(ctx context.Context, formID string, since *time.Time) ([]Submission, error)
}

// Submission is one form submission as the upstream API returns it.
type Submission struct {
	SubmissionID string
	RespondentID string
	Answers      map[string]string
	SubmittedUTC time.Time
}

type Client struct {
	api API
	cfg Config
}

func NewClient(api API, cfg Config) *Client {
	return &Client{api: api, cfg: cfg}
}

func (c *Client) FetchSince(ctx context.Context, since *time.Time) ([]sources.RawRecord, error) {
	submissions, err := c.api.FetchSubmissions(ctx, c.cfg.FormID, since)
	if err != nil {
		return nil, fmt.Errorf("webform: fetch %s: %w", c.cfg.FormID, err)
	}
	records := make([]sources.RawRecord, 0, len(submissions))
	for _, s := range submissions {
		records = append(records, sources.RawRecord{
			// origin_id is {source_kind, form id, response id, field id}
			// (spec §4.D.2), since one form can ask several questions a
			// separate Client/dataset pairing each ingests independently.
			OriginID:     fmt.Sprintf("web_form.%s.%s.%s", c.cfg.FormID, s.SubmissionID, c.cfg.QuestionName),
			Text:         s.Answers[c.cfg.QuestionName],
			ContactID:    s.RespondentID,
			SubmittedUTC: s.SubmittedUTC,
		})
	}
	return records, nil
}
