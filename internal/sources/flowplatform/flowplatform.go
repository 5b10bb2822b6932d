// Package flowplatform adapts an SMS/USSD flow platform (a RapidPro-style
// system) into a sources.Client, grounded on
// original_source/src/rapid_pro_to_engagement_db/configuration.py, which
// confirms the adapter's configuration shape: a workspace domain, a
// token-file URL, a flow name, and the result field that holds the
// response text.
package flowplatform

import (
	"context"
	"fmt"
	"time"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/sources"
)

// Config is the flow-platform adapter's configuration; cmd/pipeline fills
// it from the source entry of the loaded pipeline configuration.
type Config struct {
	Domain       string
	Token        string
	FlowName     string
	ResultField  string
}

// API is the minimal surface this adapter needs from a flow-platform HTTP
// client, an interface so tests never need a live workspace.
type API interface {
	FetchFlowResults(ctx context.Context, flowName, resultField string, since *time.Time) ([]Result, error)
}

// Result is one flow run result as the upstream API returns it.
type Result struct {
	RunID        string
	ContactID    string
	Value        string
	ModifiedUTC  time.Time
}

// Client is the sources.Client implementation for this origin.
type Client struct {
	api API
	cfg Config
}

func NewClient(api API, cfg Config) *Client {
	return &Client{api: api, cfg: cfg}
}

func (c *Client) FetchSince(ctx context.Context, since *time.Time) ([]sources.RawRecord, error) {
	results, err := c.api.FetchFlowResults(ctx, c.cfg.FlowName, c.cfg.ResultField, since)
	if err != nil {
		return nil, fmt.Errorf("flowplatform: fetch %s: %w", c.cfg.FlowName, err)
	}
	records := make([]sources.RawRecord, 0, len(results))
	for _, r := range results {
		records = append(records, sources.RawRecord{
			// origin_id is {source_kind, flow id, response id, field id}
			// (spec §4.D.2): a run id alone collides across flows/fields
			// that reuse the same upstream numbering.
			OriginID:     fmt.Sprintf("flow_platform.%s.%s.%s", c.cfg.FlowName, r.RunID, c.cfg.ResultField),
			Text:         r.Value,
			ContactID:    r.ContactID,
			SubmittedUTC: r.ModifiedUTC,
		})
	}
	return records, nil
}
