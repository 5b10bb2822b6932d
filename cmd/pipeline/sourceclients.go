package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/sources/flowplatform"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/sources/groupcrawler"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/sources/webform"
)

// httpAPI is the thin bearer-token JSON-over-HTTP caller shared by every
// concrete source API below. The wire protocol of any given upstream
// platform is a spec.md Non-goal ("concrete upstream and downstream client
// libraries"); this is the minimal glue cmd/pipeline needs to drive the
// flowplatform/webform/groupcrawler adapters against a real endpoint rather
// than leaving them permanently unreachable from the CLI.
type httpAPI struct {
	baseURL string
	token   string
	client  *http.Client
}

func newHTTPAPI(baseURL, token string) *httpAPI {
	return &httpAPI{baseURL: baseURL, token: token, client: &http.Client{Timeout: 60 * time.Second}}
}

func (h *httpAPI) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := h.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("sourceclient: build request: %w", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("sourceclient: request %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sourceclient: %s returned status %d", u, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func sinceQuery(since *time.Time) url.Values {
	q := url.Values{}
	if since != nil {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	return q
}

// flowPlatformAPI implements flowplatform.API against a REST endpoint that
// returns flow run results as JSON.
type flowPlatformAPI struct{ *httpAPI }

func (a flowPlatformAPI) FetchFlowResults(ctx context.Context, flowName, resultField string, since *time.Time) ([]flowplatform.Result, error) {
	q := sinceQuery(since)
	q.Set("flow_name", flowName)
	q.Set("result_field", resultField)
	var out []flowplatform.Result
	if err := a.getJSON(ctx, "/flow-results", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// webFormAPI implements webform.API against a REST endpoint that returns
// form submissions as JSON.
type webFormAPI struct{ *httpAPI }

func (a webFormAPI) FetchSubmissions(ctx context.Context, formID string, since *time.Time) ([]webform.Submission, error) {
	q := sinceQuery(since)
	q.Set("form_id", formID)
	var out []webform.Submission
	if err := a.getJSON(ctx, "/submissions", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// groupCrawlerAPI implements groupcrawler.API against a REST endpoint that
// returns channel messages as JSON.
type groupCrawlerAPI struct{ *httpAPI }

func (a groupCrawlerAPI) FetchMessages(ctx context.Context, channelID string, since *time.Time) ([]groupcrawler.GroupMessage, error) {
	q := sinceQuery(since)
	q.Set("channel_id", channelID)
	var out []groupcrawler.GroupMessage
	if err := a.getJSON(ctx, "/messages", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}
