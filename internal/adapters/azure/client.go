/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HamedShams/pivotal-azure/internal/config"
	"github.com/HamedShams/pivotal-azure/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Client is the Azure DevOps work item gateway. All remote calls are single
// best-effort requests with transparent retry on 429/5xx and network errors.
type Client struct {
	baseURL  string
	graphURL string
	org      string
	project  string
	auth     string
	apiVer   string
	http     *http.Client
	log      zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		graphURL: strings.TrimRight(cfg.GraphBaseURL, "/"),
		org:      cfg.Organization,
		project:  cfg.Project,
		auth:     "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+cfg.PAT)),
		apiVer:   cfg.APIVersion,
		http:     &http.Client{Timeout: cfg.HTTPTimeout},
		log:      log,
	}
}

func (c *Client) witURL(suffix string, q url.Values) string {
	if q == nil { q = url.Values{} }
	if q.Get("api-version") == "" { q.Set("api-version", c.apiVer) }
	return c.baseURL + "/" + c.org + "/" + c.project + "/_apis/wit/" + suffix + "?" + q.Encode()
}

const retryMaxElapsed = 30 * time.Second

func newRetryBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}

// do issues one request with retry on transport errors, 429 and 5xx. Any
// other non-2xx status is permanent and surfaces as an error immediately.
func (c *Client) do(ctx context.Context, method, u, contentType string, body []byte) ([]byte, error) {
	var out []byte
	op := func() error {
		var r *bytes.Reader
		if body != nil { r = bytes.NewReader(body) } else { r = bytes.NewReader(nil) }
		req, err := http.NewRequestWithContext(ctx, method, u, r)
		if err != nil { return backoff.Permanent(err) }
		req.Header.Set("Authorization", c.auth)
		if contentType != "" { req.Header.Set("Content-Type", contentType) }
		resp, err := c.http.Do(req)
		if err != nil { return err }
		defer resp.Body.Close()
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		if resp.StatusCode >= 300 {
			err := fmt.Errorf("azure api status=%d body=%s", resp.StatusCode, strings.TrimSpace(buf.String()))
			if resp.StatusCode == 429 || resp.StatusCode >= 500 { return err }
			return backoff.Permanent(err)
		}
		out = buf.Bytes()
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(newRetryBackoff(), ctx)); err != nil { return nil, err }
	return out, nil
}

// patchOps converts field ops plus an optional parent link into the JSON
// patch document the work item API expects.
func (c *Client) patchOps(ops []domain.FieldOp, parentID string) []map[string]any {
	doc := make([]map[string]any, 0, len(ops)+1)
	for _, op := range ops {
		doc = append(doc, map[string]any{"op": "add", "path": op.Path, "value": op.Value})
	}
	if parentID != "" {
		doc = append(doc, map[string]any{"op": "add", "path": "/relations/-", "value": map[string]any{
			"rel": "System.LinkTypes.Hierarchy-Reverse",
			"url": c.baseURL + "/" + c.org + "/" + c.project + "/_apis/wit/workitems/" + parentID,
		}})
	}
	return doc
}

// CreateWorkItem creates a work item of the given board type, optionally
// linked under parentID, and returns the new remote id.
func (c *Client) CreateWorkItem(ctx context.Context, witType string, ops []domain.FieldOp, parentID string) (string, error) {
	if witType == "" { return "", errors.New("azure: empty work item type") }
	body, err := json.Marshal(c.patchOps(ops, parentID))
	if err != nil { return "", err }
	u := c.witURL("workitems/$"+url.PathEscape(witType), nil)
	resp, err := c.do(ctx, http.MethodPost, u, "application/json-patch+json", body)
	if err != nil { return "", err }
	var created struct{ ID int `json:"id"` }
	if err := json.Unmarshal(resp, &created); err != nil { return "", fmt.Errorf("azure: parse create response: %w", err) }
	return fmt.Sprint(created.ID), nil
}

func (c *Client) PatchFields(ctx context.Context, id string, ops []domain.FieldOp) error {
	if id == "" { return errors.New("azure: empty work item id") }
	body, err := json.Marshal(c.patchOps(ops, ""))
	if err != nil { return err }
	u := c.witURL("workitems/"+url.PathEscape(id), nil)
	_, err = c.do(ctx, http.MethodPatch, u, "application/json-patch+json", body)
	return err
}

func (c *Client) GetFields(ctx context.Context, id string, fields []string) (map[string]any, error) {
	if id == "" { return nil, errors.New("azure: empty work item id") }
	q := url.Values{}
	if len(fields) > 0 { q.Set("fields", strings.Join(fields, ",")) }
	resp, err := c.do(ctx, http.MethodGet, c.witURL("workitems/"+url.PathEscape(id), q), "", nil)
	if err != nil { return nil, err }
	var item struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(resp, &item); err != nil { return nil, fmt.Errorf("azure: parse work item: %w", err) }
	return item.Fields, nil
}

func (c *Client) GetRelations(ctx context.Context, id string) ([]domain.Relation, error) {
	if id == "" { return nil, errors.New("azure: empty work item id") }
	q := url.Values{}
	q.Set("$expand", "relations")
	resp, err := c.do(ctx, http.MethodGet, c.witURL("workitems/"+url.PathEscape(id), q), "", nil)
	if err != nil { return nil, err }
	var item struct {
		Relations []struct {
			Rel string `json:"rel"`
			URL string `json:"url"`
		} `json:"relations"`
	}
	if err := json.Unmarshal(resp, &item); err != nil { return nil, fmt.Errorf("azure: parse relations: %w", err) }
	out := make([]domain.Relation, 0, len(item.Relations))
	for _, r := range item.Relations { out = append(out, domain.Relation{Rel: r.Rel, URL: r.URL}) }
	return out, nil
}

// AddComment appends discussion text to a work item via the history field.
func (c *Client) AddComment(ctx context.Context, id, text string) error {
	return c.PatchFields(ctx, id, []domain.FieldOp{{Path: "/fields/System.History", Value: text}})
}

// UploadAttachment stores the raw bytes and returns the attachment URL to
// link with. The file is not associated with any work item yet.
func (c *Client) UploadAttachment(ctx context.Context, filename string, data []byte) (string, error) {
	q := url.Values{}
	q.Set("fileName", filename)
	resp, err := c.do(ctx, http.MethodPost, c.witURL("attachments", q), "application/octet-stream", data)
	if err != nil { return "", err }
	var uploaded struct{ URL string `json:"url"` }
	if err := json.Unmarshal(resp, &uploaded); err != nil { return "", fmt.Errorf("azure: parse attachment response: %w", err) }
	return uploaded.URL, nil
}

func (c *Client) LinkAttachment(ctx context.Context, id, attachmentURL string) error {
	doc := []map[string]any{{"op": "add", "path": "/relations/-", "value": map[string]any{"rel": "AttachedFile", "url": attachmentURL}}}
	body, err := json.Marshal(doc)
	if err != nil { return err }
	u := c.witURL("workitems/"+url.PathEscape(id), nil)
	_, err = c.do(ctx, http.MethodPatch, u, "application/json-patch+json", body)
	return err
}

func (c *Client) queryIDs(ctx context.Context, wiql string) ([]string, error) {
	body, err := json.Marshal(map[string]string{"query": wiql})
	if err != nil { return nil, err }
	resp, err := c.do(ctx, http.MethodPost, c.witURL("wiql", nil), "application/json", body)
	if err != nil { return nil, err }
	var result struct {
		WorkItems []struct{ ID int `json:"id"` } `json:"workItems"`
	}
	if err := json.Unmarshal(resp, &result); err != nil { return nil, fmt.Errorf("azure: parse wiql response: %w", err) }
	ids := make([]string, 0, len(result.WorkItems))
	for _, wi := range result.WorkItems { ids = append(ids, fmt.Sprint(wi.ID)) }
	return ids, nil
}

func (c *Client) QueryIDsByType(ctx context.Context, witType string) ([]string, error) {
	if witType == "" { return nil, errors.New("azure: empty work item type") }
	return c.queryIDs(ctx, fmt.Sprintf("SELECT [System.Id] FROM WorkItems WHERE [System.WorkItemType] = '%s'", escapeWIQL(witType)))
}

func (c *Client) QueryIDsByField(ctx context.Context, field, value string) ([]string, error) {
	if field == "" { return nil, errors.New("azure: empty field name") }
	return c.queryIDs(ctx, fmt.Sprintf("SELECT [System.Id] FROM WorkItems WHERE [%s] = '%s'", field, escapeWIQL(value)))
}

// QueryCorrelationIDs returns the source-id to remote-id map of everything
// already migrated, keyed by the correlation field stored at creation time.
func (c *Client) QueryCorrelationIDs(ctx context.Context) (map[string]string, error) {
	ids, err := c.queryIDs(ctx, "SELECT [System.Id] FROM WorkItems WHERE [Custom.PTStory] <> ''")
	if err != nil { return nil, err }
	out := map[string]string{}
	for _, id := range ids {
		fields, err := c.GetFields(ctx, id, []string{"Custom.PTStory"})
		if err != nil {
			c.log.Warn().Err(err).Str("id", id).Msg("azure: correlation lookup failed, item skipped")
			continue
		}
		if v, ok := fields["Custom.PTStory"].(string); ok && v != "" { out[v] = id }
	}
	return out, nil
}

// ListUsers returns the display names of the organization's users.
func (c *Client) ListUsers(ctx context.Context) ([]string, error) {
	u := c.graphURL + "/" + c.org + "/_apis/graph/users?api-version=" + c.apiVer + "-preview.1"
	resp, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err != nil { return nil, err }
	var result struct {
		Value []struct {
			DisplayName string `json:"displayName"`
		} `json:"value"`
	}
	if err := json.Unmarshal(resp, &result); err != nil { return nil, fmt.Errorf("azure: parse users response: %w", err) }
	users := make([]string, 0, len(result.Value))
	for _, v := range result.Value { if v.DisplayName != "" { users = append(users, v.DisplayName) } }
	return users, nil
}

func (c *Client) DeleteWorkItem(ctx context.Context, id string) error {
	if id == "" { return errors.New("azure: empty work item id") }
	_, err := c.do(ctx, http.MethodDelete, c.witURL("workitems/"+url.PathEscape(id), nil), "", nil)
	return err
}

func escapeWIQL(s string) string { return strings.ReplaceAll(s, "'", "''") }
