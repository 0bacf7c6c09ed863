package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Provider = (*DataAdapter)(nil)

// DataAdapter calls a structured-data search API (SERP/keyword style) and
// turns the results into evidence citations plus a plain-text digest that
// later stages can read.
//
// Request:  POST {base}/search {"q": "...", "keywords": [...], "hl": "en", "num": 8}
// Response: {"results": [{"id", "title", "url", "snippet"}]}
type DataAdapter struct {
	name   string
	apiKey string
	base   string
	limit  int
	client *http.Client
}

func NewDataAdapter(name, apiKey, base string, limit int, client *http.Client) (*DataAdapter, error) {
	if base == "" {
		return nil, errors.New("data provider base url empty")
	}
	if name == "" {
		name = "data"
	}
	if limit <= 0 {
		limit = 8
	}
	if client == nil {
		client = &http.Client{}
	}
	return &DataAdapter{name: name, apiKey: apiKey, base: strings.TrimRight(base, "/"), limit: limit, client: client}, nil
}

func (d *DataAdapter) Name() string { return d.name }

type dataResponse struct {
	Results []struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

func (d *DataAdapter) Invoke(ctx context.Context, call adapter.ProviderCall) (adapter.ProviderOutput, error) {
	if call.Query == nil || strings.TrimSpace(call.Query.Query) == "" {
		return adapter.ProviderOutput{}, invalidResponse(d.name, "structured-data call without query")
	}
	q := *call.Query
	if q.Limit <= 0 {
		q.Limit = d.limit
	}
	b, err := json.Marshal(q)
	if err != nil {
		return adapter.ProviderOutput{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.base+"/search", bytes.NewReader(b))
	if err != nil {
		return adapter.ProviderOutput{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("X-API-KEY", d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return adapter.ProviderOutput{}, Classify(d.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return adapter.ProviderOutput{}, Classify(d.name, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	var payload dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return adapter.ProviderOutput{}, invalidResponse(d.name, "decode: "+err.Error())
	}
	if len(payload.Results) == 0 {
		return adapter.ProviderOutput{}, invalidResponse(d.name, "no results")
	}

	out := adapter.ProviderOutput{Citations: make([]model.Citation, 0, len(payload.Results))}
	var digest strings.Builder
	for i, r := range payload.Results {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", d.name, i+1)
		}
		out.Citations = append(out.Citations, model.Citation{ID: id, Title: r.Title, URL: r.URL, Snippet: r.Snippet})
		fmt.Fprintf(&digest, "[%s] %s\n%s\n%s\n\n", id, r.Title, r.URL, r.Snippet)
	}
	out.Text = strings.TrimSpace(digest.String())
	return out, nil
}
