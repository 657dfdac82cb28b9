// Package gemini implements the Google Gemini embedding provider.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	strata "github.com/davrell/strata"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

// Embedding implements strata.Embedder for Gemini embedding models
// (e.g. "gemini-embedding-001").
type Embedding struct {
	apiKey     string
	model      string
	dims       int
	httpClient *http.Client
}

var _ strata.Embedder = (*Embedding)(nil)

// NewEmbedding creates a Gemini embedding provider.
func NewEmbedding(apiKey, model string, dims int) *Embedding {
	return &Embedding{
		apiKey:     apiKey,
		model:      model,
		dims:       dims,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns "gemini".
func (e *Embedding) Name() string { return "gemini" }

// Dimensions returns the configured embedding dimensionality.
func (e *Embedding) Dimensions() int { return e.dims }

// Embed embeds each text and returns one Embedding per input, in input
// order. Any failure aborts the whole batch.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([]strata.Embedding, error) {
	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", baseURL, e.model, e.apiKey)

	embeddings := make([]strata.Embedding, 0, len(texts))
	for _, text := range texts {
		vec, err := e.embedOne(ctx, url, text)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, strata.Embedding{
			Vector: vec,
			Text:   text,
			Model:  e.model,
		})
	}
	return embeddings, nil
}

func (e *Embedding) embedOne(ctx context.Context, url, text string) ([]float32, error) {
	body := map[string]any{
		"content": map[string]any{
			"parts": []map[string]any{
				{"text": text},
			},
		},
		"outputDimensionality": e.dims,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, e.wrapErr("marshal embed body: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, e.wrapErr("create embed request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, e.wrapErr("embed request failed: " + err.Error())
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, e.wrapErr("read embed response: " + err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpErr(resp, string(respBody))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, e.wrapErr("parse embed response: " + err.Error())
	}
	if parsed.Embedding == nil {
		return nil, e.wrapErr("missing embedding.values in response")
	}

	vec := make([]float32, len(parsed.Embedding.Values))
	for i, v := range parsed.Embedding.Values {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (e *Embedding) wrapErr(msg string) *strata.ProviderError {
	return &strata.ProviderError{Provider: "gemini", Message: msg}
}

// httpErr builds an HTTPError carrying the server's retry hint so the
// retry wrapper can classify and pace transient failures.
func httpErr(resp *http.Response, body string) *strata.HTTPError {
	ra := strata.ParseRetryAfter(resp.Header.Get("Retry-After"))
	if ra == 0 {
		ra = parseRetryInfo(body)
	}
	return &strata.HTTPError{
		Status:     resp.StatusCode,
		Body:       body,
		RetryAfter: ra,
	}
}

// parseRetryInfo extracts the retryDelay from a Gemini error body
// containing a google.rpc.RetryInfo detail. Returns 0 if not found or
// unparseable.
func parseRetryInfo(body string) time.Duration {
	var envelope struct {
		Error struct {
			Details []json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &envelope) != nil {
		return 0
	}
	for _, raw := range envelope.Error.Details {
		var detail struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		}
		if json.Unmarshal(raw, &detail) != nil {
			continue
		}
		if !strings.HasSuffix(detail.Type, "RetryInfo") || detail.RetryDelay == "" {
			continue
		}
		if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
			return d
		}
	}
	return 0
}

type embedResponse struct {
	Embedding *embedValues `json:"embedding"`
}

type embedValues struct {
	Values []float64 `json:"values"`
}
