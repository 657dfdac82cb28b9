package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	strata "github.com/davrell/strata"
)

func withTestServer(t *testing.T, handler http.HandlerFunc) *Embedding {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	old := baseURL
	baseURL = srv.URL
	t.Cleanup(func() { baseURL = old })

	return NewEmbedding("test-key", "test-embed-model", 4)
}

func TestEmbedOrderAndModel(t *testing.T) {
	var call int
	e := withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			OutputDimensionality int `json:"outputDimensionality"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.OutputDimensionality != 4 {
			t.Errorf("wrong dims: %d", req.OutputDimensionality)
		}
		call++
		resp := map[string]any{
			"embedding": map[string]any{
				"values": []float64{float64(call), 0, 0, 0},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})

	texts := []string{"first", "second", "third"}
	embs, err := e.Embed(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(embs) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(embs))
	}
	for i, emb := range embs {
		if emb.Text != texts[i] {
			t.Errorf("order broken at %d: %q", i, emb.Text)
		}
		if emb.Model != "test-embed-model" {
			t.Errorf("model not recorded: %q", emb.Model)
		}
		if emb.Vector[0] != float32(i+1) {
			t.Errorf("wrong vector at %d: %v", i, emb.Vector)
		}
	}
}

func TestEmbedHTTPErrorCarriesRetryAfter(t *testing.T) {
	e := withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"quota"}}`))
	})

	_, err := e.Embed(context.Background(), []string{"x"})
	var he *strata.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.Status != http.StatusTooManyRequests {
		t.Errorf("wrong status: %d", he.Status)
	}
	if he.RetryAfter != 7*time.Second {
		t.Errorf("retry-after not parsed: %v", he.RetryAfter)
	}
}

func TestEmbedMissingValues(t *testing.T) {
	e := withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	_, err := e.Embed(context.Background(), []string{"x"})
	var pe *strata.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
}

func TestParseRetryInfo(t *testing.T) {
	body := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"30s"}]}}`
	if got := parseRetryInfo(body); got != 30*time.Second {
		t.Errorf("got %v", got)
	}
	if got := parseRetryInfo(`not json`); got != 0 {
		t.Errorf("expected 0 for garbage, got %v", got)
	}
}
