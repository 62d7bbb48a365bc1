package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ecobiomax/normaIA/internal/embeddings"
)

// Compile-time check that Qdrant implements Index.
var _ Index = (*Qdrant)(nil)

var errCollectionMissing = errors.New("collection not found")

// QdrantConfig configures the Qdrant REST client.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Qdrant talks to a Qdrant server over its REST API.
type Qdrant struct {
	baseURL    string
	apiKey     string
	collection string
	dim        int
	client     *http.Client
}

// NewQdrant validates cfg and returns a client. No request is made until first use.
func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	if err := validateCollection(cfg.Collection, cfg.Dimension); err != nil {
		return nil, err
	}
	if _, err := url.Parse(cfg.URL); err != nil || cfg.URL == "" {
		return nil, fmt.Errorf("invalid qdrant url %q", cfg.URL)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Qdrant{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dim:        cfg.Dimension,
		client:     client,
	}, nil
}

func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := q.do(ctx, "ensure collection", http.MethodGet, q.collectionPath(""), nil, &info)
	switch {
	case err == nil:
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != q.dim {
			return fmt.Errorf("collection %s exists with dimension %d, want %d", q.collection, size, q.dim)
		}
		return nil
	case !errors.Is(err, errCollectionMissing):
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{"size": q.dim, "distance": "Cosine"},
	}
	err = q.do(ctx, "create collection", http.MethodPut, q.collectionPath(""), body, nil)
	if err != nil && !isConflict(err) {
		return err
	}
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, p Point) error {
	if err := checkDimension(p.Vector, q.dim); err != nil {
		return err
	}
	body := map[string]any{
		"points": []map[string]any{{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		}},
	}
	return q.do(ctx, "upsert", http.MethodPut, q.collectionPath("/points?wait=true"), body, nil)
}

func (q *Qdrant) Search(ctx context.Context, vector embeddings.Vector, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      json.RawMessage `json:"id"`
			Score   float32         `json:"score"`
			Payload Payload         `json:"payload"`
		} `json:"result"`
	}
	err := q.do(ctx, "search", http.MethodPost, q.collectionPath("/points/search"), body, &resp)
	if errors.Is(err, errCollectionMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, Hit{ID: pointID(r.ID), Score: r.Score, Payload: r.Payload})
	}
	sortHits(hits)
	return hits, nil
}

func (q *Qdrant) Delete(ctx context.Context, id string) error {
	body := map[string]any{"points": []string{id}}
	err := q.do(ctx, "delete", http.MethodPost, q.collectionPath("/points/delete?wait=true"), body, nil)
	if errors.Is(err, errCollectionMissing) {
		return nil
	}
	return err
}

func (q *Qdrant) collectionPath(suffix string) string {
	return q.baseURL + "/collections/" + url.PathEscape(q.collection) + suffix
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant returned %d: %s", e.code, e.body)
}

func isConflict(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusConflict
}

func (q *Qdrant) do(ctx context.Context, op, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return &UnavailableError{Backend: "qdrant", Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return errCollectionMissing
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &UnavailableError{Backend: "qdrant", Op: op, Err: &statusError{code: resp.StatusCode, body: string(msg)}}
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("qdrant %s: %w", op, &statusError{code: resp.StatusCode, body: string(msg)})
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}

// pointID accepts both UUID strings and unsigned integer ids.
func pointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
