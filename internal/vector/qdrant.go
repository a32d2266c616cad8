package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"cs2-demo-pipeline/internal/constants"
)

// Qdrant talks to the Qdrant REST API. The collection is created on the
// first upsert using the embedding dimension.
type Qdrant struct {
	baseURL    string
	collection string
	apiKey     string
	client     *fasthttp.Client
	logger     zerolog.Logger

	mu    sync.Mutex
	ready bool
}

func NewQdrant(baseURL, collection, apiKey string, logger zerolog.Logger) *Qdrant {
	return &Qdrant{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		apiKey:     apiKey,
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         constants.VectorTimeout,
			WriteTimeout:        constants.VectorTimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger,
	}
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type qdrantStatus struct {
	Status any `json:"status"`
}

func (q *Qdrant) url(path string) string {
	return fmt.Sprintf("%s/collections/%s%s", q.baseURL, q.collection, path)
}

// do sends one JSON request and returns the status code. Responses outside
// 2xx (other than those listed in allow) are errors.
func (q *Qdrant) do(ctx context.Context, method, url string, body any, allow ...int) (int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		req.SetBodyRaw(b)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(constants.VectorTimeout)
	}
	if err := q.client.DoDeadline(req, resp, deadline); err != nil {
		return 0, fmt.Errorf("qdrant %s %s: %w", method, url, err)
	}

	code := resp.StatusCode()
	for _, a := range allow {
		if code == a {
			return code, nil
		}
	}
	if code < 200 || code >= 300 {
		var status qdrantStatus
		_ = json.Unmarshal(resp.Body(), &status)
		return code, fmt.Errorf("qdrant %s %s: status %d: %v", method, url, code, status.Status)
	}
	return code, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context, dim int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return nil
	}

	code, err := q.do(ctx, fasthttp.MethodGet, q.url(""), nil, fasthttp.StatusNotFound)
	if err != nil {
		return err
	}
	if code == fasthttp.StatusNotFound {
		body := map[string]any{
			"vectors": map[string]any{"size": dim, "distance": "Cosine"},
		}
		if _, err := q.do(ctx, fasthttp.MethodPut, q.url(""), body); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		q.logger.Info().Str("collection", q.collection).Int("dim", dim).Msg("qdrant collection created")
	}
	q.ready = true
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, embeddings []Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, len(embeddings[0].Vector)); err != nil {
		return err
	}

	points := make([]qdrantPoint, 0, len(embeddings))
	for _, e := range embeddings {
		points = append(points, qdrantPoint{
			ID:     e.ID.String(),
			Vector: e.Vector,
			Payload: map[string]any{
				"match_id":   e.MatchID,
				"moment_id":  e.MomentID.String(),
				"account_id": e.AccountID,
				"kind":       e.Kind,
			},
		})
	}
	_, err := q.do(ctx, fasthttp.MethodPut, q.url("/points?wait=true"), map[string]any{"points": points})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (q *Qdrant) DeleteMatch(ctx context.Context, matchID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []any{
				map[string]any{"key": "match_id", "match": map[string]any{"value": matchID}},
			},
		},
	}
	_, err := q.do(ctx, fasthttp.MethodPost, q.url("/points/delete?wait=true"), body, fasthttp.StatusNotFound)
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func (q *Qdrant) Close() error {
	q.client.CloseIdleConnections()
	return nil
}
