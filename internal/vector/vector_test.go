package vector

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"cs2-demo-pipeline/internal/config"
	"cs2-demo-pipeline/internal/moments"
	"cs2-demo-pipeline/internal/summary"
)

type request struct {
	method string
	path   string
	apiKey string
	body   map[string]any
}

type fakeQdrant struct {
	mu       sync.Mutex
	requests []request
	exists   bool
}

func (f *fakeQdrant) handle(ctx *fasthttp.RequestCtx) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := request{
		method: string(ctx.Method()),
		path:   string(ctx.Path()),
		apiKey: string(ctx.Request.Header.Peek("api-key")),
	}
	if len(ctx.PostBody()) > 0 {
		_ = json.Unmarshal(ctx.PostBody(), &r.body)
	}
	f.requests = append(f.requests, r)

	if r.method == fasthttp.MethodGet && !f.exists {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	if r.method == fasthttp.MethodPut && r.path == "/collections/emb" {
		f.exists = true
	}
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"status":"ok","result":{}}`)
}

func newFake(t *testing.T) (*fakeQdrant, *Qdrant) {
	t.Helper()
	fake := &fakeQdrant{}
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: fake.handle}
	go srv.Serve(ln)
	t.Cleanup(func() { ln.Close() })

	q := NewQdrant("http://qdrant.test/", "emb", "secret", zerolog.Nop())
	q.client.Dial = func(string) (net.Conn, error) { return ln.Dial() }
	return fake, q
}

func testSummary(account uint64) summary.Summary {
	return summary.Summary{
		MomentID:  uuid.MustParse("6f9619ff-8b86-d011-b42d-00cf4fc964ff"),
		MatchID:   "match-1",
		AccountID: account,
		Kind:      moments.KindClutch,
		Features:  map[string]float64{summary.FeatureKills: 3},
	}
}

func TestFromSummary(t *testing.T) {
	a := FromSummary(testSummary(1))
	b := FromSummary(testSummary(1))
	c := FromSummary(testSummary(2))
	if a.ID != b.ID {
		t.Errorf("Expected stable ids, got %s and %s", a.ID, b.ID)
	}
	if a.ID == c.ID {
		t.Error("Expected different players to get different ids")
	}
	if len(a.Vector) != len(summary.FeatureOrder) || a.Kind != "clutch" {
		t.Errorf("Unexpected embedding: %+v", a)
	}
}

func TestQdrantUpsertCreatesCollection(t *testing.T) {
	fake, q := newFake(t)
	ctx := context.Background()
	embs := []Embedding{FromSummary(testSummary(1)), FromSummary(testSummary(2))}

	if err := q.Upsert(ctx, embs); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}
	if err := q.Upsert(ctx, embs[:1]); err != nil {
		t.Fatalf("Failed to upsert again: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	// GET (404), PUT collection, PUT points, PUT points
	if len(fake.requests) != 4 {
		t.Fatalf("Expected 4 requests, got %d: %+v", len(fake.requests), fake.requests)
	}
	create := fake.requests[1]
	if create.method != fasthttp.MethodPut || create.path != "/collections/emb" {
		t.Errorf("Expected collection creation, got %s %s", create.method, create.path)
	}
	vectors := create.body["vectors"].(map[string]any)
	if int(vectors["size"].(float64)) != len(summary.FeatureOrder) {
		t.Errorf("Expected dimension %d, got %v", len(summary.FeatureOrder), vectors["size"])
	}
	upsert := fake.requests[2]
	if upsert.path != "/collections/emb/points" || upsert.apiKey != "secret" {
		t.Errorf("Unexpected upsert request: %+v", upsert)
	}
	points := upsert.body["points"].([]any)
	if len(points) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(points))
	}
	payload := points[0].(map[string]any)["payload"].(map[string]any)
	if payload["match_id"] != "match-1" || payload["kind"] != "clutch" {
		t.Errorf("Unexpected payload: %v", payload)
	}
}

func TestQdrantDeleteMatch(t *testing.T) {
	fake, q := newFake(t)
	if err := q.DeleteMatch(context.Background(), "match-1"); err != nil {
		t.Fatal(err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	r := fake.requests[0]
	if r.method != fasthttp.MethodPost || r.path != "/collections/emb/points/delete" {
		t.Errorf("Unexpected delete request: %s %s", r.method, r.path)
	}
	if _, ok := r.body["filter"]; !ok {
		t.Error("Expected a match_id filter")
	}
}

func TestQdrantErrorStatus(t *testing.T) {
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}}
	go srv.Serve(ln)
	defer ln.Close()

	q := NewQdrant("http://qdrant.test", "emb", "", zerolog.Nop())
	q.client.Dial = func(string) (net.Conn, error) { return ln.Dial() }
	if err := q.Upsert(context.Background(), []Embedding{FromSummary(testSummary(1))}); err == nil {
		t.Error("Expected a server error to surface")
	}
}

func TestRqliteStatements(t *testing.T) {
	e := FromSummary(testSummary(76561198000000001))
	params, err := upsertStatements([]Embedding{e})
	if err != nil {
		t.Fatal(err)
	}
	if len(params) != 1 || len(params[0].Arguments) != 6 {
		t.Fatalf("Expected 1 statement with 6 arguments, got %+v", params)
	}
	if params[0].Arguments[0] != e.ID.String() || params[0].Arguments[3] != int64(76561198000000001) {
		t.Errorf("Unexpected arguments: %v", params[0].Arguments)
	}
	var vec []float32
	if err := json.Unmarshal([]byte(params[0].Arguments[5].(string)), &vec); err != nil || len(vec) != len(summary.FeatureOrder) {
		t.Errorf("Expected the vector as JSON, got %v (%v)", params[0].Arguments[5], err)
	}
}

func TestNewDisabled(t *testing.T) {
	store, err := New(&config.Config{VectorBackend: config.VectorNone}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if Enabled(store) {
		t.Error("Expected the nop store to be disabled")
	}
	if !Enabled(NewQdrant("http://localhost:6333", "emb", "", zerolog.Nop())) {
		t.Error("Expected qdrant to be enabled")
	}
}
