package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memorykeep/memorykeep/internal/model"
)

type received struct {
	path string
	auth string
	body map[string]any
}

func newRecorder(t *testing.T, status int, reply string) (*httptest.Server, chan received) {
	t.Helper()
	got := make(chan received, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := received{path: r.URL.RequestURI(), auth: r.Header.Get("Authorization")}
		if r.Method == http.MethodPost {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		got <- rec
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestLogMemory(t *testing.T) {
	srv, got := newRecorder(t, http.StatusOK, `{"success":true,"status":"logged"}`)
	c := NewClient(srv.URL+"/api/", 0, zap.NewNop())

	res := c.LogMemory(context.Background(), "k1", model.MemoryExperience, json.RawMessage(`{"q":"hi"}`))
	assert.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.Status)

	r := <-got
	assert.Equal(t, "/api/log-memory", r.path)
	assert.Equal(t, "Bearer k1", r.auth)
	assert.Equal(t, "experience", r.body["type"])
	assert.Equal(t, map[string]any{"q": "hi"}, r.body["entry"])
}

func TestOverwriteMemory(t *testing.T) {
	srv, got := newRecorder(t, http.StatusOK, `{"success":true}`)
	c := NewClient(srv.URL+"/api", 0, nil)

	res := c.OverwriteMemory(context.Background(), "k1", model.MemoryCore, json.RawMessage(`"profile"`))
	assert.True(t, res.Success)

	r := <-got
	assert.Equal(t, "/api/overwrite-memory", r.path)
	assert.Equal(t, "profile", r.body["entry"])
}

func TestGetMemory(t *testing.T) {
	srv, got := newRecorder(t, http.StatusOK, `{"success":true,"memory":[{"type":"faq"}],"format":"json"}`)
	c := NewClient(srv.URL+"/api", 0, nil)

	res := c.GetMemory(context.Background(), "k1", model.MemoryNotebook)
	require.True(t, res.Success)
	assert.Equal(t, "json", res.Format)
	assert.JSONEq(t, `[{"type":"faq"}]`, string(res.Memory))

	r := <-got
	assert.Equal(t, "/api/get-memory?type=notebook", r.path)
}

func TestFailuresAreSwallowed(t *testing.T) {
	srv, _ := newRecorder(t, http.StatusForbidden, `{"success":false,"error":"Unauthorized"}`)
	c := NewClient(srv.URL+"/api", 0, nil)

	res := c.LogMemory(context.Background(), "bad", model.MemoryCore, json.RawMessage(`"x"`))
	assert.False(t, res.Success)
	assert.Equal(t, http.StatusForbidden, res.Status)
	assert.Contains(t, res.Error, "Unauthorized")

	down := NewClient("http://127.0.0.1:1/api", 500*time.Millisecond, nil)
	res = down.GetMemory(context.Background(), "k", model.MemoryCore)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

type keyMap map[string]string

func (k keyMap) GetSecrets(_ context.Context, botID string) (model.BotSecrets, bool, error) {
	key, ok := k[botID]
	return model.BotSecrets{BotID: botID, MemoryAPIKey: key}, ok, nil
}

func TestMirrorUsesBotKey(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.URL.Path+" "+r.Header.Get("Authorization"))
		mu.Unlock()
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	m := New(NewClient(srv.URL+"/api", 0, nil), keyMap{"b1": "key-b1"}, zap.NewNop())
	ctx := context.Background()

	m.Append(ctx, model.MemoryEntry{ID: "e1", BotID: "b1", Type: model.MemoryCore, Content: json.RawMessage(`"x"`)})
	m.Overwrite(ctx, model.MemoryEntry{ID: "e2", BotID: "b1", Type: model.MemoryCore, Content: json.RawMessage(`"y"`)})
	// No key: not mirrored.
	m.Append(ctx, model.MemoryEntry{ID: "e3", BotID: "b2", Type: model.MemoryCore, Content: json.RawMessage(`"z"`)})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"/api/log-memory Bearer key-b1",
		"/api/overwrite-memory Bearer key-b1",
	}, calls)
}
