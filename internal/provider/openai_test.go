package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"docchat/internal/config"
	"docchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	requests map[string][]map[string]any
	queries  map[string]string
}

func (f *fakeAPI) record(key string, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body map[string]any
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}
	f.requests[key] = append(f.requests[key], body)
	f.queries[key] = r.URL.RawQuery
}

func (f *fakeAPI) calls(key string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[key]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newFakeOpenAI(t *testing.T, assistants map[string]map[string]any) (*OpenAI, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{requests: map[string][]map[string]any{}, queries: map[string]string{}}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/vector_stores", func(w http.ResponseWriter, r *http.Request) {
		api.record("create_vector_store", r)
		writeJSON(w, http.StatusOK, map[string]any{"id": "vs_new", "object": "vector_store"})
	})
	mux.HandleFunc("POST /v1/vector_stores/{id}/files", func(w http.ResponseWriter, r *http.Request) {
		api.record("add_vector_store_file:"+r.PathValue("id"), r)
		writeJSON(w, http.StatusOK, map[string]any{"id": "vsf_1", "object": "vector_store.file"})
	})
	mux.HandleFunc("DELETE /v1/vector_stores/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.record("delete_vector_store:"+r.PathValue("id"), r)
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "object": "vector_store.deleted", "deleted": true})
	})
	mux.HandleFunc("POST /v1/assistants", func(w http.ResponseWriter, r *http.Request) {
		api.record("create_assistant", r)
		calls := api.calls("create_assistant")
		body := calls[len(calls)-1]
		if body["model"] == "broken-model" {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error": map[string]any{"message": "assistant create failed", "type": "server_error"},
			})
			return
		}
		resp := map[string]any{"id": "asst_new", "model": body["model"], "name": body["name"]}
		if res, ok := body["tool_resources"]; ok {
			resp["tool_resources"] = res
		}
		writeJSON(w, http.StatusOK, resp)
	})
	mux.HandleFunc("GET /v1/assistants/{id}", func(w http.ResponseWriter, r *http.Request) {
		a, ok := assistants[r.PathValue("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": map[string]any{"message": "No assistant found", "type": "invalid_request_error"},
			})
			return
		}
		writeJSON(w, http.StatusOK, a)
	})
	mux.HandleFunc("POST /v1/assistants/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.record("modify_assistant:"+r.PathValue("id"), r)
		if r.PathValue("id") == "asst_locked" {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{"message": "assistant is locked", "type": "invalid_request_error"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id")})
	})
	mux.HandleFunc("GET /v1/threads/{tid}/messages", func(w http.ResponseWriter, r *http.Request) {
		api.record("list_messages", r)
		writeJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "msg_2", "role": "assistant", "content": []map[string]any{
					{"type": "text", "text": map[string]any{"value": "Answer", "annotations": []any{}}},
				}},
				{"id": "msg_1", "role": "user", "content": []map[string]any{
					{"type": "text", "text": map[string]any{"value": "Question", "annotations": []any{}}},
				}},
			},
		})
	})
	mux.HandleFunc("GET /v1/threads/{tid}/runs/{rid}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":         r.PathValue("rid"),
			"status":     "failed",
			"last_error": map[string]any{"code": "rate_limit_exceeded", "message": "slow down"},
		})
	})
	mux.HandleFunc("POST /v1/threads", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": map[string]any{"message": "upstream exploded", "type": "server_error"},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{
			config.ProviderOpenAI: {APIKey: "test-key", BaseURL: srv.URL + "/v1"},
		},
		Assistant: config.AssistantConfig{VectorStoreTTLDays: 7},
	}
	client, err := NewOpenAI(cfg)
	require.NoError(t, err)
	return client, api
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI(&config.Config{})
	require.Error(t, err)
}

func TestCreateAssistantBindsVectorStore(t *testing.T) {
	client, api := newFakeOpenAI(t, nil)

	a, err := client.CreateAssistant(context.Background(), AssistantSpec{
		Name:         "Doc Expert",
		Model:        "gpt-4o-mini",
		Instructions: "answer from the file",
		FileIDs:      []string{"file_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "asst_new", a.ID)
	assert.Equal(t, "vs_new", a.VectorStoreID)

	stores := api.calls("create_vector_store")
	require.Len(t, stores, 1)
	assert.Equal(t, []any{"file_1"}, stores[0]["file_ids"])
	assert.Equal(t, map[string]any{"anchor": "last_active_at", "days": float64(7)}, stores[0]["expires_after"])

	created := api.calls("create_assistant")
	require.Len(t, created, 1)
	assert.Equal(t, []any{map[string]any{"type": "file_search"}}, created[0]["tools"])
	assert.Equal(t, "answer from the file", created[0]["instructions"])
}

func TestCreateAssistantWithoutFilesSkipsVectorStore(t *testing.T) {
	client, api := newFakeOpenAI(t, nil)

	a, err := client.CreateAssistant(context.Background(), AssistantSpec{Name: "n", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Empty(t, a.VectorStoreID)
	assert.Empty(t, api.calls("create_vector_store"))
}

func TestUpdateAssistantFilesAppendsToExistingStore(t *testing.T) {
	client, api := newFakeOpenAI(t, map[string]map[string]any{
		"asst_1": {
			"id":    "asst_1",
			"model": "gpt-4o",
			"tools": []map[string]any{{"type": "file_search"}},
			"tool_resources": map[string]any{
				"file_search": map[string]any{"vector_store_ids": []string{"vs_old"}},
			},
		},
	})

	storeID, err := client.UpdateAssistantFiles(context.Background(), "asst_1", []string{"file_9"})
	require.NoError(t, err)
	assert.Equal(t, "vs_old", storeID)
	require.Len(t, api.calls("add_vector_store_file:vs_old"), 1)
	assert.Equal(t, "file_9", api.calls("add_vector_store_file:vs_old")[0]["file_id"])
	assert.Empty(t, api.calls("modify_assistant:asst_1"))
}

func TestUpdateAssistantFilesCreatesAndBindsStore(t *testing.T) {
	client, api := newFakeOpenAI(t, map[string]map[string]any{
		"asst_2": {"id": "asst_2", "model": "gpt-4o-mini", "tools": []map[string]any{}},
	})

	storeID, err := client.UpdateAssistantFiles(context.Background(), "asst_2", []string{"file_1"})
	require.NoError(t, err)
	assert.Equal(t, "vs_new", storeID)

	mods := api.calls("modify_assistant:asst_2")
	require.Len(t, mods, 1)
	assert.Equal(t, "gpt-4o-mini", mods[0]["model"])
	assert.Equal(t, []any{map[string]any{"type": "file_search"}}, mods[0]["tools"])
	assert.Equal(t, map[string]any{
		"file_search": map[string]any{"vector_store_ids": []any{"vs_new"}},
	}, mods[0]["tool_resources"])
}

func TestCreateAssistantFailureDropsVectorStore(t *testing.T) {
	client, api := newFakeOpenAI(t, nil)

	_, err := client.CreateAssistant(context.Background(), AssistantSpec{
		Name:    "Doc Expert",
		Model:   "broken-model",
		FileIDs: []string{"file_1"},
	})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "create assistant", perr.Op)
	assert.Len(t, api.calls("create_vector_store"), 1)
	assert.Len(t, api.calls("delete_vector_store:vs_new"), 1)
}

func TestUpdateAssistantFilesModifyFailureDropsVectorStore(t *testing.T) {
	client, api := newFakeOpenAI(t, map[string]map[string]any{
		"asst_locked": {"id": "asst_locked", "model": "gpt-4o", "tools": []map[string]any{}},
	})

	_, err := client.UpdateAssistantFiles(context.Background(), "asst_locked", []string{"file_1"})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "modify assistant", perr.Op)
	assert.Len(t, api.calls("delete_vector_store:vs_new"), 1)
}

func TestRetrieveAssistantNotFound(t *testing.T) {
	client, _ := newFakeOpenAI(t, nil)

	_, err := client.RetrieveAssistant(context.Background(), "asst_missing")
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusNotFound, pe.StatusCode)
	assert.Equal(t, "No assistant found", pe.Message)
	assert.Equal(t, "retrieve assistant", pe.Op)
}

func TestCreateThreadServerError(t *testing.T) {
	client, _ := newFakeOpenAI(t, nil)

	_, err := client.CreateThread(context.Background())
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusInternalServerError, pe.StatusCode)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestListMessagesNewestFirst(t *testing.T) {
	client, api := newFakeOpenAI(t, nil)

	msgs, err := client.ListMessages(context.Background(), "thread_1", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "Answer", msgs[0].Content)

	api.mu.Lock()
	query := api.queries["list_messages"]
	api.mu.Unlock()
	assert.Contains(t, query, "order=desc")
	assert.Contains(t, query, "limit=1")
}

func TestRunStatusCarriesLastError(t *testing.T) {
	client, _ := newFakeOpenAI(t, nil)

	run, err := client.RunStatus(context.Background(), "thread_1", "run_1")
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Equal(t, "rate_limit_exceeded: slow down", run.LastError)
}
