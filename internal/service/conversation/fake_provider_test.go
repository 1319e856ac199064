package conversation

import (
	"context"
	"fmt"
	"sync"

	"docchat/internal/models"
	"docchat/internal/provider"
)

// fakeProvider records every call and replays scripted results.
type fakeProvider struct {
	mu    sync.Mutex
	calls []string

	assistants map[string]provider.Assistant
	created    []provider.AssistantSpec
	errs       map[string]error

	// statuses is consumed by RunStatus, one per call; the last value repeats.
	statuses    []models.RunStatus
	lastError   string
	messages    []provider.Message
	seq         int
	cancelled   []string
	statusCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		assistants: map[string]provider.Assistant{
			"asst_abc": {ID: "asst_abc", Name: "Existing", Model: "gpt-4o"},
		},
		errs:     map[string]error{},
		statuses: []models.RunStatus{models.RunInProgress, models.RunCompleted},
		messages: []provider.Message{{ID: "msg_a", Role: models.RoleAssistant, Content: "X is..."}},
	}
}

func (f *fakeProvider) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.errs[op]
}

func (f *fakeProvider) nextID(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *fakeProvider) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeProvider) setErr(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

func (f *fakeProvider) RetrieveAssistant(_ context.Context, id string) (provider.Assistant, error) {
	if err := f.record("RetrieveAssistant"); err != nil {
		return provider.Assistant{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assistants[id]
	if !ok {
		return provider.Assistant{}, &provider.Error{Op: "retrieve assistant", StatusCode: 404, Message: "no such assistant"}
	}
	return a, nil
}

func (f *fakeProvider) CreateAssistant(_ context.Context, spec provider.AssistantSpec) (provider.Assistant, error) {
	if err := f.record("CreateAssistant"); err != nil {
		return provider.Assistant{}, err
	}
	a := provider.Assistant{ID: f.nextID("asst"), Name: spec.Name, Model: spec.Model, Instructions: spec.Instructions}
	if len(spec.FileIDs) > 0 {
		a.VectorStoreID = "vs_created"
	}
	f.mu.Lock()
	f.created = append(f.created, spec)
	f.assistants[a.ID] = a
	f.mu.Unlock()
	return a, nil
}

func (f *fakeProvider) UpdateAssistantFiles(_ context.Context, _ string, _ []string) (string, error) {
	if err := f.record("UpdateAssistantFiles"); err != nil {
		return "", err
	}
	return "vs_updated", nil
}

func (f *fakeProvider) UploadFile(_ context.Context, name string, data []byte) (provider.File, error) {
	if err := f.record("UploadFile"); err != nil {
		return provider.File{}, err
	}
	return provider.File{ID: f.nextID("file"), Name: name, Size: int64(len(data))}, nil
}

func (f *fakeProvider) DeleteFile(_ context.Context, _ string) error {
	return f.record("DeleteFile")
}

func (f *fakeProvider) DeleteAssistant(_ context.Context, _ string) error {
	return f.record("DeleteAssistant")
}

func (f *fakeProvider) CreateThread(_ context.Context) (string, error) {
	if err := f.record("CreateThread"); err != nil {
		return "", err
	}
	return f.nextID("thread"), nil
}

func (f *fakeProvider) PostMessage(_ context.Context, _, _ string) (string, error) {
	if err := f.record("PostMessage"); err != nil {
		return "", err
	}
	return f.nextID("msg"), nil
}

func (f *fakeProvider) StartRun(_ context.Context, _, _ string) (provider.Run, error) {
	if err := f.record("StartRun"); err != nil {
		return provider.Run{}, err
	}
	f.mu.Lock()
	f.statusCalls = 0
	f.mu.Unlock()
	return provider.Run{ID: f.nextID("run"), Status: models.RunQueued}, nil
}

func (f *fakeProvider) RunStatus(_ context.Context, _, runID string) (provider.Run, error) {
	if err := f.record("RunStatus"); err != nil {
		return provider.Run{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.statusCalls
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	f.statusCalls++
	return provider.Run{ID: runID, Status: f.statuses[idx], LastError: f.lastError}, nil
}

func (f *fakeProvider) CancelRun(_ context.Context, _, runID string) error {
	err := f.record("CancelRun")
	f.mu.Lock()
	f.cancelled = append(f.cancelled, runID)
	f.mu.Unlock()
	return err
}

func (f *fakeProvider) ListMessages(_ context.Context, _ string, _ int) ([]provider.Message, error) {
	if err := f.record("ListMessages"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Message(nil), f.messages...), nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	orphans []models.Orphan
}

func (r *fakeRecorder) Record(_ context.Context, o models.Orphan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orphans = append(r.orphans, o)
	return nil
}

func (r *fakeRecorder) all() []models.Orphan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Orphan(nil), r.orphans...)
}
