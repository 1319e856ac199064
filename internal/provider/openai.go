package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"docchat/internal/config"
	"docchat/internal/logging"
	"docchat/internal/models"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI implements Provider on top of the Assistants v2 API.
type OpenAI struct {
	client         *openai.Client
	vectorStoreTTL int
}

// NewOpenAI builds a client from the openai provider section.
func NewOpenAI(cfg *config.Config) (*OpenAI, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	prov := cfg.OpenAI()
	if strings.TrimSpace(prov.APIKey) == "" {
		return nil, errors.New("openai api key not configured")
	}
	clientCfg := openai.DefaultConfig(prov.APIKey)
	if prov.BaseURL != "" {
		clientCfg.BaseURL = prov.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	return &OpenAI{
		client:         openai.NewClientWithConfig(clientCfg),
		vectorStoreTTL: cfg.Assistant.VectorStoreTTLDays,
	}, nil
}

func (o *OpenAI) RetrieveAssistant(ctx context.Context, assistantID string) (Assistant, error) {
	a, err := o.client.RetrieveAssistant(ctx, assistantID)
	if err != nil {
		return Assistant{}, wrapErr("retrieve assistant", err)
	}
	return toAssistant(a), nil
}

func (o *OpenAI) CreateAssistant(ctx context.Context, spec AssistantSpec) (Assistant, error) {
	req := openai.AssistantRequest{
		Model: spec.Model,
		Tools: []openai.AssistantTool{{Type: openai.AssistantToolTypeFileSearch}},
	}
	if spec.Name != "" {
		req.Name = &spec.Name
	}
	if spec.Instructions != "" {
		req.Instructions = &spec.Instructions
	}

	var storeID string
	if len(spec.FileIDs) > 0 {
		id, err := o.createVectorStore(ctx, spec.Name, spec.FileIDs)
		if err != nil {
			return Assistant{}, err
		}
		storeID = id
		req.ToolResources = fileSearchResource(storeID)
	}

	a, err := o.client.CreateAssistant(ctx, req)
	if err != nil {
		o.dropVectorStore(ctx, storeID)
		return Assistant{}, wrapErr("create assistant", err)
	}
	out := toAssistant(a)
	if out.VectorStoreID == "" {
		out.VectorStoreID = storeID
	}
	return out, nil
}

func (o *OpenAI) UpdateAssistantFiles(ctx context.Context, assistantID string, fileIDs []string) (string, error) {
	if len(fileIDs) == 0 {
		return "", nil
	}
	a, err := o.client.RetrieveAssistant(ctx, assistantID)
	if err != nil {
		return "", wrapErr("update assistant files", err)
	}

	if storeID := vectorStoreOf(a); storeID != "" {
		for _, fileID := range fileIDs {
			if _, err := o.client.CreateVectorStoreFile(ctx, storeID, openai.VectorStoreFileRequest{FileID: fileID}); err != nil {
				return "", wrapErr("add vector store file", err)
			}
		}
		return storeID, nil
	}

	name := ""
	if a.Name != nil {
		name = *a.Name
	}
	storeID, err := o.createVectorStore(ctx, name, fileIDs)
	if err != nil {
		return "", err
	}
	_, err = o.client.ModifyAssistant(ctx, assistantID, openai.AssistantRequest{
		Model:         a.Model,
		Tools:         withFileSearch(a.Tools),
		ToolResources: fileSearchResource(storeID),
	})
	if err != nil {
		o.dropVectorStore(ctx, storeID)
		return "", wrapErr("modify assistant", err)
	}
	return storeID, nil
}

// dropVectorStore removes a store that never got bound to an assistant.
// A store that cannot be removed still expires after vectorStoreTTL idle days.
func (o *OpenAI) dropVectorStore(ctx context.Context, storeID string) {
	if storeID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if _, err := o.client.DeleteVectorStore(ctx, storeID); err != nil {
		logging.Warn().Err(err).Str("vector_store_id", storeID).Msg("delete unbound vector store failed")
	}
}

func (o *OpenAI) UploadFile(ctx context.Context, name string, data []byte) (File, error) {
	f, err := o.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return File{}, wrapErr("upload file", err)
	}
	return File{ID: f.ID, Name: name, Size: int64(len(data))}, nil
}

func (o *OpenAI) DeleteFile(ctx context.Context, fileID string) error {
	return wrapErr("delete file", o.client.DeleteFile(ctx, fileID))
}

func (o *OpenAI) DeleteAssistant(ctx context.Context, assistantID string) error {
	_, err := o.client.DeleteAssistant(ctx, assistantID)
	return wrapErr("delete assistant", err)
}

func (o *OpenAI) CreateThread(ctx context.Context) (string, error) {
	t, err := o.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", wrapErr("create thread", err)
	}
	return t.ID, nil
}

func (o *OpenAI) PostMessage(ctx context.Context, threadID, content string) (string, error) {
	msg, err := o.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: content,
	})
	if err != nil {
		return "", wrapErr("post message", err)
	}
	return msg.ID, nil
}

func (o *OpenAI) StartRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	r, err := o.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return Run{}, wrapErr("start run", err)
	}
	return toRun(r), nil
}

func (o *OpenAI) RunStatus(ctx context.Context, threadID, runID string) (Run, error) {
	r, err := o.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return Run{}, wrapErr("run status", err)
	}
	return toRun(r), nil
}

func (o *OpenAI) CancelRun(ctx context.Context, threadID, runID string) error {
	_, err := o.client.CancelRun(ctx, threadID, runID)
	return wrapErr("cancel run", err)
}

func (o *OpenAI) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	order := "desc"
	var limitPtr *int
	if limit > 0 {
		limitPtr = &limit
	}
	list, err := o.client.ListMessage(ctx, threadID, limitPtr, &order, nil, nil, nil)
	if err != nil {
		return nil, wrapErr("list messages", err)
	}
	out := make([]Message, 0, len(list.Messages))
	for _, m := range list.Messages {
		out = append(out, Message{
			ID:      m.ID,
			Role:    models.Role(m.Role),
			Content: messageText(m),
		})
	}
	return out, nil
}

func (o *OpenAI) createVectorStore(ctx context.Context, name string, fileIDs []string) (string, error) {
	req := openai.VectorStoreRequest{
		Name:    strings.TrimSpace(fmt.Sprintf("%s documents", name)),
		FileIDs: fileIDs,
	}
	if o.vectorStoreTTL > 0 {
		req.ExpiresAfter = &openai.VectorStoreExpires{Anchor: "last_active_at", Days: o.vectorStoreTTL}
	}
	vs, err := o.client.CreateVectorStore(ctx, req)
	if err != nil {
		return "", wrapErr("create vector store", err)
	}
	return vs.ID, nil
}

func fileSearchResource(storeID string) *openai.AssistantToolResource {
	return &openai.AssistantToolResource{
		FileSearch: &openai.AssistantToolFileSearch{VectorStoreIDs: []string{storeID}},
	}
}

func withFileSearch(tools []openai.AssistantTool) []openai.AssistantTool {
	for _, t := range tools {
		if t.Type == openai.AssistantToolTypeFileSearch {
			return tools
		}
	}
	return append(tools, openai.AssistantTool{Type: openai.AssistantToolTypeFileSearch})
}

func vectorStoreOf(a openai.Assistant) string {
	if a.ToolResources == nil || a.ToolResources.FileSearch == nil {
		return ""
	}
	if ids := a.ToolResources.FileSearch.VectorStoreIDs; len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func toAssistant(a openai.Assistant) Assistant {
	out := Assistant{ID: a.ID, Model: a.Model, VectorStoreID: vectorStoreOf(a)}
	if a.Name != nil {
		out.Name = *a.Name
	}
	if a.Instructions != nil {
		out.Instructions = *a.Instructions
	}
	return out
}

func toRun(r openai.Run) Run {
	out := Run{ID: r.ID, Status: models.RunStatus(r.Status)}
	if r.LastError != nil {
		out.LastError = fmt.Sprintf("%s: %s", r.LastError.Code, r.LastError.Message)
	}
	return out
}

func messageText(m openai.Message) string {
	var parts []string
	for _, c := range m.Content {
		if c.Type == "text" && c.Text != nil {
			parts = append(parts, c.Text.Value)
		}
	}
	return strings.Join(parts, "\n")
}
