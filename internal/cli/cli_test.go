package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/config"
	"docchat/internal/models"
	"docchat/internal/service/conversation"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DOCCHAT_DEFAULT_ASSISTANT_ID", "")
	t.Setenv("DOCCHAT_SESSION_STORE", "")
	t.Setenv("DOCCHAT_DB", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
  "basic_config": {"database": "sqlite3", "session_store": "memory"},
  "databases": {"sqlite3": {"dsn": "ledger.db"}},
  "log": {"level": "error"}
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSweepListPrintsLedger(t *testing.T) {
	path := writeConfig(t)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	ledger, db, err := openLedger(cfg)
	require.NoError(t, err)
	require.NoError(t, ledger.Record(context.Background(), models.Orphan{
		Kind:      models.OrphanFile,
		RemoteID:  "file_1",
		SessionID: "s1",
		Reason:    "assistant file update failed",
	}))
	require.NoError(t, db.Close())

	out, err := run(t, "--config", path, "sweep", "--list")
	require.NoError(t, err)

	var orphans []models.Orphan
	require.NoError(t, json.Unmarshal([]byte(out), &orphans))
	require.Len(t, orphans, 1)
	assert.Equal(t, "file_1", orphans[0].RemoteID)
	assert.Equal(t, models.OrphanPending, orphans[0].Status)
}

func TestSweepRequiresAPIKey(t *testing.T) {
	path := writeConfig(t)

	_, err := run(t, "--config", path, "sweep")
	assert.ErrorIs(t, err, conversation.ErrMissingAPIKey)
}

func TestAskRequiresAPIKey(t *testing.T) {
	path := writeConfig(t)
	doc := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(doc, []byte("# notes"), 0o644))

	_, err := run(t, "--config", path, "ask", "--file", doc)
	assert.ErrorIs(t, err, conversation.ErrMissingAPIKey)
}

func TestAskRequiresFileFlag(t *testing.T) {
	path := writeConfig(t)

	_, err := run(t, "--config", path, "ask")
	assert.Error(t, err)
}

func TestAskInitRequestMode(t *testing.T) {
	opts := &askOptions{name: "Doc", model: "gpt-4o"}
	req := opts.initRequest("")
	assert.Equal(t, conversation.ModeCreateNew, req.Mode)
	assert.Equal(t, "Doc", req.Config.Name)

	req = opts.initRequest("asst_default")
	assert.Equal(t, conversation.ModeUseExisting, req.Mode)
	assert.Empty(t, req.ExistingID)

	opts.assistantID = "asst_abc"
	req = opts.initRequest("")
	assert.Equal(t, conversation.ModeUseExisting, req.Mode)
	assert.Equal(t, "asst_abc", req.ExistingID)
}

func TestBadConfigFails(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.json"), "sweep", "--list")
	assert.Error(t, err)
}
