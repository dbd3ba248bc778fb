package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/solace/internal/memory"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAssessPrintsScoreAndBand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
suicidal_thoughts: 4
suicide_plan: 3
self_harm_history: 4
hopelessness: 4
substance_use: 3
isolation: 3
support_system: 0
`), 0o600))

	out, err := run(t, "assess", "--answers", path)
	require.NoError(t, err)
	assert.Contains(t, out, "score: 100.0")
	assert.Contains(t, out, "band: critical")
	assert.Contains(t, out, "suicide_plan")
}

func TestAssessRejectsUnknownQuestion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nope: 1\n"), 0o600))

	_, err := run(t, "assess", "--answers", path)
	require.Error(t, err)

	_, err = run(t, "assess")
	require.ErrorContains(t, err, "--answers")
}

func TestAlertsResolveAgainstSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "solace.db")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", dbPath)

	store, err := memory.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	alert, err := store.InsertAlert(context.Background(), memory.CrisisAlert{
		UserID:     "u1",
		AlertType:  "critical_risk",
		Severity:   memory.SeverityHigh,
		Confidence: 0.9,
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := run(t, "alerts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, alert.ID)
	assert.Contains(t, out, "open")

	out, err = run(t, "alerts", "resolve", alert.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "resolved "+alert.ID)

	_, err = run(t, "alerts", "resolve", alert.ID)
	require.ErrorIs(t, err, memory.ErrAlertResolved)

	out, err = run(t, "alerts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no alerts")

	out, err = run(t, "alerts", "list", "--all", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"resolved_at"`)
}

func TestUnknownFormat(t *testing.T) {
	_, err := run(t, "alerts", "list", "--format", "xml")
	require.ErrorContains(t, err, "unknown --format")
}
