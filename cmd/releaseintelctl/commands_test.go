package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

// isolate points the CLI at a fresh database with collection disabled.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("RELEASEINTEL_DB_PATH", filepath.Join(t.TempDir(), "ctl.db"))
	t.Setenv("RELEASEINTEL_GITHUB_TOKEN", "")
	t.Setenv("RELEASEINTEL_GITHUB_OWNER", "")
	t.Setenv("RELEASEINTEL_KNOWN_FIXES_FILE", "")
	t.Setenv("RELEASEINTEL_SUGGESTIONS_ENABLED", "false")
	t.Setenv("RELEASEINTEL_LOG_LEVEL", "error")
	t.Setenv("RELEASEINTEL_LOG_FORMAT", "text")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBilling(t *testing.T) {
	isolate(t)

	out, err := execute(t, "billing", "--date", "2026-03-10")
	require.NoError(t, err)

	var minutes model.BuildMinutes
	require.NoError(t, json.Unmarshal([]byte(out), &minutes))
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), minutes.PeriodStart.UTC())
	assert.Equal(t, time.Date(2026, 3, 28, 0, 0, 0, 0, time.UTC), minutes.PeriodEnd.UTC())
	assert.Zero(t, minutes.TotalMinutes)
}

func TestBilling_InvalidDate(t *testing.T) {
	isolate(t)

	_, err := execute(t, "billing", "--date", "10/03/2026")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "YYYY-MM-DD")
}

func TestPatterns_Empty(t *testing.T) {
	isolate(t)

	out, err := execute(t, "patterns")

	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestDiagnose_DryRunOnEmptyDatabase(t *testing.T) {
	isolate(t)

	out, err := execute(t, "diagnose", "--dry-run")

	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestAnalyze_RequiresCredentials(t *testing.T) {
	isolate(t)

	_, err := execute(t, "analyze", "acme/api")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "RELEASEINTEL_GITHUB_TOKEN")
}

func TestCollect_Disabled(t *testing.T) {
	isolate(t)

	_, err := execute(t, "collect")

	require.Error(t, err)
}

func TestAnalyze_RequiresArgument(t *testing.T) {
	isolate(t)

	_, err := execute(t, "analyze")

	require.Error(t, err)
}

func TestDiagnose_ReportsInserted(t *testing.T) {
	isolate(t)

	out, err := execute(t, "diagnose")
	require.NoError(t, err)

	var resp struct {
		Inserted int               `json:"inserted"`
		Open     []json.RawMessage `json:"open"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Zero(t, resp.Inserted)
	assert.NotNil(t, resp.Open)
	assert.Empty(t, resp.Open)
}
