package github

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

func TestMapState(t *testing.T) {
	tests := []struct {
		status     string
		conclusion string
		want       model.BuildState
	}{
		{"completed", "success", model.BuildStateSuccessful},
		{"completed", "failure", model.BuildStateFailed},
		{"completed", "cancelled", model.BuildStateStopped},
		{"completed", "timed_out", model.BuildStateError},
		{"completed", "startup_failure", model.BuildStateError},
		{"completed", "action_required", model.BuildStateError},
		{"completed", "skipped", model.BuildStateSkipped},
		{"in_progress", "", model.BuildStateInProgress},
		{"queued", "", model.BuildStateInProgress},
		{"waiting", "", model.BuildStatePending},
	}

	for _, tt := range tests {
		t.Run(tt.status+"/"+tt.conclusion, func(t *testing.T) {
			assert.Equal(t, tt.want, mapState(tt.status, tt.conclusion))
		})
	}
}

func TestSizeFactor(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   float64
	}{
		{"standard runner", []string{"ubuntu-latest"}, 1},
		{"no labels", nil, 1},
		{"eight cores", []string{"self-hosted", "ubuntu-22.04-8-cores"}, 4},
		{"two cores", []string{"2-cores"}, 1},
		{"one core floors at one", []string{"1-core"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, sizeFactor(tt.labels), 1e-9)
		})
	}
}

func TestReadTail(t *testing.T) {
	long := strings.Repeat("a", 100_000) + strings.Repeat("b", 10)

	got, err := readTail(strings.NewReader(long), 15)
	require.NoError(t, err)
	assert.Equal(t, "aaaaabbbbbbbbbb", got)

	got, err = readTail(strings.NewReader("short"), 15)
	require.NoError(t, err)
	assert.Equal(t, "short", got)
}

func TestSplitRepo(t *testing.T) {
	owner, repo, err := splitRepo("acme/api")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "api", repo)

	for _, bad := range []string{"", "acme", "/api", "acme/"} {
		_, _, err := splitRepo(bad)
		assert.Error(t, err, bad)
	}
}
