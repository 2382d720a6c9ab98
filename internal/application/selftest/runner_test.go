package selftest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/gatewatch/internal/config"
)

func defaultTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Phases.Timezone = "UTC"
	return &cfg
}

func TestRunAllTestsPassesOnDefaults(t *testing.T) {
	results := NewRunner(defaultTestConfig()).RunAllTests()

	require.Equal(t, 5, results.TotalCount)
	for _, test := range results.Tests {
		assert.Equal(t, "PASS", test.Status, "%s: %s", test.Name, test.Message)
	}
	assert.Equal(t, "PASS", results.OverallStatus)
	assert.Equal(t, 5, results.PassedCount)
	assert.Zero(t, results.FailedCount)
}

func TestRunAllTestsFlagsBrokenConfig(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Gate.GateHeight = -1

	results := NewRunner(cfg).RunAllTests()

	assert.Equal(t, "FAIL", results.OverallStatus)
	require.NotEmpty(t, results.Tests)
	assert.Equal(t, "FAIL", results.Tests[0].Status)
	assert.Contains(t, results.Tests[0].Message, "gate_height")
}

func TestGenerateReportWritesMarkdown(t *testing.T) {
	runner := NewRunner(defaultTestConfig())
	results := runner.RunAllTests()

	path := filepath.Join(t.TempDir(), "reports", "selftest.md")
	require.NoError(t, runner.GenerateReport(results, path))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "# Gatewatch Self-Test Report")
	assert.Contains(t, string(body), "**Overall Status:** PASS")
	assert.Contains(t, string(body), "Store Round Trip")
}

func TestWriteJSONRoundTrips(t *testing.T) {
	runner := NewRunner(defaultTestConfig())
	results := runner.RunAllTests()

	path := filepath.Join(t.TempDir(), "selftest.json")
	require.NoError(t, runner.WriteJSON(results, path))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded TestResults
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, results.OverallStatus, decoded.OverallStatus)
	assert.Len(t, decoded.Tests, results.TotalCount)
}
