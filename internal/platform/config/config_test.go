package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.LockLease)
	assert.Positive(t, cfg.PollInterval)
}

func TestLoadEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "7")
	path := writeFile(t, "test.env", "OUTBOX_BATCH_SIZE=9\nEXPIRY_SWEEP_CONCURRENCY=3\n")
	t.Cleanup(func() { _ = os.Unsetenv("EXPIRY_SWEEP_CONCURRENCY") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.OutboxBatchSize)
	assert.Equal(t, 3, cfg.SweepConcurrency)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("CONSENSUS_MAX_ATTEMPTS", "0")
	t.Setenv("OUTBOX_BATCH_SIZE", "-1")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONSENSUS_MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "OUTBOX_BATCH_SIZE")

	t.Setenv("CONSENSUS_MAX_ATTEMPTS", "5")
	t.Setenv("OUTBOX_BATCH_SIZE", "10")
	t.Setenv("WORKER_POLL_INTERVAL", "soon")
	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestLoadValidatesTraceExporter(t *testing.T) {
	t.Setenv("TRACE_EXPORTER", "otlp")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "OTEL_EXPORTER_OTLP_ENDPOINT")

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "otlp", cfg.TraceExporter)

	t.Setenv("TRACE_EXPORTER", "zipkin")
	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "TRACE_EXPORTER")
}

func TestLoadPolicyPresets(t *testing.T) {
	presets, err := LoadPolicyPresets("")
	require.NoError(t, err)
	assert.Equal(t, PolicyPreset{Kind: "majority"}, presets["decision"])
	assert.Equal(t, PolicyPreset{Kind: "threshold", RequiredApprovals: 2}, presets["review"])

	override := writeFile(t, "policies.yaml", "policies:\n  Review:\n    kind: Unanimous\n")
	presets, err = LoadPolicyPresets(override)
	require.NoError(t, err)
	assert.Equal(t, PolicyPreset{Kind: "unanimous"}, presets["review"])
	assert.Equal(t, PolicyPreset{Kind: "majority"}, presets["decision"])
}

func TestLoadPolicyPresetsRejectsBadFiles(t *testing.T) {
	cases := map[string]string{
		"unknown kind":        "policies:\n  decision:\n    kind: dictator\n",
		"threshold missing n": "policies:\n  review:\n    kind: threshold\n",
		"not yaml":            "policies: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPolicyPresets(writeFile(t, "policies.yaml", content))
			assert.Error(t, err)
		})
	}

	_, err := LoadPolicyPresets(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
