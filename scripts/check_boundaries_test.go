package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, root string, rel string, imports ...string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	var b strings.Builder
	b.WriteString("package x\n\nimport (\n")
	for _, imp := range imports {
		b.WriteString("\t_ \"" + imp + "\"\n")
	}
	b.WriteString(")\n")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
}

func rules(violations []violation) []string {
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.Import+": "+v.Rule)
	}
	return out
}

func TestCollectViolationsAcceptsLayeredModule(t *testing.T) {
	root := t.TempDir()
	base := "concord/contexts/team/engine"
	writeSource(t, root, "team/engine/domain/policy/policy.go", "strings", base+"/domain/entities")
	writeSource(t, root, "team/engine/ports/ports.go", "context", base+"/domain/entities")
	writeSource(t, root, "team/engine/application/commands/cmd.go",
		base+"/ports", "github.com/cenkalti/backoff/v4", "go.opentelemetry.io/otel/attribute")
	writeSource(t, root, "team/engine/adapters/postgres/repo.go", "gorm.io/gorm", "concord/internal/platform/db")

	assert.Empty(t, collectViolations(root))
}

func TestCollectViolationsReportsLayerBreaches(t *testing.T) {
	root := t.TempDir()
	base := "concord/contexts/team/engine"
	writeSource(t, root, "team/engine/domain/entities/subject.go",
		base+"/adapters/memory", "github.com/google/uuid")
	writeSource(t, root, "team/engine/application/commands/cmd.go",
		"concord/internal/platform/config", "gorm.io/gorm", "concord/contexts/team/other/domain")
	writeSource(t, root, "team/engine/ports/ports.go", base+"/application")

	got := rules(collectViolations(root))
	assert.ElementsMatch(t, []string{
		base + "/adapters/memory: domain must not import adapters",
		"github.com/google/uuid: domain import is outside explicit allowlist",
		"concord/internal/platform/config: application must not import runtime infrastructure",
		"gorm.io/gorm: application import is outside explicit allowlist",
		"concord/contexts/team/other/domain: cross-module imports are forbidden",
		"concord/contexts/team/other/domain: application import is outside explicit allowlist",
		base + "/application: ports import is outside explicit allowlist",
	}, got)
}

func TestIsStdlib(t *testing.T) {
	assert.True(t, isStdlib("log/slog"))
	assert.True(t, isStdlib("context"))
	assert.False(t, isStdlib("github.com/stretchr/testify"))
	assert.False(t, isStdlib("concord/internal/platform/db"))
}
