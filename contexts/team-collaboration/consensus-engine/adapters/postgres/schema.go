package postgresadapter

import (
	"context"
	_ "embed"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the consensus tables when they are missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, statement := range strings.Split(schemaSQL, ";") {
		statement = strings.TrimSpace(statement)
		if statement == "" {
			continue
		}
		if err := r.db.WithContext(ctx).Exec(statement).Error; err != nil {
			return r.logError("consensus_repo_ensure_schema_failed", err)
		}
	}
	return nil
}
