//go:build tools

package tools

// Tool dependencies pinned in go.mod. The goose CLI can run the embedded
// migrations out of band: goose -dir internal/adapters/postgres/migrations postgres "$DATABASE_URL" up

import (
	_ "github.com/pressly/goose/v3/cmd/goose"
)
