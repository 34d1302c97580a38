package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymledger/internal/db"
)

func TestRun_RejectsBadInput(t *testing.T) {
	err := Run("", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	err = Run("postgres://localhost/gym", "sideways")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sideways")
}

func TestMigrationFS_PairsUpAndDown(t *testing.T) {
	entries, err := fs.ReadDir(db.MigrationFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected migration file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestMigrationFS_CreatesTables(t *testing.T) {
	up, err := fs.ReadFile(db.MigrationFS, "migrations/000001_init.up.sql")
	require.NoError(t, err)
	for _, table := range []string{"members", "payments", "events", "leads"} {
		assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	assert.Contains(t, string(up), "members_email_key")
	assert.Contains(t, string(up), "UNIQUE (aggregate_id, version)")
}
