package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNames(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])

	raw, err := migrationFS.ReadFile("migrations/001_init.sql")
	require.NoError(t, err)
	for _, table := range []string{"analyzed_apps", "app_feedback", "app_exclusions"} {
		assert.Contains(t, string(raw), "CREATE TABLE IF NOT EXISTS "+table)
	}

	require.Len(t, names, 2)
	assert.Equal(t, "002_applied_feedback.sql", names[1])
	raw, err = migrationFS.ReadFile("migrations/002_applied_feedback.sql")
	require.NoError(t, err)
	for _, column := range []string{"feedback_type", "feedback_adjustment", "feedback_trust", "feedback_recorded_at"} {
		assert.Contains(t, string(raw), "ADD COLUMN IF NOT EXISTS "+column)
	}
}
