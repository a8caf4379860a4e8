// modgate/database/migrations.go
package database

// migration represents a single database schema migration.
type migration struct {
	Version uint
	Query   string
}

// allMigrations holds all schema changes in order.
var allMigrations = []migration{
	{
		Version: 1,
		Query: `
-- Track how often a post was edited
ALTER TABLE posts ADD COLUMN edit_count INTEGER DEFAULT 0;

-- The review queue is listed by status
CREATE INDEX IF NOT EXISTS idx_reviewables_status ON reviewables(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_post_actions_type ON post_actions(post_id, action_type);
		`,
	},
}
