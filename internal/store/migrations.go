package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create identity",
		SQL: `
			CREATE TABLE identity (
				id                       INTEGER PRIMARY KEY CHECK (id = 1),
				session_id               TEXT NOT NULL DEFAULT '',
				fingerprint              TEXT NOT NULL DEFAULT '',
				visitor_id               TEXT NOT NULL DEFAULT '',
				conversation_id          TEXT NOT NULL DEFAULT '',
				conversation_expires_at  TEXT NOT NULL DEFAULT '',
				display_name             TEXT NOT NULL DEFAULT '',
				created_at               TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at               TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
}
