package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (g *SQLiteGateway) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		workflow_id TEXT NOT NULL,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		assigned_agent_id TEXT,
		state TEXT NOT NULL,
		result TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (workflow_id, id),
		FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_workflow_position ON tasks(workflow_id, position);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		workflow_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (workflow_id, task_id, depends_on_id),
		FOREIGN KEY (workflow_id, task_id) REFERENCES tasks(workflow_id, id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS agents (
		workflow_id TEXT NOT NULL,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		skills TEXT NOT NULL,
		current_task TEXT,
		state TEXT NOT NULL,
		PRIMARY KEY (workflow_id, id),
		FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS workflow_results (
		workflow_id TEXT PRIMARY KEY,
		results TEXT NOT NULL,
		written_at INTEGER NOT NULL,
		FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
	);
	`

	_, err := g.db.ExecContext(ctx, schema)
	return err
}
