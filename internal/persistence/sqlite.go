package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/crew/internal/workflow"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteGateway stores workflows in relational tables, one row per
// workflow, task, dependency edge and agent.
type SQLiteGateway struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteGateway opens (or creates) the database at dbPath.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteGateway(ctx context.Context, dbPath string) (*SQLiteGateway, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite doesn't support _foreign_keys in the connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection for queries, one for a concurrent save
	db.SetMaxOpenConns(2)

	return newSQLiteGateway(ctx, db)
}

// NewMemoryGateway creates an in-memory SQLite gateway for testing. Each
// call gets its own named database so parallel tests don't share state.
func NewMemoryGateway(ctx context.Context) (*SQLiteGateway, error) {
	connStr := fmt.Sprintf("file:crew-%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	// A single connection keeps the database alive and avoids shared-cache table locks
	db.SetMaxOpenConns(1)

	return newSQLiteGateway(ctx, db)
}

func newSQLiteGateway(ctx context.Context, db *sql.DB) (*SQLiteGateway, error) {
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	g := &SQLiteGateway{db: db, now: time.Now}
	if err := g.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return g, nil
}

// Close closes the database connection.
func (g *SQLiteGateway) Close() error {
	return g.db.Close()
}

// Save replaces the stored state of w in a single transaction.
func (g *SQLiteGateway) Save(ctx context.Context, w *workflow.Workflow) error {
	// Serializable isolation maps to BEGIN IMMEDIATE
	tx, err := g.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Upsert rather than replace so workflow_results rows survive
	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			completed = excluded.completed,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`, w.ID, w.Name, w.Description, w.Completed, toNanos(w.CreatedAt), toNanos(w.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert workflow: %w", err)
	}

	// Dependencies go with their tasks through ON DELETE CASCADE
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE workflow_id = ?`, w.ID); err != nil {
		return fmt.Errorf("failed to delete old tasks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE workflow_id = ?`, w.ID); err != nil {
		return fmt.Errorf("failed to delete old agents: %w", err)
	}

	for pos, t := range w.Tasks() {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (workflow_id, id, position, title, description, assigned_agent_id, state, result, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, w.ID, t.ID, pos, t.Title, t.Description, nullString(t.AssignedAgentID, t.AssignedAgentID != ""),
			string(t.State), nullString(t.Result, t.HasResult), toNanos(t.CreatedAt), toNanos(t.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
		}

		for depPos, depID := range t.DependsOn {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO task_dependencies (workflow_id, task_id, depends_on_id, position)
				VALUES (?, ?, ?, ?)
			`, w.ID, t.ID, depID, depPos)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", t.ID, depID, err)
			}
		}
	}

	for pos, a := range w.Agents() {
		skills, err := json.Marshal(nonNil(a.Skills))
		if err != nil {
			return fmt.Errorf("failed to encode skills of agent %s: %w", a.ID, err)
		}
		state := a.State
		if state == nil {
			state = map[string]any{}
		}
		stateJSON, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode state of agent %s: %w", a.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO agents (workflow_id, id, position, name, role, skills, current_task, state)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, w.ID, a.ID, pos, a.Name, string(a.Role), string(skills), nullString(a.CurrentTask, a.CurrentTask != ""), string(stateJSON))
		if err != nil {
			return fmt.Errorf("failed to insert agent %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load reads one workflow. Returns ErrNotFound if the id is unknown.
func (g *SQLiteGateway) Load(ctx context.Context, id string) (*workflow.Workflow, error) {
	var (
		name, description    string
		completed            bool
		createdAt, updatedAt int64
	)
	err := g.db.QueryRowContext(ctx, `
		SELECT name, description, completed, created_at, updated_at
		FROM workflows
		WHERE id = ?
	`, id).Scan(&name, &description, &completed, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}

	w := workflow.New(id, name, description, fromNanos(createdAt))
	w.UpdatedAt = fromNanos(updatedAt)
	w.Completed = completed

	deps, err := g.loadDependencies(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.loadTasks(ctx, w, deps); err != nil {
		return nil, err
	}
	if err := g.loadAgents(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// LoadAll reads every workflow in creation order.
func (g *SQLiteGateway) LoadAll(ctx context.Context) ([]*workflow.Workflow, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT id FROM workflows ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan workflow id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	workflows := make([]*workflow.Workflow, 0, len(ids))
	for _, id := range ids {
		w, err := g.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, nil
}

// WriteResults stores the completed task results of w as a JSON object.
func (g *SQLiteGateway) WriteResults(ctx context.Context, w *workflow.Workflow) (string, error) {
	data, err := encodeResults(w)
	if err != nil {
		return "", err
	}
	_, err = g.db.ExecContext(ctx, `
		INSERT INTO workflow_results (workflow_id, results, written_at)
		VALUES (?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			results = excluded.results,
			written_at = excluded.written_at
	`, w.ID, string(data), toNanos(g.now()))
	if err != nil {
		return "", fmt.Errorf("failed to save results: %w", err)
	}
	return "sqlite workflow_results/" + w.ID, nil
}

// ReadResults returns the JSON object last written by WriteResults.
func (g *SQLiteGateway) ReadResults(ctx context.Context, id string) (string, error) {
	var results string
	err := g.db.QueryRowContext(ctx, `SELECT results FROM workflow_results WHERE workflow_id = ?`, id).Scan(&results)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query results: %w", err)
	}
	return results, nil
}

func (g *SQLiteGateway) loadDependencies(ctx context.Context, id string) (map[string][]string, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id
		FROM task_dependencies
		WHERE workflow_id = ?
		ORDER BY task_id, position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	deps := make(map[string][]string)
	for rows.Next() {
		var taskID, depID string
		if err := rows.Scan(&taskID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps[taskID] = append(deps[taskID], depID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

func (g *SQLiteGateway) loadTasks(ctx context.Context, w *workflow.Workflow, deps map[string][]string) error {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, title, description, assigned_agent_id, state, result, created_at, updated_at
		FROM tasks
		WHERE workflow_id = ?
		ORDER BY position
	`, w.ID)
	if err != nil {
		return fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t                    workflow.Task
			state                string
			assigned, result     sql.NullString
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &assigned, &state, &result, &createdAt, &updatedAt); err != nil {
			return fmt.Errorf("failed to scan task: %w", err)
		}
		if t.State, err = workflow.ParseTaskState(state); err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
		t.AssignedAgentID = assigned.String
		if result.Valid {
			t.SetResult(result.String)
		}
		t.CreatedAt = fromNanos(createdAt)
		t.UpdatedAt = fromNanos(updatedAt)
		t.DependsOn = nonNil(deps[t.ID])
		if err := w.AddTask(&t); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating tasks: %w", err)
	}
	return nil
}

func (g *SQLiteGateway) loadAgents(ctx context.Context, w *workflow.Workflow) error {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, name, role, skills, current_task, state
		FROM agents
		WHERE workflow_id = ?
		ORDER BY position
	`, w.ID)
	if err != nil {
		return fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, name, role, skillsJSON, stateJSON string
			current                               sql.NullString
		)
		if err := rows.Scan(&id, &name, &role, &skillsJSON, &current, &stateJSON); err != nil {
			return fmt.Errorf("failed to scan agent: %w", err)
		}
		parsedRole, err := workflow.ParseAgentRole(role)
		if err != nil {
			return fmt.Errorf("agent %s: %w", id, err)
		}
		var skills []string
		if err := json.Unmarshal([]byte(skillsJSON), &skills); err != nil {
			return fmt.Errorf("agent %s skills: %w", id, err)
		}
		a := workflow.NewAgent(id, name, parsedRole, skills)
		a.CurrentTask = current.String
		if err := json.Unmarshal([]byte(stateJSON), &a.State); err != nil {
			return fmt.Errorf("agent %s state: %w", id, err)
		}
		if a.State == nil {
			a.State = map[string]any{}
		}
		if err := w.AddAgent(a); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating agents: %w", err)
	}
	return nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullString(s string, valid bool) sql.NullString {
	return sql.NullString{String: s, Valid: valid}
}
