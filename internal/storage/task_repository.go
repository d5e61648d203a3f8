package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite driver

	engineerrors "plantcare-engine/internal/errors"
	"plantcare-engine/pkg/types"
)

// Dialect selects SQL flavour details
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

func (d Dialect) timestampType() string {
	if d == DialectPostgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

// TaskRepository implements task persistence over database/sql
type TaskRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewTaskRepository wraps an open database
func NewTaskRepository(db *sql.DB, dialect Dialect) *TaskRepository {
	return &TaskRepository{db: db, dialect: dialect, now: time.Now}
}

// Open opens a database for the dialect, applies the schema and returns the repository
func Open(ctx context.Context, dialect Dialect, dsn string) (*TaskRepository, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported storage dialect: %q", dialect)
	}

	if dialect == DialectSQLite && dsn != ":memory:" && !strings.Contains(dsn, "_journal_mode") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == DialectSQLite {
		// one writer; also keeps a :memory: database alive across calls
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := NewTaskRepository(db, dialect)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the underlying database
func (tr *TaskRepository) Close() error {
	return tr.db.Close()
}

// Migrate creates the tasks table and indexes if missing
func (tr *TaskRepository) Migrate(ctx context.Context) error {
	ts := tr.dialect.timestampType()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS plant_tasks (
			id TEXT PRIMARY KEY,
			plant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			task_type TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			due_date ` + ts + ` NOT NULL,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			estimated_duration_minutes INTEGER NOT NULL DEFAULT 0,
			auto_generated BOOLEAN NOT NULL DEFAULT FALSE,
			template_id TEXT,
			environmental_conditions TEXT,
			escalation_start_time ` + ts + `,
			sequence_number INTEGER NOT NULL DEFAULT 0,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plant_tasks_plant_status ON plant_tasks (plant_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_plant_tasks_status_due ON plant_tasks (status, due_date)`,
	}
	for _, stmt := range statements {
		if _, err := tr.db.ExecContext(ctx, stmt); err != nil {
			return engineerrors.Wrap(engineerrors.ErrorCodeStorage, "failed to apply schema", err)
		}
	}
	return nil
}

const selectColumns = `id, plant_id, user_id, task_type, title, description, due_date, status, priority,
	estimated_duration_minutes, auto_generated, template_id, environmental_conditions,
	escalation_start_time, sequence_number, created_at, updated_at`

// Create inserts a task
func (tr *TaskRepository) Create(ctx context.Context, task *types.PlantTask) error {
	if task == nil || task.ID == "" {
		return engineerrors.NewValidationError("id", "required")
	}
	conditions, err := marshalConditions(task.EnvironmentalConditions)
	if err != nil {
		return err
	}

	query := tr.rebind(`INSERT INTO plant_tasks (` + selectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = tr.db.ExecContext(ctx, query,
		task.ID, task.PlantID, task.UserID, string(task.TaskType), task.Title, task.Description,
		task.DueDate.UTC(), string(task.Status), string(task.Priority),
		task.EstimatedDurationMinutes, task.AutoGenerated, nullString(task.TemplateID), conditions,
		nullTime(task.EscalationStartTime), task.SequenceNumber,
		task.CreatedAt.UTC(), task.UpdatedAt.UTC(),
	)
	if err != nil {
		return engineerrors.Wrap(engineerrors.ErrorCodeStorage, "failed to create task", err).
			WithDetail("id", task.ID)
	}
	return nil
}

// Get retrieves a task by id
func (tr *TaskRepository) Get(ctx context.Context, id string) (*types.PlantTask, error) {
	row := tr.db.QueryRowContext(ctx, tr.rebind(`SELECT `+selectColumns+` FROM plant_tasks WHERE id = ?`), id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engineerrors.NewNotFound("task", id)
	}
	if err != nil {
		return nil, engineerrors.Wrap(engineerrors.ErrorCodeStorage, "failed to get task", err)
	}
	return task, nil
}

// Query lists tasks matching the filter ordered by due date and sequence number
func (tr *TaskRepository) Query(ctx context.Context, filter types.TaskFilter) ([]types.PlantTask, error) {
	var where []string
	var args []interface{}

	if filter.PlantID != "" {
		where = append(where, "plant_id = ?")
		args = append(args, filter.PlantID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, s := range filter.Statuses {
			args = append(args, string(s))
		}
	}
	if len(filter.TaskTypes) > 0 {
		where = append(where, "task_type IN ("+placeholders(len(filter.TaskTypes))+")")
		for _, t := range filter.TaskTypes {
			args = append(args, string(t))
		}
	}
	if filter.DueBefore != nil {
		where = append(where, "due_date < ?")
		args = append(args, filter.DueBefore.UTC())
	}
	if filter.DueAfter != nil {
		where = append(where, "due_date >= ?")
		args = append(args, filter.DueAfter.UTC())
	}

	query := `SELECT ` + selectColumns + ` FROM plant_tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY due_date ASC, sequence_number ASC, id ASC"

	rows, err := tr.db.QueryContext(ctx, tr.rebind(query), args...)
	if err != nil {
		return nil, engineerrors.Wrap(engineerrors.ErrorCodeStorage, "failed to query tasks", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]types.PlantTask, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, engineerrors.Wrap(engineerrors.ErrorCodeStorage, "failed to scan task", err)
		}
		out = append(out, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, engineerrors.Wrap(engineerrors.ErrorCodeStorage, "failed to iterate tasks", err)
	}
	return out, nil
}

// Update applies the non-nil fields of a mutation
func (tr *TaskRepository) Update(ctx context.Context, id string, mutation types.TaskMutation) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{tr.now().UTC()}

	if mutation.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, mutation.DueDate.UTC())
	}
	if mutation.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*mutation.Priority))
	}
	if mutation.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*mutation.Status))
	}
	if mutation.EnvironmentalConditions != nil {
		conditions, err := marshalConditions(mutation.EnvironmentalConditions)
		if err != nil {
			return err
		}
		sets = append(sets, "environmental_conditions = ?")
		args = append(args, conditions)
	}
	if mutation.EscalationStartTime != nil {
		sets = append(sets, "escalation_start_time = ?")
		args = append(args, mutation.EscalationStartTime.UTC())
	}
	args = append(args, id)

	query := tr.rebind("UPDATE plant_tasks SET " + strings.Join(sets, ", ") + " WHERE id = ?")
	result, err := tr.db.ExecContext(ctx, query, args...)
	if err != nil {
		return engineerrors.Wrap(engineerrors.ErrorCodeStorage, "failed to update task", err).WithDetail("id", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return engineerrors.Wrap(engineerrors.ErrorCodeStorage, "failed to read update result", err)
	}
	if affected == 0 {
		return engineerrors.NewNotFound("task", id)
	}
	return nil
}

// rebind converts ? placeholders to $n for postgres
func (tr *TaskRepository) rebind(query string) string {
	if tr.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*types.PlantTask, error) {
	var task types.PlantTask
	var taskType, status, priority string
	var templateID, conditions sql.NullString
	var escalation sql.NullTime

	err := row.Scan(
		&task.ID, &task.PlantID, &task.UserID, &taskType, &task.Title, &task.Description,
		&task.DueDate, &status, &priority, &task.EstimatedDurationMinutes, &task.AutoGenerated,
		&templateID, &conditions, &escalation, &task.SequenceNumber, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.TaskType = types.TaskType(taskType)
	task.Status = types.TaskStatus(status)
	task.Priority = types.Priority(priority)
	task.DueDate = task.DueDate.UTC()
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	if templateID.Valid {
		v := templateID.String
		task.TemplateID = &v
	}
	if escalation.Valid {
		v := escalation.Time.UTC()
		task.EscalationStartTime = &v
	}
	if conditions.Valid && conditions.String != "" {
		var c types.Conditions
		if err := json.Unmarshal([]byte(conditions.String), &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal environmental conditions: %w", err)
		}
		task.EnvironmentalConditions = &c
	}
	return &task, nil
}

func marshalConditions(c *types.Conditions) (sql.NullString, error) {
	if c == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal environmental conditions: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
