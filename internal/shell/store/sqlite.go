package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	// SQLite serializes writers, and an in-memory database exists per
	// connection. One pooled connection keeps both facts harmless.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Project Operations
// =============================================================================

// projectRow represents a project row in the database.
type projectRow struct {
	Name              string  `db:"name"`
	Domain            string  `db:"domain"`
	UpstreamPort      int     `db:"upstream_port"`
	Environment       string  `db:"environment"`
	Image             string  `db:"image"`
	Env               *string `db:"env"`
	BuildParams       *string `db:"build_params"`
	ContainerID       string  `db:"container_id"`
	IsolatedNetworkID string  `db:"isolated_network_id"`
	UpstreamAddr      string  `db:"upstream_addr"`
	CertPath          string  `db:"cert_path"`
	KeyPath           string  `db:"key_path"`
	CreatedAt         string  `db:"created_at"`
	UpdatedAt         string  `db:"updated_at"`
}

func (s *SQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	return createProject(ctx, s.db, project)
}

func (s *SQLiteStore) GetProject(ctx context.Context, name string) (*domain.Project, error) {
	return getProject(ctx, s.db, name)
}

func (s *SQLiteStore) GetProjectByDomain(ctx context.Context, fqdn string) (*domain.Project, error) {
	return getProjectByDomain(ctx, s.db, fqdn)
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, project *domain.Project) error {
	return updateProject(ctx, s.db, project)
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, name string) error {
	return deleteProject(ctx, s.db, name)
}

func (s *SQLiteStore) ListProjects(ctx context.Context, opts ListOptions) ([]domain.Project, error) {
	return listProjects(ctx, s.db, opts)
}

// =============================================================================
// Route Operations
// =============================================================================

// routeRow represents a route row in the database.
type routeRow struct {
	Domain      string `db:"domain"`
	ProjectName string `db:"project_name"`
	Upstream    string `db:"upstream"`
	Unit        string `db:"unit"`
	AppliedAt   string `db:"applied_at"`
}

func (s *SQLiteStore) UpsertRoute(ctx context.Context, route *domain.DomainRoute) error {
	return upsertRoute(ctx, s.db, route)
}

func (s *SQLiteStore) GetRoute(ctx context.Context, fqdn string) (*domain.DomainRoute, error) {
	return getRoute(ctx, s.db, fqdn)
}

func (s *SQLiteStore) DeleteRoute(ctx context.Context, fqdn string) error {
	return deleteRoute(ctx, s.db, fqdn)
}

func (s *SQLiteStore) ListRoutes(ctx context.Context) ([]domain.DomainRoute, error) {
	return listRoutes(ctx, s.db)
}

// =============================================================================
// Attempt Operations
// =============================================================================

// attemptRow represents an attempt row in the database.
type attemptRow struct {
	ID          string  `db:"id"`
	ProjectName string  `db:"project_name"`
	StagesDone  *string `db:"stages_done"`
	Outcome     string  `db:"outcome"`
	RolledBack  bool    `db:"rolled_back"`
	FailedStage string  `db:"failed_stage"`
	ErrorKind   string  `db:"error_kind"`
	ErrorDetail string  `db:"error_detail"`
	StartedAt   string  `db:"started_at"`
	FinishedAt  *string `db:"finished_at"`
}

func (s *SQLiteStore) CreateAttempt(ctx context.Context, attempt *domain.DeploymentAttempt) error {
	return createAttempt(ctx, s.db, attempt)
}

func (s *SQLiteStore) UpdateAttempt(ctx context.Context, attempt *domain.DeploymentAttempt) error {
	return updateAttempt(ctx, s.db, attempt)
}

func (s *SQLiteStore) GetAttempt(ctx context.Context, id string) (*domain.DeploymentAttempt, error) {
	return getAttempt(ctx, s.db, id)
}

func (s *SQLiteStore) ListAttemptsByProject(ctx context.Context, project string, opts ListOptions) ([]domain.DeploymentAttempt, error) {
	return listAttemptsByProject(ctx, s.db, project, opts)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	return createProject(ctx, s.tx, project)
}

func (s *txSQLiteStore) GetProject(ctx context.Context, name string) (*domain.Project, error) {
	return getProject(ctx, s.tx, name)
}

func (s *txSQLiteStore) GetProjectByDomain(ctx context.Context, fqdn string) (*domain.Project, error) {
	return getProjectByDomain(ctx, s.tx, fqdn)
}

func (s *txSQLiteStore) UpdateProject(ctx context.Context, project *domain.Project) error {
	return updateProject(ctx, s.tx, project)
}

func (s *txSQLiteStore) DeleteProject(ctx context.Context, name string) error {
	return deleteProject(ctx, s.tx, name)
}

func (s *txSQLiteStore) ListProjects(ctx context.Context, opts ListOptions) ([]domain.Project, error) {
	return listProjects(ctx, s.tx, opts)
}

func (s *txSQLiteStore) UpsertRoute(ctx context.Context, route *domain.DomainRoute) error {
	return upsertRoute(ctx, s.tx, route)
}

func (s *txSQLiteStore) GetRoute(ctx context.Context, fqdn string) (*domain.DomainRoute, error) {
	return getRoute(ctx, s.tx, fqdn)
}

func (s *txSQLiteStore) DeleteRoute(ctx context.Context, fqdn string) error {
	return deleteRoute(ctx, s.tx, fqdn)
}

func (s *txSQLiteStore) ListRoutes(ctx context.Context) ([]domain.DomainRoute, error) {
	return listRoutes(ctx, s.tx)
}

func (s *txSQLiteStore) CreateAttempt(ctx context.Context, attempt *domain.DeploymentAttempt) error {
	return createAttempt(ctx, s.tx, attempt)
}

func (s *txSQLiteStore) UpdateAttempt(ctx context.Context, attempt *domain.DeploymentAttempt) error {
	return updateAttempt(ctx, s.tx, attempt)
}

func (s *txSQLiteStore) GetAttempt(ctx context.Context, id string) (*domain.DeploymentAttempt, error) {
	return getAttempt(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListAttemptsByProject(ctx context.Context, project string, opts ListOptions) ([]domain.DeploymentAttempt, error) {
	return listAttemptsByProject(ctx, s.tx, project, opts)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createProject(ctx context.Context, exec executor, project *domain.Project) error {
	row, err := projectToRow(project, time.Now())
	if err != nil {
		return NewStoreError("CreateProject", "project", project.Name, "failed to serialize project", ErrInvalidData)
	}

	query := `
		INSERT INTO projects (
			name, domain, upstream_port, environment, image, env, build_params,
			container_id, isolated_network_id, upstream_addr, cert_path, key_path,
			created_at, updated_at
		) VALUES (
			:name, :domain, :upstream_port, :environment, :image, :env, :build_params,
			:container_id, :isolated_network_id, :upstream_addr, :cert_path, :key_path,
			:created_at, :updated_at
		)`

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: projects.name") {
			return NewStoreError("CreateProject", "project", project.Name, "project with this name already exists", ErrDuplicateName)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: projects.domain") {
			return NewStoreError("CreateProject", "project", project.Name, "domain already claimed", ErrDuplicateDomain)
		}
		return NewStoreError("CreateProject", "project", project.Name, err.Error(), err)
	}

	return nil
}

func getProject(ctx context.Context, exec executor, name string) (*domain.Project, error) {
	query := `SELECT * FROM projects WHERE name = ?`

	var row projectRow
	err := exec.GetContext(ctx, &row, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetProject", "project", name, "project not found", ErrNotFound)
		}
		return nil, NewStoreError("GetProject", "project", name, err.Error(), err)
	}

	return rowToProject(&row)
}

func getProjectByDomain(ctx context.Context, exec executor, fqdn string) (*domain.Project, error) {
	query := `SELECT * FROM projects WHERE domain = ?`

	var row projectRow
	err := exec.GetContext(ctx, &row, query, fqdn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetProjectByDomain", "project", fqdn, "project not found", ErrNotFound)
		}
		return nil, NewStoreError("GetProjectByDomain", "project", fqdn, err.Error(), err)
	}

	return rowToProject(&row)
}

func updateProject(ctx context.Context, exec executor, project *domain.Project) error {
	row, err := projectToRow(project, time.Now())
	if err != nil {
		return NewStoreError("UpdateProject", "project", project.Name, "failed to serialize project", ErrInvalidData)
	}

	query := `
		UPDATE projects SET
			domain = :domain,
			upstream_port = :upstream_port,
			environment = :environment,
			image = :image,
			env = :env,
			build_params = :build_params,
			container_id = :container_id,
			isolated_network_id = :isolated_network_id,
			upstream_addr = :upstream_addr,
			cert_path = :cert_path,
			key_path = :key_path,
			updated_at = :updated_at
		WHERE name = :name`

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: projects.domain") {
			return NewStoreError("UpdateProject", "project", project.Name, "domain already claimed", ErrDuplicateDomain)
		}
		return NewStoreError("UpdateProject", "project", project.Name, err.Error(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return NewStoreError("UpdateProject", "project", project.Name, err.Error(), err)
	}
	if affected == 0 {
		return NewStoreError("UpdateProject", "project", project.Name, "project not found", ErrNotFound)
	}

	return nil
}

func deleteProject(ctx context.Context, exec executor, name string) error {
	result, err := exec.ExecContext(ctx, `DELETE FROM projects WHERE name = ?`, name)
	if err != nil {
		return NewStoreError("DeleteProject", "project", name, err.Error(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return NewStoreError("DeleteProject", "project", name, err.Error(), err)
	}
	if affected == 0 {
		return NewStoreError("DeleteProject", "project", name, "project not found", ErrNotFound)
	}

	return nil
}

func listProjects(ctx context.Context, exec executor, opts ListOptions) ([]domain.Project, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM projects ORDER BY name LIMIT ? OFFSET ?`

	var rows []projectRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListProjects", "project", "", err.Error(), err)
	}

	projects := make([]domain.Project, 0, len(rows))
	for i := range rows {
		p, err := rowToProject(&rows[i])
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, nil
}

func upsertRoute(ctx context.Context, exec executor, route *domain.DomainRoute) error {
	query := `
		INSERT INTO routes (domain, project_name, upstream, unit, applied_at)
		VALUES (:domain, :project_name, :upstream, :unit, :applied_at)
		ON CONFLICT(domain) DO UPDATE SET
			project_name = excluded.project_name,
			upstream = excluded.upstream,
			unit = excluded.unit,
			applied_at = excluded.applied_at`

	row := map[string]any{
		"domain":       route.Domain,
		"project_name": route.ProjectName,
		"upstream":     route.Upstream,
		"unit":         route.Unit,
		"applied_at":   route.AppliedAt.Format(time.RFC3339),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpsertRoute", "route", route.Domain, err.Error(), err)
	}
	return nil
}

func getRoute(ctx context.Context, exec executor, fqdn string) (*domain.DomainRoute, error) {
	query := `SELECT * FROM routes WHERE domain = ?`

	var row routeRow
	err := exec.GetContext(ctx, &row, query, fqdn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRoute", "route", fqdn, "route not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRoute", "route", fqdn, err.Error(), err)
	}

	return rowToRoute(&row)
}

func deleteRoute(ctx context.Context, exec executor, fqdn string) error {
	_, err := exec.ExecContext(ctx, `DELETE FROM routes WHERE domain = ?`, fqdn)
	if err != nil {
		return NewStoreError("DeleteRoute", "route", fqdn, err.Error(), err)
	}
	return nil
}

func listRoutes(ctx context.Context, exec executor) ([]domain.DomainRoute, error) {
	query := `SELECT * FROM routes ORDER BY domain`

	var rows []routeRow
	err := exec.SelectContext(ctx, &rows, query)
	if err != nil {
		return nil, NewStoreError("ListRoutes", "route", "", err.Error(), err)
	}

	routes := make([]domain.DomainRoute, 0, len(rows))
	for i := range rows {
		r, err := rowToRoute(&rows[i])
		if err != nil {
			return nil, err
		}
		routes = append(routes, *r)
	}
	return routes, nil
}

func createAttempt(ctx context.Context, exec executor, attempt *domain.DeploymentAttempt) error {
	row, err := attemptToRow(attempt)
	if err != nil {
		return NewStoreError("CreateAttempt", "attempt", attempt.ID, "failed to serialize attempt", ErrInvalidData)
	}

	query := `
		INSERT INTO attempts (
			id, project_name, stages_done, outcome, rolled_back,
			failed_stage, error_kind, error_detail, started_at, finished_at
		) VALUES (
			:id, :project_name, :stages_done, :outcome, :rolled_back,
			:failed_stage, :error_kind, :error_detail, :started_at, :finished_at
		)`

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("CreateAttempt", "attempt", attempt.ID, err.Error(), err)
	}
	return nil
}

func updateAttempt(ctx context.Context, exec executor, attempt *domain.DeploymentAttempt) error {
	row, err := attemptToRow(attempt)
	if err != nil {
		return NewStoreError("UpdateAttempt", "attempt", attempt.ID, "failed to serialize attempt", ErrInvalidData)
	}

	query := `
		UPDATE attempts SET
			stages_done = :stages_done,
			outcome = :outcome,
			rolled_back = :rolled_back,
			failed_stage = :failed_stage,
			error_kind = :error_kind,
			error_detail = :error_detail,
			finished_at = :finished_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateAttempt", "attempt", attempt.ID, err.Error(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return NewStoreError("UpdateAttempt", "attempt", attempt.ID, err.Error(), err)
	}
	if affected == 0 {
		return NewStoreError("UpdateAttempt", "attempt", attempt.ID, "attempt not found", ErrNotFound)
	}

	return nil
}

func getAttempt(ctx context.Context, exec executor, id string) (*domain.DeploymentAttempt, error) {
	query := `SELECT * FROM attempts WHERE id = ?`

	var row attemptRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetAttempt", "attempt", id, "attempt not found", ErrNotFound)
		}
		return nil, NewStoreError("GetAttempt", "attempt", id, err.Error(), err)
	}

	return rowToAttempt(&row)
}

func listAttemptsByProject(ctx context.Context, exec executor, project string, opts ListOptions) ([]domain.DeploymentAttempt, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM attempts WHERE project_name = ? ORDER BY started_at DESC LIMIT ? OFFSET ?`

	var rows []attemptRow
	err := exec.SelectContext(ctx, &rows, query, project, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListAttemptsByProject", "attempt", project, err.Error(), err)
	}

	attempts := make([]domain.DeploymentAttempt, 0, len(rows))
	for i := range rows {
		a, err := rowToAttempt(&rows[i])
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

func projectToRow(p *domain.Project, now time.Time) (map[string]any, error) {
	envJSON, err := json.Marshal(p.Env)
	if err != nil {
		return nil, err
	}
	buildJSON, err := json.Marshal(p.BuildParams)
	if err != nil {
		return nil, err
	}
	ts := now.UTC().Format(time.RFC3339)
	return map[string]any{
		"name":                p.Name,
		"domain":              p.Domain,
		"upstream_port":       p.UpstreamPort,
		"environment":         string(p.Environment),
		"image":               p.Image,
		"env":                 string(envJSON),
		"build_params":        string(buildJSON),
		"container_id":        p.ContainerID,
		"isolated_network_id": p.IsolatedNetworkID,
		"upstream_addr":       p.UpstreamAddr,
		"cert_path":           p.CertPath,
		"key_path":            p.KeyPath,
		"created_at":          ts,
		"updated_at":          ts,
	}, nil
}

func rowToProject(row *projectRow) (*domain.Project, error) {
	p := &domain.Project{
		Name:              row.Name,
		Domain:            row.Domain,
		UpstreamPort:      row.UpstreamPort,
		Environment:       domain.EnvironmentClass(row.Environment),
		Image:             row.Image,
		ContainerID:       row.ContainerID,
		IsolatedNetworkID: row.IsolatedNetworkID,
		UpstreamAddr:      row.UpstreamAddr,
		CertPath:          row.CertPath,
		KeyPath:           row.KeyPath,
	}
	if row.Env != nil && *row.Env != "" && *row.Env != "null" {
		if err := json.Unmarshal([]byte(*row.Env), &p.Env); err != nil {
			return nil, NewStoreError("rowToProject", "project", row.Name, "failed to parse env", ErrInvalidData)
		}
	}
	if row.BuildParams != nil && *row.BuildParams != "" && *row.BuildParams != "null" {
		if err := json.Unmarshal([]byte(*row.BuildParams), &p.BuildParams); err != nil {
			return nil, NewStoreError("rowToProject", "project", row.Name, "failed to parse build params", ErrInvalidData)
		}
	}
	return p, nil
}

func rowToRoute(row *routeRow) (*domain.DomainRoute, error) {
	appliedAt, err := time.Parse(time.RFC3339, row.AppliedAt)
	if err != nil {
		return nil, NewStoreError("rowToRoute", "route", row.Domain, "failed to parse applied_at", ErrInvalidData)
	}
	return &domain.DomainRoute{
		Domain:      row.Domain,
		ProjectName: row.ProjectName,
		Upstream:    row.Upstream,
		Unit:        row.Unit,
		AppliedAt:   appliedAt,
	}, nil
}

func attemptToRow(a *domain.DeploymentAttempt) (map[string]any, error) {
	stagesJSON, err := json.Marshal(a.StagesDone)
	if err != nil {
		return nil, err
	}
	var finishedAt *string
	if !a.FinishedAt.IsZero() {
		s := a.FinishedAt.UTC().Format(time.RFC3339)
		finishedAt = &s
	}
	return map[string]any{
		"id":           a.ID,
		"project_name": a.ProjectName,
		"stages_done":  string(stagesJSON),
		"outcome":      string(a.Outcome),
		"rolled_back":  a.RolledBack,
		"failed_stage": string(a.FailedStage),
		"error_kind":   string(a.ErrorKind),
		"error_detail": a.ErrorDetail,
		"started_at":   a.StartedAt.UTC().Format(time.RFC3339),
		"finished_at":  finishedAt,
	}, nil
}

func rowToAttempt(row *attemptRow) (*domain.DeploymentAttempt, error) {
	a := &domain.DeploymentAttempt{
		ID:          row.ID,
		ProjectName: row.ProjectName,
		Outcome:     domain.Outcome(row.Outcome),
		RolledBack:  row.RolledBack,
		FailedStage: domain.Stage(row.FailedStage),
		ErrorKind:   domain.ErrorKind(row.ErrorKind),
		ErrorDetail: row.ErrorDetail,
	}
	if row.StagesDone != nil && *row.StagesDone != "" && *row.StagesDone != "null" {
		if err := json.Unmarshal([]byte(*row.StagesDone), &a.StagesDone); err != nil {
			return nil, NewStoreError("rowToAttempt", "attempt", row.ID, "failed to parse stages", ErrInvalidData)
		}
	}
	startedAt, err := time.Parse(time.RFC3339, row.StartedAt)
	if err != nil {
		return nil, NewStoreError("rowToAttempt", "attempt", row.ID, "failed to parse started_at", ErrInvalidData)
	}
	a.StartedAt = startedAt
	if row.FinishedAt != nil && *row.FinishedAt != "" {
		finishedAt, err := time.Parse(time.RFC3339, *row.FinishedAt)
		if err != nil {
			return nil, NewStoreError("rowToAttempt", "attempt", row.ID, "failed to parse finished_at", ErrInvalidData)
		}
		a.FinishedAt = finishedAt
	}
	return a, nil
}
