package mockapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/expressiv/approvaldesk/internal/security"
)

var errNotFound = errors.New("not found")

type userRecord struct {
	ID               string   `json:"id"`
	Username         string   `json:"username"`
	FullName         string   `json:"fullName"`
	EmployeeID       string   `json:"employeeId"`
	KansaiEmployeeID string   `json:"kansaiEmployeeId"`
	Department       string   `json:"department"`
	Roles            []string `json:"roles"`
	passwordHash     string
}

// kansaiID is the id approval blocks name the user by.
func (u userRecord) kansaiID() string {
	switch {
	case u.KansaiEmployeeID != "":
		return u.KansaiEmployeeID
	case u.EmployeeID != "":
		return u.EmployeeID
	}
	return u.ID
}

type department struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// document is a stored backend record. Body is the JSON the backend would return for it.
type document struct {
	Kind    string
	ID      string
	Subtype string
	Body    map[string]any
}

type actionRecord struct {
	Kind      string
	DocID     string
	Step      string
	Action    string
	UserID    string
	Remarks   string
	CreatedAt time.Time
}

type sqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

func openStore(ctx context.Context, dbPath string) (*sqliteStore, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// One connection keeps writers serialised and an in-memory database alive.
	db.SetMaxOpenConns(1)
	s := &sqliteStore{db: db, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) initSchema(ctx context.Context) error {
	statements := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			employee_id TEXT NOT NULL DEFAULT '',
			kansai_employee_id TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL DEFAULT '',
			roles TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS departments (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS documents (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			subtype TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (kind, id)
		);`,
		`CREATE TABLE IF NOT EXISTS document_actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			step TEXT NOT NULL,
			action TEXT NOT NULL,
			user_id TEXT NOT NULL,
			remarks TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			FOREIGN KEY(kind, doc_id) REFERENCES documents(kind, id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_document_actions_doc ON document_actions(kind, doc_id);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ensureUser creates or updates a login. An empty password keeps the stored hash.
func (s *sqliteStore) ensureUser(ctx context.Context, u userRecord, password string) error {
	if u.ID == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(u.Username) == "" {
		return errors.New("username is required")
	}
	hash := ""
	if password != "" {
		var err error
		hash, err = security.HashPassword(password)
		if err != nil {
			return fmt.Errorf("user %s: %w", u.Username, err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, full_name, employee_id, kansai_employee_id, department, roles, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			password_hash = CASE WHEN excluded.password_hash = '' THEN users.password_hash ELSE excluded.password_hash END,
			full_name = excluded.full_name,
			employee_id = excluded.employee_id,
			kansai_employee_id = excluded.kansai_employee_id,
			department = excluded.department,
			roles = excluded.roles;
	`, u.ID, strings.TrimSpace(u.Username), hash, u.FullName, u.EmployeeID, u.KansaiEmployeeID, u.Department,
		strings.Join(u.Roles, ","), s.now().UTC().Unix())
	return err
}

const userColumns = `id, username, password_hash, full_name, employee_id, kansai_employee_id, department, roles`

func scanUser(row interface{ Scan(...any) error }) (userRecord, error) {
	var (
		u     userRecord
		roles string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.passwordHash, &u.FullName, &u.EmployeeID, &u.KansaiEmployeeID, &u.Department, &roles); err != nil {
		return userRecord{}, err
	}
	if roles != "" {
		u.Roles = strings.Split(roles, ",")
	}
	return u, nil
}

func (s *sqliteStore) lookupUserByUsername(ctx context.Context, username string) (userRecord, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ? COLLATE NOCASE`, strings.TrimSpace(username)))
	if errors.Is(err, sql.ErrNoRows) {
		return userRecord{}, errNotFound
	}
	return u, err
}

func (s *sqliteStore) getUser(ctx context.Context, id string) (userRecord, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return userRecord{}, errNotFound
	}
	return u, err
}

func (s *sqliteStore) listUsers(ctx context.Context) ([]userRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY full_name, username`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	users := []userRecord{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *sqliteStore) countUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (s *sqliteStore) upsertDepartment(ctx context.Context, d department) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO departments (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name;
	`, d.ID, strings.TrimSpace(d.Name))
	return err
}

func (s *sqliteStore) listDepartments(ctx context.Context) ([]department, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM departments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []department{}
	for rows.Next() {
		var d department
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) putDocument(ctx context.Context, d document) error {
	raw, err := json.Marshal(d.Body)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", d.Kind, d.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (kind, id, subtype, body, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			subtype = excluded.subtype,
			body = excluded.body,
			updated_at = excluded.updated_at;
	`, d.Kind, d.ID, d.Subtype, string(raw), s.now().UTC().Unix())
	return err
}

func scanDocument(row interface{ Scan(...any) error }) (document, error) {
	var (
		d   document
		raw string
	)
	if err := row.Scan(&d.Kind, &d.ID, &d.Subtype, &raw); err != nil {
		return document{}, err
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&d.Body); err != nil {
		return document{}, fmt.Errorf("decode %s %s: %w", d.Kind, d.ID, err)
	}
	return d, nil
}

func (s *sqliteStore) getDocument(ctx context.Context, kind, id string) (document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, `SELECT kind, id, subtype, body FROM documents WHERE kind = ? AND id = ?`, kind, id))
	if errors.Is(err, sql.ErrNoRows) {
		return document{}, errNotFound
	}
	return d, err
}

func (s *sqliteStore) listDocuments(ctx context.Context, kind string) ([]document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, id, subtype, body FROM documents WHERE kind = ? ORDER BY updated_at DESC, id`, kind)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// updateDocument applies change to the stored body and records the action in one transaction.
func (s *sqliteStore) updateDocument(ctx context.Context, kind, id string, act actionRecord, change func(body map[string]any) error) (document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return document{}, err
	}
	defer func() { _ = tx.Rollback() }()

	d, err := scanDocument(tx.QueryRowContext(ctx, `SELECT kind, id, subtype, body FROM documents WHERE kind = ? AND id = ?`, kind, id))
	if errors.Is(err, sql.ErrNoRows) {
		return document{}, errNotFound
	}
	if err != nil {
		return document{}, err
	}
	if err := change(d.Body); err != nil {
		return document{}, err
	}
	raw, err := json.Marshal(d.Body)
	if err != nil {
		return document{}, err
	}
	now := s.now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET body = ?, updated_at = ? WHERE kind = ? AND id = ?`, string(raw), now.Unix(), kind, id); err != nil {
		return document{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_actions (kind, doc_id, step, action, user_id, remarks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, kind, id, act.Step, act.Action, act.UserID, act.Remarks, now.Unix()); err != nil {
		return document{}, err
	}
	return d, tx.Commit()
}

func (s *sqliteStore) listActions(ctx context.Context, kind, id string) ([]actionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, doc_id, step, action, user_id, remarks, created_at
		FROM document_actions WHERE kind = ? AND doc_id = ? ORDER BY id
	`, kind, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []actionRecord
	for rows.Next() {
		var (
			a       actionRecord
			created int64
		)
		if err := rows.Scan(&a.Kind, &a.DocID, &a.Step, &a.Action, &a.UserID, &a.Remarks, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
