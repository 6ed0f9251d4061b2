// Package mysqlstore implements store.RecordStore on a MySQL table. The
// primary key on username provides the insert-if-absent guarantee.
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/nammalwarsai/skill3-cie/internal/model"
	"github.com/nammalwarsai/skill3-cie/internal/store"
)

// erDupEntry is MySQL's duplicate-key error number.
const erDupEntry = 1062

const scanPageSize = 100

const columns = "username,password_hash,email,name,role,doctor_id,owner,created_at"

const schema = `CREATE TABLE IF NOT EXISTS patients (
	username      VARCHAR(80)  NOT NULL,
	password_hash VARCHAR(255) NOT NULL,
	email         VARCHAR(255) NOT NULL DEFAULT '',
	name          VARCHAR(255) NOT NULL DEFAULT '',
	role          VARCHAR(16)  NOT NULL DEFAULT 'PATIENT',
	doctor_id     VARCHAR(64)  NOT NULL DEFAULT '',
	owner         VARCHAR(64)  NOT NULL DEFAULT '',
	created_at    DATETIME(3)  NOT NULL,
	PRIMARY KEY (username)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`

// Records mirrors the 'patients' table.
type Records struct{ DB *sql.DB }

// NewRecords wraps an open connection pool.
func NewRecords(db *sql.DB) *Records { return &Records{DB: db} }

// EnsureSchema creates the patients table when missing. The binary
// collation keeps usernames case-sensitive.
func (r *Records) EnsureSchema(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create patients table: %w", err)
	}
	return nil
}

// PutIfAbsent inserts the row; a duplicate primary key maps to ErrAlreadyExists.
func (r *Records) PutIfAbsent(ctx context.Context, acct model.Account) error {
	created := acct.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO patients ("+columns+") VALUES (?,?,?,?,?,?,?,?)",
		acct.Username, acct.PasswordHash, acct.Email, acct.Name, acct.Role, acct.DoctorID, acct.Owner, created)
	if err != nil {
		if isDuplicate(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

// Get fetches one account by exact username.
func (r *Records) Get(ctx context.Context, username string) (model.Account, error) {
	var a model.Account
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+columns+" FROM patients WHERE username=? LIMIT 1",
		username).Scan(&a.Username, &a.PasswordHash, &a.Email, &a.Name, &a.Role, &a.DoctorID, &a.Owner, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, store.ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("select patient: %w", err)
	}
	return a, nil
}

// ScanAll reads the table in username order using keyset pagination.
func (r *Records) ScanAll(ctx context.Context) ([]model.Account, error) {
	var (
		out   []model.Account
		after string
	)
	for {
		page, err := r.page(ctx, after)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < scanPageSize {
			return out, nil
		}
		after = page[len(page)-1].Username
	}
}

func (r *Records) page(ctx context.Context, after string) ([]model.Account, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+columns+" FROM patients WHERE username > ? ORDER BY username LIMIT ?",
		after, scanPageSize)
	if err != nil {
		return nil, fmt.Errorf("scan patients: %w", err)
	}
	defer rows.Close()

	page := make([]model.Account, 0, scanPageSize)
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.Username, &a.PasswordHash, &a.Email, &a.Name, &a.Role, &a.DoctorID, &a.Owner, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan patient row: %w", err)
		}
		page = append(page, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", err)
	}
	return page, nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erDupEntry
}
