// Package sqlblob keeps blobs in a sqlite table. Raw keys are the row ids.
package sqlblob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/openmined/blobdispatch/internal/db"
)

const DefaultTable = "blobs"

type row struct {
	ID        int64  `db:"id"`
	Data      []byte `db:"data"`
	MimeType  string `db:"mime_type"`
	Encoding  string `db:"encoding"`
	Filename  string `db:"filename"`
	Length    int64  `db:"length"`
	Digest    string `db:"digest"`
	CreatedAt int64  `db:"created_at"` // unix millis
}

// Provider stores blobs as rows of a sqlite table, keyed by rowid
type Provider struct {
	db      *sqlx.DB
	table   string
	ownsDB  bool
	maxSize int64
}

// Option configures a Provider
type Option func(*Provider)

// WithTable stores blobs in another table, for several providers sharing one database
func WithTable(table string) Option {
	return func(p *Provider) {
		p.table = table
	}
}

// WithMaxSize rejects blobs larger than n bytes. Zero means no limit.
func WithMaxSize(n int64) Option {
	return func(p *Provider) {
		p.maxSize = n
	}
}

var ErrTooLarge = errors.New("blob too large for database provider")

// New uses an already open database and creates the table if needed
func New(ctx context.Context, database *sqlx.DB, opts ...Option) (*Provider, error) {
	p := &Provider{db: database, table: DefaultTable}
	for _, opt := range opts {
		opt(p)
	}
	if !validTableName(p.table) {
		return nil, fmt.Errorf("sqlblob: invalid table name %q", p.table)
	}

	if err := db.Migrate(ctx, database, p.schema()...); err != nil {
		return nil, fmt.Errorf("sqlblob: %w", err)
	}
	return p, nil
}

// Open opens (or creates) a sqlite database at path and owns it until Close
func Open(ctx context.Context, path string, opts ...Option) (*Provider, error) {
	database, err := db.NewSqliteDB(db.WithPath(path))
	if err != nil {
		return nil, err
	}

	p, err := New(ctx, database, opts...)
	if err != nil {
		database.Close()
		return nil, err
	}
	p.ownsDB = true
	return p, nil
}

func (p *Provider) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			data BLOB NOT NULL,
			mime_type TEXT NOT NULL DEFAULT '',
			encoding TEXT NOT NULL DEFAULT '',
			filename TEXT NOT NULL DEFAULT '',
			length INTEGER NOT NULL,
			digest TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`, p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_digest ON %s (digest)`, p.table, p.table),
	}
}

// WriteBlob implements blob.Provider
func (p *Provider) WriteBlob(ctx context.Context, b blob.Blob) (string, error) {
	data, digest, err := blob.ReadAllDigest(b)
	if err != nil {
		return "", err
	}
	if p.maxSize > 0 && int64(len(data)) > p.maxSize {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), p.maxSize)
	}

	r := row{
		Data:      data,
		MimeType:  b.MimeType(),
		Encoding:  b.Encoding(),
		Filename:  b.Filename(),
		Length:    int64(len(data)),
		Digest:    digest,
		CreatedAt: time.Now().UnixMilli(),
	}

	query := fmt.Sprintf(`INSERT INTO %s (data, mime_type, encoding, filename, length, digest, created_at)
		VALUES (:data, :mime_type, :encoding, :filename, :length, :digest, :created_at)`, p.table)

	res, err := p.db.NamedExecContext(ctx, query, r)
	if err != nil {
		return "", err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}

	return strconv.FormatInt(id, 10), nil
}

// ReadBlob implements blob.Provider
func (p *Provider) ReadBlob(ctx context.Context, key string) (blob.Blob, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("sqlblob key %q: %w", key, blob.ErrBlobNotFound)
	}

	var r row
	query := fmt.Sprintf(`SELECT * FROM %s WHERE id = ?`, p.table)
	if err := p.db.GetContext(ctx, &r, query, id); errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlblob key %q: %w", key, blob.ErrBlobNotFound)
	} else if err != nil {
		return nil, err
	}

	return blob.NewBytesBlob(r.Data,
		blob.WithMimeType(r.MimeType),
		blob.WithEncoding(r.Encoding),
		blob.WithFilename(r.Filename),
		blob.WithDigest(r.Digest),
	), nil
}

func (p *Provider) SupportsUserUpdate() bool {
	return false
}

func (p *Provider) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Count returns the number of stored blobs
func (p *Provider) Count(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.GetContext(ctx, &n, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.table))
	return n, err
}

// Close closes the database
func (p *Provider) Close() error {
	if !p.ownsDB {
		return nil
	}
	return p.db.Close()
}

func validTableName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

var _ blob.Provider = (*Provider)(nil)
var _ blob.HealthChecker = (*Provider)(nil)
