// Package vfs implements the container kernel's virtual filesystem: a
// path-addressed, sqlite-backed content store with POSIX-ish metadata, an
// FTS5 text index, a change-event bus, and the facade that normalises paths,
// resolves mounts, and runs watchers on top of it.
package vfs

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// OpenFlag mirrors the subset of POSIX open(2) flags the store understands.
type OpenFlag int

const (
	OpenRead OpenFlag = 1 << iota
	OpenWrite
	OpenCreate
	OpenTruncate
	OpenAppend
)

// Handle is a buffered snapshot returned by OpenFile; Sync commits the whole
// buffer as a single atomic replacement.
type Handle struct {
	Path string
	Flag OpenFlag
	buf  []byte
}

func (h *Handle) Bytes() []byte { return h.buf }

// Store is the sqlite-backed path-keyed VFS store.
type Store struct {
	db    *sql.DB
	bus   *Bus
	clock clock
}

// Open opens (creating if necessary) a sqlite-backed store at dbPath and
// brings its schema up to date via golang-migrate, mirroring the teacher's
// boxer.go bootstrap (sql.Open + WAL pragma) but with versioned migrations
// instead of a single schema.sql exec.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("vfs: open database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("vfs: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("vfs: enable foreign keys: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("vfs: migrate schema: %w", err)
	}

	s := &Store{db: db, bus: NewBus()}
	if err := s.ensureRoot(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) ensureRoot(ctx context.Context) error {
	_, err := s.stat(ctx, "/")
	if err == nil {
		return nil
	}
	if !IsCode(err, ENOENT) {
		return err
	}
	now := s.clock.now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO files(path, content, mode, size, atime_ns, mtime_ns, ctime_ns, birth_ns)
		 VALUES (?, NULL, ?, 0, ?, ?, ?, ?)`,
		"/", uint32(defaultDirMode), now, now, now, now)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// Bus returns the change-event bus mutations are published on.
func (s *Store) Bus() *Bus { return s.bus }

func (s *Store) Stat(ctx context.Context, p string) (Meta, error) {
	return s.stat(ctx, p)
}

func (s *Store) stat(ctx context.Context, p string) (Meta, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT mode, uid, gid, size, atime_ns, mtime_ns, ctime_ns, birth_ns,
		        COALESCE(org,''), COALESCE(agent,'')
		 FROM files WHERE path = ?`, p)
	var m Meta
	var mode uint32
	if err := row.Scan(&mode, &m.UID, &m.GID, &m.Size, &m.ATime, &m.MTime, &m.CTime, &m.Birth, &m.Org, &m.Agent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Meta{}, newErr(ENOENT, p, nil)
		}
		return Meta{}, newErr(EIO, p, err)
	}
	m.Path = p
	m.Mode = Mode(mode)
	return m, nil
}

func (s *Store) ReadFile(ctx context.Context, p string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT mode, content FROM files WHERE path = ?`, p)
	var mode uint32
	var content []byte
	if err := row.Scan(&mode, &content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newErr(ENOENT, p, nil)
		}
		return nil, newErr(EIO, p, err)
	}
	if Mode(mode).IsDir() {
		return nil, newErr(EISDIR, p, nil)
	}
	return content, nil
}

// WriteFile atomically replaces content at p: the UPDATE/INSERT below runs
// inside a transaction so a reader never observes a partial write.
func (s *Store) WriteFile(ctx context.Context, p string, content []byte) error {
	if err := s.checkParentIsDir(ctx, p); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newErr(EIO, p, err)
	}
	defer tx.Rollback()

	now := s.clock.now()
	existed, isDir, err := s.existsTx(ctx, tx, p)
	if err != nil {
		return err
	}
	if existed && isDir {
		return newErr(EISDIR, p, nil)
	}

	if existed {
		_, err = tx.ExecContext(ctx,
			`UPDATE files SET content=?, size=?, mtime_ns=?, ctime_ns=? WHERE path=?`,
			content, len(content), now, now, p)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO files(path, content, mode, size, atime_ns, mtime_ns, ctime_ns, birth_ns)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p, content, uint32(defaultFileMode), len(content), now, now, now, now)
	}
	if err != nil {
		return newErr(EIO, p, err)
	}
	if err := tx.Commit(); err != nil {
		return newErr(EIO, p, err)
	}

	kind := EventChange
	if !existed {
		kind = EventAddFile
	}
	s.bus.Publish(ctx, Event{Kind: kind, Path: p})
	return nil
}

// OpenFile returns a buffered handle seeded with the file's current content
// (or empty, for OpenCreate on a missing path).
func (s *Store) OpenFile(ctx context.Context, p string, flag OpenFlag) (*Handle, error) {
	content, err := s.ReadFile(ctx, p)
	if err != nil {
		if IsCode(err, ENOENT) && flag&OpenCreate != 0 {
			return &Handle{Path: p, Flag: flag}, nil
		}
		return nil, err
	}
	if flag&OpenTruncate != 0 {
		content = nil
	}
	buf := append([]byte(nil), content...)
	return &Handle{Path: p, Flag: flag, buf: buf}, nil
}

// Sync commits h's buffer as a single atomic replacement of the file content.
func (s *Store) Sync(ctx context.Context, h *Handle, data []byte) error {
	h.buf = data
	return s.WriteFile(ctx, h.Path, h.buf)
}

type mkdirOpts struct{ recursive bool }

// MkdirOption configures Mkdir.
type MkdirOption func(*mkdirOpts)

func Recursive() MkdirOption { return func(o *mkdirOpts) { o.recursive = true } }

func (s *Store) Mkdir(ctx context.Context, p string, mode Mode, opts ...MkdirOption) error {
	var o mkdirOpts
	for _, fn := range opts {
		fn(&o)
	}
	if o.recursive {
		return s.mkdirAll(ctx, p, mode)
	}

	parent := path.Dir(p)
	if parent != p {
		if _, err := s.stat(ctx, parent); err != nil {
			return err
		}
	}
	if _, err := s.stat(ctx, p); err == nil {
		return newErr(EEXIST, p, nil)
	}
	return s.insertDir(ctx, p, mode)
}

func (s *Store) mkdirAll(ctx context.Context, p string, mode Mode) error {
	if p == "/" {
		return nil
	}
	parent := path.Dir(p)
	if parent != "/" {
		if err := s.mkdirAll(ctx, parent, mode); err != nil {
			return err
		}
	} else if _, err := s.stat(ctx, "/"); err != nil {
		return err
	}
	m, err := s.stat(ctx, p)
	if err == nil {
		if !m.IsDir() {
			return newErr(ENOTDIR, p, nil)
		}
		return nil
	}
	if !IsCode(err, ENOENT) {
		return err
	}
	return s.insertDir(ctx, p, mode)
}

func (s *Store) insertDir(ctx context.Context, p string, mode Mode) error {
	now := s.clock.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files(path, content, mode, size, atime_ns, mtime_ns, ctime_ns, birth_ns)
		 VALUES (?, NULL, ?, 0, ?, ?, ?, ?)`,
		p, uint32(mode|ModeDir), now, now, now, now)
	if err != nil {
		return newErr(EIO, p, err)
	}
	s.bus.Publish(ctx, Event{Kind: EventAddDir, Path: p})
	return nil
}

func (s *Store) Unlink(ctx context.Context, p string) error {
	m, err := s.stat(ctx, p)
	if err != nil {
		return err
	}
	if m.IsDir() {
		return newErr(EISDIR, p, nil)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE path=?`, p); err != nil {
		return newErr(EIO, p, err)
	}
	s.bus.Publish(ctx, Event{Kind: EventRemoveFile, Path: p})
	return nil
}

func (s *Store) Rmdir(ctx context.Context, p string, recursive bool) error {
	m, err := s.stat(ctx, p)
	if err != nil {
		return err
	}
	if !m.IsDir() {
		return newErr(ENOTDIR, p, nil)
	}
	children, err := s.Readdir(ctx, p)
	if err != nil {
		return err
	}
	if len(children) > 0 && !recursive {
		return newErr(ENOTEMPTY, p, nil)
	}
	if recursive {
		for _, c := range children {
			cp := joinPath(p, c)
			cm, err := s.stat(ctx, cp)
			if err != nil {
				return err
			}
			if cm.IsDir() {
				if err := s.Rmdir(ctx, cp, true); err != nil {
					return err
				}
			} else if err := s.Unlink(ctx, cp); err != nil {
				return err
			}
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE path=?`, p); err != nil {
		return newErr(EIO, p, err)
	}
	s.bus.Publish(ctx, Event{Kind: EventRemoveDir, Path: p})
	return nil
}

func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	if _, err := s.stat(ctx, oldPath); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newErr(EIO, oldPath, err)
	}
	defer tx.Rollback()

	destExisted, destIsDir, err := s.existsTx(ctx, tx, newPath)
	if err != nil {
		return err
	}
	if destExisted {
		if destIsDir {
			hasChildren, err := s.hasChildrenTx(ctx, tx, newPath)
			if err != nil {
				return err
			}
			if hasChildren {
				return newErr(ENOTEMPTY, newPath, nil)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path=?`, newPath); err != nil {
			return newErr(EIO, newPath, err)
		}
	}

	now := s.clock.now()
	if _, err := tx.ExecContext(ctx, `UPDATE files SET path=?, ctime_ns=? WHERE path=?`, newPath, now, oldPath); err != nil {
		return newErr(EIO, oldPath, err)
	}
	if err := tx.Commit(); err != nil {
		return newErr(EIO, oldPath, err)
	}

	s.bus.Publish(ctx, Event{Kind: EventRename, Path: oldPath})
	s.bus.Publish(ctx, Event{Kind: EventRename, Path: newPath})
	return nil
}

func (s *Store) Readdir(ctx context.Context, p string) ([]string, error) {
	m, err := s.stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if !m.IsDir() {
		return nil, newErr(ENOTDIR, p, nil)
	}

	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files WHERE path LIKE ? ESCAPE '\'`, likeEscape(prefix)+"%")
	if err != nil {
		return nil, newErr(EIO, p, err)
	}
	defer rows.Close()

	names := map[string]struct{}{}
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return nil, newErr(EIO, p, err)
		}
		if child == p {
			continue
		}
		rest := strings.TrimPrefix(child, prefix)
		seg, _, _ := strings.Cut(rest, "/")
		if seg != "" {
			names[seg] = struct{}{}
		}
	}
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	return out, nil
}

func (s *Store) existsTx(ctx context.Context, tx *sql.Tx, p string) (exists, isDir bool, err error) {
	row := tx.QueryRowContext(ctx, `SELECT mode FROM files WHERE path=?`, p)
	var mode uint32
	if err := row.Scan(&mode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		return false, false, newErr(EIO, p, err)
	}
	return true, Mode(mode).IsDir(), nil
}

func (s *Store) hasChildrenTx(ctx context.Context, tx *sql.Tx, p string) (bool, error) {
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	row := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM files WHERE path LIKE ? ESCAPE '\' AND path != ?`, likeEscape(prefix)+"%", p)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, newErr(EIO, p, err)
	}
	return n > 0, nil
}

func (s *Store) checkParentIsDir(ctx context.Context, p string) error {
	parent := path.Dir(p)
	if parent == p {
		return nil
	}
	m, err := s.stat(ctx, parent)
	if err != nil {
		if IsCode(err, ENOENT) {
			return newErr(ENOTDIR, p, nil)
		}
		return err
	}
	if !m.IsDir() {
		return newErr(ENOTDIR, p, nil)
	}
	return nil
}

func likeEscape(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// debugf is a small structured-logging helper; nothing in the store calls it.
func debugf(ctx context.Context, msg string, args ...any) {
	slog.DebugContext(ctx, msg, args...)
}
