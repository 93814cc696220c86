package pagestore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zlib"
	_ "modernc.org/sqlite"

	"folio/internal/faults"
	"folio/internal/logging"
	"folio/internal/render"
)

// ErrLocked reports that another process owns the store.
var ErrLocked = errors.New("page store locked by another folio process")

// Store is a SQLite-backed rendered page store.
type Store struct {
	db       *sql.DB
	path     string
	lock     *flock.Flock
	logger   *slog.Logger
	now      func() time.Time
	maxBytes int64

	mu    sync.Mutex
	bytes int64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger routes store diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the access-time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// CheckLock reports ErrLocked when another process holds the store at path.
// It does not create the database.
func CheckLock(path string) error {
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return fmt.Errorf("page store directory: %w", err)
	}
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("probe page store lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return lock.Unlock()
}

// Open connects to (creating if needed) the database at path and takes the
// store lock. maxBytes bounds the stored blob size; zero or negative disables
// pruning.
func Open(path string, maxBytes int64, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, faults.Wrap(faults.ErrConfiguration, "pagestore", "open", "path is empty", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create page store directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire page store lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:       db,
		path:     path,
		lock:     lock,
		logger:   logging.NewNop(),
		now:      time.Now,
		maxBytes: maxBytes,
	}
	for _, opt := range opts {
		opt(store)
	}
	store.logger = logging.NewComponentLogger(store.logger, "pagestore")

	ctx := context.Background()
	if err := store.initSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(size_bytes), 0) FROM pages").Scan(&store.bytes); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("sum page store size: %w", err)
	}
	return store, nil
}

// Close closes the database and releases the lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.lock != nil {
		err = errors.Join(err, s.lock.Unlock())
	}
	return err
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

type layout struct {
	Text  []render.TextRun  `json:"text"`
	Links []render.LinkRect `json:"links"`
}

func viewportKey(vp render.Viewport) string {
	return fmt.Sprintf("%dx%d@%dx%d", vp.Cols, vp.Rows, vp.CellWidth, vp.CellHeight)
}

// Get returns the stored render for req. A hit refreshes the entry's access
// time.
func (s *Store) Get(ctx context.Context, req render.Request) (*render.Response, bool, error) {
	ctx = ensureContext(ctx)
	key := req.Key
	vp := viewportKey(req.Viewport)

	var (
		resp     render.Response
		format   int
		renderMS int64
		pixels   []byte
		rawText  string
	)
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT width, height, stride, format, cell_cols, cell_rows, scale, render_ms, pixels, layout
             FROM pages WHERE document = ? AND page = ? AND zoom = ? AND rotation = ? AND viewport = ?`,
			string(key.Document), key.Page, int64(key.Zoom), int(key.Rotation), vp,
		).Scan(
			&resp.Pixels.Width,
			&resp.Pixels.Height,
			&resp.Pixels.Stride,
			&format,
			&resp.Cols,
			&resp.Rows,
			&resp.Scale,
			&renderMS,
			&pixels,
			&rawText,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get page: %w", err)
	}

	pix, err := inflate(pixels)
	if err != nil {
		s.dropCorrupt(ctx, req, err)
		return nil, false, fmt.Errorf("decompress page: %w", err)
	}
	resp.Pixels.Format = render.PixelFormat(format)
	resp.Pixels.Pix = pix
	if len(pix) != resp.Pixels.Stride*resp.Pixels.Height {
		err := fmt.Errorf("pixel length %d, expected %d", len(pix), resp.Pixels.Stride*resp.Pixels.Height)
		s.dropCorrupt(ctx, req, err)
		return nil, false, err
	}

	var lay layout
	if err := json.Unmarshal([]byte(rawText), &lay); err != nil {
		s.dropCorrupt(ctx, req, err)
		return nil, false, fmt.Errorf("decode layout: %w", err)
	}
	resp.Key = key
	resp.Viewport = req.Viewport
	resp.Text = lay.Text
	resp.Links = lay.Links
	resp.RenderTime = time.Duration(renderMS) * time.Millisecond
	resp.FromStore = true
	resp.EstimateFootprint()

	if err := s.execWithoutResultRetry(ctx,
		`UPDATE pages SET accessed_at = ?
         WHERE document = ? AND page = ? AND zoom = ? AND rotation = ? AND viewport = ?`,
		s.now().UnixNano(), string(key.Document), key.Page, int64(key.Zoom), int(key.Rotation), vp,
	); err != nil {
		s.logger.Debug("touch page failed", logging.Error(err))
	}
	return &resp, true, nil
}

// Put stores resp for req, replacing any previous entry, and prunes when the
// store grows past its budget.
func (s *Store) Put(ctx context.Context, req render.Request, resp *render.Response) error {
	if resp == nil {
		return nil
	}
	ctx = ensureContext(ctx)
	key := req.Key

	pixels, err := deflate(resp.Pixels.Pix)
	if err != nil {
		return fmt.Errorf("compress page: %w", err)
	}
	rawLayout, err := json.Marshal(layout{Text: resp.Text, Links: resp.Links})
	if err != nil {
		return fmt.Errorf("encode layout: %w", err)
	}
	size := int64(len(pixels) + len(rawLayout))
	stamp := s.now().UnixNano()

	var previous int64
	err = retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		previous = 0
		row := tx.QueryRowContext(ctx,
			`SELECT size_bytes FROM pages
             WHERE document = ? AND page = ? AND zoom = ? AND rotation = ? AND viewport = ?`,
			string(key.Document), key.Page, int64(key.Zoom), int(key.Rotation), viewportKey(req.Viewport),
		)
		if err := row.Scan(&previous); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO pages (
                document, page, zoom, rotation, viewport,
                width, height, stride, format, cell_cols, cell_rows, scale, render_ms,
                pixels, layout, size_bytes, created_at, accessed_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(key.Document),
			key.Page,
			int64(key.Zoom),
			int(key.Rotation),
			viewportKey(req.Viewport),
			resp.Pixels.Width,
			resp.Pixels.Height,
			resp.Pixels.Stride,
			int(resp.Pixels.Format),
			resp.Cols,
			resp.Rows,
			resp.Scale,
			resp.RenderTime.Milliseconds(),
			pixels,
			string(rawLayout),
			size,
			stamp,
			stamp,
		); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("put page: %w", err)
	}

	s.mu.Lock()
	s.bytes += size - previous
	over := s.maxBytes > 0 && s.bytes > s.maxBytes
	s.mu.Unlock()

	if over {
		if _, err := s.Prune(ctx); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDocument removes every stored page of doc.
func (s *Store) DeleteDocument(ctx context.Context, doc render.DocumentID) (int, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM pages WHERE document = ?", string(doc))
	if err != nil {
		return 0, fmt.Errorf("delete document pages: %w", err)
	}
	removed, _ := res.RowsAffected()
	if err := s.refreshSize(ctx); err != nil {
		return int(removed), err
	}
	return int(removed), nil
}

// Clear removes every stored page. With reset the schema is dropped and
// recreated, which also recovers from ErrSchemaMismatch.
func (s *Store) Clear(ctx context.Context, reset bool) error {
	ctx = ensureContext(ctx)
	if reset {
		if err := s.dropSchema(ctx); err != nil {
			return err
		}
		if err := s.createSchema(ctx); err != nil {
			return err
		}
	} else if err := s.execWithoutResultRetry(ctx, "DELETE FROM pages"); err != nil {
		return fmt.Errorf("clear pages: %w", err)
	}
	s.mu.Lock()
	s.bytes = 0
	s.mu.Unlock()
	if err := s.execWithoutResultRetry(ctx, "VACUUM"); err != nil {
		s.logger.Debug("vacuum failed", logging.Error(err))
	}
	return nil
}

func (s *Store) refreshSize(ctx context.Context) error {
	var total int64
	if err := s.db.QueryRowContext(ensureContext(ctx), "SELECT COALESCE(SUM(size_bytes), 0) FROM pages").Scan(&total); err != nil {
		return fmt.Errorf("sum page store size: %w", err)
	}
	s.mu.Lock()
	s.bytes = total
	s.mu.Unlock()
	return nil
}

func (s *Store) dropCorrupt(ctx context.Context, req render.Request, cause error) {
	key := req.Key
	logging.WarnWithContext(s.logger, "dropping corrupt page store entry", "page_store_corrupt",
		logging.Document(key.Document.Short()),
		logging.Page(key.Page),
		logging.Error(cause),
		logging.Impact("page will be re-rendered"),
	)
	if err := s.execWithoutResultRetry(ctx,
		"DELETE FROM pages WHERE document = ? AND page = ? AND zoom = ? AND rotation = ? AND viewport = ?",
		string(key.Document), key.Page, int64(key.Zoom), int(key.Rotation), viewportKey(req.Viewport),
	); err != nil {
		s.logger.Debug("delete corrupt page failed", logging.Error(err))
		return
	}
	_ = s.refreshSize(ctx)
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
