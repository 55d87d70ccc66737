// Package upload turns uploaded bytes into a registered, validated data file.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/sqlite-explorer/internal/datafile"
	"github.com/Laisky/sqlite-explorer/internal/library/errs"
	"github.com/Laisky/sqlite-explorer/internal/library/metrics"
	"github.com/Laisky/sqlite-explorer/internal/store/metadata"
	"github.com/Laisky/sqlite-explorer/library/log"
)

const (
	// DefaultMaxSize bounds a single upload.
	DefaultMaxSize int64 = 100 << 20

	maxNameLength     = 200
	maxCreateAttempts = 100
)

var (
	allowedExtensions = map[string]struct{}{
		".db":      {},
		".sqlite":  {},
		".sqlite3": {},
		".db3":     {},
		".s3db":    {},
		".sl3":     {},
	}

	regexpUnsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._\-]+`)
)

// Registrar persists the scanned file.
type Registrar interface {
	Register(ctx context.Context, in metadata.RegisterInput) (*metadata.Record, error)
}

// Inspector reads the table catalog of a stored file.
type Inspector interface {
	Inspect(ctx context.Context, path string) ([]datafile.TableInfo, error)
}

// Pipeline stores, validates and registers uploads.
type Pipeline struct {
	dir       string
	maxSize   int64
	registrar Registrar
	inspector Inspector
	logger    logSDK.Logger
	clock     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithMaxSize overrides DefaultMaxSize.
func WithMaxSize(size int64) Option {
	return func(p *Pipeline) error {
		if size <= 0 {
			return errors.Errorf("max size must be positive, got %d", size)
		}
		p.maxSize = size
		return nil
	}
}

// WithClock overrides the clock used for storage names and notes.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) error {
		if clock == nil {
			return errors.New("clock cannot be nil")
		}
		p.clock = clock
		return nil
	}
}

// WithLogger overrides the logger.
func WithLogger(logger logSDK.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline stores uploads under dir, creating it if needed.
func NewPipeline(dir string, registrar Registrar, inspector Inspector, opts ...Option) (*Pipeline, error) {
	if registrar == nil || inspector == nil {
		return nil, errors.New("registrar and inspector are required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create upload dir %s", dir)
	}

	p := &Pipeline{
		dir:       dir,
		maxSize:   DefaultMaxSize,
		registrar: registrar,
		inspector: inspector,
		logger:    log.Logger.Named("upload_pipeline"),
		clock:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, errors.Wrap(err, "apply upload option")
		}
	}

	return p, nil
}

// Dir is the managed storage directory.
func (p *Pipeline) Dir() string {
	return p.dir
}

// MaxSize is the largest accepted upload in bytes.
func (p *Pipeline) MaxSize() int64 {
	return p.maxSize
}

// SanitizeName reduces originalName to a safe base name with a known
// database extension.
func SanitizeName(originalName string) (string, error) {
	name := strings.TrimSpace(originalName)
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = regexpUnsafeNameChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "_" {
		return "", errs.New(errs.CodeValidation, "file name is required")
	}

	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := allowedExtensions[ext]; !ok {
		return "", errs.Newf(errs.CodeValidation,
			"invalid file type %q, expected a SQLite database (.db, .sqlite, .sqlite3, .db3, .s3db, .sl3)", ext)
	}

	if len(name) > maxNameLength {
		name = name[len(name)-maxNameLength:]
	}
	return name, nil
}

// displayName is the base of originalName as the user sent it, used as the
// record name. SanitizeName only shapes the storage path.
func displayName(originalName string) string {
	name := strings.ReplaceAll(strings.TrimSpace(originalName), `\`, "/")
	return strings.TrimSpace(filepath.Base(name))
}

// createExclusive creates <ts>-<name>, falling back to <ts>-<n>-<name> when taken.
func (p *Pipeline) createExclusive(name string) (*os.File, string, error) {
	ts := strconv.FormatInt(p.clock().Unix(), 10)
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		stored := ts + "-" + name
		if attempt > 0 {
			stored = fmt.Sprintf("%s-%d-%s", ts, attempt, name)
		}

		path := filepath.Join(p.dir, stored)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", errs.Wrap(err, errs.CodeStorage, "create upload file")
		}
	}

	return nil, "", errs.Newf(errs.CodeStorage, "no free storage name for %s", name)
}

// Accept streams r into managed storage, validates it as a SQLite database
// and registers it. The stored file is removed on every path that does not
// end in a registered record.
func (p *Pipeline) Accept(ctx context.Context, r io.Reader, originalName string) (rec *metadata.Record, err error) {
	var size int64
	defer func() {
		metrics.ObserveUpload(size, err)
	}()

	name, err := SanitizeName(originalName)
	if err != nil {
		return nil, err
	}

	f, path, err := p.createExclusive(name)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With(zap.String("path", path), zap.String("original_name", originalName))

	committed := false
	defer func() {
		if f != nil {
			_ = f.Close()
		}
		if committed {
			return
		}
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Error("remove rejected upload", zap.Error(rmErr))
			return
		}
		logger.Info("rejected upload removed")
	}()

	size, err = io.Copy(f, io.LimitReader(r, p.maxSize+1))
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStorage, "write upload file")
	}
	if size == 0 {
		return nil, errs.New(errs.CodeValidation, "uploaded file is empty")
	}
	if size > p.maxSize {
		return nil, errs.Newf(errs.CodeValidation, "file too large, maximum size is %dMB", p.maxSize>>20)
	}
	if err = f.Sync(); err != nil {
		return nil, errs.Wrap(err, errs.CodeStorage, "sync upload file")
	}
	if err = f.Close(); err != nil {
		f = nil
		return nil, errs.Wrap(err, errs.CodeStorage, "close upload file")
	}
	f = nil

	if err = checkHeader(path); err != nil {
		return nil, err
	}

	tables, err := p.inspector.Inspect(ctx, path)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeCorruptFile, "failed to read database structure")
	}

	notes := "Uploaded on " + p.clock().UTC().Format(time.RFC1123)
	rec, err = p.registrar.Register(ctx, metadata.RegisterInput{
		Name:   displayName(originalName),
		Path:   path,
		Size:   size,
		Tables: tables,
		Notes:  &notes,
	})
	if err != nil {
		return nil, errors.Wrap(err, "register upload")
	}

	committed = true
	logger.Info("upload accepted",
		zap.Int64("id", rec.ID),
		zap.Int64("size", size),
		zap.Int("table_count", rec.TableCount))
	return rec, nil
}

func checkHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.Wrap(err, errs.CodeStorage, "reopen upload file")
	}
	defer f.Close()

	head := make([]byte, 16)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return errs.Wrap(err, errs.CodeStorage, "read upload header")
	}
	if !datafile.HasSQLiteHeader(head[:n]) {
		return errs.New(errs.CodeCorruptFile, "uploaded file is not a SQLite database")
	}
	return nil
}
