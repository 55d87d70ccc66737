package datafile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/Laisky/sqlite-explorer/internal/library/errs"
)

// ArchivedResult is the document written for each archived read.
type ArchivedResult struct {
	Query      string    `json:"query"`
	Database   string    `json:"database"`
	ExecutedAt time.Time `json:"executed_at"`
	Columns    []string  `json:"columns"`
	Rows       []Row     `json:"rows"`
}

// ArchivedDocument is an ArchivedResult decoded back from disk, rows lose their column order.
type ArchivedDocument struct {
	Query      string           `json:"query"`
	Database   string           `json:"database"`
	ExecutedAt time.Time        `json:"executed_at"`
	Columns    []string         `json:"columns"`
	Rows       []map[string]any `json:"rows"`
}

// Archiver stores read results as zstd-compressed JSON files.
type Archiver struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewArchiver creates dir if needed and returns an Archiver writing into it.
func NewArchiver(dir string) (*Archiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create results dir %s", dir)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errors.Wrap(err, "new zstd encoder")
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "new zstd decoder")
	}

	return &Archiver{dir: dir, encoder: encoder, decoder: decoder}, nil
}

// Save writes result and returns the file path.
func (a *Archiver) Save(result ArchivedResult) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", errors.Wrap(err, "marshal archived result")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "generate archive id")
	}

	path := filepath.Join(a.dir, id.String()+".json.zst")
	if err := os.WriteFile(path, a.encoder.EncodeAll(raw, nil), 0o644); err != nil {
		return "", errs.Wrap(err, errs.CodeStorage, "write archived result")
	}
	return path, nil
}

// Load reads back a file written by Save. Paths outside the archive dir are rejected.
func (a *Archiver) Load(path string) (*ArchivedDocument, error) {
	rel, err := filepath.Rel(a.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return nil, errs.Newf(errs.CodeValidation, "results path %s is outside the archive", path)
	}

	compressed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Newf(errs.CodeNotFound, "archived result %s not found", path)
		}
		return nil, errs.Wrap(err, errs.CodeStorage, "read archived result")
	}

	raw, err := a.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStorage, "decompress archived result")
	}

	doc := new(ArchivedDocument)
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, errors.Wrap(err, "unmarshal archived result")
	}
	return doc, nil
}
