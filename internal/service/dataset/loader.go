package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"sync"

	"github.com/zhouzirui/datachat/backend/internal/apperr"
	"github.com/zhouzirui/datachat/backend/internal/model/dataset"
)

var ErrEmptyDataset = errors.New("dataset has no header row")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Loader reads CSV files from fsys and memoizes every successful load by path.
// Failed loads are not cached so a fixed file is picked up on the next attempt.
type Loader struct {
	fsys        fs.FS
	defaultPath string

	mu     sync.Mutex
	tables map[string]*dataset.Table
}

// NewLoader returns a Loader that resolves paths inside fsys. defaultPath is
// the file served by Load.
func NewLoader(fsys fs.FS, defaultPath string) *Loader {
	return &Loader{
		fsys:        fsys,
		defaultPath: defaultPath,
		tables:      make(map[string]*dataset.Table),
	}
}

// Path returns the configured dataset path.
func (l *Loader) Path() string {
	return l.defaultPath
}

// Load returns the configured dataset.
func (l *Loader) Load(ctx context.Context) (*dataset.Table, error) {
	return l.LoadPath(ctx, l.defaultPath)
}

// LoadPath returns the table stored at path, reading it at most once per
// Loader for a successful load. Errors are *apperr.Error of KindDatasetLoad.
func (l *Loader) LoadPath(ctx context.Context, path string) (*dataset.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.DatasetLoad(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if table, ok := l.tables[path]; ok {
		return table, nil
	}

	table, err := l.read(path)
	if err != nil {
		log.Printf("[dataset] load failed path=%s: %v", path, err)
		return nil, apperr.DatasetLoad(err)
	}

	l.tables[path] = table
	log.Printf("[dataset] loaded path=%s columns=%d rows=%d", path, len(table.Columns), table.Len())
	return table, nil
}

func (l *Loader) read(path string) (*dataset.Table, error) {
	data, err := fs.ReadFile(l.fsys, path)
	if err != nil {
		return nil, err
	}
	return Parse(path, bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
}

// Parse reads a header row followed by data rows. Every row must have as many
// fields as the header.
func Parse(source string, r io.Reader) (*dataset.Table, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	table := &dataset.Table{
		Source:  source,
		Columns: header,
		Rows:    make([][]string, 0, 128),
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		table.Rows = append(table.Rows, record)
	}

	return table, nil
}
