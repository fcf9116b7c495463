package fetch

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/ajitpratap0/statline/pkg/odata"
	"github.com/ajitpratap0/statline/pkg/pool"
	"github.com/ajitpratap0/statline/pkg/schema"
)

const pageBufferSize = 64 * 1024

// pageEncoder is the reusable compression state for writing one page.
type pageEncoder struct {
	gz      *gzip.Writer
	w       *bufio.Writer
	compact bytes.Buffer
}

var encoders = pool.New(
	func() *pageEncoder {
		gz := gzip.NewWriter(io.Discard)
		return &pageEncoder{gz: gz, w: bufio.NewWriterSize(gz, pageBufferSize)}
	},
	func(e *pageEncoder) {
		e.compact.Reset()
	},
)

// StagedPage is one page persisted as gzip-compressed newline-delimited JSON.
type StagedPage struct {
	Index int
	Path  string
	Rows  int
}

// StagedArtifact is the on-disk result of fetching one table.
type StagedArtifact struct {
	Table odata.TableDescriptor
	Dir   string
	// Pages are sorted by Index.
	Pages []StagedPage
	Rows  int64
	// Schema is the explicit target schema, nil when it must be inferred.
	Schema *schema.Schema
}

// TableName returns the source table name.
func (a *StagedArtifact) TableName() string { return a.Table.Name }

// ExplicitSchema returns the schema derived from the API's type description, if any.
func (a *StagedArtifact) ExplicitSchema() *schema.Schema { return a.Schema }

// PageCount returns the number of staged pages.
func (a *StagedArtifact) PageCount() int { return len(a.Pages) }

// OpenPage opens the i-th page in index order.
func (a *StagedArtifact) OpenPage(i int) (RecordReader, error) {
	r, err := openPage(a.Pages[i].Path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RemovePage deletes the i-th page file.
func (a *StagedArtifact) RemovePage(i int) error {
	if err := os.Remove(a.Pages[i].Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Cleanup removes the staging directory.
func (a *StagedArtifact) Cleanup() error {
	return os.RemoveAll(a.Dir)
}

func (a *StagedArtifact) sortPages() {
	sort.Slice(a.Pages, func(i, j int) bool { return a.Pages[i].Index < a.Pages[j].Index })
}

// RecordReader iterates the raw JSON records of one page.
type RecordReader interface {
	// Next returns the next record or io.EOF.
	Next() ([]byte, error)
	Close() error
}

func pagePath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("page-%05d.ndjson.gz", index))
}

// writePage persists records, one compact JSON document per line.
func writePage(path string, records []gojson.RawMessage) (err error) {
	f, err := os.Create(path) //nolint:gosec // G304: path is built from the staging directory
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc := encoders.Get()
	defer encoders.Put(enc)
	enc.gz.Reset(f)
	enc.w.Reset(enc.gz)

	for _, rec := range records {
		enc.compact.Reset()
		if err := gojson.Compact(&enc.compact, rec); err != nil {
			return fmt.Errorf("invalid record: %w", err)
		}
		enc.compact.WriteByte('\n')
		if _, err := enc.w.Write(enc.compact.Bytes()); err != nil {
			return err
		}
	}
	if err := enc.w.Flush(); err != nil {
		return err
	}
	return enc.gz.Close()
}

type pageReader struct {
	f  *os.File
	gz *gzip.Reader
	br *bufio.Reader
}

func openPage(path string) (*pageReader, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is built from the staging directory
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open page %s: %w", path, err)
	}
	return &pageReader{f: f, gz: gz, br: bufio.NewReaderSize(gz, pageBufferSize)}, nil
}

func (r *pageReader) Next() ([]byte, error) {
	for {
		line, err := r.br.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (r *pageReader) Close() error {
	gzErr := r.gz.Close()
	if err := r.f.Close(); err != nil {
		return err
	}
	return gzErr
}
