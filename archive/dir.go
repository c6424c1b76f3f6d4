package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/kurakura967/go-elasticsearch-archiver/internal/stream"
	"github.com/kurakura967/go-elasticsearch-archiver/record"
)

// An archive directory holds index records in MappingsFile and document
// records in DataFile, gzipped unless written without compression.
const (
	MappingsFile = "mappings.json"
	DataFile     = "data.json"

	gzipExt = ".gz"
)

// ErrNoArchiveFiles is returned when a storage holds no archive files.
var ErrNoArchiveFiles = errors.New("no archive files found")

// DataFileName is the name DataFile is written under for the given options.
func DataFileName(opts WriteOptions) string {
	if opts.Compression.Compressed() {
		return DataFile + gzipExt
	}
	return DataFile
}

// otherDataFileName is the data file a previous run with the opposite
// compression would have left.
func otherDataFileName(opts WriteOptions) string {
	if opts.Compression.Compressed() {
		return DataFile
	}
	return DataFile + gzipExt
}

type dirFile struct {
	name string
	wc   io.WriteCloser
	w    *Writer
}

func createDirFile(ctx context.Context, storage Storage, name string, opts WriteOptions) (*dirFile, error) {
	wc, err := storage.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(wc, opts)
	if err != nil {
		wc.Close()
		return nil, err
	}
	return &dirFile{name: name, wc: wc, w: w}, nil
}

func (f *dirFile) close() error {
	if err := f.w.Close(); err != nil {
		f.abort(err)
		return fmt.Errorf("finishing %s: %w", f.name, err)
	}
	if err := f.wc.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", f.name, err)
	}
	return nil
}

func (f *dirFile) abort(cause error) {
	if a, ok := f.wc.(Aborter); ok {
		a.CloseWithError(cause)
		return
	}
	f.wc.Close()
}

// DirWriter splits a record stream into the files of an archive directory.
type DirWriter struct {
	storage  Storage
	mappings *dirFile
	data     *dirFile
	stale    string
}

// NewDirWriter creates both archive files up front. The mappings file is
// never compressed so it stays readable by hand.
func NewDirWriter(ctx context.Context, storage Storage, opts WriteOptions) (*DirWriter, error) {
	mappings, err := createDirFile(ctx, storage, MappingsFile, WriteOptions{Compression: NoCompression})
	if err != nil {
		return nil, err
	}
	data, err := createDirFile(ctx, storage, DataFileName(opts), opts)
	if err != nil {
		mappings.abort(err)
		return nil, err
	}
	return &DirWriter{storage: storage, mappings: mappings, data: data, stale: otherDataFileName(opts)}, nil
}

func (d *DirWriter) Write(r record.Record) error {
	f := d.data
	if r.Kind() == record.KindIndex {
		f = d.mappings
	}
	if err := f.w.Write(r); err != nil {
		return fmt.Errorf("writing %s: %w", f.name, err)
	}
	return nil
}

// Close commits both files and removes a data file an earlier run wrote
// with the other compression, so the directory holds one archive only.
func (d *DirWriter) Close(ctx context.Context) error {
	mErr := d.mappings.close()
	if mErr != nil {
		d.data.abort(mErr)
		return mErr
	}
	if err := d.data.close(); err != nil {
		return err
	}
	if err := d.storage.Remove(ctx, d.stale); err != nil {
		return fmt.Errorf("removing stale %s: %w", d.stale, err)
	}
	return nil
}

// Abort discards both files where the storage supports it and closes them.
func (d *DirWriter) Abort(cause error) {
	d.mappings.abort(cause)
	d.data.abort(cause)
}

// IndexRecords and DocumentRecords report how many records went to each file.
func (d *DirWriter) IndexRecords() int    { return d.mappings.w.Records() }
func (d *DirWriter) DocumentRecords() int { return d.data.w.Records() }

// WriteDir writes every record of in to an archive directory in storage.
// If ctx is done or a write fails before in is closed the files are
// aborted, never committed.
func WriteDir(ctx context.Context, storage Storage, in <-chan record.Record, opts WriteOptions) error {
	d, err := NewDirWriter(ctx, storage, opts)
	if err != nil {
		return err
	}

	for {
		r, ok, err := stream.Receive(ctx, in)
		if err != nil {
			d.Abort(err)
			return err
		}
		if !ok {
			break
		}
		if err := d.Write(r); err != nil {
			d.Abort(err)
			return err
		}
	}

	return d.Close(ctx)
}

// Files returns the archive files among names in read order: the mappings
// file first, then every other .json or .json.gz file by name.
func Files(names []string) []string {
	var mappings, rest []string
	for _, name := range names {
		base := strings.TrimSuffix(name, gzipExt)
		if !strings.HasSuffix(base, ".json") {
			continue
		}
		if base == MappingsFile {
			mappings = append(mappings, name)
			continue
		}
		rest = append(rest, name)
	}
	sort.Strings(mappings)
	sort.Strings(rest)
	return append(mappings, rest...)
}

// ReadDir reads every archive file of storage in order into out and closes
// it. Errors keep their *record.ParseError, wrapped with the file name.
func ReadDir(ctx context.Context, storage Storage, out chan<- record.Record) error {
	names, err := storage.List(ctx)
	if err != nil {
		return err
	}

	files := Files(names)
	if len(files) == 0 {
		return ErrNoArchiveFiles
	}
	if contains(files, DataFile) && contains(files, DataFile+gzipExt) {
		return &record.ParseError{Err: fmt.Errorf("both %s and %s%s are present", DataFile, DataFile, gzipExt)}
	}

	for _, name := range files {
		if err := readFile(ctx, storage, name, out); err != nil {
			return err
		}
	}

	close(out)
	return nil
}

func readFile(ctx context.Context, storage Storage, name string, out chan<- record.Record) error {
	rc, err := storage.Open(ctx, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := readInto(ctx, rc, out); err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
