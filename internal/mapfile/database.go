package mapfile

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// DatabaseOptions configures how a map file is opened
type DatabaseOptions struct {
	// IndexCacheSize is the number of cached index blocks shared by all
	// decoders of the database
	IndexCacheSize int

	// DisableMmap reads blocks with pread instead of mapping the file
	DisableMmap bool
}

// Database is an open map file. It is safe for concurrent use; each
// goroutine decodes through its own Decoder.
type Database struct {
	path   string
	file   *os.File
	data   mmap.MMap
	src    io.ReaderAt
	header *Header
	index  *BlockIndexCache
}

// Open opens the map file at path and parses its header
func Open(path string, opts DatabaseOptions) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open map file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat map file: %w", err)
	}
	size := info.Size()
	if size == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidHeader, path)
	}

	db := &Database{path: path, file: f, src: f}
	if !opts.DisableMmap {
		data, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to mmap map file: %w", err)
		}
		db.data = data
		db.src = bytes.NewReader(data)
	}

	db.header, err = ParseHeader(db.src, size)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	db.index, err = NewBlockIndexCache(db.src, opts.IndexCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the path the database was opened from
func (db *Database) Path() string {
	return db.path
}

// Header returns the parsed file header
func (db *Database) Header() *Header {
	return db.header
}

// IndexCache returns the block index cache shared by the database's decoders
func (db *Database) IndexCache() *BlockIndexCache {
	return db.index
}

// NewDecoder creates a decoder bound to this database
func (db *Database) NewDecoder(opts Options) *Decoder {
	return NewDecoder(db.src, db.header, db.index, opts)
}

// Close unmaps and closes the file
func (db *Database) Close() error {
	var firstErr error
	if db.data != nil {
		if err := db.data.Unmap(); err != nil {
			firstErr = fmt.Errorf("failed to unmap map file: %w", err)
		}
		db.data = nil
	}
	if db.file != nil {
		if err := db.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		db.file = nil
	}
	return firstErr
}
