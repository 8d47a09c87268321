package mapfile

import (
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// IndexEntriesPerBlock is the number of index entries read and cached together
	IndexEntriesPerBlock = 128

	// DefaultIndexCacheSize is the default number of cached index blocks
	DefaultIndexCacheSize = 64

	indexBlockSize = IndexEntriesPerBlock * BytesPerIndexEntry

	// Index entry layout: 39 bits of block offset, 1 bit water flag
	indexOffsetMask = 0x7FFFFFFFFF
	indexWaterMask  = 0x8000000000
)

// IndexCache returns the packed index entry of a block
type IndexCache interface {
	IndexEntry(sub *SubFileParameter, blockNumber int64) (int64, error)
}

// BlockOffset extracts the block offset of an index entry
func BlockOffset(entry int64) int64 {
	return entry & indexOffsetMask
}

// IsWater reports whether the water flag of an index entry is set
func IsWater(entry int64) bool {
	return entry&indexWaterMask != 0
}

type indexCacheKey struct {
	start int64
	block int64
}

// BlockIndexCache reads the block index in chunks of IndexEntriesPerBlock
// entries and keeps the most recently used chunks in memory. It is safe for
// concurrent use.
type BlockIndexCache struct {
	src   io.ReaderAt
	cache *lru.Cache[indexCacheKey, []byte]
}

// NewBlockIndexCache creates a cache holding up to size index blocks of src
func NewBlockIndexCache(src io.ReaderAt, size int) (*BlockIndexCache, error) {
	if size <= 0 {
		size = DefaultIndexCacheSize
	}
	cache, err := lru.New[indexCacheKey, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create index cache: %w", err)
	}
	return &BlockIndexCache{src: src, cache: cache}, nil
}

// IndexEntry returns the 40-bit index entry of blockNumber in sub
func (c *BlockIndexCache) IndexEntry(sub *SubFileParameter, blockNumber int64) (int64, error) {
	if blockNumber < 0 || blockNumber >= sub.NumberOfBlocks {
		return 0, fmt.Errorf("%w: block number %d out of range [0, %d)", ErrIndexCorruption, blockNumber, sub.NumberOfBlocks)
	}

	indexBlock := blockNumber / IndexEntriesPerBlock
	key := indexCacheKey{start: sub.StartAddress, block: indexBlock}

	data, ok := c.cache.Get(key)
	if !ok {
		var err error
		data, err = c.readIndexBlock(sub, indexBlock)
		if err != nil {
			return 0, err
		}
		c.cache.Add(key, data)
	}

	pos := int(blockNumber%IndexEntriesPerBlock) * BytesPerIndexEntry
	if pos+BytesPerIndexEntry > len(data) {
		return 0, fmt.Errorf("%w: index entry %d beyond index block of %d bytes", ErrIndexCorruption, blockNumber, len(data))
	}
	return decodeIndexEntry(data[pos : pos+BytesPerIndexEntry]), nil
}

// Len returns the number of cached index blocks
func (c *BlockIndexCache) Len() int {
	return c.cache.Len()
}

// Purge drops all cached index blocks
func (c *BlockIndexCache) Purge() {
	c.cache.Purge()
}

func (c *BlockIndexCache) readIndexBlock(sub *SubFileParameter, indexBlock int64) ([]byte, error) {
	start := sub.IndexStartAddress + indexBlock*indexBlockSize
	size := int64(indexBlockSize)
	if remaining := sub.IndexEndAddress - start; remaining < size {
		size = remaining
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: index block %d starts beyond index end", ErrIndexCorruption, indexBlock)
	}

	data := make([]byte, size)
	n, err := c.src.ReadAt(data, start)
	if int64(n) != size {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: index block %d: %v", ErrIOFailure, indexBlock, err)
	}
	return data, nil
}

func decodeIndexEntry(b []byte) int64 {
	return int64(b[0])<<32 | int64(b[1])<<24 | int64(b[2])<<16 | int64(b[3])<<8 | int64(b[4])
}
