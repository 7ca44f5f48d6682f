// Package poscache stores corrected vehicle poses next to a log bundle and
// answers pose-by-time lookups with a binary search over a fixed-width
// index.
//
// Index file, big-endian:
//
//	header  "IDXP1" | start time ms (int64)                   13 bytes
//	record  delta ms (int32) | data offset (int64) | size (int32)  16 bytes
//
// The data file is a concatenation of nav pose records.
package poscache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/banshee-data/survey.report/internal/nav"
)

const (
	headerSize = 13
	recordSize = 16
)

var indexMagic = []byte("IDXP1")

var (
	// ErrCorruptIndex means the index is missing its signature or does not
	// match its data file. Callers rebuild.
	ErrCorruptIndex = errors.New("corrupt position index")
	// ErrNotLoaded is returned by queries on a closed cache.
	ErrNotLoaded = errors.New("position cache not loaded")
	// ErrNotFound is returned by lookups on an empty cache.
	ErrNotFound = errors.New("no positions in cache")
	// ErrOutOfRange is returned for record numbers outside [0, Count).
	ErrOutOfRange = errors.New("position record out of range")
)

// Paths locates the cache files relative to a bundle directory. Both files
// must live in the same directory.
type Paths struct {
	Index string
	Data  string
}

// DefaultPaths returns the standard cache file locations.
func DefaultPaths() Paths {
	return Paths{
		Index: "mra/positions.index",
		Data:  "mra/positions.cache",
	}
}

func (p Paths) withDefaults() Paths {
	d := DefaultPaths()
	if p.Index == "" {
		p.Index = d.Index
	}
	if p.Data == "" {
		p.Data = d.Data
	}
	return p
}

func (p Paths) resolve(dir string) (index, data string) {
	p = p.withDefaults()
	return filepath.Join(dir, p.Index), filepath.Join(dir, p.Data)
}

// Cache is an open position cache. It holds two file handles until Close.
// Queries may run concurrently with each other but not with Load or Close.
type Cache struct {
	indexPath string
	dataPath  string

	index *os.File
	data  *os.File
	start int64
	count int
}

// Open loads the cache at its default location under dir.
func Open(dir string) (*Cache, error) {
	return OpenPaths(dir, DefaultPaths())
}

// OpenPaths loads the cache files named by p under dir.
func OpenPaths(dir string, p Paths) (*Cache, error) {
	c := &Cache{}
	c.indexPath, c.dataPath = p.resolve(dir)
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load (re)opens the cache files and validates the index header and the
// extent of the last record.
func (c *Cache) Load() error {
	c.Close()

	index, err := os.Open(c.indexPath)
	if err != nil {
		return fmt.Errorf("failed to open position index: %w", err)
	}
	info, err := index.Stat()
	if err != nil {
		index.Close()
		return fmt.Errorf("failed to stat position index: %w", err)
	}
	var header [headerSize]byte
	if _, err := index.ReadAt(header[:], 0); err != nil {
		index.Close()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: short header in %s", ErrCorruptIndex, c.indexPath)
		}
		return fmt.Errorf("failed to read position index: %w", err)
	}
	if !bytes.Equal(header[:len(indexMagic)], indexMagic) {
		index.Close()
		return fmt.Errorf("%w: bad signature in %s", ErrCorruptIndex, c.indexPath)
	}

	data, err := os.Open(c.dataPath)
	if err != nil {
		index.Close()
		return fmt.Errorf("failed to open position data: %w", err)
	}

	c.index, c.data = index, data
	c.start = int64(binary.BigEndian.Uint64(header[len(indexMagic):]))
	c.count = int(max(0, info.Size()-headerSize) / recordSize)

	if c.count > 0 {
		_, off, size, err := c.record(c.count - 1)
		if err == nil {
			var dinfo os.FileInfo
			if dinfo, err = data.Stat(); err == nil && off+int64(size) > dinfo.Size() {
				err = fmt.Errorf("%w: data file %s is truncated", ErrCorruptIndex, c.dataPath)
			}
		}
		if err != nil {
			c.Close()
			return err
		}
	}
	diagf("loaded %s: %d records from %d", c.indexPath, c.count, c.start)
	return nil
}

// Loaded reports whether the cache holds open files.
func (c *Cache) Loaded() bool { return c.index != nil }

// Count is the number of poses in the cache.
func (c *Cache) Count() int { return c.count }

func (c *Cache) record(i int) (delta int32, offset int64, size int32, err error) {
	if c.index == nil {
		return 0, 0, 0, ErrNotLoaded
	}
	if i < 0 || i >= c.count {
		return 0, 0, 0, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, c.count)
	}
	var rec [recordSize]byte
	if _, err := c.index.ReadAt(rec[:], headerSize+int64(i)*recordSize); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read index record %d: %w", i, err)
	}
	be := binary.BigEndian
	return int32(be.Uint32(rec[0:])), int64(be.Uint64(rec[4:])), int32(be.Uint32(rec[12:])), nil
}

// TimeAt returns the timestamp of record i.
func (c *Cache) TimeAt(i int) (int64, error) {
	delta, _, _, err := c.record(i)
	if err != nil {
		return 0, err
	}
	return c.start + int64(delta), nil
}

// StartTime is the timestamp of the first pose.
func (c *Cache) StartTime() (int64, error) {
	if c.index != nil && c.count == 0 {
		return 0, ErrNotFound
	}
	return c.TimeAt(0)
}

// EndTime is the timestamp of the last pose.
func (c *Cache) EndTime() (int64, error) {
	if c.index != nil && c.count == 0 {
		return 0, ErrNotFound
	}
	return c.TimeAt(c.count - 1)
}

// PoseAt decodes record i.
func (c *Cache) PoseAt(i int) (nav.Pose, error) {
	_, off, size, err := c.record(i)
	if err != nil {
		return nav.Pose{}, err
	}
	buf := make([]byte, size)
	if _, err := c.data.ReadAt(buf, off); err != nil {
		return nav.Pose{}, fmt.Errorf("failed to read pose %d: %w", i, err)
	}
	return nav.DecodePose(buf)
}

// FindIndex returns the record whose time equals t, else the first record
// after t, else the last record.
func (c *Cache) FindIndex(t int64) (int, error) {
	if c.index == nil {
		return 0, ErrNotLoaded
	}
	if c.count == 0 {
		return 0, ErrNotFound
	}
	lo, hi := 0, c.count
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		tm, err := c.TimeAt(mid)
		if err != nil {
			return 0, err
		}
		if tm < t {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == c.count {
		lo = c.count - 1
	}
	return lo, nil
}

// Find returns the pose at or just after t, clamped to the last pose.
func (c *Cache) Find(t int64) (nav.Pose, error) {
	i, err := c.FindIndex(t)
	if err != nil {
		return nav.Pose{}, err
	}
	return c.PoseAt(i)
}

// Close releases both file handles. Later queries fail with ErrNotLoaded.
func (c *Cache) Close() error {
	var errs []error
	if c.index != nil {
		errs = append(errs, c.index.Close())
		c.index = nil
	}
	if c.data != nil {
		errs = append(errs, c.data.Close())
		c.data = nil
	}
	c.count = 0
	return errors.Join(errs...)
}
