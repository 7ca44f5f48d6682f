package poscache

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/banshee-data/survey.report/internal/fsutil"
	"github.com/banshee-data/survey.report/internal/logsource"
	"github.com/banshee-data/survey.report/internal/nav"
	"github.com/banshee-data/survey.report/internal/nav/correction"
)

// DefaultFlushEvery is the number of records written between flushes.
const DefaultFlushEvery = 10

// DefaultLockTimeout bounds the wait for another builder of the same bundle.
const DefaultLockTimeout = 2 * time.Minute

// ErrDeltaOverflow is returned when a pose is too far from the first pose
// for a 32-bit millisecond delta.
var ErrDeltaOverflow = errors.New("pose time delta overflows index record")

// Options tune Build and LoadOrBuild. The zero value is usable.
type Options struct {
	Paths Paths
	// FlushEvery defaults to DefaultFlushEvery.
	FlushEvery int
	// Progress receives a message at every flush. Optional.
	Progress func(string)
	// Checkpoint is called at every flush; a non-nil error aborts the build.
	Checkpoint func() error
	// Lock tunes the directory lock. Timeout defaults to DefaultLockTimeout.
	// The lock is touched at every flush, so FlushEvery records must be
	// written well within Lock.StaleAfter.
	Lock fsutil.LockOptions
	// Correction options for LoadOrBuild's correction run.
	Correction []correction.Option
}

func (o Options) withDefaults() Options {
	o.Paths = o.Paths.withDefaults()
	if o.FlushEvery <= 0 {
		o.FlushEvery = DefaultFlushEvery
	}
	if o.Lock.Timeout <= 0 {
		o.Lock.Timeout = DefaultLockTimeout
	}
	return o
}

func (o Options) progress(format string, args ...any) {
	if o.Progress != nil {
		o.Progress(fmt.Sprintf(format, args...))
	}
}

// Build writes poses to the cache files under dir, replacing any previous
// cache. It holds the cache directory lock for the whole build. Poses must
// be in time order; poses older than their predecessor are dropped.
func Build(dir string, poses iter.Seq[nav.Pose], opts Options) error {
	opts = opts.withDefaults()
	indexPath, dataPath := opts.Paths.resolve(dir)

	lock, err := fsutil.LockDir(filepath.Dir(indexPath), opts.Lock)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	return build(lock, indexPath, dataPath, poses, opts)
}

// build writes the cache while holding lock, touching it at every flush so
// a long build is never broken as stale.
func build(lock *fsutil.DirLock, indexPath, dataPath string, poses iter.Seq[nav.Pose], opts Options) (err error) {
	cacheDir := filepath.Dir(indexPath)
	dataTmp, err := os.CreateTemp(cacheDir, "."+filepath.Base(dataPath)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create position data: %w", err)
	}
	indexTmp, err := os.CreateTemp(cacheDir, "."+filepath.Base(indexPath)+".tmp*")
	if err != nil {
		dataTmp.Close()
		os.Remove(dataTmp.Name())
		return fmt.Errorf("failed to create position index: %w", err)
	}
	defer func() {
		dataTmp.Close()
		indexTmp.Close()
		if err != nil {
			os.Remove(dataTmp.Name())
			os.Remove(indexTmp.Name())
		}
	}()

	dw := bufio.NewWriter(dataTmp)
	iw := bufio.NewWriter(indexTmp)
	flush := func() error {
		if err := dw.Flush(); err != nil {
			return fmt.Errorf("failed to write position data: %w", err)
		}
		if err := iw.Flush(); err != nil {
			return fmt.Errorf("failed to write position index: %w", err)
		}
		return nil
	}

	be := binary.BigEndian
	var (
		start, last int64
		offset      int64
		n, dropped  int
		rec         [recordSize]byte
		buf         []byte
	)
	writeHeader := func(start int64) {
		iw.Write(indexMagic)
		var ts [8]byte
		be.PutUint64(ts[:], uint64(start))
		iw.Write(ts[:])
	}

	began := time.Now()
	for p := range poses {
		if n == 0 {
			start = p.TimestampMillis
			writeHeader(start)
		} else if p.TimestampMillis < last {
			tracef("dropping pose at %d before %d", p.TimestampMillis, last)
			dropped++
			continue
		}
		delta := p.TimestampMillis - start
		if delta > math.MaxInt32 || delta < math.MinInt32 {
			return fmt.Errorf("%w: %d ms after %d", ErrDeltaOverflow, delta, start)
		}

		buf = nav.AppendPose(buf[:0], p)
		dw.Write(buf)
		be.PutUint32(rec[0:], uint32(int32(delta)))
		be.PutUint64(rec[4:], uint64(offset))
		be.PutUint32(rec[12:], uint32(len(buf)))
		iw.Write(rec[:])

		offset += int64(len(buf))
		last = p.TimestampMillis
		n++

		if n%opts.FlushEvery == 0 {
			if err := flush(); err != nil {
				return err
			}
			opts.progress("Position cache: %d poses written", n)
			if err := lock.Touch(); err != nil {
				return fmt.Errorf("position cache build stopped after %d poses: %w", n, err)
			}
			if opts.Checkpoint != nil {
				if err := opts.Checkpoint(); err != nil {
					return fmt.Errorf("position cache build aborted after %d poses: %w", n, err)
				}
			}
		}
	}
	if n == 0 {
		writeHeader(0)
	}
	if err := flush(); err != nil {
		return err
	}
	if err := dataTmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync position data: %w", err)
	}
	if err := indexTmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync position index: %w", err)
	}

	if err := lock.Touch(); err != nil {
		return fmt.Errorf("position cache not installed: %w", err)
	}

	// Data first: a readable index always has its data in place.
	if err := os.Rename(dataTmp.Name(), dataPath); err != nil {
		return fmt.Errorf("failed to install position data: %w", err)
	}
	if err := os.Rename(indexTmp.Name(), indexPath); err != nil {
		return fmt.Errorf("failed to install position index: %w", err)
	}

	if dropped > 0 {
		opsf("dropped %d out-of-order poses building %s", dropped, indexPath)
	}
	opts.progress("Position cache: done, %d poses", n)
	diagf("built %s: %d poses in %v", indexPath, n, time.Since(began))
	return nil
}

// LoadOrBuild opens the position cache of the bundle at dir. When the cache
// is missing or unreadable it is rebuilt from the bundle's corrected
// navigation states. A failed rebuild is returned.
func LoadOrBuild(dir string, source logsource.Bundle, opts Options) (*Cache, error) {
	opts = opts.withDefaults()
	c, err := OpenPaths(dir, opts.Paths)
	if err == nil {
		return c, nil
	}
	opsf("position cache for %s unavailable, rebuilding: %v", dir, err)

	indexPath, dataPath := opts.Paths.resolve(dir)
	lock, err := fsutil.LockDir(filepath.Dir(indexPath), opts.Lock)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	// Another worker may have finished the build while we waited.
	if c, err := OpenPaths(dir, opts.Paths); err == nil {
		diagf("position cache for %s built concurrently", dir)
		return c, nil
	}

	poses, err := correction.FromBundle(source, opts.Correction...)
	if err != nil {
		return nil, fmt.Errorf("failed to correct positions: %w", err)
	}
	if err := build(lock, indexPath, dataPath, slices.Values(poses), opts); err != nil {
		return nil, err
	}
	return OpenPaths(dir, opts.Paths)
}
