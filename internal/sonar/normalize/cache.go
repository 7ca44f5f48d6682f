package normalize

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/banshee-data/survey.report/internal/fsutil"
)

// HistogramCacheFile is the histogram cache path relative to a bundle.
const HistogramCacheFile = "mra/histogram.cache"

// histogramMagic prefixes the cache. Change it whenever the layout changes.
var histogramMagic = []byte("HSTG1")

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// codecs returns shared zstd codecs; EncodeAll and DecodeAll are safe for
// concurrent use.
func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// EncodeHistogram serialises h.
//
// Layout: "HSTG1" then a zstd frame holding, big-endian,
// count u32, count × {subsystem i64, average f32, n u32, n × f32},
// then xxhash64 of everything before it.
func EncodeHistogram(h *HistogramProfile) ([]byte, error) {
	var body bytes.Buffer
	be := binary.BigEndian
	subs := h.Subsystems()
	binary.Write(&body, be, uint32(len(subs)))
	for _, s := range subs {
		p := h.Profiles[s]
		binary.Write(&body, be, s)
		binary.Write(&body, be, math.Float32bits(h.Averages[s]))
		binary.Write(&body, be, uint32(len(p)))
		for _, v := range p {
			binary.Write(&body, be, math.Float32bits(v))
		}
	}
	binary.Write(&body, be, xxhash.Sum64(body.Bytes()))

	enc, _, err := codecs()
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	out := append([]byte(nil), histogramMagic...)
	return enc.EncodeAll(body.Bytes(), out), nil
}

// DecodeHistogram parses data written by EncodeHistogram.
func DecodeHistogram(data []byte) (*HistogramProfile, error) {
	if !bytes.HasPrefix(data, histogramMagic) {
		return nil, errors.New("histogram cache: bad magic")
	}
	_, dec, err := codecs()
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	body, err := dec.DecodeAll(data[len(histogramMagic):], nil)
	if err != nil {
		return nil, fmt.Errorf("histogram cache: %w", err)
	}
	if len(body) < 12 {
		return nil, errors.New("histogram cache: short body")
	}
	be := binary.BigEndian
	payload, sum := body[:len(body)-8], be.Uint64(body[len(body)-8:])
	if xxhash.Sum64(payload) != sum {
		return nil, errors.New("histogram cache: checksum mismatch")
	}

	r := bytes.NewReader(payload)
	var count uint32
	if err := binary.Read(r, be, &count); err != nil {
		return nil, fmt.Errorf("histogram cache: %w", err)
	}
	h := NewHistogramProfile()
	for i := uint32(0); i < count; i++ {
		var (
			sub     int64
			avgBits uint32
			n       uint32
		)
		if err := binary.Read(r, be, &sub); err != nil {
			return nil, fmt.Errorf("histogram cache: %w", err)
		}
		if err := binary.Read(r, be, &avgBits); err != nil {
			return nil, fmt.Errorf("histogram cache: %w", err)
		}
		if err := binary.Read(r, be, &n); err != nil {
			return nil, fmt.Errorf("histogram cache: %w", err)
		}
		if int64(n)*4 > int64(r.Len()) {
			return nil, errors.New("histogram cache: profile length exceeds data")
		}
		raw := make([]uint32, n)
		if err := binary.Read(r, be, raw); err != nil {
			return nil, fmt.Errorf("histogram cache: %w", err)
		}
		p := make([]float32, n)
		for j, b := range raw {
			p[j] = math.Float32frombits(b)
		}
		h.Profiles[sub] = p
		h.Averages[sub] = math.Float32frombits(avgBits)
	}
	return h, nil
}

// LoadOrBuildHistogram returns the cached profile for the bundle at dir,
// building and caching it when the cache is missing, unreadable or empty.
// A failure to write the cache is logged, not returned.
func LoadOrBuildHistogram(fsys fsutil.FileSystem, dir string, b *HistogramBuilder) (*HistogramProfile, error) {
	path := filepath.Join(dir, HistogramCacheFile)
	if data, err := fsys.ReadFile(path); err == nil {
		h, err := DecodeHistogram(data)
		switch {
		case err != nil:
			opsf("rebuilding histogram cache %s: %v", path, err)
		case !h.Valid():
			opsf("rebuilding empty histogram cache %s", path)
		default:
			diagf("loaded histogram cache %s (%d subsystems)", path, len(h.Averages))
			return h, nil
		}
	}

	h, err := b.Build()
	if err != nil {
		return nil, err
	}
	data, err := EncodeHistogram(h)
	if err != nil {
		opsf("failed to encode histogram cache: %v", err)
		return h, nil
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		opsf("failed to create %s: %v", filepath.Dir(path), err)
		return h, nil
	}
	if err := fsys.WriteFile(path, data, 0644); err != nil {
		opsf("failed to write histogram cache: %v", err)
	}
	return h, nil
}
