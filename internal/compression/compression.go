/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package compression provides configurable compression for FlyDB.

Compression Overview:
=====================

This module implements configurable compression for:
- WAL entries to reduce disk I/O
- Replication traffic to reduce network bandwidth
- Batch operations for better compression ratios

Supported Algorithms:
=====================

1. LZ4: Fast compression/decompression, moderate ratio
2. Snappy: Very fast, lower ratio, good for real-time
3. Zstd: Best ratio, configurable speed/ratio tradeoff

Batch Compression:
==================

Batching multiple entries before compression improves ratios:
1. Collect entries into a batch
2. Compress the entire batch
3. Store/transmit compressed batch
4. Decompress and split on read
*/
package compression

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm
type Algorithm int

const (
	AlgorithmNone Algorithm = iota
	AlgorithmGzip
	AlgorithmLZ4
	AlgorithmSnappy
	AlgorithmZstd
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmLZ4:
		return "lz4"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseAlgorithm parses a compression algorithm from string
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "none", "":
		return AlgorithmNone, nil
	case "gzip":
		return AlgorithmGzip, nil
	case "lz4":
		return AlgorithmLZ4, nil
	case "snappy":
		return AlgorithmSnappy, nil
	case "zstd":
		return AlgorithmZstd, nil
	default:
		return AlgorithmNone, fmt.Errorf("unknown compression algorithm: %s", s)
	}
}

// Level represents compression level
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 5
	LevelBest    Level = 9
)

// Config holds compression configuration
type Config struct {
	Algorithm        Algorithm `json:"algorithm"`
	Level            Level     `json:"level"`
	MinSize          int       `json:"min_size"`           // Minimum size to compress
	BatchSize        int       `json:"batch_size"`         // Number of entries per batch
	BatchTimeout     int       `json:"batch_timeout_ms"`   // Max wait time for batch (ms)
	DictionaryEnable bool      `json:"dictionary_enable"`  // Use dictionary compression
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Algorithm:        AlgorithmGzip,
		Level:            LevelDefault,
		MinSize:          256,
		BatchSize:        100,
		BatchTimeout:     10,
		DictionaryEnable: false,
	}
}

// Errors
var (
	ErrDataTooSmall     = errors.New("data too small to compress")
	ErrInvalidHeader    = errors.New("invalid compression header")
	ErrUnsupportedAlgo  = errors.New("unsupported compression algorithm")
	ErrDecompressFailed = errors.New("decompression failed")
)

// Compressor provides compression/decompression operations
type Compressor struct {
	config     Config
	gzipPool   sync.Pool
	bufferPool sync.Pool
}

// NewCompressor creates a new compressor
func NewCompressor(config Config) *Compressor {
	return &Compressor{
		config: config,
		gzipPool: sync.Pool{
			New: func() interface{} {
				return gzip.NewWriter(nil)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// Algorithm returns the algorithm this Compressor was configured with.
func (c *Compressor) Algorithm() Algorithm {
	return c.config.Algorithm
}

// Compress compresses data using the configured algorithm. Data
// smaller than config.MinSize is returned unchanged (uncompressed),
// since compression overhead isn't worth it below that threshold.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) < c.config.MinSize {
		return data, nil
	}

	switch c.config.Algorithm {
	case AlgorithmNone:
		return data, nil
	case AlgorithmGzip:
		return c.compressGzip(data)
	case AlgorithmLZ4:
		return c.compressLZ4(data)
	case AlgorithmSnappy:
		return snappy.Encode(nil, data), nil
	case AlgorithmZstd:
		return c.compressZstd(data)
	default:
		return nil, ErrUnsupportedAlgo
	}
}

// Decompress reverses Compress for the given algorithm.
func (c *Compressor) Decompress(data []byte, algo Algorithm) ([]byte, error) {
	switch algo {
	case AlgorithmNone:
		return data, nil
	case AlgorithmGzip:
		return c.decompressGzip(data)
	case AlgorithmLZ4:
		return c.decompressLZ4(data)
	case AlgorithmSnappy:
		return snappy.Decode(nil, data)
	case AlgorithmZstd:
		return c.decompressZstd(data)
	default:
		return nil, ErrUnsupportedAlgo
	}
}

func (c *Compressor) compressGzip(data []byte) ([]byte, error) {
	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	zw, err := gzip.NewWriterLevel(buf, int(clampGzipLevel(c.config.Level)))
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (c *Compressor) decompressGzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	return out, nil
}

func (c *Compressor) compressLZ4(data []byte) ([]byte, error) {
	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	zw := lz4.NewWriter(buf)
	level := lz4.Level5
	switch {
	case c.config.Level <= LevelFastest:
		level = lz4.Fast
	case c.config.Level >= LevelBest:
		level = lz4.Level9
	}
	if err := zw.Apply(lz4.CompressionLevelOption(level)); err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (c *Compressor) decompressLZ4(data []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	return out, nil
}

func (c *Compressor) compressZstd(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(c.config.Level)))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (c *Compressor) decompressZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	return out, nil
}

func clampGzipLevel(l Level) Level {
	if l < gzip.BestSpeed {
		return gzip.BestSpeed
	}
	if l > gzip.BestCompression {
		return gzip.BestCompression
	}
	return l
}

func zstdLevel(l Level) zstd.EncoderLevel {
	switch {
	case l <= LevelFastest:
		return zstd.SpeedFastest
	case l >= LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// BatchCompressor accumulates entries and compresses them together as
// a single framed payload, improving the compression ratio over
// compressing each entry independently.
type BatchCompressor struct {
	compressor *Compressor
	entries    [][]byte
}

// NewBatchCompressor creates a batch compressor using config.
func NewBatchCompressor(config Config) *BatchCompressor {
	return &BatchCompressor{
		compressor: NewCompressor(config),
		entries:    make([][]byte, 0, config.BatchSize),
	}
}

// Add appends an entry to the pending batch.
func (b *BatchCompressor) Add(entry []byte) {
	b.entries = append(b.entries, entry)
}

// Flush frames the pending entries (uint32 count + uint32 length +
// bytes per entry) and compresses the whole frame, clearing the batch.
func (b *BatchCompressor) Flush() ([]byte, error) {
	var buf bytes.Buffer
	var lenbuf [4]byte

	binary.BigEndian.PutUint32(lenbuf[:], uint32(len(b.entries)))
	buf.Write(lenbuf[:])
	for _, e := range b.entries {
		binary.BigEndian.PutUint32(lenbuf[:], uint32(len(e)))
		buf.Write(lenbuf[:])
		buf.Write(e)
	}
	b.entries = b.entries[:0]

	return b.compressor.Compress(buf.Bytes())
}

// DecompressBatch reverses Flush, splitting the decompressed frame
// back into its constituent entries.
func (b *BatchCompressor) DecompressBatch(data []byte, algo Algorithm) ([][]byte, error) {
	raw, err := b.compressor.Decompress(data, algo)
	if err != nil {
		return nil, err
	}

	if len(raw) < 4 {
		return nil, ErrInvalidHeader
	}
	count := binary.BigEndian.Uint32(raw[:4])
	p := raw[4:]

	out := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(p) < 4 {
			return nil, ErrInvalidHeader
		}
		l := binary.BigEndian.Uint32(p[:4])
		p = p[4:]
		if uint64(len(p)) < uint64(l) {
			return nil, ErrInvalidHeader
		}
		entry := make([]byte, l)
		copy(entry, p[:l])
		out = append(out, entry)
		p = p[l:]
	}
	return out, nil
}

