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
Package codec implements the wire formats used by the replication engine.

Three independent formats are supported:

Command-array format (primary):

	array  := '*' uint '\n' command{N}
	command:= '*' uint '\n' field{M}
	field  := '$' uint '\n' bytes(len) '\n'

This is a text multibulk encoding using '\n' terminators (not '\r\n'),
used both inside Raft log entries (type Normal) and nowhere else on the
wire; it is the format RAFT.APPENDENTRIES entries carry.

Key-lock format:

	'*' num_keys '\n' followed by num_keys NUL-terminated key names

Used for DeleteUnlockKeys entries and built by SerializeLockedKeys.

Argv-list format (legacy): a native-endian size_t argc followed by argc
(size_t length, raw bytes) records. Non-portable across architectures;
kept only for same-process, same-architecture serialization and never
used on the network or in a durable log entry.
*/
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// newLockKeyCollator returns a root-locale collator for ordering
// deduplicated key names in SerializeLockedKeys. The order is
// collation-table driven rather than byte-wise, so it can differ from a
// byte-wise sort even for ASCII keys: letters compare ignoring case
// first, so "a" sorts before "B" although "B" < "a" byte-wise.
// Collators keep per-call scratch state, so a fresh one is built per
// call rather than shared across goroutines.
func newLockKeyCollator() *collate.Collator {
	return collate.New(language.Und)
}

// Command is an ordered list of binary-safe argument strings (argv).
type Command [][]byte

// CommandArray is an ordered list of Commands, the in-memory form of a
// client write batch before it is serialized into a Raft entry.
type CommandArray []Command

// Decode errors. Any malformed prefix, overflowing length, zero
// top-level count, or buffer underflow returns one of these; no
// partial structures are ever handed back to the caller.
var (
	ErrTruncated     = errors.New("codec: truncated input")
	ErrBadPrefix     = errors.New("codec: expected prefix byte not found")
	ErrBadInteger    = errors.New("codec: malformed length integer")
	ErrEmptyArray    = errors.New("codec: zero command-count array")
	ErrEmptyCommand  = errors.New("codec: zero argc command")
	ErrFieldOverflow = errors.New("codec: field length exceeds buffer")
)

// Serialize encodes a CommandArray into the command-array wire format.
func Serialize(a CommandArray) []byte {
	var buf bytes.Buffer
	encodeInt(&buf, '*', len(a))
	for _, cmd := range a {
		encodeInt(&buf, '*', len(cmd))
		for _, field := range cmd {
			encodeInt(&buf, '$', len(field))
			buf.Write(field)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// Deserialize decodes the command-array wire format back into a
// CommandArray. It rejects a zero top-level count and any command with
// zero argc, and never returns a partially built array on error.
func Deserialize(data []byte) (CommandArray, error) {
	p := data
	n, rest, err := decodeUint(p, '*')
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrEmptyArray
	}
	p = rest

	out := make(CommandArray, 0, n)
	for i := uint64(0); i < n; i++ {
		argc, rest, err := decodeUint(p, '*')
		if err != nil {
			return nil, err
		}
		if argc == 0 {
			return nil, ErrEmptyCommand
		}
		p = rest

		cmd := make(Command, 0, argc)
		for j := uint64(0); j < argc; j++ {
			flen, rest, err := decodeUint(p, '$')
			if err != nil {
				return nil, err
			}
			p = rest
			if uint64(len(p)) < flen+1 {
				return nil, ErrFieldOverflow
			}
			field := make([]byte, flen)
			copy(field, p[:flen])
			if p[flen] != '\n' {
				return nil, ErrBadInteger
			}
			p = p[flen+1:]
			cmd = append(cmd, field)
		}
		out = append(out, cmd)
	}
	return out, nil
}

// encodeInt writes prefix + decimal(val) + '\n' to buf.
func encodeInt(buf *bytes.Buffer, prefix byte, val int) {
	buf.WriteByte(prefix)
	fmt.Fprintf(buf, "%d", val)
	buf.WriteByte('\n')
}

// decodeUint reads "<prefix><digits>\n" from the head of p and returns
// the parsed value plus the remaining bytes. The smallest valid
// encoding is three bytes (e.g. "*0\n" or "$0\n").
func decodeUint(p []byte, prefix byte) (uint64, []byte, error) {
	if len(p) < 3 {
		return 0, nil, ErrTruncated
	}
	if p[0] != prefix {
		return 0, nil, ErrBadPrefix
	}
	i := 1
	var val uint64
	for {
		if i >= len(p) {
			return 0, nil, ErrTruncated
		}
		c := p[i]
		if c == '\n' {
			if i == 1 {
				// no digits at all
				return 0, nil, ErrBadInteger
			}
			return val, p[i+1:], nil
		}
		if c < '0' || c > '9' {
			return 0, nil, ErrBadInteger
		}
		val = val*10 + uint64(c-'0')
		i++
	}
}

// SerializeLockedKeys builds the key-lock wire format from a raw argv
// list, deduplicating keys (a set yields one occurrence per key) and
// emitting them in lexicographic order.
func SerializeLockedKeys(keys [][]byte) []byte {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[string(k)] = struct{}{}
	}
	unique := make([]string, 0, len(set))
	for k := range set {
		unique = append(unique, k)
	}
	collator := newLockKeyCollator()
	sort.Slice(unique, func(i, j int) bool {
		return collator.CompareString(unique[i], unique[j]) < 0
	})

	var buf bytes.Buffer
	encodeInt(&buf, '*', len(unique))
	for _, k := range unique {
		buf.WriteString(k)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DeserializeLockedKeys parses the key-lock wire format into a slice
// of key names.
func DeserializeLockedKeys(data []byte) ([]string, error) {
	n, rest, err := decodeUint(data, '*')
	if err != nil {
		return nil, err
	}
	p := rest
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		idx := bytes.IndexByte(p, 0)
		if idx < 0 {
			return nil, ErrTruncated
		}
		out = append(out, string(p[:idx]))
		p = p[idx+1:]
	}
	return out, nil
}

// legacy argv-list format: native-endian size_t argc, then argc
// records of (size_t length, raw bytes). Same-architecture,
// same-process use only.

// SerializeArgvLegacy encodes argv using the native-endian length-
// prefixed format.
func SerializeArgvLegacy(argv [][]byte) []byte {
	var buf bytes.Buffer
	writeNativeUint(&buf, uint64(len(argv)))
	for _, a := range argv {
		writeNativeUint(&buf, uint64(len(a)))
		buf.Write(a)
	}
	return buf.Bytes()
}

// DeserializeArgvLegacy decodes the native-endian length-prefixed
// format produced by SerializeArgvLegacy.
func DeserializeArgvLegacy(data []byte) ([][]byte, error) {
	p := data
	argc, rest, err := readNativeUint(p)
	if err != nil {
		return nil, err
	}
	p = rest

	out := make([][]byte, 0, argc)
	for i := uint64(0); i < argc; i++ {
		l, rest, err := readNativeUint(p)
		if err != nil {
			return nil, err
		}
		p = rest
		if uint64(len(p)) < l {
			return nil, ErrFieldOverflow
		}
		field := make([]byte, l)
		copy(field, p[:l])
		out = append(out, field)
		p = p[l:]
	}
	return out, nil
}

func writeNativeUint(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readNativeUint(p []byte) (uint64, []byte, error) {
	if len(p) < 8 {
		return 0, nil, ErrTruncated
	}
	return binary.NativeEndian.Uint64(p[:8]), p[8:], nil
}
