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

package codec

import (
	"bytes"
	"testing"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	in := CommandArray{
		Command{[]byte("SET"), []byte("k1"), []byte("v1")},
		Command{[]byte("DEL"), []byte("k1")},
	}

	out, err := Deserialize(Serialize(in))
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(in))
	}
	for i, cmd := range in {
		if len(out[i]) != len(cmd) {
			t.Fatalf("command %d: len = %d, want %d", i, len(out[i]), len(cmd))
		}
		for j, field := range cmd {
			if !bytes.Equal(out[i][j], field) {
				t.Errorf("command %d field %d = %q, want %q", i, j, out[i][j], field)
			}
		}
	}
}

func TestSerializeEmptyFields(t *testing.T) {
	in := CommandArray{Command{[]byte(""), []byte("x")}}
	out, err := Deserialize(Serialize(in))
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !bytes.Equal(out[0][0], []byte("")) || !bytes.Equal(out[0][1], []byte("x")) {
		t.Errorf("round trip with empty field failed: %q", out)
	}
}

func TestDeserializeRejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":             {},
		"zero count array":  []byte("*0\n"),
		"bad prefix":        []byte("#1\n"),
		"zero argc command": []byte("*1\n*0\n"),
		"truncated field":   []byte("*1\n*1\n$5\nabc"),
		"bad integer":       []byte("*x\n"),
		"field overflow":    []byte("*1\n*1\n$100\nshort\n"),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Deserialize(data); err == nil {
				t.Errorf("Deserialize(%q) = nil error, want error", data)
			}
		})
	}
}

func TestSerializeLockedKeysDedupAndOrder(t *testing.T) {
	keys := [][]byte{
		[]byte("zebra"),
		[]byte("apple"),
		[]byte("apple"), // duplicate, must collapse to one occurrence
		[]byte("mango"),
	}

	out, err := DeserializeLockedKeys(SerializeLockedKeys(keys))
	if err != nil {
		t.Fatalf("DeserializeLockedKeys: %v", err)
	}

	want := []string{"apple", "mango", "zebra"}
	if len(out) != len(want) {
		t.Fatalf("len(out) = %d, want %d (%v)", len(out), len(want), out)
	}
	for i, k := range want {
		if out[i] != k {
			t.Errorf("out[%d] = %q, want %q", i, out[i], k)
		}
	}
}

func TestSerializeLockedKeysEmpty(t *testing.T) {
	out, err := DeserializeLockedKeys(SerializeLockedKeys(nil))
	if err != nil {
		t.Fatalf("DeserializeLockedKeys: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no keys, got %v", out)
	}
}

func TestArgvLegacyRoundTrip(t *testing.T) {
	argv := [][]byte{[]byte("RAFT"), []byte("ADDNODE"), []byte("1")}
	out, err := DeserializeArgvLegacy(SerializeArgvLegacy(argv))
	if err != nil {
		t.Fatalf("DeserializeArgvLegacy: %v", err)
	}
	if len(out) != len(argv) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(argv))
	}
	for i, a := range argv {
		if !bytes.Equal(out[i], a) {
			t.Errorf("out[%d] = %q, want %q", i, out[i], a)
		}
	}
}
