// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package wasm_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Binary encoding of the small modules the tests need.

const (
	i32 byte = 0x7f
	i64 byte = 0x7e
)

type wasmFunc struct {
	export  string
	params  []byte
	results []byte
	body    []byte // instructions, without the final end
}

type dataSegment struct {
	offset int32
	bytes  []byte
}

type wasmModule struct {
	funcs        []wasmFunc
	memoryPages  int // 0 means no memory
	exportMemory bool
	data         []dataSegment
	importHost   bool // import env.host: () -> ()
	startFunc    int  // index into funcs, -1 for none
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func wasmName(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(content)))...)
	return append(out, content...)
}

func i32Const(v int32) []byte { return append([]byte{0x41}, sleb(int64(v))...) }

func i64Const(v int64) []byte { return append([]byte{0x42}, sleb(v)...) }

// packed returns i64.const ptr<<32 | len.
func packed(ptr, size uint32) []byte {
	return i64Const(int64(uint64(ptr)<<32 | uint64(size)))
}

// spin loops forever, then satisfies an i32 result for the validator.
func spin() []byte {
	return append([]byte{0x03, 0x40, 0x0c, 0x00, 0x0b}, i32Const(0)...)
}

func (m wasmModule) encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d}
	out = binary.LittleEndian.AppendUint32(out, 1)

	var types [][]byte
	for _, f := range m.funcs {
		types = append(types, append(append([]byte{0x60}, vec(bytesOf(f.params)...)...), vec(bytesOf(f.results)...)...))
	}
	hostType := len(types)
	if m.importHost {
		types = append(types, []byte{0x60, 0x00, 0x00})
	}
	out = append(out, section(1, vec(types...))...)

	offset := 0
	if m.importHost {
		imp := append(append(wasmName("env"), wasmName("host")...), 0x00)
		imp = append(imp, uleb(uint64(hostType))...)
		out = append(out, section(2, vec(imp))...)
		offset = 1
	}

	var fnTypes [][]byte
	for i := range m.funcs {
		fnTypes = append(fnTypes, uleb(uint64(i)))
	}
	out = append(out, section(3, vec(fnTypes...))...)

	if m.memoryPages > 0 {
		out = append(out, section(5, vec(append([]byte{0x00}, uleb(uint64(m.memoryPages))...)))...)
	}

	var exports [][]byte
	for i, f := range m.funcs {
		if f.export == "" {
			continue
		}
		e := append(wasmName(f.export), 0x00)
		exports = append(exports, append(e, uleb(uint64(i+offset))...))
	}
	if m.exportMemory {
		exports = append(exports, append(wasmName("memory"), 0x02, 0x00))
	}
	out = append(out, section(7, vec(exports...))...)

	if m.startFunc >= 0 {
		out = append(out, section(8, uleb(uint64(m.startFunc+offset)))...)
	}

	var codes [][]byte
	for _, f := range m.funcs {
		body := append([]byte{0x00}, f.body...)
		body = append(body, 0x0b)
		codes = append(codes, append(uleb(uint64(len(body))), body...))
	}
	out = append(out, section(10, vec(codes...))...)

	if len(m.data) > 0 {
		var segs [][]byte
		for _, d := range m.data {
			seg := append([]byte{0x00}, i32Const(d.offset)...)
			seg = append(seg, 0x0b)
			seg = append(seg, uleb(uint64(len(d.bytes)))...)
			segs = append(segs, append(seg, d.bytes...))
		}
		out = append(out, section(11, vec(segs...))...)
	}
	return out
}

func bytesOf(types []byte) [][]byte {
	out := make([][]byte, len(types))
	for i, t := range types {
		out[i] = []byte{t}
	}
	return out
}

const (
	rolesAt    = 1024
	hooksAt    = 2048
	validateAt = 3072
	allocAt    = 8192
)

const (
	rolesJSON = `{"docker":"roles/docker"}`
	hooksJSON = `{"post_setup":["on_fail"],"pre_setup":["on_ok"]}`
)

// pluginModule returns a module satisfying the plugin ABI. overrides
// replaces the body of the named exports.
func pluginModule(problems string, overrides map[string][]byte) wasmModule {
	bodies := map[string][]byte{
		"alloc":      i32Const(allocAt),
		"initialize": i32Const(0),
		"get_roles":  packed(rolesAt, uint32(len(rolesJSON))),
		"get_hooks":  packed(hooksAt, uint32(len(hooksJSON))),
		"validate":   packed(validateAt, uint32(len(problems))),
		"on_ok":      i32Const(0),
		"on_fail":    i32Const(1),
	}
	for k, v := range overrides {
		bodies[k] = v
	}

	buffer := []byte{i32, i32}
	return wasmModule{
		funcs: []wasmFunc{
			{export: "alloc", params: []byte{i32}, results: []byte{i32}, body: bodies["alloc"]},
			{export: "initialize", params: buffer, results: []byte{i32}, body: bodies["initialize"]},
			{export: "get_roles", results: []byte{i64}, body: bodies["get_roles"]},
			{export: "get_hooks", results: []byte{i64}, body: bodies["get_hooks"]},
			{export: "validate", results: []byte{i64}, body: bodies["validate"]},
			{export: "on_ok", params: buffer, results: []byte{i32}, body: bodies["on_ok"]},
			{export: "on_fail", params: buffer, results: []byte{i32}, body: bodies["on_fail"]},
		},
		memoryPages:  1,
		exportMemory: true,
		data: []dataSegment{
			{offset: rolesAt, bytes: []byte(rolesJSON)},
			{offset: hooksAt, bytes: []byte(hooksJSON)},
			{offset: validateAt, bytes: []byte(problems)},
		},
		startFunc: -1,
	}
}

func writeModule(t *testing.T, m wasmModule) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin.wasm")
	require.NoError(t, os.WriteFile(path, m.encode(), 0o644))
	return path
}
