// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package wasm

import (
	"fmt"
	"slices"
	"strings"

	"github.com/devkit-dev/devkit/internal/plugin"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Exports beyond the plugin capabilities.
const (
	ExportAlloc  = "alloc"
	ExportMemory = "memory"
)

type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

func (s signature) String() string {
	return fmt.Sprintf("(%s) -> (%s)", typeNames(s.params), typeNames(s.results))
}

func typeNames(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}

var (
	sigBuffer = signature{
		params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
		results: []api.ValueType{api.ValueTypeI32},
	}
	sigPacked = signature{results: []api.ValueType{api.ValueTypeI64}}
)

// requiredExports maps each required function export to its signature.
var requiredExports = map[string]signature{
	ExportAlloc: {
		params:  []api.ValueType{api.ValueTypeI32},
		results: []api.ValueType{api.ValueTypeI32},
	},
	plugin.CapInitialize: sigBuffer,
	plugin.CapGetRoles:   sigPacked,
	plugin.CapGetHooks:   sigPacked,
	plugin.CapValidate:   sigPacked,
}

// checkModule inspects a compiled module: it must import nothing, export
// memory and every required function with the expected signature.
func checkModule(compiled wazero.CompiledModule) error {
	var problems []string
	if n := len(compiled.ImportedFunctions()) + len(compiled.ImportedMemories()); n > 0 {
		problems = append(problems, fmt.Sprintf("module declares %d imports, none are allowed", n))
	}

	exports := compiled.ExportedFunctions()
	var missing []string
	for _, name := range append(slices.Clone(plugin.RequiredCapabilities), ExportAlloc) {
		def, ok := exports[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if want := requiredExports[name]; !matches(def, want) {
			problems = append(problems, fmt.Sprintf("export %s has signature %s, want %s",
				name, signature{def.ParamTypes(), def.ResultTypes()}, want))
		}
	}
	if _, ok := compiled.ExportedMemories()[ExportMemory]; !ok {
		missing = append(missing, ExportMemory)
	}

	if len(missing) > 0 {
		return devkiterr.New(devkiterr.CodePluginInterfaceMissing,
			"missing required exports: "+strings.Join(missing, ", "))
	}
	if len(problems) > 0 {
		return devkiterr.New(devkiterr.CodePluginInterfaceInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func matches(def api.FunctionDefinition, want signature) bool {
	return slices.Equal(def.ParamTypes(), want.params) && slices.Equal(def.ResultTypes(), want.results)
}

// hasStartSection reports whether a binary module declares a start function,
// which would run during instantiation. Sections are walked without decoding
// their contents; malformed input reports false and is left to the compiler.
func hasStartSection(b []byte) bool {
	const (
		headerLen    = 8
		startSection = 8
	)
	if len(b) < headerLen {
		return false
	}
	for i := headerLen; i < len(b); {
		id := b[i]
		size, n := readULEB(b[i+1:])
		if n == 0 {
			return false
		}
		if id == startSection {
			return true
		}
		next := i + 1 + n + int(size)
		if next <= i || next > len(b) {
			return false
		}
		i = next
	}
	return false
}

func readULEB(b []byte) (uint32, int) {
	var v uint32
	for i := 0; i < len(b) && i < 5; i++ {
		v |= uint32(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, 0
}
