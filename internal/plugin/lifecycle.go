// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package plugin

import (
	"maps"
	"path/filepath"
	"slices"
	"sync"

	"github.com/devkit-dev/devkit/internal/plugin/manifest"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
)

// Stage is a position in the trust pipeline. Every stage is a hard gate: a
// candidate only advances one stage at a time.
type Stage int

const (
	StageDiscovered Stage = iota
	StageManifestParsed
	StageManifestStructureValid
	StageIntegrityVerified
	StageInterfaceVerified
	StageLoaded
	StageHooksRegistered
	StageRejected
)

func (s Stage) String() string {
	switch s {
	case StageDiscovered:
		return "discovered"
	case StageManifestParsed:
		return "manifest_parsed"
	case StageManifestStructureValid:
		return "manifest_structure_valid"
	case StageIntegrityVerified:
		return "integrity_verified"
	case StageInterfaceVerified:
		return "interface_verified"
	case StageLoaded:
		return "loaded"
	case StageHooksRegistered:
		return "hooks_registered"
	case StageRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// validTransitions defines allowed stage transitions as an adjacency list.
var validTransitions = map[Stage]map[Stage]bool{
	StageDiscovered: {
		StageManifestParsed: true,
		StageRejected:       true,
	},
	StageManifestParsed: {
		StageManifestStructureValid: true,
		StageRejected:               true,
	},
	StageManifestStructureValid: {
		StageIntegrityVerified: true,
		StageRejected:          true,
	},
	StageIntegrityVerified: {
		StageInterfaceVerified: true,
		StageRejected:          true,
	},
	StageInterfaceVerified: {
		StageLoaded:   true,
		StageRejected: true,
	},
	StageLoaded: {
		StageHooksRegistered: true,
		StageRejected:        true,
	},
	StageHooksRegistered: {},
	StageRejected:        {},
}

// ValidTransition returns true if moving from one stage to another is allowed.
func ValidTransition(from, to Stage) bool {
	allowed, exists := validTransitions[from][to]
	return exists && allowed
}

// Record tracks one plugin candidate through the pipeline.
type Record struct {
	mu sync.RWMutex

	dir        string
	manifest   *manifest.Manifest
	entryPoint string
	runtime    string

	stage      Stage
	failedGate Stage
	reason     string
	err        error

	plugin Plugin
	roles  map[string]string
	hooks  []Hook
}

// NewRecord creates a discovered candidate for the plugin directory dir.
func NewRecord(dir string) *Record {
	return &Record{dir: dir, stage: StageDiscovered}
}

// Name is the manifest name once parsed, otherwise the directory name.
func (r *Record) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.manifest != nil && r.manifest.Name != "" {
		return r.manifest.Name
	}
	return filepath.Base(r.dir)
}

// Dir returns the plugin directory.
func (r *Record) Dir() string {
	return r.dir
}

// Manifest returns the parsed manifest, or nil before ManifestParsed.
func (r *Record) Manifest() *manifest.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manifest
}

// EntryPoint returns the resolved entry point path.
func (r *Record) EntryPoint() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entryPoint
}

// Runtime returns the name of the runtime serving the entry point.
func (r *Record) Runtime() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runtime
}

// Stage returns the current stage.
func (r *Record) Stage() Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stage
}

// Rejected reports whether the candidate was rejected.
func (r *Record) Rejected() bool {
	return r.Stage() == StageRejected
}

// FailedGate returns the stage a rejected candidate failed to reach.
func (r *Record) FailedGate() Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failedGate
}

// Reason returns the stage-tagged rejection reason, or "".
func (r *Record) Reason() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reason
}

// Err returns the coded error behind a rejection.
func (r *Record) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Plugin returns the loaded plugin, or nil before Loaded.
func (r *Record) Plugin() Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plugin
}

// Roles returns a copy of the contributed roles.
func (r *Record) Roles() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.roles)
}

// Hooks returns a copy of the contributed hooks.
func (r *Record) Hooks() []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.hooks)
}

// TransitionTo attempts to move to a new stage. Returns an error if the
// transition is not valid.
func (r *Record) TransitionTo(next Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(next)
}

func (r *Record) transitionLocked(next Stage) error {
	if !ValidTransition(r.stage, next) {
		return devkiterr.Errorf(devkiterr.CodePluginLifecycleTransition,
			"invalid stage transition: %s -> %s", r.stage, next)
	}
	r.stage = next
	return nil
}

// Reject moves the candidate to Rejected. gate is the stage it failed to
// reach. Rejecting a terminal record is an error.
func (r *Record) Reject(gate Stage, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.transitionLocked(StageRejected); err != nil {
		return err
	}
	r.failedGate = gate
	r.err = devkiterr.With(err, devkiterr.FieldStage(gate.String()))
	r.reason = gate.String() + ": " + err.Error()
	return nil
}

func (r *Record) setManifest(m *manifest.Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifest = m
}

func (r *Record) setEntryPoint(path, runtime string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entryPoint = path
	r.runtime = runtime
}

func (r *Record) setLoaded(p Plugin, roles map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugin = p
	r.roles = roles
}

func (r *Record) setHooks(hooks []Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = hooks
}
