package config

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"felix86/errors"
)

// Record is a flat, schema-keyed configuration value. Two process-wide
// Records exist per spec.md §3: "current" (mutable, reflects live
// overrides) and "initial" (an immutable snapshot taken once at startup,
// the authoritative cross-execve payload).
type Record struct {
	values map[string]any

	// environment accumulates the __environment buffer during Load: one
	// "\n<env_name>=<value>" entry per field whose resolved value differs
	// from its schema default. Booleans are "true"/"false", integers are
	// hexadecimal, strings/paths are verbatim — distinct, deliberately,
	// from the execve hex-snapshot encoding below.
	environment strings.Builder
}

// NewRecord returns a Record populated with every schema field's default.
func NewRecord() *Record {
	r := &Record{values: make(map[string]any, len(Schema))}
	for _, f := range Schema {
		r.values[f.Key()] = f.Default
	}
	return r
}

// Clone returns a deep-enough copy (values are all immutable scalars, so a
// shallow map copy suffices) suitable for use as an "initial" snapshot
// that must never be mutated afterward.
func (r *Record) Clone() *Record {
	out := &Record{values: make(map[string]any, len(r.values))}
	for k, v := range r.values {
		out.values[k] = v
	}
	return out
}

func (r *Record) specFor(key string) (FieldSpec, bool) {
	for _, f := range Schema {
		if f.Key() == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// GetBool returns the bool value stored at "group.name".
func (r *Record) GetBool(key string) bool {
	v, _ := r.values[key].(bool)
	return v
}

// GetUint64 returns the uint64 value stored at "group.name".
func (r *Record) GetUint64(key string) uint64 {
	v, _ := r.values[key].(uint64)
	return v
}

// GetString returns the string (or path) value stored at "group.name".
func (r *Record) GetString(key string) string {
	v, _ := r.values[key].(string)
	return v
}

// Set stores value at "group.name" without type checking beyond what the
// caller already guarantees; used by the TOML/env/profile loaders which
// parse by FieldSpec.Kind before calling Set.
func (r *Record) Set(key string, value any) { r.values[key] = value }

// isTruthy mirrors config.cpp's is_truthy: case-insensitive match against
// a fixed set of truthy spellings; anything else, including empty, is false.
func isTruthy(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on", "y", "enable":
		return true
	default:
		return false
	}
}

// getInt mirrors config.cpp's get_int: 0x-prefixed hex, otherwise decimal.
func getInt(s string) (uint64, error) {
	if len(s) > 2 && s[0] == '0' && s[1] == 'x' {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// parseEnvValue parses a raw string (from an environment variable, an
// execve-snapshot entry, or a profile override) according to the field's
// kind, using the env-loader's rules (isTruthy/getInt), not the TOML
// reader's rules.
func parseEnvValue(kind FieldKind, raw string) (any, error) {
	switch kind {
	case KindBool:
		return isTruthy(raw), nil
	case KindUint64:
		return getInt(raw)
	case KindString, KindPath:
		return raw, nil
	default:
		return nil, fmt.Errorf("config: unknown field kind %v", kind)
	}
}

// namify renders a value the way the __environment buffer does: booleans
// as true/false, integers as 0x-prefixed lowercase hex, strings/paths
// verbatim. This is the producer side of the env-loader round trip.
func namify(kind FieldKind, value any) string {
	switch kind {
	case KindBool:
		if value.(bool) {
			return "true"
		}
		return "false"
	case KindUint64:
		return fmt.Sprintf("0x%x", value.(uint64))
	default:
		return fmt.Sprintf("%v", value)
	}
}

// addValue renders a value the way the __FELIX86_CONFIG hex snapshot does:
// booleans as 1/0, integers as decimal, strings/paths verbatim. Kept
// distinct from namify deliberately: the hex snapshot's consumer
// (DecodeExecveSnapshot) re-parses with parseEnvValue, and isTruthy/getInt
// read "1"/"0" and plain decimal digits directly.
func addValue(kind FieldKind, value any) string {
	switch kind {
	case KindBool:
		if value.(bool) {
			return "1"
		}
		return "0"
	case KindUint64:
		return fmt.Sprintf("%d", value.(uint64))
	default:
		return fmt.Sprintf("%v", value)
	}
}

// ProjectEnvironment returns the __environment buffer accumulated during
// Load: one line per field whose value differs from its default, suitable
// for re-exporting into a child process's environment directly (as opposed
// to the hex snapshot, which the child must explicitly decode).
func (r *Record) ProjectEnvironment() string {
	return r.environment.String()
}

func (r *Record) noteNonDefault(f FieldSpec) {
	if r.values[f.Key()] == f.Default {
		return
	}
	r.environment.WriteByte('\n')
	r.environment.WriteString(f.EnvName)
	r.environment.WriteByte('=')
	r.environment.WriteString(namify(f.Kind, r.values[f.Key()]))
}

// EncodeExecveSnapshot produces the __FELIX86_CONFIG payload: one
// env_name=value line per schema field (booleans as 1/0, integers as
// decimal, strings/paths verbatim — the intentional divergence from
// ProjectEnvironment's encoding), hex-encoded as a single string.
func EncodeExecveSnapshot(r *Record) string {
	var b strings.Builder
	for i, f := range Schema {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(f.EnvName)
		b.WriteByte('=')
		b.WriteString(addValue(f.Kind, r.values[f.Key()]))
	}
	return hex.EncodeToString([]byte(b.String()))
}

// DecodeExecveSnapshot parses a __FELIX86_CONFIG payload produced by
// EncodeExecveSnapshot, using the same env-loader rules
// (isTruthy/getInt) as ordinary environment-variable loading. Every
// schema field must be present; a missing entry is fatal, matching the
// original's initializeChild.
func DecodeExecveSnapshot(hexStr string) (*Record, error) {
	if hexStr == "" {
		return nil, errors.ErrConfigSnapshotMalformed
	}
	if len(hexStr)%2 != 0 {
		return nil, errors.ErrConfigSnapshotMalformed
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, errors.WrapWithDetail(err, errors.ErrConfig, "decode_execve_snapshot", "invalid hex")
	}

	entries := make(map[string]string, len(Schema))
	for _, line := range strings.Split(string(raw), "\n") {
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, errors.WrapWithDetail(nil, errors.ErrConfig, "decode_execve_snapshot",
				fmt.Sprintf("malformed entry %q", line))
		}
		entries[line[:idx]] = line[idx+1:]
	}

	r := NewRecord()
	for _, f := range Schema {
		raw, ok := entries[f.EnvName]
		if !ok {
			return nil, errors.WrapWithDetail(nil, errors.ErrConfig, "decode_execve_snapshot",
				fmt.Sprintf("missing entry for %s", f.EnvName))
		}
		value, err := parseEnvValue(f.Kind, raw)
		if err != nil {
			return nil, errors.WrapWithDetail(err, errors.ErrConfig, "decode_execve_snapshot",
				fmt.Sprintf("failed to parse %s", f.EnvName))
		}
		r.Set(f.Key(), value)
	}
	return r, nil
}
