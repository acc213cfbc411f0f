package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"felix86/errors"
	"felix86/logging"

	"github.com/BurntSushi/toml"
	"golang.org/x/sys/unix"
)

// Store resolves the on-disk configuration directory and projects Record
// values to and from config.toml, the profiles/ directory, and
// trusted.txt.
type Store struct {
	dir string
}

// ConfigDir resolves $HOME/.config/felix86 (or $SUDO_HOME's equivalent),
// creating both path levels if absent. Consults SUDO_HOME first, then
// HOME; neither being set is a fatal config error.
func ConfigDir() (string, error) {
	home := os.Getenv("SUDO_HOME")
	if home == "" {
		home = os.Getenv("HOME")
	}
	if home == "" {
		return "", errors.ErrConfigDirUnresolvable
	}

	dir := filepath.Join(home, ".config", "felix86")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrConfig, "config_dir")
	}
	return dir, nil
}

// NewStore resolves the config directory and returns a Store bound to it.
func NewStore() (*Store, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Dir returns the resolved config directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) configPath() string { return filepath.Join(s.dir, "config.toml") }

// Initialize writes a defaulted config.toml on first run (chown-ing it to
// SUDO_UID/SUDO_GID if running as root, warning rather than failing if
// that chown cannot be done), loads it, and returns both the live and
// initial Record snapshots. initial is never mutated afterward.
func (s *Store) Initialize(ignoreEnvs bool) (current, initial *Record, err error) {
	path := s.configPath()
	createdNow := false
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		createdNow = true
		if err := Save(path, NewRecord()); err != nil {
			return nil, nil, err
		}
		logging.Default().Info("created configuration file", slog.String("path", path))
	}

	if createdNow && unix.Geteuid() == 0 {
		uidStr := os.Getenv("SUDO_UID")
		gidStr := os.Getenv("SUDO_GID")
		owned := false
		if uidStr != "" && gidStr != "" {
			uid, uidErr := strconv.Atoi(uidStr)
			gid, gidErr := strconv.Atoi(gidStr)
			if uidErr == nil && gidErr == nil && uid != 0 && gid != 0 {
				if chownErr := os.Chown(path, uid, gid); chownErr == nil {
					owned = true
				}
			}
		}
		if !owned {
			logging.Default().Warn("configuration file may be owned by root", slog.String("path", path))
		}
	}

	current, err = Load(path, ignoreEnvs)
	if err != nil {
		return nil, nil, err
	}
	return current, current.Clone(), nil
}

// Load builds a Record from path, applying environment overrides in
// schema order unless ignoreEnvs is set. A required field left
// unresolved is a fatal config error.
func Load(path string, ignoreEnvs bool) (*Record, error) {
	var tree map[string]map[string]any
	if _, err := toml.DecodeFile(path, &tree); err != nil {
		// Matches the original: an unparsable or missing file yields an
		// all-defaults record rather than a hard failure here.
		logging.Default().Warn("failed to parse config file, using defaults", slog.String("path", path), slog.Any("error", err))
		tree = nil
	}

	r := NewRecord()
	for _, f := range Schema {
		loaded := false

		if env := os.Getenv(f.EnvName); env != "" && !ignoreEnvs {
			value, err := parseEnvValue(f.Kind, env)
			if err != nil {
				return nil, errors.WrapWithDetail(err, errors.ErrConfig, "load", fmt.Sprintf("bad value for %s", f.EnvName))
			}
			r.Set(f.Key(), value)
			loaded = true
		} else if group, ok := tree[f.Group]; ok {
			if raw, ok := group[f.Name]; ok {
				value, ok := fromTOMLValue(f.Kind, raw)
				if ok {
					r.Set(f.Key(), value)
					loaded = true
				}
			}
		}

		if !loaded && f.Required {
			return nil, errors.WrapWithDetail(nil, errors.ErrConfig, "load",
				fmt.Sprintf("%s is required but was not set; set it via %s or in group [%s] of %s", f.Name, f.EnvName, f.Group, path))
		}

		r.noteNonDefault(f)
	}
	return r, nil
}

func fromTOMLValue(kind FieldKind, raw any) (any, bool) {
	switch kind {
	case KindBool:
		v, ok := raw.(bool)
		return v, ok
	case KindUint64:
		switch n := raw.(type) {
		case int64:
			return uint64(n), true
		case uint64:
			return n, true
		default:
			return nil, false
		}
	case KindString, KindPath:
		v, ok := raw.(string)
		return v, ok
	default:
		return nil, false
	}
}

// Save writes r to path as TOML, grouped by FieldSpec.Group, with the
// three-line comment header (name (type) / Description / Environment
// variable) spec.md §4.1 requires above every leaf key.
//
// BurntSushi/toml decodes config.toml (see Load above) but has no API for
// per-key leading comments, so the writer side is hand-rolled text
// matching valid TOML syntax instead of going through an Encoder.
func Save(path string, r *Record) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfig, "save")
	}
	defer f.Close()

	var b strings.Builder
	b.WriteString("# Autogenerated TOML configuration file for felix86\n")
	b.WriteString("# You may change any values here, or their respective environment variable\n")
	b.WriteString("# The environment variables override the values here\n")

	currentGroup := ""
	for _, field := range Schema {
		if field.Group != currentGroup {
			currentGroup = field.Group
			fmt.Fprintf(&b, "\n[%s]\n", currentGroup)
		}
		fmt.Fprintf(&b, "# %s (%s)\n", field.Name, field.Kind)
		fmt.Fprintf(&b, "# Description: %s\n", field.Description)
		fmt.Fprintf(&b, "# Environment variable: %s\n", field.EnvName)
		fmt.Fprintf(&b, "%s = %s\n", field.Name, tomlLiteral(field.Kind, r.values[field.Key()]))
	}

	if _, err := f.WriteString(b.String()); err != nil {
		return errors.Wrap(err, errors.ErrConfig, "save")
	}
	return nil
}

func tomlLiteral(kind FieldKind, value any) string {
	switch kind {
	case KindBool:
		return strconv.FormatBool(value.(bool))
	case KindUint64:
		return strconv.FormatUint(value.(uint64), 10)
	default:
		return strconv.Quote(fmt.Sprintf("%v", value))
	}
}

// AddTrustedPath appends path to trusted.txt, idempotently: a path
// already present is a no-op, not a duplicate line. This file is an
// external contract with PathResolver's TrustedFolders input.
func (s *Store) AddTrustedPath(path string) error {
	trustedPath := filepath.Join(s.dir, "trusted.txt")

	if existing, err := os.ReadFile(trustedPath); err == nil {
		for _, line := range strings.Split(string(existing), "\n") {
			if line == path {
				return nil
			}
		}
	}

	f, err := os.OpenFile(trustedPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfig, "add_trusted_path")
	}
	defer f.Close()

	if _, err := f.WriteString(path + "\n"); err != nil {
		return errors.Wrap(err, errors.ErrConfig, "add_trusted_path")
	}
	return nil
}

// TrustedPaths reads every line of trusted.txt.
func (s *Store) TrustedPaths() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "trusted.txt"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfig, "trusted_paths")
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
