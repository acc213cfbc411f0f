package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"felix86/errors"
	"felix86/logging"

	"github.com/BurntSushi/toml"
)

// ProfileNames are the four preset profiles always written to
// $config_dir/profiles/ on first run if absent.
var ProfileNames = []string{"safe", "extreme", "paranoid", "zink"}

// profileOverrides gives each preset's non-default field values, grounded
// on the descriptions in spec.md §4.1: safe turns optimizations off and
// strict ordering on; extreme turns aggressive optimizations on; paranoid
// is extreme's opposite plus alignment/always-flags checks; zink enables
// the Vulkan/Wayland thunk path.
func profileOverrides(name string) map[string]any {
	switch name {
	case "safe":
		return map[string]any{
			"optimize.block_chaining":       false,
			"optimize.flag_elision":         false,
			"optimize.inline_dispatch":      false,
			"safety.strict_memory_ordering": true,
		}
	case "extreme":
		return map[string]any{
			"optimize.block_chaining":  true,
			"optimize.flag_elision":    true,
			"optimize.inline_dispatch": true,
		}
	case "paranoid":
		return map[string]any{
			"optimize.block_chaining":       false,
			"optimize.flag_elision":         false,
			"optimize.inline_dispatch":      false,
			"safety.strict_memory_ordering": true,
			"safety.align_checks":           true,
			"safety.always_recompute_flags": true,
		}
	case "zink":
		return map[string]any{
			"thunks.zink":    true,
			"thunks.wayland": true,
		}
	default:
		return nil
	}
}

func (s *Store) profilesDir() string { return filepath.Join(s.dir, "profiles") }

// EnsureProfiles writes any of the four preset profile files that do not
// already exist under profiles/. Each file holds exactly the fields its
// preset names in profileOverrides, including those whose value equals the
// schema default, so that loading the profile overrides them in the base.
func (s *Store) EnsureProfiles() error {
	dir := s.profilesDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrConfig, "ensure_profiles")
	}

	for _, name := range ProfileNames {
		path := filepath.Join(dir, name+".toml")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := saveProfile(path, profileOverrides(name)); err != nil {
			return err
		}
		logging.Default().Info("generated profile", slog.String("profile", name), slog.String("path", path))
	}
	return nil
}

func saveProfile(path string, overrides map[string]any) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfig, "save_profile")
	}
	defer f.Close()

	var b strings.Builder
	b.WriteString("# Autogenerated felix86 profile\n")
	currentGroup := ""
	for _, field := range Schema {
		value, ok := overrides[field.Key()]
		if !ok {
			continue
		}
		if field.Group != currentGroup {
			currentGroup = field.Group
			b.WriteString("\n[" + currentGroup + "]\n")
		}
		b.WriteString(field.Name + " = " + tomlLiteral(field.Kind, value) + "\n")
	}

	_, err = f.WriteString(b.String())
	return err
}

// ResolveProfilePath turns a FELIX86_PROFILE value into a file path: an
// absolute path is used as-is, otherwise it names a lowercased file under
// profiles/.
func (s *Store) ResolveProfilePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.profilesDir(), strings.ToLower(name)+".toml")
}

// LoadProfile parses a profile file and overlays its present fields onto
// base, returning a new Record. Fields the profile does not mention keep
// base's value.
func LoadProfile(base *Record, path string) (*Record, error) {
	var tree map[string]map[string]any
	if _, err := toml.DecodeFile(path, &tree); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfig, "load_profile")
	}

	out := base.Clone()
	for _, f := range Schema {
		group, ok := tree[f.Group]
		if !ok {
			continue
		}
		raw, ok := group[f.Name]
		if !ok {
			continue
		}
		value, ok := fromTOMLValue(f.Kind, raw)
		if ok {
			out.Set(f.Key(), value)
		}
	}
	return out, nil
}
