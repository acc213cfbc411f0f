package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRecordMatchesSchema(t *testing.T) {
	r := NewRecord()
	for _, f := range Schema {
		if r.values[f.Key()] != f.Default {
			t.Fatalf("field %s: got %v, want default %v", f.Key(), r.values[f.Key()], f.Default)
		}
	}
}

func TestExecveSnapshotRoundTrip(t *testing.T) {
	r := NewRecord()
	r.Set("general.quiet", true)
	r.Set("general.rootfs", "/tmp/rootfs")

	hexStr := EncodeExecveSnapshot(r)
	decoded, err := DecodeExecveSnapshot(hexStr)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if !decoded.GetBool("general.quiet") {
		t.Fatal("expected quiet=true to survive the round trip")
	}
	if decoded.GetString("general.rootfs") != "/tmp/rootfs" {
		t.Fatalf("rootfs mismatch: got %q", decoded.GetString("general.rootfs"))
	}

	// Every other field keeps its default.
	for _, f := range Schema {
		if f.Key() == "general.quiet" || f.Key() == "general.rootfs" {
			continue
		}
		if decoded.values[f.Key()] != f.Default {
			t.Errorf("field %s unexpectedly changed: got %v, want default %v", f.Key(), decoded.values[f.Key()], f.Default)
		}
	}
}

func TestDecodeExecveSnapshotRejectsOddLengthHex(t *testing.T) {
	if _, err := DecodeExecveSnapshot("abc"); err == nil {
		t.Fatal("expected error for odd-length hex string")
	}
}

func TestDecodeExecveSnapshotRejectsEmpty(t *testing.T) {
	if _, err := DecodeExecveSnapshot(""); err == nil {
		t.Fatal("expected error for empty hex string")
	}
}

func TestIsTruthy(t *testing.T) {
	truthy := []string{"true", "TRUE", "1", "yes", "on", "y", "enable"}
	for _, s := range truthy {
		if !isTruthy(s) {
			t.Errorf("expected %q to be truthy", s)
		}
	}
	falsy := []string{"false", "0", "no", "", "2", "enabled"}
	for _, s := range falsy {
		if isTruthy(s) {
			t.Errorf("expected %q to be falsy", s)
		}
	}
}

func TestGetIntAcceptsHexAndDecimal(t *testing.T) {
	v, err := getInt("0x1A")
	if err != nil || v != 0x1a {
		t.Fatalf("hex parse failed: %v %v", v, err)
	}
	v, err = getInt("42")
	if err != nil || v != 42 {
		t.Fatalf("decimal parse failed: %v %v", v, err)
	}
}

func TestLoadRequiredFieldMissingFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[general]\nquiet = true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, true); err == nil {
		t.Fatal("expected an error because general.rootfs (required) is unset")
	}
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[general]\nrootfs = \"/from/toml\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FELIX86_ROOTFS", "/from/env")

	r, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := r.GetString("general.rootfs"); got != "/from/env" {
		t.Fatalf("expected env override to win, got %q", got)
	}
}

func TestLoadIgnoreEnvsUsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[general]\nrootfs = \"/from/toml\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FELIX86_ROOTFS", "/from/env")

	r, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := r.GetString("general.rootfs"); got != "/from/toml" {
		t.Fatalf("expected TOML value when ignoring envs, got %q", got)
	}
}

func TestSaveThenLoadRoundTripsNonDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	r := NewRecord()
	r.Set("general.rootfs", "/opt/rootfs")
	r.Set("general.quiet", true)

	if err := Save(path, r); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.GetString("general.rootfs") != "/opt/rootfs" {
		t.Fatalf("rootfs did not round-trip: %q", loaded.GetString("general.rootfs"))
	}
	if !loaded.GetBool("general.quiet") {
		t.Fatal("quiet did not round-trip")
	}
}

func TestAddTrustedPathIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := &Store{dir: dir}

	if err := s.AddTrustedPath("/opt/trusted"); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if err := s.AddTrustedPath("/opt/trusted"); err != nil {
		t.Fatalf("second add failed: %v", err)
	}

	paths, err := s.TrustedPaths()
	if err != nil {
		t.Fatalf("TrustedPaths failed: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected exactly one trusted path after duplicate add, got %v", paths)
	}
}

func TestEnsureProfilesWritesAllFour(t *testing.T) {
	dir := t.TempDir()
	s := &Store{dir: dir}

	if err := s.EnsureProfiles(); err != nil {
		t.Fatalf("EnsureProfiles failed: %v", err)
	}

	for _, name := range ProfileNames {
		path := filepath.Join(dir, "profiles", name+".toml")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected profile file %s to exist: %v", path, err)
		}
	}
}

func TestLoadProfileOverlaysBase(t *testing.T) {
	dir := t.TempDir()
	s := &Store{dir: dir}
	if err := s.EnsureProfiles(); err != nil {
		t.Fatalf("EnsureProfiles failed: %v", err)
	}

	base := NewRecord()
	overlaid, err := LoadProfile(base, s.ResolveProfilePath("extreme"))
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if !overlaid.GetBool("optimize.block_chaining") {
		t.Fatal("expected extreme profile to enable block_chaining")
	}
}

func TestResolveProfilePathAbsolute(t *testing.T) {
	s := &Store{dir: "/whatever"}
	if got := s.ResolveProfilePath("/abs/path.toml"); got != "/abs/path.toml" {
		t.Fatalf("expected absolute path passthrough, got %q", got)
	}
}
