// Package config implements felix86's ConfigSchema and ConfigStore: a
// schema-driven configuration engine that projects one in-memory record to
// on-disk TOML, environment variables, profile files, and a hex-encoded
// snapshot carried across execve.
package config

// FieldKind is the semantic type of a config field. The original design
// expands each field through preprocessor macros into a struct member plus
// one reader/writer per projection (TOML, env, hex). Here each projection
// is a single loop over Schema instead.
type FieldKind int

const (
	KindBool FieldKind = iota
	KindUint64
	KindString
	KindPath
)

func (k FieldKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindUint64:
		return "u64"
	case KindString:
		return "string"
	case KindPath:
		return "path"
	default:
		return "unknown"
	}
}

// FieldSpec is one row of the schema: (group, name, type, default, env_name,
// description, required).
type FieldSpec struct {
	Group       string
	Name        string
	Kind        FieldKind
	Default     any
	EnvName     string
	Description string
	Required    bool
}

// Key returns the "group.name" key used to index Record.values.
func (f FieldSpec) Key() string { return f.Group + "." + f.Name }

// Schema is the single source of truth enumerating every tunable felix86
// exposes. Field content is grounded on the shape of
// original_source/src/felix86/common/config.cpp's config.inc-driven
// X-macro list and the four profile descriptions in spec.md §4.1.
var Schema = []FieldSpec{
	{
		Group: "general", Name: "rootfs", Kind: KindPath, Default: "",
		EnvName: "FELIX86_ROOTFS", Required: true,
		Description: "Path to the rootfs directory containing the guest userland",
	},
	{
		Group: "general", Name: "quiet", Kind: KindBool, Default: false,
		EnvName:     "FELIX86_QUIET",
		Description: "Suppress informational log output",
	},
	{
		Group: "general", Name: "verbose", Kind: KindBool, Default: false,
		EnvName:     "FELIX86_VERBOSE",
		Description: "Enable verbose log output",
	},
	{
		Group: "general", Name: "strace", Kind: KindBool, Default: false,
		EnvName:     "FELIX86_STRACE",
		Description: "Log every intercepted guest syscall before issuing it",
	},
	{
		Group: "optimize", Name: "block_chaining", Kind: KindBool, Default: false,
		EnvName:     "FELIX86_BLOCK_CHAINING",
		Description: "Chain recompiled blocks directly instead of returning to the dispatcher",
	},
	{
		Group: "optimize", Name: "flag_elision", Kind: KindBool, Default: false,
		EnvName:     "FELIX86_FLAG_ELISION",
		Description: "Skip recomputing x86 flags the following instructions provably do not read",
	},
	{
		Group: "optimize", Name: "inline_dispatch", Kind: KindBool, Default: false,
		EnvName:     "FELIX86_INLINE_DISPATCH",
		Description: "Inline the syscall dispatch stub rather than calling out to it",
	},
	{
		Group: "safety", Name: "strict_memory_ordering", Kind: KindBool, Default: false,
		EnvName:     "FELIX86_STRICT_MEMORY_ORDERING",
		Description: "Emit fence instructions matching x86's stronger memory model",
	},
	{
		Group: "safety", Name: "align_checks", Kind: KindBool, Default: false,
		EnvName:     "FELIX86_ALIGN_CHECKS",
		Description: "Insert alignment checks before every memory access",
	},
	{
		Group: "safety", Name: "always_recompute_flags", Kind: KindBool, Default: false,
		EnvName:     "FELIX86_ALWAYS_RECOMPUTE_FLAGS",
		Description: "Recompute every x86 flag after every instruction, ignoring flag_elision",
	},
	{
		Group: "thunks", Name: "zink", Kind: KindBool, Default: false,
		EnvName:     "FELIX86_ZINK",
		Description: "Route guest OpenGL calls through Zink (OpenGL-over-Vulkan)",
	},
	{
		Group: "thunks", Name: "wayland", Kind: KindBool, Default: false,
		EnvName:     "FELIX86_WAYLAND",
		Description: "Enable the Wayland compositor thunk path",
	},
	{
		Group: "jit", Name: "seccomp_slab_increment", Kind: KindUint64, Default: uint64(4096),
		EnvName:     "FELIX86_SECCOMP_SLAB_INCREMENT",
		Description: "Growth increment, in bytes, for the compiled seccomp filter slab",
	},
	{
		Group: "debug", Name: "dump_seccomp", Kind: KindBool, Default: false,
		EnvName:     "FELIX86_DUMP_SECCOMP",
		Description: "Print each BPF instruction as it is compiled",
	},
}

// byEnvName indexes Schema by environment variable name, built once.
var byEnvName = func() map[string]FieldSpec {
	m := make(map[string]FieldSpec, len(Schema))
	for _, f := range Schema {
		m[f.EnvName] = f
	}
	return m
}()
