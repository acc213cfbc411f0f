// Package emulatednode synthesizes the handful of /proc entries felix86
// cannot simply pass through to the host, because their content must
// describe the guest rather than the host running the translator.
//
// Grounded on original_source/src/felix86/hle/filesystem.cpp's
// EmulatedNode table, statx_inode_same, generate_memfd, and seal_memfd.
package emulatednode

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"felix86/errors"

	"golang.org/x/sys/unix"
)

// maxMemfdNameLength is the memfd_create name budget after accounting for
// the kernel's implicit "memfd:" prefix (256 total minus that prefix,
// rounded down for safety), per spec.md §9's resolved ambiguity.
const maxMemfdNameLength = 249

// OpenFunc synthesizes the sealed file contents for one emulated node,
// given the flags the guest passed to its open/openat call.
type OpenFunc func(flags int) (fd int, err error)

// Node is one emulated /proc entry: a guest-visible path, the function
// that synthesizes its content on demand, and the host inode identity
// recorded at startup so a real openat on that inode can be redirected
// here.
type Node struct {
	Path     string
	Open     OpenFunc
	identity statxIdentity
	hasStat  bool
}

type statxIdentity struct {
	mode     uint16
	ino      uint64
	devMajor uint32
	devMinor uint32
}

// Table is the set of registered emulated nodes, matched by host inode
// identity after a real openat succeeds.
type Table struct {
	nodes []*Node
}

// NewTable builds the standard felix86 node set: /proc/cpuinfo and
// /proc/self/maps, per spec.md §6.
func NewTable(cpuinfo, maps func() string) *Table {
	t := &Table{}
	t.nodes = []*Node{
		{
			Path: "/proc/cpuinfo",
			Open: func(flags int) (int, error) {
				return synthesize("/proc/cpuinfo", []byte(cpuinfo()), flags)
			},
		},
		{
			Path: "/proc/self/maps",
			Open: func(flags int) (int, error) {
				return synthesize("/proc/self/maps", []byte(maps()), flags)
			},
		},
	}
	return t
}

// DefaultCPUInfo reports one guest-architecture-flavored core entry per
// host CPU, since felix86 has no separate guest CPU count of its own: the
// guest sees exactly the parallelism the host recompiler can offer it.
func DefaultCPUInfo() string {
	var b strings.Builder
	for i := 0; i < runtime.NumCPU(); i++ {
		fmt.Fprintf(&b, "processor\t: %d\n", i)
		b.WriteString("vendor_id\t: felix86\n")
		b.WriteString("model name\t: felix86 translated x86_64\n")
		b.WriteString("flags\t\t: fpu vme de pse tsc msr pae mce cx8 apic sep mtrr pge mca cmov\n")
		b.WriteString("\n")
	}
	return b.String()
}

// DefaultMaps reads the translator's own /proc/self/maps unmodified: the
// guest's virtual address space and the host's coincide in this design,
// since the (out of scope) recompiler does not relocate guest memory.
func DefaultMaps() string {
	data, err := os.ReadFile("/proc/self/maps")
	if err != nil {
		return ""
	}
	return string(data)
}

// RegisterStat populates a node's host inode identity by statx-ing it
// inside rootfsPath; if the node does not exist under rootfsPath (e.g.
// the guest is chrooted somewhere without /proc access), RegisterStat
// leaves the node permanently unmatched rather than failing.
func (t *Table) RegisterStat(rootfsPath string) error {
	for _, n := range t.nodes {
		full := rootfsPath + n.Path
		var stx unix.Statx_t
		err := unix.Statx(unix.AT_FDCWD, full, 0, unix.STATX_TYPE|unix.STATX_INO|unix.STATX_MNT_ID, &stx)
		if err != nil {
			continue
		}
		n.identity = statxIdentity{
			mode:     stx.Mode,
			ino:      stx.Ino,
			devMajor: stx.Dev_major,
			devMinor: stx.Dev_minor,
		}
		n.hasStat = true
	}
	return nil
}

// MatchOpenFD statxes an already-open descriptor and, if its inode
// identity matches a registered node, closes it and returns the
// synthesized replacement instead. ok is false when fd is not one of the
// emulated nodes, in which case the caller keeps using fd unchanged.
func MatchOpenFD(t *Table, fd int, flags int) (newFD int, ok bool, err error) {
	var stx unix.Statx_t
	if statErr := unix.Statx(fd, "", unix.AT_EMPTY_PATH, unix.STATX_TYPE|unix.STATX_INO|unix.STATX_MNT_ID, &stx); statErr != nil {
		return fd, false, nil
	}

	for _, n := range t.nodes {
		if !n.hasStat {
			continue
		}
		if !identitySame(&stx, n.identity) {
			continue
		}
		unix.Close(fd)
		replacement, openErr := n.Open(flags)
		if openErr != nil {
			return -1, true, errors.Wrap(openErr, errors.ErrInternal, "emulated_node_open")
		}
		return replacement, true, nil
	}
	return fd, false, nil
}

func identitySame(stx *unix.Statx_t, id statxIdentity) bool {
	const typeAndInoMask = unix.STATX_TYPE | unix.STATX_INO
	if stx.Mask&typeAndInoMask != typeAndInoMask {
		return false
	}
	const sIFMT = 0o170000
	if (uint32(stx.Mode)^uint32(id.mode))&sIFMT != 0 {
		return false
	}
	return stx.Dev_major == id.devMajor && stx.Dev_minor == id.devMinor && stx.Ino == id.ino
}

// synthesize writes content into a sealed memfd and rewinds it to offset
// 0, mirroring generate_memfd/seal_memfd: the guest always begins
// reading an emulated node from the start.
func synthesize(path string, content []byte, flags int) (int, error) {
	name := path
	if len(name) > maxMemfdNameLength {
		name = name[:maxMemfdNameLength]
	}

	memfdFlags := unix.MFD_ALLOW_SEALING
	if flags&unix.O_CLOEXEC != 0 {
		memfdFlags |= unix.MFD_CLOEXEC
	}

	fd, err := unix.MemfdCreate(name, memfdFlags)
	if err != nil {
		return -1, errors.Wrap(err, errors.ErrInternal, "memfd_create")
	}

	if _, err := unix.Write(fd, content); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, errors.ErrInternal, "memfd_write")
	}

	if _, err := unix.Seek(fd, 0, unix.SEEK_SET); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, errors.ErrInternal, "memfd_seek")
	}

	const seals = unix.F_SEAL_SEAL | unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE | unix.F_SEAL_FUTURE_WRITE
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, seals); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, errors.ErrInternal, "memfd_seal")
	}

	return fd, nil
}
