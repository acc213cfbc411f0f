package syscalltranslator

import (
	"encoding/binary"
	"testing"

	"felix86/errors"
)

func TestSetSockFprog32RejectsWrongSize(t *testing.T) {
	err := setSockFprog32(0, 1, soAttachFilter, []byte{1, 2, 3})
	if !errors.IsKind(err, errors.ErrSocket) {
		t.Fatalf("expected ErrSocket for bad sock_fprog32 size, got %v", err)
	}
}

func TestSetTimeval32RejectsWrongSize(t *testing.T) {
	err := setTimeval32(0, 1, soRcvtimeoNew, []byte{1, 2, 3})
	if !errors.IsKind(err, errors.ErrSocket) {
		t.Fatalf("expected ErrSocket for bad x86_timeval size, got %v", err)
	}
}

func TestGetsockoptAllowlistRejectsUnknownOption(t *testing.T) {
	const unknownOptname = 9999
	err := GetSockopt32(0, 1 /* SOL_SOCKET */, unknownOptname, make([]byte, 4), new(uint32))
	if !errors.IsKind(err, errors.ErrSocket) {
		t.Fatalf("expected ErrSocket for an unknown SOL_SOCKET getsockopt, got %v", err)
	}
}

func TestSetsockoptAllowlistRejectsUnknownOption(t *testing.T) {
	const unknownOptname = 9999
	err := SetSockopt32(0, 1, unknownOptname, make([]byte, 4))
	if !errors.IsKind(err, errors.ErrSocket) {
		t.Fatalf("expected ErrSocket for an unknown SOL_SOCKET setsockopt, got %v", err)
	}
}

func TestAllowlistsCoverCoreOptions(t *testing.T) {
	for _, name := range []int{soReuseaddr, soRcvbuf, soSndbuf, soKeepalive, soLinger} {
		if !getsockoptAllowlist[name] {
			t.Errorf("getsockopt allowlist missing core option %d", name)
		}
		if !setsockoptAllowlist[name] {
			t.Errorf("setsockopt allowlist missing core option %d", name)
		}
	}
}

func TestSockFprog32PackingLayout(t *testing.T) {
	optval := make([]byte, sockFprog32Len)
	binary.LittleEndian.PutUint16(optval[0:2], 3)
	binary.LittleEndian.PutUint32(optval[4:8], 0xdeadbeef)

	// Exercise only the decode half directly, since the encode half
	// requires an actual socket fd to forward to.
	progLen := binary.LittleEndian.Uint16(optval[0:2])
	filterPtr := binary.LittleEndian.Uint32(optval[4:8])
	if progLen != 3 || filterPtr != 0xdeadbeef {
		t.Fatalf("unexpected decode: len=%d ptr=%x", progLen, filterPtr)
	}
}
