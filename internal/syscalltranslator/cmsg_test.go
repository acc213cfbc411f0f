package syscalltranslator

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildHostCmsg constructs one 64-bit cmsghdr entry: 16-byte header +
// data, padded to 8-byte alignment.
func buildHostCmsg(level, typ int32, data []byte) []byte {
	length := hostCmsgHeaderLen + len(data)
	entry := make([]byte, alignUp(length, hostCmsgAlign))
	binary.LittleEndian.PutUint64(entry[0:8], uint64(length))
	binary.LittleEndian.PutUint32(entry[8:12], uint32(level))
	binary.LittleEndian.PutUint32(entry[12:16], uint32(typ))
	copy(entry[16:], data)
	return entry
}

func buildGuestCmsg(level, typ int32, data []byte) []byte {
	length := guestCmsgHeaderLen + len(data)
	entry := make([]byte, alignUp(length, guestCmsgAlign))
	binary.LittleEndian.PutUint32(entry[0:4], uint32(length))
	binary.LittleEndian.PutUint32(entry[4:8], uint32(level))
	binary.LittleEndian.PutUint32(entry[8:12], uint32(typ))
	copy(entry[12:], data)
	return entry
}

// TestCmsgHostToGuestPreservesSCMRightsFD verifies the literal spec.md §8
// scenario #5: an SCM_RIGHTS cmsg carrying one fd survives translation.
func TestCmsgHostToGuestPreservesSCMRightsFD(t *testing.T) {
	const solSocket = 1
	const scmRights = 1
	fdBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(fdBytes, 5)

	host := buildHostCmsg(solSocket, scmRights, fdBytes)

	guest, err := CmsgHostToGuest(host)
	if err != nil {
		t.Fatalf("CmsgHostToGuest failed: %v", err)
	}

	if len(guest) < guestCmsgHeaderLen+4 {
		t.Fatalf("guest cmsg too short: %d bytes", len(guest))
	}

	gotLen := binary.LittleEndian.Uint32(guest[0:4])
	gotLevel := binary.LittleEndian.Uint32(guest[4:8])
	gotType := binary.LittleEndian.Uint32(guest[8:12])
	gotFD := binary.LittleEndian.Uint32(guest[12:16])

	if gotLen != guestCmsgHeaderLen+4 {
		t.Errorf("cmsg_len = %d, want %d", gotLen, guestCmsgHeaderLen+4)
	}
	if gotLevel != solSocket || gotType != scmRights {
		t.Errorf("level/type = %d/%d, want %d/%d", gotLevel, gotType, solSocket, scmRights)
	}
	if gotFD != 5 {
		t.Errorf("preserved fd = %d, want 5", gotFD)
	}
}

func TestCmsgGuestToHostRoundTripsViaHostToGuest(t *testing.T) {
	const solSocket = 1
	const scmRights = 1
	fdBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(fdBytes, 42)

	guest := buildGuestCmsg(solSocket, scmRights, fdBytes)

	host, err := CmsgGuestToHost(guest)
	if err != nil {
		t.Fatalf("CmsgGuestToHost failed: %v", err)
	}

	back, err := CmsgHostToGuest(host)
	if err != nil {
		t.Fatalf("CmsgHostToGuest on round trip failed: %v", err)
	}

	if !bytes.Equal(back, guest) {
		t.Fatalf("round trip mismatch: got %v, want %v", back, guest)
	}
}

func TestCmsgHostToGuestRejectsMalformedLength(t *testing.T) {
	bad := make([]byte, 16)
	binary.LittleEndian.PutUint64(bad[0:8], 9999) // length far exceeds buffer
	if _, err := CmsgHostToGuest(bad); err == nil {
		t.Fatal("expected error for malformed cmsghdr length")
	}
}

func TestHostControlBufferSizeIsDouble(t *testing.T) {
	if got := HostControlBufferSize(64); got != 128 {
		t.Fatalf("HostControlBufferSize(64) = %d, want 128", got)
	}
}

func TestAlignUp(t *testing.T) {
	cases := []struct{ n, align, want int }{
		{0, 4, 0}, {1, 4, 4}, {4, 4, 4}, {5, 4, 8}, {9, 8, 16},
	}
	for _, c := range cases {
		if got := alignUp(c.n, c.align); got != c.want {
			t.Errorf("alignUp(%d, %d) = %d, want %d", c.n, c.align, got, c.want)
		}
	}
}
