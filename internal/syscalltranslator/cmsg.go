package syscalltranslator

import (
	"encoding/binary"

	"felix86/errors"
)

// Control-message header sizes on each side of the translation. The host
// (riscv64, LP64) cmsghdr is {size_t cmsg_len; int cmsg_level; int
// cmsg_type;} = 16 bytes, 8-byte aligned. The guest (x86, ILP32) cmsghdr
// is {uint32 cmsg_len; int32 cmsg_level; int32 cmsg_type;} = 12 bytes,
// 4-byte aligned.
//
// Grounded on original_source/src/felix86/hle/socket32.cpp's recvmsg32/
// sendmsg32 cmsg-chain walk.
const (
	hostCmsgHeaderLen  = 16
	guestCmsgHeaderLen = 12
	hostCmsgAlign      = 8
	guestCmsgAlign     = 4

	// cmsgHeaderSizeDifference is how much each translated entry's
	// length grows (host direction) or shrinks (guest direction).
	cmsgHeaderSizeDifference = hostCmsgHeaderLen - guestCmsgHeaderLen
)

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// HostControlBufferSize returns the size of the host-side control buffer
// recvmsg32/recvmmsg32 must allocate for a guest-requested controllen:
// at least 2x, because every translated cmsghdr can grow by
// cmsgHeaderSizeDifference bytes.
func HostControlBufferSize(guestControlLen uint32) uint32 {
	return guestControlLen * 2
}

// CmsgHostToGuest walks a host-populated cmsghdr chain (as returned by a
// host recvmsg/recvmmsg call) and re-encodes it into the guest's 32-bit
// cmsghdr layout, shrinking each header by cmsgHeaderSizeDifference and
// re-aligning to 4 bytes between entries instead of 8.
func CmsgHostToGuest(hostControl []byte) ([]byte, error) {
	var out []byte
	offset := 0
	for offset+hostCmsgHeaderLen <= len(hostControl) {
		length := int(binary.LittleEndian.Uint64(hostControl[offset : offset+8]))
		level := binary.LittleEndian.Uint32(hostControl[offset+8 : offset+12])
		typ := binary.LittleEndian.Uint32(hostControl[offset+12 : offset+16])

		if length < hostCmsgHeaderLen || offset+length > len(hostControl) {
			return nil, errors.New(errors.ErrSocket, "cmsg_host_to_guest", "malformed host cmsghdr length")
		}

		dataLen := length - hostCmsgHeaderLen
		data := hostControl[offset+hostCmsgHeaderLen : offset+hostCmsgHeaderLen+dataLen]

		guestLen := guestCmsgHeaderLen + dataLen
		entry := make([]byte, alignUp(guestLen, guestCmsgAlign))
		binary.LittleEndian.PutUint32(entry[0:4], uint32(guestLen))
		binary.LittleEndian.PutUint32(entry[4:8], level)
		binary.LittleEndian.PutUint32(entry[8:12], typ)
		copy(entry[guestCmsgHeaderLen:], data)

		out = append(out, entry...)

		offset += alignUp(length, hostCmsgAlign)
	}
	return out, nil
}

// CmsgGuestToHost walks a guest-populated 32-bit cmsghdr chain (as the
// guest built it for sendmsg32/sendmmsg32) and re-encodes it into the
// host's 64-bit cmsghdr layout, growing each header by
// cmsgHeaderSizeDifference and re-aligning to 8 bytes between entries.
func CmsgGuestToHost(guestControl []byte) ([]byte, error) {
	var out []byte
	offset := 0
	for offset+guestCmsgHeaderLen <= len(guestControl) {
		length := int(binary.LittleEndian.Uint32(guestControl[offset : offset+4]))
		level := binary.LittleEndian.Uint32(guestControl[offset+4 : offset+8])
		typ := binary.LittleEndian.Uint32(guestControl[offset+8 : offset+12])

		if length < guestCmsgHeaderLen || offset+length > len(guestControl) {
			return nil, errors.New(errors.ErrSocket, "cmsg_guest_to_host", "malformed guest cmsghdr length")
		}

		dataLen := length - guestCmsgHeaderLen
		data := guestControl[offset+guestCmsgHeaderLen : offset+guestCmsgHeaderLen+dataLen]

		hostLen := hostCmsgHeaderLen + dataLen
		entry := make([]byte, alignUp(hostLen, hostCmsgAlign))
		binary.LittleEndian.PutUint64(entry[0:8], uint64(hostLen))
		binary.LittleEndian.PutUint32(entry[8:12], level)
		binary.LittleEndian.PutUint32(entry[12:16], typ)
		copy(entry[hostCmsgHeaderLen:], data)

		out = append(out, entry...)

		offset += alignUp(length, guestCmsgAlign)
	}
	return out, nil
}
