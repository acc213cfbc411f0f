package syscalltranslator

import (
	"encoding/binary"
	"unsafe"

	"felix86/errors"

	"golang.org/x/sys/unix"
)

// SOL_SOCKET option numbers. Several of these postdate the symbols
// golang.org/x/sys/unix carries for every platform, so — mirroring the
// original's own #ifndef fallback definitions — the full allowlist is
// spelled out here directly from the kernel's asm-generic/socket.h
// numbering, rather than risk a missing constant on an older x/sys.
//
// Grounded on original_source/src/felix86/hle/socket32.cpp.
const (
	soDebug                        = 1
	soReuseaddr                    = 2
	soType                         = 3
	soError                        = 4
	soDontroute                    = 5
	soBroadcast                    = 6
	soSndbuf                       = 7
	soRcvbuf                       = 8
	soKeepalive                    = 9
	soOobinline                    = 10
	soNoCheck                      = 11
	soPriority                     = 12
	soLinger                       = 13
	soBsdcompat                    = 14
	soReuseport                    = 15
	soPasscred                     = 16
	soPeercred                     = 17
	soRcvlowat                     = 18
	soSndlowat                     = 19
	soRcvtimeoOld                  = 20
	soSndtimeoOld                  = 21
	soSecurityAuthentication       = 22
	soSecurityEncryptionTransport  = 23
	soSecurityEncryptionNetwork    = 24
	soBindtodevice                 = 25
	soAttachFilter                 = 26
	soDetachFilter                 = 27
	soPeername                     = 28
	soTimestampOld                 = 29
	soAcceptconn                   = 30
	soPeersec                      = 31
	soSndbufforce                  = 32
	soRcvbufforce                  = 33
	soPassSec                      = 34
	soTimestampnsOld               = 35
	soMark                         = 36
	soTimestampingOld              = 37
	soProtocol                     = 38
	soDomain                       = 39
	soRxqOvfl                      = 40
	soWifiStatus                   = 41
	soPeekOff                      = 42
	soNofcs                        = 43
	soLockFilter                   = 44
	soSelectErrQueue               = 45
	soBusyPoll                     = 46
	soMaxPacingRate                = 47
	soBpfExtensions                = 48
	soIncomingCpu                  = 49
	soAttachBpf                    = 50
	soAttachReuseportCbpf          = 51
	soAttachReuseportEbpf          = 52
	soCnxAdvice                    = 53
	soMeminfo                      = 55
	soIncomingNapiID               = 56
	soCookie                       = 57
	soPeergroups                   = 59
	soZerocopy                     = 60
	soTxtime                       = 61
	soBindtoifindex                = 62
	soTimestampNew                 = 63
	soTimestampnsNew               = 64
	soTimestampingNew              = 65
	soRcvtimeoNew                  = 66
	soSndtimeoNew                  = 67
	soDetachReuseportBpf           = 68
	soPreferBusyPoll               = 69
	soBusyPollBudget               = 70
	soNetnsCookie                  = 71
	soBufLock                      = 72
	soReserveMem                   = 73
	soTxrehash                     = 74
	soRcvmark                      = 75
	soPasspidfd                    = 76
	soPeerpidfd                    = 77
)

var getsockoptAllowlist = map[int]bool{
	soDebug: true, soReuseaddr: true, soType: true, soError: true, soDontroute: true,
	soBroadcast: true, soSndbuf: true, soRcvbuf: true, soSndbufforce: true, soRcvbufforce: true,
	soKeepalive: true, soOobinline: true, soNoCheck: true, soPriority: true, soLinger: true,
	soBsdcompat: true, soReuseport: true, soPasscred: true, soPeercred: true, soRcvlowat: true,
	soSndlowat: true, soSecurityAuthentication: true, soSecurityEncryptionTransport: true,
	soSecurityEncryptionNetwork: true, soAttachFilter: true, soDetachFilter: true, soPeername: true,
	soTimestampOld: true, soAcceptconn: true, soPeersec: true, soPassSec: true, soTimestampnsOld: true,
	soMark: true, soTimestampingOld: true, soProtocol: true, soDomain: true, soRxqOvfl: true,
	soWifiStatus: true, soPeekOff: true, soNofcs: true, soLockFilter: true, soSelectErrQueue: true,
	soBusyPoll: true, soMaxPacingRate: true, soBpfExtensions: true, soIncomingCpu: true,
	soAttachBpf: true, soAttachReuseportCbpf: true, soAttachReuseportEbpf: true, soCnxAdvice: true,
	soMeminfo: true, soIncomingNapiID: true, soCookie: true, soPeergroups: true, soZerocopy: true,
	soTxtime: true, soBindtoifindex: true, soTimestampNew: true, soTimestampnsNew: true,
	soTimestampingNew: true, soRcvtimeoNew: true, soSndtimeoNew: true, soDetachReuseportBpf: true,
	soPreferBusyPoll: true, soBusyPollBudget: true, soNetnsCookie: true, soBufLock: true,
	soReserveMem: true,
}

var setsockoptAllowlist = map[int]bool{
	soDebug: true, soReuseaddr: true, soType: true, soError: true, soDontroute: true,
	soBroadcast: true, soSndbuf: true, soRcvbuf: true, soSndbufforce: true, soRcvbufforce: true,
	soKeepalive: true, soOobinline: true, soNoCheck: true, soPriority: true, soLinger: true,
	soBsdcompat: true, soReuseport: true, soPasscred: true, soPeercred: true, soRcvlowat: true,
	soSndlowat: true, soSecurityAuthentication: true, soSecurityEncryptionTransport: true,
	soSecurityEncryptionNetwork: true, soDetachFilter: true, soPeername: true,
	soTimestampOld: true, soAcceptconn: true, soPeersec: true, soPassSec: true, soTimestampnsOld: true,
	soMark: true, soTimestampingOld: true, soProtocol: true, soDomain: true, soRxqOvfl: true,
	soWifiStatus: true, soPeekOff: true, soNofcs: true, soLockFilter: true, soSelectErrQueue: true,
	soBusyPoll: true, soMaxPacingRate: true, soBpfExtensions: true, soIncomingCpu: true,
	soAttachBpf: true, soAttachReuseportEbpf: true, soCnxAdvice: true,
	soMeminfo: true, soIncomingNapiID: true, soCookie: true, soPeergroups: true, soZerocopy: true,
	soTxtime: true, soBindtoifindex: true, soTimestampNew: true, soTimestampnsNew: true,
	soTimestampingNew: true, soRcvtimeoNew: true, soSndtimeoNew: true, soDetachReuseportBpf: true,
	soPreferBusyPoll: true, soBusyPollBudget: true, soNetnsCookie: true, soBufLock: true,
	soReserveMem: true, soTxrehash: true, soRcvmark: true, soPasspidfd: true, soPeerpidfd: true,
}

// sockFprog32Len is sizeof(struct sock_fprog32) { uint16 len; uint32
// filter; } on the guest, padded to 8 bytes by the compiler's struct
// alignment (the original code sizes optlen against this padded size).
const sockFprog32Len = 8

// GetSockopt32 mirrors getsockopt32: options outside SOL_SOCKET pass
// straight through; SOL_SOCKET options are checked against the
// allowlist before forwarding to the host getsockopt.
func GetSockopt32(fd, level, optname int, optval []byte, optlen *uint32) error {
	if level != unix.SOL_SOCKET {
		return rawGetsockopt(fd, level, optname, optval, optlen)
	}
	if !getsockoptAllowlist[optname] {
		return errors.New(errors.ErrSocket, "getsockopt32", "unhandled SOL_SOCKET optname")
	}
	return rawGetsockopt(fd, level, optname, optval, optlen)
}

// SetSockopt32 mirrors setsockopt32: SO_ATTACH_FILTER/
// SO_ATTACH_REUSEPORT_CBPF repack a 32-bit sock_fprog into the host's
// 64-bit layout; SO_RCVTIMEO_OLD/SO_SNDTIMEO_OLD rewrite to the *_NEW
// optnames with a 64-bit timeval; everything else in the allowlist
// forwards unchanged.
func SetSockopt32(fd, level, optname int, optval []byte) error {
	if level != unix.SOL_SOCKET {
		return rawSetsockopt(fd, level, optname, optval)
	}

	switch optname {
	case soAttachFilter, soAttachReuseportCbpf:
		return setSockFprog32(fd, level, optname, optval)
	case soRcvtimeoOld:
		return setTimeval32(fd, level, soRcvtimeoNew, optval)
	case soSndtimeoOld:
		return setTimeval32(fd, level, soSndtimeoNew, optval)
	}

	if !setsockoptAllowlist[optname] {
		return errors.New(errors.ErrSocket, "setsockopt32", "unhandled SOL_SOCKET optname")
	}
	return rawSetsockopt(fd, level, optname, optval)
}

// setSockFprog32 repacks a 32-bit {len uint16; filter uint32 (pointer)}
// sock_fprog into the host's 64-bit {len uint16; _pad [6]byte; filter
// uint64} layout before forwarding.
func setSockFprog32(fd, level, optname int, optval []byte) error {
	if len(optval) != sockFprog32Len {
		return errors.New(errors.ErrSocket, "set_sock_fprog32", "sock_fprog32 has unexpected size")
	}

	progLen := binary.LittleEndian.Uint16(optval[0:2])
	filterPtr := binary.LittleEndian.Uint32(optval[4:8])

	host := make([]byte, 16)
	binary.LittleEndian.PutUint16(host[0:2], progLen)
	binary.LittleEndian.PutUint64(host[8:16], uint64(filterPtr))

	return rawSetsockopt(fd, level, optname, host)
}

// setTimeval32 widens a 32-bit {tv_sec int32; tv_usec int32} timeval
// into the host's 64-bit {tv_sec int64; tv_usec int64} layout before
// forwarding to the rewritten *_NEW optname.
func setTimeval32(fd, level, newOptname int, optval []byte) error {
	if len(optval) != 8 {
		return errors.New(errors.ErrSocket, "set_timeval32", "x86 timeval has unexpected size")
	}

	sec := int32(binary.LittleEndian.Uint32(optval[0:4]))
	usec := int32(binary.LittleEndian.Uint32(optval[4:8]))

	host := make([]byte, 16)
	binary.LittleEndian.PutUint64(host[0:8], uint64(int64(sec)))
	binary.LittleEndian.PutUint64(host[8:16], uint64(int64(usec)))

	return rawSetsockopt(fd, level, newOptname, host)
}

func rawGetsockopt(fd, level, optname int, optval []byte, optlen *uint32) error {
	var optvalPtr uintptr
	if len(optval) > 0 {
		optvalPtr = uintptr(unsafe.Pointer(&optval[0]))
	}
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd), uintptr(level), uintptr(optname),
		optvalPtr, uintptr(unsafe.Pointer(optlen)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func rawSetsockopt(fd, level, optname int, optval []byte) error {
	var optvalPtr uintptr
	if len(optval) > 0 {
		optvalPtr = uintptr(unsafe.Pointer(&optval[0]))
	}
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), uintptr(level), uintptr(optname),
		optvalPtr, uintptr(len(optval)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
