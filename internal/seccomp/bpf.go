// Package seccomp compiles classical-BPF seccomp filter programs into
// native RISC-V machine code using internal/riscvasm.
package seccomp

import (
	"felix86/errors"
	"fmt"
)

// Instruction is a single classical-BPF instruction, matching the kernel's
// struct sock_filter layout: { u16 code; u8 jt; u8 jf; u32 k; }.
type Instruction struct {
	Code uint16
	Jt   uint8
	Jf   uint8
	K    uint32
}

// BPF instruction class (low 3 bits of Code).
const (
	classLD  = 0x00
	classLDX = 0x01
	classST  = 0x02
	classSTX = 0x03
	classALU = 0x04
	classJMP = 0x05
	classRET = 0x06
	classMSC = 0x07
)

// BPF_SIZE mode (bits 3-4).
const (
	sizeW = 0x00
	sizeH = 0x08
	sizeB = 0x10
)

// BPF_MODE (bits 5-7), valid for LD/LDX.
const (
	modeIMM = 0x00
	modeABS = 0x20
	modeIND = 0x40
	modeMEM = 0x60
	modeLEN = 0x80
	modeMSH = 0xa0
)

// BPF_OP for ALU (bits 4-7).
const (
	aluADD = 0x00
	aluSUB = 0x10
	aluMUL = 0x20
	aluDIV = 0x30
	aluOR  = 0x40
	aluAND = 0x50
	aluLSH = 0x60
	aluRSH = 0x70
	aluNEG = 0x80
	aluMOD = 0x90
	aluXOR = 0xa0
)

// BPF_OP for JMP (bits 4-7).
const (
	jmpJA   = 0x00
	jmpJEQ  = 0x10
	jmpJGT  = 0x20
	jmpJGE  = 0x30
	jmpJSET = 0x40
)

// BPF_SRC (bit 3), valid for ALU/JMP.
const (
	srcK = 0x00
	srcX = 0x08
)

func class(code uint16) int { return int(code) & 0x07 }
func size(code uint16) int  { return int(code) & 0x18 }
func mode(code uint16) int  { return int(code) & 0xe0 }
func op(code uint16) int    { return int(code) & 0xf0 }
func src(code uint16) int   { return int(code) & 0x08 }

// seccomp_data layout this JIT's loads are relative to: 4-byte nr, 4-byte
// arch, 8-byte rip, 6 8-byte args. Total 64 bytes.
const seccompDataSize = 4 + 4 + 8 + 6*8

// SECCOMP_RET_* actions a BPF_RET|K instruction may return.
const (
	RetKillProcess uint32 = 0x80000000
	RetKillThread  uint32 = 0x00000000
	RetTrap        uint32 = 0x00030000
	RetErrno       uint32 = 0x00050000
	RetTrace       uint32 = 0x7ff00000
	RetLog         uint32 = 0x7ffc0000
	RetAllow       uint32 = 0x7fff0000
)

// Validate rejects every instruction class this JIT does not implement,
// per the BPF subset boundary: BPF_LDX, BPF_ST, BPF_STX, BPF_MISC, and
// BPF_RET with SRC=X are not compiled to crash stubs, they are refused
// outright at install time.
func Validate(program []Instruction) error {
	if len(program) == 0 {
		return errors.WrapWithDetail(nil, errors.ErrSeccomp, "validate", "seccomp program length is 0")
	}
	for i, insn := range program {
		switch class(insn.Code) {
		case classLD:
			if size(insn.Code) != sizeW || mode(insn.Code) != modeABS {
				return errors.WrapWithDetail(nil, errors.ErrSeccomp, "validate",
					fmt.Sprintf("instruction %d: only BPF_LD|BPF_W|BPF_ABS is supported", i))
			}
			if insn.K >= seccompDataSize {
				return errors.WrapWithDetail(nil, errors.ErrSeccomp, "validate",
					fmt.Sprintf("instruction %d: BPF_ABS offset %d is out of range", i, insn.K))
			}
		case classALU, classJMP:
			// validated during compilation, operator exhaustiveness checked there
		case classRET:
			if src(insn.Code) == srcX {
				return errors.ErrSeccompRetWithX
			}
		case classLDX, classST, classSTX, classMSC:
			return errors.ErrSeccompUnsupportedClass
		default:
			return errors.ErrSeccompUnsupportedClass
		}
	}
	return nil
}
