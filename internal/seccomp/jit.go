package seccomp

import (
	"fmt"
	"sync"

	"felix86/errors"
	"felix86/internal/riscvasm"
	"felix86/logging"

	"golang.org/x/sys/unix"
)

// Register convention repurposing four scratch registers of the host
// recompiler, matching the mapping the translated dispatch path expects:
// X holds the BPF index register, A the accumulator, Temp a scratch value,
// Pointer the base of the synthesized SeccompData frame.
const (
	regX       = riscvasm.T3
	regA       = riscvasm.T4
	regTemp    = riscvasm.T5
	regPointer = riscvasm.T6
)

// Offsets within the SeccompData frame the prologue writes and BPF_ABS
// loads read from.
const (
	offNr   = 0
	offArch = 4
	offRip  = 8
	offArgs = 16
)

// auditArchX86_64 is Linux's AUDIT_ARCH_X86_64 constant (EM_X86_64 | __AUDIT_ARCH_64BIT | __AUDIT_ARCH_LE).
const auditArchX86_64 = 0xc000003e

// riscv64 generic syscall numbers used by the KILL_PROCESS/KILL_THREAD
// return actions.
const (
	sysKill   = 129
	sysTgkill = 131
)

// GuestRegs names the host registers holding the guest's syscall-entry
// register file, as allocated by the (out of scope) recompiler. The JIT
// only reads these; it never mutates them.
type GuestRegs struct {
	Rax, Rdi, Rsi, Rdx, R10, R8, R9 riscvasm.Reg
}

// JIT accumulates compiled seccomp filters into a single growable slab,
// one filter program's code appended after the previous one's.
type JIT struct {
	mu    sync.Mutex
	slab  []byte
	index int
}

// NewJIT returns an empty filter compiler.
func NewJIT() *JIT {
	return &JIT{}
}

// HasFilters reports whether any filter has been installed.
func (j *JIT) HasFilters() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.index != 0
}

// EmitFilters returns the accumulated compiled slab, to be spliced into
// the recompiler's syscall dispatch path at the caller's chosen location.
func (j *JIT) EmitFilters() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]byte, j.index)
	copy(out, j.slab[:j.index])
	return out
}

// SetFilter compiles a classical-BPF program into native RISC-V and
// appends it to the slab. rip is the guest instruction pointer at the
// point of the seccomp-checked syscall, embedded into the SeccompData
// frame. regs names where the guest's syscall arguments currently live.
func (j *JIT) SetFilter(flags uint32, program []Instruction, rip uint64, regs GuestRegs) error {
	if flags != 0 {
		// Unsupported flags are warned about, not fatal, per the original.
		logging.Warn("ignoring unsupported seccomp filter flags", "flags", flags)
	}
	if err := Validate(program); err != nil {
		return err
	}

	as := riscvasm.New()
	if err := compileProgram(as, program, rip, regs); err != nil {
		return err
	}
	if err := as.Link(); err != nil {
		return errors.Wrap(err, errors.ErrSeccomp, "set_filter")
	}

	code := as.Bytes()
	if len(code)%4 != 0 {
		return errors.WrapWithDetail(nil, errors.ErrSeccomp, "set_filter", "compiled size is not a multiple of 4")
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	needed := j.index + len(code)
	for len(j.slab) < needed {
		j.slab = append(j.slab, make([]byte, 4096)...)
	}
	copy(j.slab[j.index:needed], code)
	j.index = needed
	return nil
}

func compileProgram(as *riscvasm.Assembler, program []Instruction, rip uint64, regs GuestRegs) error {
	labels := make([]riscvasm.Label, len(program))
	var endOfProgram riscvasm.Label

	prologue(as, rip, regs)

	for i, insn := range program {
		as.Bind(&labels[i])
		if err := compileInstruction(as, insn, i, labels, &endOfProgram); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}

	// Control should never fall off the end of a validated program; guard
	// with a trap in case it does.
	as.Undef()
	as.Undef()

	as.Bind(&endOfProgram)
	epilogue(as)
	return nil
}

func prologue(as *riscvasm.Assembler, rip uint64, regs GuestRegs) {
	as.ADDI(riscvasm.SP, riscvasm.SP, -seccompDataSize)
	as.MV(regPointer, riscvasm.SP)

	as.SW(regs.Rax, offNr, regPointer)

	as.LI(regTemp, auditArchX86_64)
	as.SW(regTemp, offArch, regPointer)

	as.LI(regTemp, int64(rip))
	as.SD(regTemp, offRip, regPointer)

	argRegs := []riscvasm.Reg{regs.Rdi, regs.Rsi, regs.Rdx, regs.R10, regs.R8, regs.R9}
	for i, r := range argRegs {
		as.SD(r, int32(offArgs+i*8), regPointer)
	}
}

func epilogue(as *riscvasm.Assembler) {
	as.ADDI(riscvasm.SP, riscvasm.SP, seccompDataSize)
}

// crash emits an inline illegal-instruction trap standing in for the
// recompiler's own crash handler, which this repository does not include
// (the instruction-level recompiler is out of scope).
func crash(as *riscvasm.Assembler) {
	as.Undef()
	as.Undef()
}

func aluSrc(code uint16) riscvasm.Reg {
	if src(code) == srcK {
		return regTemp
	}
	return regX
}

func compileInstruction(as *riscvasm.Assembler, insn Instruction, index int, labels []riscvasm.Label, endOfProgram *riscvasm.Label) error {
	code := insn.Code
	switch class(code) {
	case classLD:
		// Validate already restricted this to BPF_W|BPF_ABS.
		as.LWU(regA, int32(insn.K), regPointer)

	case classALU:
		if src(code) == srcK {
			as.LI(regTemp, int64(insn.K))
		}
		s := aluSrc(code)
		switch op(code) {
		case aluADD:
			as.ADDW(regA, regA, s)
		case aluSUB:
			as.SUBW(regA, regA, s)
		case aluMUL:
			as.MULW(regA, regA, s)
		case aluDIV:
			var isZero, end riscvasm.Label
			as.BEQZ(s, &isZero)
			as.DIVW(regA, regA, s)
			as.J(&end)
			as.Bind(&isZero)
			as.MV(regA, riscvasm.Zero)
			as.Bind(&end)
		case aluOR:
			as.OR(regA, regA, s)
		case aluAND:
			as.AND(regA, regA, s)
		case aluLSH:
			as.SLLW(regA, regA, s)
		case aluRSH:
			as.SRLW(regA, regA, s)
		case aluNEG:
			as.NEGW(regA, regA)
		case aluXOR:
			as.XOR(regA, regA, s)
		default:
			return fmt.Errorf("unsupported ALU op %#x", op(code))
		}

	case classJMP:
		jumpTrue := &labels[index+1+int(insn.Jt)]
		jumpFalse := &labels[index+1+int(insn.Jf)]
		if src(code) == srcK {
			as.LI(regTemp, int64(insn.K))
		}
		s := aluSrc(code)
		switch op(code) {
		case jmpJA:
			as.J(jumpTrue)
		case jmpJEQ:
			as.BEQ(regA, s, jumpTrue)
			if insn.Jf != 0 {
				as.J(jumpFalse)
			}
		case jmpJGT:
			as.BGT(regA, s, jumpTrue)
			if insn.Jf != 0 {
				as.J(jumpFalse)
			}
		case jmpJGE:
			as.BGE(regA, s, jumpTrue)
			if insn.Jf != 0 {
				as.J(jumpFalse)
			}
		case jmpJSET:
			as.AND(regTemp, regA, s)
			as.BNEZ(regTemp, jumpTrue)
			if insn.Jf != 0 {
				as.J(jumpFalse)
			}
		default:
			return fmt.Errorf("unsupported JMP op %#x", op(code))
		}

	case classRET:
		// Validate already rejected SRC=X.
		switch insn.K {
		case RetKillProcess:
			as.LI(riscvasm.A7, sysKill)
			as.LI(riscvasm.A0, int64(unix.Getpid()))
			as.LI(riscvasm.A1, int64(unix.SIGKILL))
			as.ECALL()
			crash(as)
		case RetKillThread:
			as.LI(riscvasm.A7, sysTgkill)
			as.LI(riscvasm.A0, int64(unix.Getpid()))
			as.LI(riscvasm.A1, int64(unix.Gettid()))
			as.LI(riscvasm.A2, int64(unix.SIGKILL))
			as.ECALL()
			crash(as)
		case RetLog, RetAllow:
			as.J(endOfProgram)
		default:
			// TRAP, ERRNO, TRACE and anything else trap for now; the
			// recompiler's dispatch path is expected to special-case
			// the ones it wants distinguishable exit codes for.
			crash(as)
		}

	default:
		return fmt.Errorf("unsupported BPF class %#x", class(code))
	}
	return nil
}
