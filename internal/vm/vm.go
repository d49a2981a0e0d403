// Package vm implements the stack virtual machine: registers pc, sp, bp,
// a; a closed dispatch table over a unified, bounds-checked memory view
// spanning the data, stack, and heap arenas; and the fixed system-call
// table.
package vm

import (
	"context"
	"encoding/binary"

	"github.com/dpk/c4go/internal/arena"
	"github.com/dpk/c4go/internal/ctype"
)

// Tracef, when non-nil, is called once per executed instruction with its
// address, opcode, and the accumulator's value at fetch time. Wired to
// the CLI's -d flag through the compiler package.
type Tracef func(pc int, op Op, a int64)

// Config bounds the VM's runtime arenas and call depth.
type Config struct {
	StackWords int // capacity of the stack region, in words
	HeapBytes  int // capacity of the auxiliary heap arena
	MaxDepth   int // max nested JSR/LEV frames before DepthExceeded; 0 = unbounded
	Trace      Tracef
}

// DefaultConfig mirrors the spec's typical 256 KiB per-region sizing for
// runtime arenas.
func DefaultConfig() Config {
	return Config{
		StackWords: arena.DefaultCapacity / ctype.WordSize,
		HeapBytes:  arena.DefaultCapacity,
		MaxDepth:   1 << 20,
	}
}

// VM is one compile-and-run invocation's execution state. It is not
// reentrant and not safe for concurrent use.
type VM struct {
	cfg Config

	code *arena.Words

	// mem is the unified byte address space: [0,dataCap) data,
	// [dataCap,dataCap+stackBytes) stack, [.. +heapBytes) heap.
	mem       []byte
	dataCap   int
	stackBase int
	stackTop  int
	heapBase  int
	heapTop   int // bump pointer, grows upward from heapBase

	pc    int
	sp    int
	bp    int
	a     int64
	depth int

	out Syscalls
}

// New builds a VM ready to run code compiled against data; the entry
// address is given later to Start or Run. data is copied into the unified memory's data
// region; the caller retains ownership of code/data for introspection
// (e.g. -s output) but must not mutate them concurrently with Run.
func New(cfg Config, code *arena.Words, data *arena.Bytes, out Syscalls) *VM {
	dataCap := data.Cap()
	stackBytes := cfg.StackWords * ctype.WordSize
	total := dataCap + stackBytes + cfg.HeapBytes

	vm := &VM{
		cfg:       cfg,
		code:      code,
		mem:       make([]byte, total),
		dataCap:   dataCap,
		stackBase: dataCap,
		stackTop:  dataCap + stackBytes,
		heapBase:  dataCap + stackBytes,
		out:       out,
	}
	copy(vm.mem, data.Slice())
	vm.heapTop = vm.heapBase
	vm.sp = vm.stackTop
	vm.bp = vm.stackTop
	return vm
}

// Start runs main at mainAddr to completion. It first pushes a sentinel
// return address of 0, mirroring the bootstrap convention that reserves
// code address 0 as a bare EXIT: when main's closing LEV (whether from
// an explicit return or the compiler's appended fallthrough LEV) pops
// that sentinel into pc, execution lands on the EXIT at code[0] with
// main's return value already sitting in the accumulator, rather than
// underflowing an otherwise-empty call stack.
func (vm *VM) Start(ctx context.Context, mainAddr int) (int64, error) {
	if err := vm.pushWord(0); err != nil {
		return 0, err
	}
	return vm.Run(ctx, mainAddr)
}

// Run executes from entry until EXIT, ctx cancellation, or a fatal trap.
// It returns the value passed to EXIT (or left in the accumulator if
// control falls into one), and any error. Most callers want Start,
// which additionally arranges for main's return to reach an EXIT
// cleanly; Run is exposed directly for tests that execute a single
// function body in isolation.
func (vm *VM) Run(ctx context.Context, entry int) (int64, error) {
	vm.pc = entry
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		halted, ret, err := vm.step()
		if err != nil {
			return 0, err
		}
		if halted {
			return ret, nil
		}
	}
}

func (vm *VM) fetch() (int64, error) {
	w, err := vm.code.At(vm.pc)
	if err != nil {
		return 0, Error{"BadAddress", vm.pc, "program counter ran off the code arena"}
	}
	vm.pc++
	return w, nil
}

// step executes exactly one instruction. halted reports EXIT.
func (vm *VM) step() (halted bool, exitVal int64, err error) {
	startPC := vm.pc
	codeWord, err := vm.fetch()
	if err != nil {
		return false, 0, err
	}
	if codeWord < 0 || codeWord >= int64(numOps) {
		return false, 0, unknownOpcode(startPC, codeWord)
	}
	op := Op(codeWord)

	if vm.cfg.Trace != nil {
		vm.cfg.Trace(startPC, op, vm.a)
	}

	var imm int64
	if HasImmediate(op) {
		imm, err = vm.fetch()
		if err != nil {
			return false, 0, err
		}
	}

	switch op {
	case LEA:
		vm.a = int64(vm.bp) + imm*ctype.WordSize
	case IMM:
		vm.a = imm
	case JMP:
		vm.pc = int(imm)
	case JSR:
		if err := vm.pushReturn(vm.pc); err != nil {
			return false, 0, err
		}
		vm.pc = int(imm)
	case BZ:
		if vm.a == 0 {
			vm.pc = int(imm)
		}
	case BNZ:
		if vm.a != 0 {
			vm.pc = int(imm)
		}
	case ENT:
		if err := vm.pushWord(int64(vm.bp)); err != nil {
			return false, 0, err
		}
		vm.bp = vm.sp
		vm.sp -= int(imm) * ctype.WordSize
		if vm.sp < vm.stackBase {
			return false, 0, stackOverflow(startPC)
		}
	case ADJ:
		vm.sp += int(imm) * ctype.WordSize
		if vm.sp > vm.stackTop {
			return false, 0, stackUnderflow(startPC)
		}
	case LEV:
		vm.sp = vm.bp
		bpVal, err := vm.popWord()
		if err != nil {
			return false, 0, err
		}
		retVal, err := vm.popWord()
		if err != nil {
			return false, 0, err
		}
		vm.bp = int(bpVal)
		vm.pc = int(retVal)
		vm.depth--
	case LI:
		v, err := vm.loadWord(vm.a)
		if err != nil {
			return false, 0, Error{"BadAddress", startPC, err.Error()}
		}
		vm.a = v
	case LC:
		b, err := vm.loadByte(vm.a)
		if err != nil {
			return false, 0, Error{"BadAddress", startPC, err.Error()}
		}
		vm.a = int64(b)
	case SI:
		addr, err := vm.popWord()
		if err != nil {
			return false, 0, err
		}
		if err := vm.storeWord(addr, vm.a); err != nil {
			return false, 0, Error{"BadAddress", startPC, err.Error()}
		}
	case SC:
		addr, err := vm.popWord()
		if err != nil {
			return false, 0, err
		}
		if err := vm.storeByte(addr, byte(vm.a)); err != nil {
			return false, 0, Error{"BadAddress", startPC, err.Error()}
		}
		vm.a = int64(byte(vm.a))
	case PSH:
		if err := vm.pushWord(vm.a); err != nil {
			return false, 0, err
		}

	case OR, XOR, AND, EQ, NE, LT, GT, LE, GE, SHL, SHR, ADD, SUB, MUL, DIV, MOD:
		lhs, err := vm.popWord()
		if err != nil {
			return false, 0, err
		}
		v, err := binOp(op, lhs, vm.a, startPC)
		if err != nil {
			return false, 0, err
		}
		vm.a = v

	case OPEN, READ, CLOS, PRTF, MALC, FREE, MSET, MCMP:
		v, err := vm.syscall(op, int(imm), startPC)
		if err != nil {
			return false, 0, err
		}
		vm.a = v

	case EXIT:
		return true, vm.a, nil

	default:
		return false, 0, unknownOpcode(startPC, codeWord)
	}

	return false, 0, nil
}

func binOp(op Op, lhs, rhs int64, pc int) (int64, error) {
	switch op {
	case OR:
		return lhs | rhs, nil
	case XOR:
		return lhs ^ rhs, nil
	case AND:
		return lhs & rhs, nil
	case EQ:
		return boolInt(lhs == rhs), nil
	case NE:
		return boolInt(lhs != rhs), nil
	case LT:
		return boolInt(lhs < rhs), nil
	case GT:
		return boolInt(lhs > rhs), nil
	case LE:
		return boolInt(lhs <= rhs), nil
	case GE:
		return boolInt(lhs >= rhs), nil
	case SHL:
		return lhs << uint64(rhs), nil
	case SHR:
		return lhs >> uint64(rhs), nil
	case ADD:
		return lhs + rhs, nil
	case SUB:
		return lhs - rhs, nil
	case MUL:
		return lhs * rhs, nil
	case DIV:
		if rhs == 0 {
			return 0, divByZero(pc, op)
		}
		return lhs / rhs, nil
	case MOD:
		if rhs == 0 {
			return 0, divByZero(pc, op)
		}
		return lhs % rhs, nil
	default:
		return 0, unknownOpcode(pc, int64(op))
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (vm *VM) pushReturn(retPC int) error {
	if err := vm.pushWord(int64(retPC)); err != nil {
		return err
	}
	vm.depth++
	if vm.cfg.MaxDepth > 0 && vm.depth > vm.cfg.MaxDepth {
		return depthExceeded(retPC, vm.cfg.MaxDepth)
	}
	return nil
}

func (vm *VM) pushWord(v int64) error {
	vm.sp -= ctype.WordSize
	if vm.sp < vm.stackBase {
		return stackOverflow(vm.pc)
	}
	return vm.storeWord(int64(vm.sp), v)
}

func (vm *VM) popWord() (int64, error) {
	if vm.sp+ctype.WordSize > vm.stackTop {
		return 0, stackUnderflow(vm.pc)
	}
	v, err := vm.loadWord(int64(vm.sp))
	vm.sp += ctype.WordSize
	return v, err
}

// loadWord/storeWord/loadByte/storeByte implement the unified,
// bounds-checked memory view over the union of the data, stack, and heap
// arenas (VM memory safety design note).
func (vm *VM) loadWord(addr int64) (int64, error) {
	if addr < 0 || addr+ctype.WordSize > int64(len(vm.mem)) {
		return 0, badAddress(vm.pc, addr)
	}
	return int64(binary.LittleEndian.Uint64(vm.mem[addr:])), nil
}

func (vm *VM) storeWord(addr int64, v int64) error {
	if addr < 0 || addr+ctype.WordSize > int64(len(vm.mem)) {
		return badAddress(vm.pc, addr)
	}
	binary.LittleEndian.PutUint64(vm.mem[addr:], uint64(v))
	return nil
}

func (vm *VM) loadByte(addr int64) (byte, error) {
	if addr < 0 || addr >= int64(len(vm.mem)) {
		return 0, badAddress(vm.pc, addr)
	}
	return vm.mem[addr], nil
}

func (vm *VM) storeByte(addr int64, b byte) error {
	if addr < 0 || addr >= int64(len(vm.mem)) {
		return badAddress(vm.pc, addr)
	}
	vm.mem[addr] = b
	return nil
}

// peekWord reads the n-th word (0-based, from the stack top) above the
// current sp without popping it, used by syscalls so that the parser's
// trailing ADJ instruction remains the sole point of stack cleanup.
func (vm *VM) peekWord(n int) (int64, error) {
	addr := int64(vm.sp) + int64(n)*ctype.WordSize
	return vm.loadWord(addr)
}
