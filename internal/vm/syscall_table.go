package vm

import (
	"github.com/dpk/c4go/internal/ctype"
	"github.com/dpk/c4go/internal/symtab"
)

// syscallEntry names one host call primed into the symbol table before
// lexing begins, along with the type its call expression evaluates to.
type syscallEntry struct {
	Name string
	Op   Op
	Type ctype.Type
}

// SyscallTable lists every syscall name the lexer/parser recognize, in
// priming order. "exit" is handled specially by the parser (it compiles
// directly to the bare EXIT opcode, never through the generic syscall
// calling convention) but is still primed here so it resolves as a
// callable name.
var SyscallTable = []syscallEntry{
	{"open", OPEN, ctype.INT},
	{"read", READ, ctype.INT},
	{"close", CLOS, ctype.INT},
	{"printf", PRTF, ctype.INT},
	{"malloc", MALC, ctype.CHAR.Ptr()},
	{"free", FREE, ctype.INT},
	{"memset", MSET, ctype.CHAR.Ptr()},
	{"memcmp", MCMP, ctype.INT},
	{"exit", EXIT, ctype.INT},
}

// ExitSyscallName is the one syscall the parser must special-case: a
// call to it compiles to a bare EXIT opcode rather than
// push-args/CALL-op/ADJ.
const ExitSyscallName = "exit"

// PrimeSyscalls inserts the fixed syscall table into syms, each bound to
// Class Sys with Value set to its opcode number. Must be called before
// the first call to the lexer's Next, alongside lexer.PrimeKeywords.
func PrimeSyscalls(syms *symtab.Table) {
	for _, s := range SyscallTable {
		id := syms.Intern(s.Name)
		syms.Define(id, symtab.Sys, int(s.Type), int64(s.Op))
	}
}
