// Package compiler wires the lexer, parser, and VM into one
// compile-and-run invocation: priming the symbol table, running the
// single-pass parser/codegen, and handing the resulting program to a
// freshly built VM under the bootstrap convention that lets main's
// final LEV terminate cleanly.
package compiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/dpk/c4go/internal/arena"
	"github.com/dpk/c4go/internal/lexer"
	"github.com/dpk/c4go/internal/panicerr"
	"github.com/dpk/c4go/internal/parser"
	"github.com/dpk/c4go/internal/symtab"
	"github.com/dpk/c4go/internal/token"
	"github.com/dpk/c4go/internal/vm"
)

// Compiler holds the arena/VM sizing an invocation runs under.
type Compiler struct {
	opts options
}

// New returns a Compiler configured by opts, layered over sensible
// defaults mirroring the spec's typical 256 KiB per-region sizing.
func New(opts ...Option) *Compiler {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Compiler{opts: o}
}

// Program is one compiled unit: the emitted instruction stream, the
// global/string data segment, the symbol table (useful for -s output
// and tests), and main's entry address.
type Program struct {
	Code     *arena.Words
	Data     *arena.Bytes
	Syms     *symtab.Table
	MainAddr int
}

// Compile lexes and parses src, emitting directly into a fresh
// Program's arenas. Code address 0 is reserved as a bare EXIT before
// parsing begins, so Execute can later bootstrap main with a sentinel
// return address of 0.
func (c *Compiler) Compile(src []byte) (*Program, error) {
	syms := symtab.New()
	lexer.PrimeKeywords(syms)
	vm.PrimeSyscalls(syms)

	data := arena.NewBytes("data", c.opts.dataCap)
	code := arena.NewWords("code", c.opts.codeCap)
	if _, err := code.Emit(int64(vm.EXIT)); err != nil {
		return nil, err
	}

	lx := lexer.New(src, syms, data)
	ps := parser.New(lx, syms, code, data)
	mainAddr, err := ps.Parse()
	if err != nil {
		return nil, err
	}

	return &Program{Code: code, Data: data, Syms: syms, MainAddr: mainAddr}, nil
}

// Execute runs a compiled Program to completion, or until ctx is
// cancelled or a fatal VM trap occurs.
func (c *Compiler) Execute(ctx context.Context, prog *Program) (int64, error) {
	cfg := vm.Config{
		StackWords: c.opts.stackWords,
		HeapBytes:  c.opts.heapBytes,
		MaxDepth:   c.opts.maxDepth,
		Trace:      c.opts.trace,
	}
	machine := vm.New(cfg, prog.Code, prog.Data, vm.Syscalls{Stdout: c.opts.stdout})
	ret, err := machine.Start(ctx, prog.MainAddr)
	if ferr := c.opts.stdout.Flush(); err == nil {
		err = ferr
	}
	return ret, err
}

// Run compiles and executes src in one call. Recover guards against an
// unexpected Go panic anywhere in the compile/execute path, reporting it
// as an error rather than crashing the caller.
func (c *Compiler) Run(ctx context.Context, src []byte) (ret int64, err error) {
	err = panicerr.Recover("compile", func() error {
		prog, err := c.Compile(src)
		if err != nil {
			return err
		}
		ret, err = c.Execute(ctx, prog)
		return err
	})
	return ret, err
}

// Tokenize lexes src on a scratch symbol table and data arena, independent
// of Compile, purely to produce the token listing the CLI's -s flag prints
// ahead of the assembly. A lex error aborts the listing the same way it
// would abort a real compile.
func (c *Compiler) Tokenize(src []byte) ([]token.Token, error) {
	syms := symtab.New()
	lexer.PrimeKeywords(syms)
	vm.PrimeSyscalls(syms)
	data := arena.NewBytes("data", c.opts.dataCap)
	lx := lexer.New(src, syms, data)

	var toks []token.Token
	for {
		tok, err := lx.Next()
		if err != nil {
			return toks, err
		}
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks, nil
		}
	}
}

// DumpTokens renders toks one per line as "line N: token", matching the
// shape of the CLI's -s output.
func DumpTokens(toks []token.Token) string {
	var b strings.Builder
	for _, tok := range toks {
		fmt.Fprintf(&b, "line %d: %s\n", tok.Line, tok)
	}
	return b.String()
}

// Disassemble renders prog's code arena as one mnemonic per line,
// matching the shape of the CLI's -s output: address, mnemonic, and any
// inline immediate operand.
func Disassemble(prog *Program) string {
	var b strings.Builder
	for pc := 0; pc < prog.Code.Len(); {
		w, _ := prog.Code.At(pc)
		op := vm.Op(w)
		if vm.HasImmediate(op) {
			imm, _ := prog.Code.At(pc + 1)
			fmt.Fprintf(&b, "%4d: %-4s %d\n", pc, op, imm)
			pc += 2
		} else {
			fmt.Fprintf(&b, "%4d: %-4s\n", pc, op)
			pc++
		}
	}
	return b.String()
}
