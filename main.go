package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dpk/c4go/internal/arena"
	"github.com/dpk/c4go/internal/compiler"
	"github.com/dpk/c4go/internal/lexer"
	"github.com/dpk/c4go/internal/logio"
	"github.com/dpk/c4go/internal/panicerr"
	"github.com/dpk/c4go/internal/parser"
	"github.com/dpk/c4go/internal/vm"
)

func main() {
	var (
		assembleOnly bool
		debugTrace   bool
		trace        bool
		timeout      time.Duration
		memLimit     uint
	)
	flag.BoolVar(&assembleOnly, "s", false, "print the token stream and assembled instructions, then exit")
	flag.BoolVar(&debugTrace, "d", false, "trace each executed instruction")
	flag.BoolVar(&trace, "trace", false, "trace each executed instruction (equivalent to -d)")
	flag.DurationVar(&timeout, "timeout", 0, "bound wall-clock execution time")
	flag.UintVar(&memLimit, "mem-limit", 0, "bound the VM's heap arena, in bytes")
	flag.Parse()

	log := logio.Logger{}
	log.SetOutput(os.Stderr)

	if flag.NArg() != 1 {
		log.Errorf("usage: %s [-s] [-d] [-trace] [-timeout DURATION] [-mem-limit N] <source.c>", os.Args[0])
		os.Exit(2)
	}
	src, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(exitCodeFor(err))
	}

	opts := []compiler.Option{compiler.WithStdout(os.Stdout)}
	if memLimit > 0 {
		opts = append(opts, compiler.WithHeap(int(memLimit)))
	}
	if debugTrace || trace {
		tw := &logio.Writer{Logf: log.Leveledf("TRACE")}
		defer tw.Close()
		opts = append(opts, compiler.WithTrace(func(pc int, op vm.Op, a int64) {
			fmt.Fprintf(tw, "%4d: %-4s  a=%d\n", pc, op, a)
		}))
	}

	c := compiler.New(opts...)
	var prog *compiler.Program
	err = panicerr.Recover("compile", func() (err error) {
		prog, err = c.Compile(src)
		return err
	})
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(exitCodeFor(err))
	}

	if assembleOnly {
		toks, _ := c.Tokenize(src)
		fmt.Print(compiler.DumpTokens(toks))
		fmt.Print(compiler.Disassemble(prog))
		return
	}

	ctx := context.Background()
	if timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var ret int64
	err = panicerr.Recover("execute", func() (err error) {
		ret, err = c.Execute(ctx, prog)
		return err
	})
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(exitCodeFor(err))
	}
	os.Exit(int(ret) & 0xff)
}

// exitCodeFor maps each layer of the error taxonomy to a distinct
// non-zero process exit code, so a caller can tell a lex/parse failure
// apart from a runtime trap without parsing the message.
func exitCodeFor(err error) int {
	var (
		lexErr    lexer.Error
		parseErr  parser.Error
		vmErr     vm.Error
		sysErr    vm.SysError
		overflow  arena.Overflow
		pathErr   *os.PathError
		deadlined = errors.Is(err, context.DeadlineExceeded)
	)
	switch {
	case errors.As(err, &lexErr):
		return 10
	case errors.As(err, &parseErr):
		return 11
	case errors.As(err, &vmErr):
		return 12
	case errors.As(err, &sysErr):
		return 13
	case deadlined:
		return 14
	case errors.As(err, &pathErr):
		return 15
	case errors.As(err, &overflow):
		return 16
	default:
		return 1
	}
}
