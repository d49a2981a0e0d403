package compiler

import (
	"io"

	"github.com/dpk/c4go/internal/arena"
	"github.com/dpk/c4go/internal/flushio"
	"github.com/dpk/c4go/internal/vm"
)

type options struct {
	sourceCap int
	dataCap   int
	codeCap   int

	stackWords int
	heapBytes  int
	maxDepth   int

	stdout flushio.WriteFlusher
	trace  vm.Tracef
}

func defaultOptions() options {
	vmCfg := vm.DefaultConfig()
	return options{
		sourceCap:  arena.DefaultCapacity,
		dataCap:    arena.DefaultCapacity,
		codeCap:    arena.DefaultCapacity / 8, // one word per cell, not one byte
		stackWords: vmCfg.StackWords,
		heapBytes:  vmCfg.HeapBytes,
		maxDepth:   vmCfg.MaxDepth,
		stdout:     flushio.NewWriteFlusher(io.Discard),
	}
}

// Option configures a Compiler, following the same functional-options
// shape used throughout this module's VM configuration.
type Option func(*options)

// WithArenaSizes bounds the data and code arenas. Zero leaves the
// default in place.
func WithArenaSizes(dataBytes, codeWords int) Option {
	return func(o *options) {
		if dataBytes > 0 {
			o.dataCap = dataBytes
		}
		if codeWords > 0 {
			o.codeCap = codeWords
		}
	}
}

// WithStack bounds the VM's stack region, in words.
func WithStack(words int) Option {
	return func(o *options) {
		if words > 0 {
			o.stackWords = words
		}
	}
}

// WithHeap bounds the VM's auxiliary heap arena, in bytes.
func WithHeap(bytes int) Option {
	return func(o *options) {
		if bytes > 0 {
			o.heapBytes = bytes
		}
	}
}

// WithMaxDepth bounds nested call depth; 0 means unbounded.
func WithMaxDepth(depth int) Option {
	return func(o *options) { o.maxDepth = depth }
}

// WithStdout directs SYS_PRINTF's output to w instead of discarding it.
func WithStdout(w io.Writer) Option {
	return func(o *options) { o.stdout = flushio.NewWriteFlusher(w) }
}

// WithTrace installs a per-instruction trace hook, wired to the CLI's -d
// flag.
func WithTrace(t vm.Tracef) Option {
	return func(o *options) { o.trace = t }
}
