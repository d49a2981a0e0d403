// Package main is the command-line front end for a self-hosting
// compiler and virtual machine for a small subset of C: one
// single-pass lexer/parser/code-generator emits directly into a fixed
// instruction stream, and one bounds-checked stack machine executes it.
//
// Usage:
//
//	prog [-s] [-d] [-trace] [-timeout DURATION] [-mem-limit N] <source.c>
//
// -s prints the assembled instruction stream instead of executing it.
// -d and -trace both enable a per-instruction execution trace; -timeout
// bounds wall-clock execution; -mem-limit bounds the VM's heap arena.
package main
