package parser_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpk/c4go/internal/arena"
	"github.com/dpk/c4go/internal/lexer"
	"github.com/dpk/c4go/internal/parser"
	"github.com/dpk/c4go/internal/symtab"
	"github.com/dpk/c4go/internal/vm"
)

// compileAndRun is a thin, package-local stand-in for the compiler
// package's pipeline, used to keep these tests focused on parser
// codegen without importing the compiler package (which would create an
// import cycle-shaped test, not an actual cycle, but an unnecessary
// dependency for unit-level parser tests).
func compileAndRun(t *testing.T, src string) int64 {
	t.Helper()
	syms := symtab.New()
	lexer.PrimeKeywords(syms)
	vm.PrimeSyscalls(syms)
	data := arena.NewBytes("data", 4096)
	code := arena.NewWords("code", 4096)
	_, err := code.Emit(int64(vm.EXIT))
	require.NoError(t, err)

	lx := lexer.New([]byte(src), syms, data)
	ps := parser.New(lx, syms, code, data)
	mainAddr, err := ps.Parse()
	require.NoError(t, err)

	cfg := vm.DefaultConfig()
	m := vm.New(cfg, code, data, vm.Syscalls{})
	ret, err := m.Start(context.Background(), mainAddr)
	require.NoError(t, err)
	return ret
}

func TestParseEmptyFunctionBodyEmitsEntZeroLev(t *testing.T) {
	syms := symtab.New()
	lexer.PrimeKeywords(syms)
	vm.PrimeSyscalls(syms)
	data := arena.NewBytes("data", 256)
	code := arena.NewWords("code", 256)
	_, err := code.Emit(int64(vm.EXIT))
	require.NoError(t, err)

	lx := lexer.New([]byte("int main(){ return; }"), syms, data)
	ps := parser.New(lx, syms, code, data)
	mainAddr, err := ps.Parse()
	require.NoError(t, err)

	entOp, err := code.At(mainAddr)
	require.NoError(t, err)
	assert.Equal(t, vm.ENT, vm.Op(entOp))
	entImm, err := code.At(mainAddr + 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), entImm)

	lastOp, err := code.At(mainAddr + 2)
	require.NoError(t, err)
	assert.Equal(t, vm.LEV, vm.Op(lastOp))
}

func TestPointerIsLeftOperandOnly(t *testing.T) {
	syms := symtab.New()
	lexer.PrimeKeywords(syms)
	vm.PrimeSyscalls(syms)
	data := arena.NewBytes("data", 256)
	code := arena.NewWords("code", 256)
	_, err := code.Emit(int64(vm.EXIT))
	require.NoError(t, err)

	lx := lexer.New([]byte("int main(){ int a; int *p; p=&a; return 1+p; }"), syms, data)
	ps := parser.New(lx, syms, code, data)
	_, err = ps.Parse()
	require.Error(t, err)
	var perr parser.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "TypeMismatch", perr.Kind)
}

func TestAssignToNonLvalueRejected(t *testing.T) {
	syms := symtab.New()
	lexer.PrimeKeywords(syms)
	vm.PrimeSyscalls(syms)
	data := arena.NewBytes("data", 256)
	code := arena.NewWords("code", 256)
	_, err := code.Emit(int64(vm.EXIT))
	require.NoError(t, err)

	lx := lexer.New([]byte("int main(){ 1 = 2; return 0; }"), syms, data)
	ps := parser.New(lx, syms, code, data)
	_, err = ps.Parse()
	require.Error(t, err)
	var perr parser.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "NotAnLvalue", perr.Kind)
}

func TestRedeclarationRejected(t *testing.T) {
	syms := symtab.New()
	lexer.PrimeKeywords(syms)
	vm.PrimeSyscalls(syms)
	data := arena.NewBytes("data", 256)
	code := arena.NewWords("code", 256)
	_, err := code.Emit(int64(vm.EXIT))
	require.NoError(t, err)

	lx := lexer.New([]byte("int x; int x; int main(){ return 0; }"), syms, data)
	ps := parser.New(lx, syms, code, data)
	_, err = ps.Parse()
	require.Error(t, err)
	var perr parser.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "Redeclaration", perr.Kind)
}

func TestPointerArithmeticScalesByPointeeSize(t *testing.T) {
	// p + 3 advances the address by 3 * sizeof(int) bytes, and q - p
	// divides that byte distance back down, so the difference is 3.
	ret := compileAndRun(t, `
int main(){
  int *p; int *q;
  p = malloc(8 * sizeof(int));
  q = p + 3;
  return q - p;
}
`)
	assert.Equal(t, int64(3), ret)
}

func TestShadowingLocalHidesGlobal(t *testing.T) {
	ret := compileAndRun(t, `
int x;
int main(){ int x; x = 5; return x; }
`)
	assert.Equal(t, int64(5), ret)
}

func TestCastChangesPointerArithmeticScale(t *testing.T) {
	ret := compileAndRun(t, `
int main(){
  int *p;
  char *c;
  p = malloc(4 * sizeof(int));
  c = (char *)p;
  c = c + 1;
  return (int)(c - (char *)p);
}
`)
	assert.Equal(t, int64(1), ret)
}
