package compiler_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpk/c4go/internal/compiler"
)

// run compiles and executes src, returning its standard output and exit
// value.
func run(t *testing.T, src string) (string, int64) {
	t.Helper()
	var out bytes.Buffer
	c := compiler.New(compiler.WithStdout(&out))
	ret, err := c.Run(context.Background(), []byte(src))
	require.NoError(t, err)
	return out.String(), ret
}

func TestEndToEnd(t *testing.T) {
	cases := []struct {
		name   string
		src    string
		stdout string
		ret    int64
	}{
		{
			name:   "E1_hello_world",
			src:    `int main(){ printf("Hello, world!\n"); return 0; }`,
			stdout: "Hello, world!\n",
			ret:    0,
		},
		{
			name:   "E2_function_call",
			src:    `int add(int x,int y){return x+y;} int main(){ printf("%d\n", add(10,20)); return 0; }`,
			stdout: "30\n",
			ret:    0,
		},
		{
			name:   "E3_while_loop",
			src:    `int main(){ int i; int s; s=0; i=1; while(i<=5){ s=s+i; i=i+1; } printf("%d\n", s); return s; }`,
			stdout: "15\n",
			ret:    15,
		},
		{
			name:   "E4_pointer_arithmetic",
			src:    `int main(){ int a; int *p; a=100; p=&a; *p = *p + 10; printf("%d\n", a); return 0; }`,
			stdout: "110\n",
			ret:    0,
		},
		{
			name: "E5_nested_control_flow",
			src: `int main(){ int i; int j;
  for(i=0;i<2;i=i+1){ j=0; while(j<2){ if(i==j) printf("eq "); else printf("ne "); j=j+1;} }
  printf("\n"); return 0; }`,
			stdout: "eq ne ne eq \n",
			ret:    0,
		},
		{
			name:   "E6_recursive_fib",
			src:    `int f(int n){ if(n<=1) return n; return f(n-1)+f(n-2);} int main(){ printf("%d\n", f(10)); return 0; }`,
			stdout: "55\n",
			ret:    0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stdout, ret := run(t, tc.src)
			assert.Equal(t, tc.stdout, stdout)
			assert.Equal(t, tc.ret, ret)
		})
	}
}

func TestEmptyFunctionBody(t *testing.T) {
	_, ret := run(t, `int main(){ return 0; }`)
	assert.Equal(t, int64(0), ret)
}

func TestZeroIterationFor(t *testing.T) {
	_, ret := run(t, `int main(){ int i; i=7; for(i=0;i<0;i=i+1){ i=999; } return i; }`)
	assert.Equal(t, int64(0), ret)
}

func TestPrecedence(t *testing.T) {
	_, ret := run(t, `int main(){ return 1+2*3-4/2; }`)
	assert.Equal(t, int64(5), ret)
}

func TestNonCommutativeMultiParamCall(t *testing.T) {
	// add(10,20) alone can't catch a reversed parameter binding since
	// addition is commutative; subtraction pins down argument order.
	_, ret := run(t, `int sub(int x,int y){return x-y;} int main(){ return sub(10,3); }`)
	assert.Equal(t, int64(7), ret)
}

func TestThreeParamOrderPreserved(t *testing.T) {
	src := `
int cat(int a,int b,int c){ return a*100+b*10+c; }
int main(){ return cat(1,2,3); }
`
	_, ret := run(t, src)
	assert.Equal(t, int64(123), ret)
}

func TestGlobalsAndEnum(t *testing.T) {
	src := `
enum { RED, GREEN, BLUE };
int counter;
int bump(){ counter = counter + 1; return counter; }
int main(){ counter = GREEN; bump(); bump(); return counter; }
`
	_, ret := run(t, src)
	assert.Equal(t, int64(3), ret)
}

func TestStringRoundTrip(t *testing.T) {
	stdout, ret := run(t, `int main(){ printf("%s", "hello"); return 0; }`)
	assert.Equal(t, "hello", stdout)
	assert.Equal(t, int64(0), ret)
}

func TestMemcmpReflexive(t *testing.T) {
	src := `
int main(){
  char *p;
  p = malloc(4);
  memset(p, 65, 4);
  return memcmp(p, p, 4);
}
`
	_, ret := run(t, src)
	assert.Equal(t, int64(0), ret)
}

func TestCompileErrorUndefinedMain(t *testing.T) {
	c := compiler.New()
	_, err := c.Compile([]byte(`int add(int x,int y){ return x+y; }`))
	require.Error(t, err)
}

func TestDisassemble(t *testing.T) {
	c := compiler.New()
	prog, err := c.Compile([]byte(`int main(){ return 0; }`))
	require.NoError(t, err)
	out := compiler.Disassemble(prog)
	assert.Contains(t, out, "ENT")
	assert.Contains(t, out, "LEV")
}

func TestTokenize(t *testing.T) {
	c := compiler.New()
	toks, err := c.Tokenize([]byte(`int main(){ return 0; }`))
	require.NoError(t, err)
	out := compiler.DumpTokens(toks)
	assert.Contains(t, out, "int")
	assert.Contains(t, out, "ident(main)")
	assert.Contains(t, out, "number(0)")
	assert.True(t, strings.HasSuffix(out, "EOF\n"))
}

func TestUnaryAndLogical(t *testing.T) {
	_, ret := run(t, `int main(){ int a; a = 0; return (!a) && (1 || 0); }`)
	assert.Equal(t, int64(1), ret)
}

func TestTernary(t *testing.T) {
	_, ret := run(t, `int main(){ int a; a = 3; return a > 2 ? 100 : 200; }`)
	assert.Equal(t, int64(100), ret)
}

func TestPostfixIncDec(t *testing.T) {
	_, ret := run(t, `int main(){ int a; int b; a = 5; b = a++; return b*10 + a; }`)
	assert.Equal(t, int64(56), ret)
}

func TestArrayViaPointer(t *testing.T) {
	src := `
int main(){
  int *p;
  p = malloc(3 * sizeof(int));
  p[0] = 10; p[1] = 20; p[2] = 30;
  return p[0] + p[1] + p[2];
}
`
	_, ret := run(t, src)
	assert.Equal(t, int64(60), ret)
}

func TestExitSyscall(t *testing.T) {
	_, ret := run(t, `int main(){ exit(42); return 0; }`)
	assert.Equal(t, int64(42), ret)
}

func TestTimeoutCancelsInfiniteLoop(t *testing.T) {
	c := compiler.New()
	prog, err := c.Compile([]byte(`int main(){ while(1){} return 0; }`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 1)
	defer cancel()
	_, err = c.Execute(ctx, prog)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
