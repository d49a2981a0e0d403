// Package parser implements the single-pass recursive-descent
// parser/code generator: it never builds a syntax tree, instead emitting
// VM instructions directly as it recognizes each construct, using
// forward-reference patch addresses to resolve branch targets it
// discovers only later in the same pass.
package parser

import (
	"github.com/dpk/c4go/internal/arena"
	"github.com/dpk/c4go/internal/ctype"
	"github.com/dpk/c4go/internal/lexer"
	"github.com/dpk/c4go/internal/symtab"
	"github.com/dpk/c4go/internal/token"
	"github.com/dpk/c4go/internal/vm"
)

// exprState tracks one (sub)expression's codegen result. When lvalue is
// true, the accumulator holds an ADDRESS (of type typ) that has not yet
// been loaded through — the deferred-load technique that lets an
// assignment's left-hand side reuse the address instead of loading and
// discarding it. materialize forces the load once the caller knows the
// value, rather than the address, is needed.
type exprState struct {
	typ    ctype.Type
	lvalue bool
	isCall bool // typ carries the callee's return type; symID names it
	symID  int
}

// opInfo gives one binary operator's precedence level (higher binds
// tighter) for the precedence-climbing loop in parseBinary.
type opInfo struct {
	prec int
}

var binOps = map[token.Kind]opInfo{
	token.Lor: {1},
	token.Lan: {2},
	token.Or:  {3},
	token.Xor: {4},
	token.And: {5},
	token.Eq:  {6}, token.Ne: {6},
	token.Lt: {7}, token.Gt: {7}, token.Le: {7}, token.Ge: {7},
	token.Shl: {8}, token.Shr: {8},
	token.Add: {9}, token.Sub: {9},
	token.Mul: {10}, token.Div: {10}, token.Mod: {10},
}

var simpleOpMap = map[token.Kind]vm.Op{
	token.Or: vm.OR, token.Xor: vm.XOR, token.And: vm.AND,
	token.Eq: vm.EQ, token.Ne: vm.NE,
	token.Lt: vm.LT, token.Gt: vm.GT, token.Le: vm.LE, token.Ge: vm.GE,
	token.Shl: vm.SHL, token.Shr: vm.SHR,
	token.Mul: vm.MUL, token.Div: vm.DIV, token.Mod: vm.MOD,
}

var assignOps = map[token.Kind]vm.Op{
	token.AddAssign: vm.ADD, token.SubAssign: vm.SUB,
	token.MulAssign: vm.MUL, token.DivAssign: vm.DIV, token.ModAssign: vm.MOD,
	token.ShlAssign: vm.SHL, token.ShrAssign: vm.SHR,
	token.AndAssign: vm.AND, token.OrAssign: vm.OR, token.XorAssign: vm.XOR,
}

// Parser consumes tokens from a primed lexer and emits directly into
// code/data. Syms must already carry the keyword and syscall priming
// (lexer.PrimeKeywords, vm.PrimeSyscalls) before Parse is called.
type Parser struct {
	lex  *lexer.Lexer
	syms *symtab.Table
	code *arena.Words
	data *arena.Bytes

	cur token.Token

	localCount int
	shadowed   []int
}

// New returns a Parser reading from lex and emitting into code/data.
func New(lex *lexer.Lexer, syms *symtab.Table, code *arena.Words, data *arena.Bytes) *Parser {
	return &Parser{lex: lex, syms: syms, code: code, data: data}
}

// Parse consumes the entire token stream, emitting one function or
// global declaration at a time, and returns the code address of main.
func (p *Parser) Parse() (int, error) {
	if err := p.advance(); err != nil {
		return 0, err
	}
	for p.cur.Kind != token.EOF {
		if p.cur.Kind == token.Enum {
			if err := p.parseEnum(); err != nil {
				return 0, err
			}
			continue
		}
		if err := p.parseTopLevel(); err != nil {
			return 0, err
		}
	}
	id, ok := p.syms.Lookup("main")
	if !ok {
		return 0, Error{"Undefined", p.cur.Line, "main is not defined"}
	}
	entry := p.syms.Get(id)
	if entry.Class != symtab.Fun {
		return 0, Error{"Undefined", p.cur.Line, "main is not defined as a function"}
	}
	return int(entry.Value), nil
}

func (p *Parser) advance() error {
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *Parser) expect(k token.Kind) error {
	if p.cur.Kind != k {
		return Error{"UnexpectedToken", p.cur.Line, "expected " + k.String() + ", found " + p.cur.Kind.String()}
	}
	return p.advance()
}

// --- emission helpers ---

func (p *Parser) emit(op vm.Op) error {
	_, err := p.code.Emit(int64(op))
	return err
}

func (p *Parser) emitImm(op vm.Op, imm int64) error {
	if err := p.emit(op); err != nil {
		return err
	}
	_, err := p.code.Emit(imm)
	return err
}

// emitBranch emits op with a placeholder operand and returns the address
// of that operand word, to be resolved later by patch.
func (p *Parser) emitBranch(op vm.Op) (int, error) {
	if err := p.emit(op); err != nil {
		return 0, err
	}
	return p.code.Emit(0)
}

func (p *Parser) patch(addr int) error {
	return p.code.Set(addr, int64(p.code.Len()))
}

func (p *Parser) patchTo(addr int, target int) error {
	return p.code.Set(addr, int64(target))
}

func loadOpFor(t ctype.Type) vm.Op {
	if t.Size() == 1 {
		return vm.LC
	}
	return vm.LI
}

func storeOpFor(t ctype.Type) vm.Op {
	if t.Size() == 1 {
		return vm.SC
	}
	return vm.SI
}

// materialize loads e's value into the accumulator if it currently holds
// a deferred address, and returns e's type either way.
func (p *Parser) materialize(e *exprState) (ctype.Type, error) {
	if e.isCall {
		return 0, Error{"NotAValue", p.cur.Line, "function used as a value without being called"}
	}
	if e.lvalue {
		if err := p.emit(loadOpFor(e.typ)); err != nil {
			return 0, err
		}
		e.lvalue = false
	}
	return e.typ, nil
}

// scaleAccumulator multiplies the value currently in the accumulator by
// size, used to scale an integer operand of pointer arithmetic.
func (p *Parser) scaleAccumulator(size int) error {
	if size <= 1 {
		return nil
	}
	if err := p.emit(vm.PSH); err != nil {
		return err
	}
	if err := p.emitImm(vm.IMM, int64(size)); err != nil {
		return err
	}
	return p.emit(vm.MUL)
}

// --- types ---

func (p *Parser) baseType() (ctype.Type, bool, error) {
	var base ctype.Type
	switch p.cur.Kind {
	case token.Int:
		base = ctype.INT
	case token.Char_:
		base = ctype.CHAR
	case token.Void:
		base = ctype.VOID
	default:
		return 0, false, nil
	}
	if err := p.advance(); err != nil {
		return 0, false, err
	}
	t := base
	for p.cur.Kind == token.Mul {
		t = t.Ptr()
		if err := p.advance(); err != nil {
			return 0, false, err
		}
	}
	return t, true, nil
}

// --- top level ---

func (p *Parser) parseEnum() error {
	if err := p.advance(); err != nil { // 'enum'
		return err
	}
	if p.cur.Kind == token.Ident {
		if err := p.advance(); err != nil { // discard optional tag
			return err
		}
	}
	if err := p.expect(token.Brace); err != nil {
		return err
	}
	val := int64(0)
	for {
		if p.cur.Kind != token.Ident {
			return Error{"UnexpectedToken", p.cur.Line, "expected enumerator name"}
		}
		id := p.syms.Intern(p.cur.Name)
		if existing := p.syms.Get(id); existing.Class != symtab.Unresolved {
			return Error{"Redeclaration", p.cur.Line, "redeclaration of " + p.cur.Name}
		}
		line := p.cur.Line
		if err := p.advance(); err != nil {
			return err
		}
		if p.cur.Kind == token.Assign {
			if err := p.advance(); err != nil {
				return err
			}
			neg := false
			if p.cur.Kind == token.Sub {
				neg = true
				if err := p.advance(); err != nil {
					return err
				}
			}
			if p.cur.Kind != token.Num {
				return Error{"UnexpectedToken", line, "expected integer constant in enumerator"}
			}
			val = p.cur.Value
			if neg {
				val = -val
			}
			if err := p.advance(); err != nil {
				return err
			}
		}
		p.syms.Define(id, symtab.NumConst, int(ctype.INT), val)
		val++
		if p.cur.Kind == token.Comma {
			if err := p.advance(); err != nil {
				return err
			}
			continue
		}
		break
	}
	if err := p.expect(token.BraceR); err != nil {
		return err
	}
	return p.expect(token.Semi)
}

func (p *Parser) parseTopLevel() error {
	base, ok, err := p.baseType()
	if err != nil {
		return err
	}
	if !ok {
		return Error{"UnexpectedToken", p.cur.Line, "expected a declaration, found " + p.cur.Kind.String()}
	}

	t := base
	for p.cur.Kind == token.Mul {
		t = t.Ptr()
		if err := p.advance(); err != nil {
			return err
		}
	}
	if p.cur.Kind != token.Ident {
		return Error{"UnexpectedToken", p.cur.Line, "expected identifier in declaration"}
	}
	name := p.cur.Name
	line := p.cur.Line
	id := p.syms.Intern(name)
	if err := p.advance(); err != nil {
		return err
	}

	if p.cur.Kind == token.Paren {
		return p.parseFunction(id, name, line, t)
	}
	if existing := p.syms.Get(id); existing.Class != symtab.Unresolved {
		return Error{"Redeclaration", line, "redeclaration of " + name}
	}
	if err := p.defineGlobal(id, t); err != nil {
		return err
	}
	for p.cur.Kind == token.Comma {
		if err := p.advance(); err != nil {
			return err
		}
		gt := base
		for p.cur.Kind == token.Mul {
			gt = gt.Ptr()
			if err := p.advance(); err != nil {
				return err
			}
		}
		if p.cur.Kind != token.Ident {
			return Error{"UnexpectedToken", p.cur.Line, "expected identifier in declaration"}
		}
		gid := p.syms.Intern(p.cur.Name)
		if existing := p.syms.Get(gid); existing.Class != symtab.Unresolved {
			return Error{"Redeclaration", p.cur.Line, "redeclaration of " + p.cur.Name}
		}
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.defineGlobal(gid, gt); err != nil {
			return err
		}
	}
	return p.expect(token.Semi)
}

func (p *Parser) defineGlobal(id int, t ctype.Type) error {
	addr, err := p.data.Alloc(ctype.WordSize)
	if err != nil {
		return err
	}
	p.syms.Define(id, symtab.Glo, int(t), int64(addr))
	return nil
}

func (p *Parser) parseFunction(id int, name string, line int, retType ctype.Type) error {
	if existing := p.syms.Get(id); existing.Class != symtab.Unresolved {
		return Error{"Redeclaration", line, "redeclaration of function " + name}
	}
	entryAddr := p.code.Len()
	p.syms.Define(id, symtab.Fun, int(retType), int64(entryAddr))

	if err := p.advance(); err != nil { // '('
		return err
	}
	type param struct {
		id int
		pt ctype.Type
	}
	var params []param
	for p.cur.Kind != token.ParenR {
		if len(params) > 0 {
			if err := p.expect(token.Comma); err != nil {
				return err
			}
		}
		pt, ok, err := p.baseType()
		if err != nil {
			return err
		}
		if !ok {
			return Error{"UnexpectedToken", p.cur.Line, "expected parameter type"}
		}
		if p.cur.Kind != token.Ident {
			return Error{"UnexpectedToken", p.cur.Line, "expected parameter name"}
		}
		pid := p.syms.Intern(p.cur.Name)
		if err := p.advance(); err != nil {
			return err
		}
		params = append(params, param{pid, pt})
	}
	// Arguments are pushed left-to-right at the call site (parseCall), so
	// the first-declared parameter ends up farthest from bp and the
	// last-declared parameter sits at bp+2 — offsets are assigned in
	// reverse of declaration order.
	for i, pr := range params {
		offset := int64(len(params)-i) + 1
		p.syms.Shadow(pr.id, int(pr.pt), offset)
		p.shadowed = append(p.shadowed, pr.id)
	}
	if err := p.advance(); err != nil { // ')'
		return err
	}
	if err := p.expect(token.Brace); err != nil {
		return err
	}

	p.localCount = 0
	for {
		base, ok, err := p.baseType()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		for {
			lt := base
			for p.cur.Kind == token.Mul {
				lt = lt.Ptr()
				if err := p.advance(); err != nil {
					return err
				}
			}
			if p.cur.Kind != token.Ident {
				return Error{"UnexpectedToken", p.cur.Line, "expected local variable name"}
			}
			lname := p.cur.Name
			lid := p.syms.Intern(lname)
			if existing := p.syms.Get(lid); existing.Class == symtab.Loc {
				return Error{"Redeclaration", p.cur.Line, "redeclaration of " + lname}
			}
			if err := p.advance(); err != nil {
				return err
			}
			p.localCount++
			p.syms.Shadow(lid, int(lt), -int64(p.localCount))
			p.shadowed = append(p.shadowed, lid)
			if p.cur.Kind == token.Comma {
				if err := p.advance(); err != nil {
					return err
				}
				continue
			}
			break
		}
		if err := p.expect(token.Semi); err != nil {
			return err
		}
	}

	if err := p.emitImm(vm.ENT, int64(p.localCount)); err != nil {
		return err
	}

	for p.cur.Kind != token.BraceR {
		if err := p.parseStmt(); err != nil {
			return err
		}
	}
	if err := p.advance(); err != nil { // '}'
		return err
	}

	// Every function falls through to an LEV, whether or not its last
	// statement already returned: a fallthrough past the end of a
	// non-void function is undefined in the source language, but must
	// still leave the VM in a well-formed state.
	if err := p.emit(vm.LEV); err != nil {
		return err
	}

	for i := len(p.shadowed) - 1; i >= 0; i-- {
		p.syms.Unshadow(p.shadowed[i])
	}
	p.shadowed = p.shadowed[:0]
	return nil
}

// --- statements ---

func (p *Parser) parseStmt() error {
	switch p.cur.Kind {
	case token.If:
		return p.parseIf()
	case token.While:
		return p.parseWhile()
	case token.For:
		return p.parseFor()
	case token.Return:
		return p.parseReturn()
	case token.Brace:
		return p.parseBlock()
	case token.Semi:
		return p.advance()
	default:
		if _, err := p.parseExpr(); err != nil {
			return err
		}
		return p.expect(token.Semi)
	}
}

func (p *Parser) parseBlock() error {
	if err := p.advance(); err != nil { // '{'
		return err
	}
	for p.cur.Kind != token.BraceR {
		if err := p.parseStmt(); err != nil {
			return err
		}
	}
	return p.advance() // '}'
}

func (p *Parser) parseIf() error {
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.expect(token.Paren); err != nil {
		return err
	}
	if _, err := p.parseExpr(); err != nil {
		return err
	}
	if err := p.expect(token.ParenR); err != nil {
		return err
	}
	elsePatch, err := p.emitBranch(vm.BZ)
	if err != nil {
		return err
	}
	if err := p.parseStmt(); err != nil {
		return err
	}
	if p.cur.Kind == token.Else {
		endPatch, err := p.emitBranch(vm.JMP)
		if err != nil {
			return err
		}
		if err := p.patch(elsePatch); err != nil {
			return err
		}
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.parseStmt(); err != nil {
			return err
		}
		return p.patch(endPatch)
	}
	return p.patch(elsePatch)
}

func (p *Parser) parseWhile() error {
	if err := p.advance(); err != nil {
		return err
	}
	loopStart := p.code.Len()
	if err := p.expect(token.Paren); err != nil {
		return err
	}
	if _, err := p.parseExpr(); err != nil {
		return err
	}
	if err := p.expect(token.ParenR); err != nil {
		return err
	}
	exitPatch, err := p.emitBranch(vm.BZ)
	if err != nil {
		return err
	}
	if err := p.parseStmt(); err != nil {
		return err
	}
	if err := p.emitImm(vm.JMP, int64(loopStart)); err != nil {
		return err
	}
	return p.patch(exitPatch)
}

// parseFor compiles init; cond; post in the same order the grammar
// reads them — init, cond, post, body — and sequences them into the
// correct execution order (cond, body, post, cond, ...) with jumps
// rather than buffering, since nothing here builds a syntax tree to
// reorder later:
//
//	init
//
// condCheck:
//
//	cond
//	BZ exit                 (omitted when cond is absent)
//	JMP body
//
// post:
//
//	post-expr
//	JMP condCheck
//
// body:
//
//	stmt
//	JMP post
//
// exit:
func (p *Parser) parseFor() error {
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.expect(token.Paren); err != nil {
		return err
	}
	if p.cur.Kind != token.Semi {
		if _, err := p.parseExpr(); err != nil {
			return err
		}
	}
	if err := p.expect(token.Semi); err != nil {
		return err
	}

	condAddr := p.code.Len()
	hasCond := p.cur.Kind != token.Semi
	var exitPatch int
	if hasCond {
		if _, err := p.parseExpr(); err != nil {
			return err
		}
		var err error
		exitPatch, err = p.emitBranch(vm.BZ)
		if err != nil {
			return err
		}
	}
	if err := p.expect(token.Semi); err != nil {
		return err
	}
	toBodyPatch, err := p.emitBranch(vm.JMP)
	if err != nil {
		return err
	}

	postAddr := p.code.Len()
	if p.cur.Kind != token.ParenR {
		if _, err := p.parseExpr(); err != nil {
			return err
		}
	}
	if err := p.expect(token.ParenR); err != nil {
		return err
	}
	if err := p.emitImm(vm.JMP, int64(condAddr)); err != nil {
		return err
	}

	bodyAddr := p.code.Len()
	if err := p.patchTo(toBodyPatch, bodyAddr); err != nil {
		return err
	}
	if err := p.parseStmt(); err != nil {
		return err
	}
	if err := p.emitImm(vm.JMP, int64(postAddr)); err != nil {
		return err
	}

	if hasCond {
		return p.patch(exitPatch)
	}
	return nil
}

func (p *Parser) parseReturn() error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.cur.Kind != token.Semi {
		if _, err := p.parseExpr(); err != nil {
			return err
		}
	}
	if err := p.expect(token.Semi); err != nil {
		return err
	}
	return p.emit(vm.LEV)
}

// --- expressions ---

// parseExpr parses a full expression and returns its materialized
// (loaded) type.
func (p *Parser) parseExpr() (ctype.Type, error) {
	e, err := p.parseAssign()
	if err != nil {
		return 0, err
	}
	return p.materialize(&e)
}

func (p *Parser) parseAssign() (exprState, error) {
	lhs, err := p.parseConditional()
	if err != nil {
		return exprState{}, err
	}

	if p.cur.Kind == token.Assign {
		if !lhs.lvalue {
			return exprState{}, Error{"NotAnLvalue", p.cur.Line, "left side of '=' is not assignable"}
		}
		if err := p.emit(vm.PSH); err != nil { // push address, still in accumulator
			return exprState{}, err
		}
		if err := p.advance(); err != nil {
			return exprState{}, err
		}
		rhs, err := p.parseAssign()
		if err != nil {
			return exprState{}, err
		}
		if _, err := p.materialize(&rhs); err != nil {
			return exprState{}, err
		}
		if err := p.emit(storeOpFor(lhs.typ)); err != nil {
			return exprState{}, err
		}
		return exprState{typ: lhs.typ}, nil
	}

	if op, ok := assignOps[p.cur.Kind]; ok {
		if !lhs.lvalue {
			return exprState{}, Error{"NotAnLvalue", p.cur.Line, "left side of a compound assignment is not assignable"}
		}
		line := p.cur.Line
		if err := p.emit(vm.PSH); err != nil { // push address
			return exprState{}, err
		}
		if err := p.emit(loadOpFor(lhs.typ)); err != nil { // load current value (address still in a before PSH)
			return exprState{}, err
		}
		if err := p.emit(vm.PSH); err != nil { // push current value
			return exprState{}, err
		}
		if err := p.advance(); err != nil {
			return exprState{}, err
		}
		rhs, err := p.parseAssign()
		if err != nil {
			return exprState{}, err
		}
		rhsType, err := p.materialize(&rhs)
		if err != nil {
			return exprState{}, err
		}
		if lhs.typ.IsPtr() && (op == vm.ADD || op == vm.SUB) {
			if err := p.scaleAccumulator(lhs.typ.Deref().Size()); err != nil {
				return exprState{}, err
			}
		} else if rhsType.IsPtr() {
			return exprState{}, Error{"TypeMismatch", line, "pointer is not valid on the right of a compound assignment"}
		}
		if err := p.emit(op); err != nil { // pops value, combines with a(scaled rhs)
			return exprState{}, err
		}
		if err := p.emit(storeOpFor(lhs.typ)); err != nil { // pops address, stores a
			return exprState{}, err
		}
		return exprState{typ: lhs.typ}, nil
	}

	return lhs, nil
}

func (p *Parser) parseConditional() (exprState, error) {
	cond, err := p.parseBinary(1)
	if err != nil {
		return exprState{}, err
	}
	if p.cur.Kind != token.Cond {
		return cond, nil
	}
	if _, err := p.materialize(&cond); err != nil {
		return exprState{}, err
	}
	if err := p.advance(); err != nil {
		return exprState{}, err
	}
	elsePatch, err := p.emitBranch(vm.BZ)
	if err != nil {
		return exprState{}, err
	}
	thenVal, err := p.parseAssign()
	if err != nil {
		return exprState{}, err
	}
	thenType, err := p.materialize(&thenVal)
	if err != nil {
		return exprState{}, err
	}
	endPatch, err := p.emitBranch(vm.JMP)
	if err != nil {
		return exprState{}, err
	}
	if err := p.patch(elsePatch); err != nil {
		return exprState{}, err
	}
	if err := p.expect(token.Colon); err != nil {
		return exprState{}, err
	}
	elseVal, err := p.parseConditional()
	if err != nil {
		return exprState{}, err
	}
	if _, err := p.materialize(&elseVal); err != nil {
		return exprState{}, err
	}
	if err := p.patch(endPatch); err != nil {
		return exprState{}, err
	}
	return exprState{typ: thenType}, nil
}

// parseBinary is the precedence-climbing loop shared by every binary
// operator level from || (lowest) down to * / % (highest); unary and
// primary expressions are parsed once per operand by parseUnary.
func (p *Parser) parseBinary(minPrec int) (exprState, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return exprState{}, err
	}
	for {
		info, ok := binOps[p.cur.Kind]
		if !ok || info.prec < minPrec {
			break
		}
		op := p.cur.Kind
		line := p.cur.Line
		if err := p.advance(); err != nil {
			return exprState{}, err
		}
		lhsType, err := p.materialize(&lhs)
		if err != nil {
			return exprState{}, err
		}

		switch op {
		case token.Lan:
			patch, err := p.emitBranch(vm.BZ)
			if err != nil {
				return exprState{}, err
			}
			rhs, err := p.parseBinary(info.prec + 1)
			if err != nil {
				return exprState{}, err
			}
			if _, err := p.materialize(&rhs); err != nil {
				return exprState{}, err
			}
			if err := p.patch(patch); err != nil {
				return exprState{}, err
			}
			lhs = exprState{typ: ctype.INT}

		case token.Lor:
			patch, err := p.emitBranch(vm.BNZ)
			if err != nil {
				return exprState{}, err
			}
			rhs, err := p.parseBinary(info.prec + 1)
			if err != nil {
				return exprState{}, err
			}
			if _, err := p.materialize(&rhs); err != nil {
				return exprState{}, err
			}
			if err := p.patch(patch); err != nil {
				return exprState{}, err
			}
			lhs = exprState{typ: ctype.INT}

		default:
			if err := p.emit(vm.PSH); err != nil {
				return exprState{}, err
			}
			rhs, err := p.parseBinary(info.prec + 1)
			if err != nil {
				return exprState{}, err
			}
			rhsType, err := p.materialize(&rhs)
			if err != nil {
				return exprState{}, err
			}
			resType, err := p.emitBinOp(op, lhsType, rhsType, line)
			if err != nil {
				return exprState{}, err
			}
			lhs = exprState{typ: resType}
		}
	}
	return lhs, nil
}

func (p *Parser) emitBinOp(op token.Kind, lt, rt ctype.Type, line int) (ctype.Type, error) {
	switch op {
	case token.Add:
		if lt.IsPtr() && rt.IsPtr() {
			return 0, Error{"TypeMismatch", line, "pointer plus pointer is not valid"}
		}
		if lt.IsPtr() {
			if err := p.scaleAccumulator(lt.Deref().Size()); err != nil {
				return 0, err
			}
		} else if rt.IsPtr() {
			return 0, Error{"TypeMismatch", line, "pointer must be the left operand of '+'"}
		}
		if err := p.emit(vm.ADD); err != nil {
			return 0, err
		}
		if lt.IsPtr() {
			return lt, nil
		}
		return ctype.INT, nil

	case token.Sub:
		if lt.IsPtr() && rt.IsPtr() {
			if err := p.emit(vm.SUB); err != nil {
				return 0, err
			}
			size := lt.Deref().Size()
			if size > 1 {
				if err := p.emit(vm.PSH); err != nil {
					return 0, err
				}
				if err := p.emitImm(vm.IMM, int64(size)); err != nil {
					return 0, err
				}
				if err := p.emit(vm.DIV); err != nil {
					return 0, err
				}
			}
			return ctype.INT, nil
		}
		if lt.IsPtr() {
			if err := p.scaleAccumulator(lt.Deref().Size()); err != nil {
				return 0, err
			}
			if err := p.emit(vm.SUB); err != nil {
				return 0, err
			}
			return lt, nil
		}
		if rt.IsPtr() {
			return 0, Error{"TypeMismatch", line, "pointer must be the left operand of '-'"}
		}
		if err := p.emit(vm.SUB); err != nil {
			return 0, err
		}
		return ctype.INT, nil

	default:
		opc, ok := simpleOpMap[op]
		if !ok {
			return 0, Error{"Internal", line, "unhandled binary operator " + op.String()}
		}
		if err := p.emit(opc); err != nil {
			return 0, err
		}
		return ctype.INT, nil
	}
}

// parseUnary handles prefix operators, casts, and sizeof; everything
// else falls through to parsePostfix.
func (p *Parser) parseUnary() (exprState, error) {
	switch p.cur.Kind {
	case token.Not:
		if err := p.advance(); err != nil {
			return exprState{}, err
		}
		e, err := p.parseUnary()
		if err != nil {
			return exprState{}, err
		}
		if _, err := p.materialize(&e); err != nil {
			return exprState{}, err
		}
		if err := p.emit(vm.PSH); err != nil {
			return exprState{}, err
		}
		if err := p.emitImm(vm.IMM, 0); err != nil {
			return exprState{}, err
		}
		if err := p.emit(vm.EQ); err != nil {
			return exprState{}, err
		}
		return exprState{typ: ctype.INT}, nil

	case token.Tilde:
		if err := p.advance(); err != nil {
			return exprState{}, err
		}
		e, err := p.parseUnary()
		if err != nil {
			return exprState{}, err
		}
		t, err := p.materialize(&e)
		if err != nil {
			return exprState{}, err
		}
		if err := p.emit(vm.PSH); err != nil {
			return exprState{}, err
		}
		if err := p.emitImm(vm.IMM, -1); err != nil {
			return exprState{}, err
		}
		if err := p.emit(vm.XOR); err != nil {
			return exprState{}, err
		}
		return exprState{typ: t}, nil

	case token.Sub:
		if err := p.advance(); err != nil {
			return exprState{}, err
		}
		if err := p.emitImm(vm.IMM, 0); err != nil {
			return exprState{}, err
		}
		if err := p.emit(vm.PSH); err != nil {
			return exprState{}, err
		}
		e, err := p.parseUnary()
		if err != nil {
			return exprState{}, err
		}
		t, err := p.materialize(&e)
		if err != nil {
			return exprState{}, err
		}
		if err := p.emit(vm.SUB); err != nil {
			return exprState{}, err
		}
		return exprState{typ: t}, nil

	case token.Add:
		if err := p.advance(); err != nil {
			return exprState{}, err
		}
		return p.parseUnary()

	case token.Mul:
		if err := p.advance(); err != nil {
			return exprState{}, err
		}
		e, err := p.parseUnary()
		if err != nil {
			return exprState{}, err
		}
		t, err := p.materialize(&e)
		if err != nil {
			return exprState{}, err
		}
		if !t.IsPtr() {
			return exprState{}, Error{"TypeMismatch", p.cur.Line, "cannot dereference a non-pointer"}
		}
		return exprState{typ: t.Deref(), lvalue: true}, nil

	case token.And:
		if err := p.advance(); err != nil {
			return exprState{}, err
		}
		e, err := p.parseUnary()
		if err != nil {
			return exprState{}, err
		}
		if !e.lvalue {
			return exprState{}, Error{"NotAnLvalue", p.cur.Line, "cannot take the address of a non-lvalue"}
		}
		return exprState{typ: e.typ.Ptr()}, nil

	case token.Inc, token.Dec:
		return p.parsePrefixIncDec()

	case token.Sizeof:
		return p.parseSizeof()

	case token.Paren:
		if isCast, t, err := p.tryParseCast(); err != nil {
			return exprState{}, err
		} else if isCast {
			e, err := p.parseUnary()
			if err != nil {
				return exprState{}, err
			}
			if _, err := p.materialize(&e); err != nil {
				return exprState{}, err
			}
			return exprState{typ: t}, nil
		}
		return p.parsePostfix()

	default:
		return p.parsePostfix()
	}
}

// tryParseCast consumes "( type )" and reports isCast=true if the
// parenthesized contents started with a type keyword; otherwise it
// consumes nothing and returns isCast=false.
func (p *Parser) tryParseCast() (bool, ctype.Type, error) {
	// A one-token lookahead check is enough here: only a base-type
	// keyword can start a cast, and nothing else can start a type name
	// in this subset.
	save := *p.lex
	saveCur := p.cur
	if err := p.advance(); err != nil { // consume '('
		return false, 0, err
	}
	t, ok, err := p.baseType()
	if err != nil {
		return false, 0, err
	}
	if !ok {
		*p.lex = save
		p.cur = saveCur
		return false, 0, nil
	}
	if err := p.expect(token.ParenR); err != nil {
		return false, 0, err
	}
	return true, t, nil
}

func (p *Parser) parseSizeof() (exprState, error) {
	if err := p.advance(); err != nil {
		return exprState{}, err
	}
	if err := p.expect(token.Paren); err != nil {
		return exprState{}, err
	}
	if t, ok, err := p.baseType(); err != nil {
		return exprState{}, err
	} else if ok {
		if err := p.expect(token.ParenR); err != nil {
			return exprState{}, err
		}
		if err := p.emitImm(vm.IMM, int64(t.Size())); err != nil {
			return exprState{}, err
		}
		return exprState{typ: ctype.INT}, nil
	}
	e, err := p.parseAssign()
	if err != nil {
		return exprState{}, err
	}
	t := e.typ
	if err := p.expect(token.ParenR); err != nil {
		return exprState{}, err
	}
	size := 1
	if t.IsPtr() || t.Base() == ctype.INT {
		size = ctype.WordSize
	}
	if err := p.emitImm(vm.IMM, int64(size)); err != nil {
		return exprState{}, err
	}
	return exprState{typ: ctype.INT}, nil
}

// parsePrefixIncDec implements ++x / --x: load, add/subtract one scaled
// unit, store, leaving the NEW value in the accumulator.
func (p *Parser) parsePrefixIncDec() (exprState, error) {
	dec := p.cur.Kind == token.Dec
	if err := p.advance(); err != nil {
		return exprState{}, err
	}
	e, err := p.parseUnary()
	if err != nil {
		return exprState{}, err
	}
	if !e.lvalue {
		return exprState{}, Error{"NotAnLvalue", p.cur.Line, "operand of prefix ++/-- is not assignable"}
	}
	delta := 1
	if e.typ.IsPtr() {
		delta = e.typ.Deref().Size()
	}
	if err := p.emit(vm.PSH); err != nil { // push address
		return exprState{}, err
	}
	if err := p.emit(loadOpFor(e.typ)); err != nil { // a := *address
		return exprState{}, err
	}
	if err := p.emit(vm.PSH); err != nil { // push original value
		return exprState{}, err
	}
	if err := p.emitImm(vm.IMM, int64(delta)); err != nil {
		return exprState{}, err
	}
	op := vm.ADD
	if dec {
		op = vm.SUB
	}
	if err := p.emit(op); err != nil { // a := original +/- delta
		return exprState{}, err
	}
	if err := p.emit(storeOpFor(e.typ)); err != nil { // pop address, store
		return exprState{}, err
	}
	return exprState{typ: e.typ}, nil
}

// parsePostfixIncDec implements x++ / x--: the VM has no DUP, so the
// original value is recovered after the store by undoing the same delta
// it was just adjusted by.
func (p *Parser) parsePostfixIncDec(e exprState, dec bool) (exprState, error) {
	if !e.lvalue {
		return exprState{}, Error{"NotAnLvalue", p.cur.Line, "operand of postfix ++/-- is not assignable"}
	}
	delta := 1
	if e.typ.IsPtr() {
		delta = e.typ.Deref().Size()
	}
	fwd, back := vm.ADD, vm.SUB
	if dec {
		fwd, back = vm.SUB, vm.ADD
	}
	if err := p.emit(vm.PSH); err != nil { // push address
		return exprState{}, err
	}
	if err := p.emit(loadOpFor(e.typ)); err != nil { // a := original
		return exprState{}, err
	}
	if err := p.emit(vm.PSH); err != nil { // push original
		return exprState{}, err
	}
	if err := p.emitImm(vm.IMM, int64(delta)); err != nil {
		return exprState{}, err
	}
	if err := p.emit(fwd); err != nil { // a := original +/- delta
		return exprState{}, err
	}
	if err := p.emit(storeOpFor(e.typ)); err != nil { // pop address, store new value; a := new
		return exprState{}, err
	}
	if err := p.emit(vm.PSH); err != nil { // push new
		return exprState{}, err
	}
	if err := p.emitImm(vm.IMM, int64(delta)); err != nil {
		return exprState{}, err
	}
	if err := p.emit(back); err != nil { // a := new -/+ delta == original
		return exprState{}, err
	}
	return exprState{typ: e.typ}, nil
}

func (p *Parser) parsePostfix() (exprState, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return exprState{}, err
	}
	for {
		switch p.cur.Kind {
		case token.Brak:
			if _, err := p.materialize(&e); err != nil {
				return exprState{}, err
			}
			if err := p.emit(vm.PSH); err != nil {
				return exprState{}, err
			}
			if err := p.advance(); err != nil {
				return exprState{}, err
			}
			idx, err := p.parseAssign()
			if err != nil {
				return exprState{}, err
			}
			if _, err := p.materialize(&idx); err != nil {
				return exprState{}, err
			}
			if !e.typ.IsPtr() {
				return exprState{}, Error{"TypeMismatch", p.cur.Line, "cannot index a non-pointer"}
			}
			if err := p.scaleAccumulator(e.typ.Deref().Size()); err != nil {
				return exprState{}, err
			}
			if err := p.emit(vm.ADD); err != nil {
				return exprState{}, err
			}
			if err := p.expect(token.BrakR); err != nil {
				return exprState{}, err
			}
			e = exprState{typ: e.typ.Deref(), lvalue: true}

		case token.Paren:
			if !e.isCall {
				return exprState{}, Error{"NotCallable", p.cur.Line, "expression is not a function"}
			}
			ne, err := p.parseCall(e)
			if err != nil {
				return exprState{}, err
			}
			e = ne

		case token.Inc:
			if err := p.advance(); err != nil {
				return exprState{}, err
			}
			e, err = p.parsePostfixIncDec(e, false)
			if err != nil {
				return exprState{}, err
			}

		case token.Dec:
			if err := p.advance(); err != nil {
				return exprState{}, err
			}
			e, err = p.parsePostfixIncDec(e, true)
			if err != nil {
				return exprState{}, err
			}

		default:
			return e, nil
		}
	}
}

// parseCall compiles a call to callee (already known Fun or Sys). The
// "exit" syscall is special-cased: its single argument is evaluated
// directly into the accumulator and compiled to a bare EXIT opcode,
// matching the opcode table's single EXIT entry with no paired
// SYS_EXIT.
func (p *Parser) parseCall(callee exprState) (exprState, error) {
	entry := p.syms.Get(callee.symID)
	line := p.cur.Line
	if err := p.advance(); err != nil { // '('
		return exprState{}, err
	}

	isExit := entry.Class == symtab.Sys && entry.Name == vm.ExitSyscallName

	if isExit {
		if p.cur.Kind != token.ParenR {
			if _, err := p.parseExpr(); err != nil {
				return exprState{}, err
			}
		} else {
			if err := p.emitImm(vm.IMM, 0); err != nil {
				return exprState{}, err
			}
		}
		if err := p.expect(token.ParenR); err != nil {
			return exprState{}, err
		}
		if err := p.emit(vm.EXIT); err != nil {
			return exprState{}, err
		}
		return exprState{typ: ctype.INT}, nil
	}

	n := 0
	for p.cur.Kind != token.ParenR {
		if n > 0 {
			if err := p.expect(token.Comma); err != nil {
				return exprState{}, err
			}
		}
		if _, err := p.parseExpr(); err != nil {
			return exprState{}, err
		}
		if err := p.emit(vm.PSH); err != nil {
			return exprState{}, err
		}
		n++
	}
	if err := p.advance(); err != nil { // ')'
		return exprState{}, err
	}

	switch entry.Class {
	case symtab.Fun:
		if err := p.emitImm(vm.JSR, entry.Value); err != nil {
			return exprState{}, err
		}
	case symtab.Sys:
		if err := p.emitImm(vm.Op(entry.Value), int64(n)); err != nil {
			return exprState{}, err
		}
	default:
		return exprState{}, Error{"NotCallable", line, "not a function or syscall"}
	}
	if n > 0 {
		if err := p.emitImm(vm.ADJ, int64(n)); err != nil {
			return exprState{}, err
		}
	}
	return exprState{typ: ctype.Type(entry.Type)}, nil
}

func (p *Parser) parsePrimary() (exprState, error) {
	switch p.cur.Kind {
	case token.Num:
		v := p.cur.Value
		if err := p.advance(); err != nil {
			return exprState{}, err
		}
		if err := p.emitImm(vm.IMM, v); err != nil {
			return exprState{}, err
		}
		return exprState{typ: ctype.INT}, nil

	case token.Char:
		v := p.cur.Value
		if err := p.advance(); err != nil {
			return exprState{}, err
		}
		if err := p.emitImm(vm.IMM, v); err != nil {
			return exprState{}, err
		}
		return exprState{typ: ctype.CHAR}, nil

	case token.Str:
		v := p.cur.Value
		if err := p.advance(); err != nil {
			return exprState{}, err
		}
		if err := p.emitImm(vm.IMM, v); err != nil {
			return exprState{}, err
		}
		return exprState{typ: ctype.CHAR.Ptr()}, nil

	case token.Ident:
		id := int(p.cur.Value)
		line := p.cur.Line
		entry := p.syms.Get(id)
		if err := p.advance(); err != nil {
			return exprState{}, err
		}
		switch entry.Class {
		case symtab.Unresolved:
			return exprState{}, Error{"Undefined", line, "unresolved identifier " + entry.Name}
		case symtab.NumConst:
			if err := p.emitImm(vm.IMM, entry.Value); err != nil {
				return exprState{}, err
			}
			return exprState{typ: ctype.INT}, nil
		case symtab.Glo:
			if err := p.emitImm(vm.IMM, entry.Value); err != nil {
				return exprState{}, err
			}
			return exprState{typ: ctype.Type(entry.Type), lvalue: true}, nil
		case symtab.Loc:
			if err := p.emitImm(vm.LEA, entry.Value); err != nil {
				return exprState{}, err
			}
			return exprState{typ: ctype.Type(entry.Type), lvalue: true}, nil
		case symtab.Fun, symtab.Sys:
			return exprState{typ: ctype.Type(entry.Type), isCall: true, symID: id}, nil
		default:
			return exprState{}, Error{"NotAValue", line, "identifier cannot be used as a value"}
		}

	case token.Paren:
		if err := p.advance(); err != nil {
			return exprState{}, err
		}
		e, err := p.parseAssign()
		if err != nil {
			return exprState{}, err
		}
		if err := p.expect(token.ParenR); err != nil {
			return exprState{}, err
		}
		return e, nil

	default:
		return exprState{}, Error{"UnexpectedToken", p.cur.Line, "expected an expression, found " + p.cur.Kind.String()}
	}
}
