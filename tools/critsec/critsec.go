// Package critsec defines an analyzer that checks the interrupt-mask
// discipline: the flags returned by cpu.DisableInterrupts must be kept in a
// local variable and handed back to cpu.RestoreInterrupts by the same
// function, either directly, through defer or from a closure it declares.
//
// A save that intentionally never returns, such as the one made by a
// context that is about to exit, is marked with a //critsec:ignore comment
// on the same line.
package critsec

import (
	"go/ast"
	"go/token"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/astutil"
	"golang.org/x/tools/go/ast/inspector"
	"golang.org/x/tools/go/types/typeutil"
)

const ignoreDirective = "//critsec:ignore"

// Analyzer reports unbalanced interrupt-mask saves.
var Analyzer = &analysis.Analyzer{
	Name:     "critsec",
	Doc:      "check that every cpu.DisableInterrupts result is restored by the same function",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

var cpuPkgPath = "kernos/kernel/cpu"

func init() {
	Analyzer.Flags.StringVar(&cpuPkgPath, "cpu", cpuPkgPath, "import path of the package providing DisableInterrupts and RestoreInterrupts")
}

type checker struct {
	pass    *analysis.Pass
	ignored map[string]map[int]bool
}

func run(pass *analysis.Pass) (interface{}, error) {
	c := &checker{pass: pass, ignored: ignoredLines(pass)}
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{(*ast.FuncDecl)(nil), (*ast.FuncLit)(nil)}
	insp.Preorder(nodeFilter, func(n ast.Node) {
		switch fn := n.(type) {
		case *ast.FuncDecl:
			if fn.Body != nil {
				c.checkFunc(fn.Body)
			}
		case *ast.FuncLit:
			c.checkFunc(fn.Body)
		}
	})
	return nil, nil
}

// ignoredLines collects the lines carrying the ignore directive.
func ignoredLines(pass *analysis.Pass) map[string]map[int]bool {
	lines := make(map[string]map[int]bool)
	for _, f := range pass.Files {
		for _, group := range f.Comments {
			for _, comment := range group.List {
				if !strings.HasPrefix(comment.Text, ignoreDirective) {
					continue
				}

				pos := pass.Fset.Position(comment.Slash)
				if lines[pos.Filename] == nil {
					lines[pos.Filename] = make(map[int]bool)
				}
				lines[pos.Filename][pos.Line] = true
			}
		}
	}
	return lines
}

func (c *checker) isIgnored(pos token.Pos) bool {
	p := c.pass.Fset.Position(pos)
	return c.ignored[p.Filename][p.Line]
}

func (c *checker) isCPUFunc(call *ast.CallExpr, name string) bool {
	fn, ok := typeutil.Callee(c.pass.TypesInfo, call).(*types.Func)
	if !ok || fn.Pkg() == nil {
		return false
	}
	return fn.Pkg().Path() == cpuPkgPath && fn.Name() == name
}

func (c *checker) isSave(e ast.Expr) (*ast.CallExpr, bool) {
	call, ok := astutil.Unparen(e).(*ast.CallExpr)
	if !ok || !c.isCPUFunc(call, "DisableInterrupts") {
		return nil, false
	}
	return call, true
}

// checkFunc checks the saves made directly in body. Saves inside nested
// function literals are checked when those literals are visited.
func (c *checker) checkFunc(body *ast.BlockStmt) {
	restored, inlined := c.collectRestores(body)

	type save struct {
		call *ast.CallExpr
		obj  types.Object
	}
	var (
		saves   []save
		checked = make(map[*ast.CallExpr]bool)
	)

	ast.Inspect(body, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.FuncLit:
			return false
		case *ast.ExprStmt:
			if call, ok := c.isSave(n.X); ok {
				checked[call] = true
				c.report(call, "result of cpu.DisableInterrupts is discarded; pass it to cpu.RestoreInterrupts")
			}
		case *ast.AssignStmt:
			if len(n.Lhs) != len(n.Rhs) {
				return true
			}
			for i, rhs := range n.Rhs {
				call, ok := c.isSave(rhs)
				if !ok {
					continue
				}
				checked[call] = true
				saves = append(saves, save{call: call, obj: c.localVar(n.Lhs[i], call)})
			}
		case *ast.ValueSpec:
			if len(n.Names) != len(n.Values) {
				return true
			}
			for i, value := range n.Values {
				call, ok := c.isSave(value)
				if !ok {
					continue
				}
				checked[call] = true
				saves = append(saves, save{call: call, obj: c.localVar(n.Names[i], call)})
			}
		case *ast.CallExpr:
			if c.isCPUFunc(n, "DisableInterrupts") && !checked[n] && !inlined[n] {
				checked[n] = true
				c.report(n, "result of cpu.DisableInterrupts must be saved in a local variable")
			}
		}
		return true
	})

	for _, s := range saves {
		if s.obj != nil && !restored[s.obj] {
			c.report(s.call, "interrupt state saved in %s is never restored", s.obj.Name())
		}
	}
}

// localVar returns the variable lhs names. Saves that are discarded or
// stored anywhere but a variable are reported here and yield nil.
func (c *checker) localVar(lhs ast.Expr, call *ast.CallExpr) types.Object {
	id, ok := astutil.Unparen(lhs).(*ast.Ident)
	if !ok {
		c.report(call, "result of cpu.DisableInterrupts must be saved in a local variable")
		return nil
	}
	if id.Name == "_" {
		c.report(call, "result of cpu.DisableInterrupts is discarded; pass it to cpu.RestoreInterrupts")
		return nil
	}
	return c.pass.TypesInfo.ObjectOf(id)
}

// collectRestores returns the variables passed to RestoreInterrupts anywhere
// in body, nested closures included, and the saves passed to it inline.
func (c *checker) collectRestores(body *ast.BlockStmt) (map[types.Object]bool, map[*ast.CallExpr]bool) {
	restored := make(map[types.Object]bool)
	inlined := make(map[*ast.CallExpr]bool)

	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok || len(call.Args) != 1 || !c.isCPUFunc(call, "RestoreInterrupts") {
			return true
		}

		switch arg := astutil.Unparen(call.Args[0]).(type) {
		case *ast.Ident:
			if obj := c.pass.TypesInfo.ObjectOf(arg); obj != nil {
				restored[obj] = true
			}
		case *ast.CallExpr:
			if c.isCPUFunc(arg, "DisableInterrupts") {
				inlined[arg] = true
			}
		}
		return true
	})
	return restored, inlined
}

func (c *checker) report(call *ast.CallExpr, format string, args ...interface{}) {
	if c.isIgnored(call.Pos()) {
		return
	}
	c.pass.Reportf(call.Pos(), format, args...)
}
