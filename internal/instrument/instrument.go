// Package instrument rewrites Go source so that every basic block reports
// itself to the tracer edge map.
package instrument

import (
	"bytes"
	"go/token"
	"path/filepath"
	"strconv"

	"github.com/dave/dst"
	"github.com/dave/dst/decorator"
	"github.com/dave/dst/dstutil"
	"github.com/pkg/errors"

	"alma.local/greybox/tracer"
)

const (
	TracerPath  = "alma.local/greybox/tracer"
	TracerAlias = "gbtracer"
)

// ErrInstrumented is returned for a file that already imports the tracer.
var ErrInstrumented = errors.New("file already imports the tracer")

// Site is one instrumented block.
type Site struct {
	ID    uint32 `json:"id"`
	File  string `json:"file"`
	Func  string `json:"func"`
	Block int    `json:"block"`
	Kind  string `json:"kind"`
}

// Source instruments src, the content of filename. Files without any block
// are returned unchanged.
func Source(filename string, src []byte) ([]byte, []Site, error) {
	f, err := decorator.Parse(src)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "parse %s", filename)
	}
	for _, imp := range f.Imports {
		if imp.Path != nil && imp.Path.Value == strconv.Quote(TracerPath) {
			return nil, nil, errors.Wrap(ErrInstrumented, filename)
		}
	}

	pkg := f.Name.Name
	base := filepath.Base(filename)
	var (
		sites   []Site
		curFunc string
		block   int
	)
	site := func(kind string) dst.Stmt {
		block++
		id := tracer.EdgeID(pkg, base, curFunc, strconv.Itoa(block))
		sites = append(sites, Site{ID: id, File: filename, Func: curFunc, Block: block, Kind: kind})
		return hitStmt(id)
	}

	dstutil.Apply(f, func(c *dstutil.Cursor) bool {
		switch n := c.Node().(type) {
		case *dst.FuncDecl:
			curFunc = funcName(n)
			block = 0
		case *dst.BlockStmt:
			switch c.Parent().(type) {
			case *dst.SwitchStmt, *dst.TypeSwitchStmt, *dst.SelectStmt:
				// Their bodies hold clauses, which are handled below.
				return true
			}
			n.List = append([]dst.Stmt{site("block")}, n.List...)
		case *dst.CaseClause:
			n.Body = append([]dst.Stmt{site("case")}, n.Body...)
		case *dst.CommClause:
			n.Body = append([]dst.Stmt{site("comm")}, n.Body...)
		}
		return true
	}, nil)

	if len(sites) == 0 {
		return src, nil, nil
	}

	var maxID uint32
	for _, s := range sites {
		maxID = max(maxID, s.ID)
	}
	addImport(f)
	f.Decls = append(f.Decls, initDecl(maxID+1))

	var buf bytes.Buffer
	if err := decorator.Fprint(&buf, f); err != nil {
		return nil, nil, errors.Wrapf(err, "print %s", filename)
	}
	return buf.Bytes(), sites, nil
}

func funcName(n *dst.FuncDecl) string {
	if n.Recv == nil || len(n.Recv.List) == 0 {
		return n.Name.Name
	}
	t := n.Recv.List[0].Type
	if star, ok := t.(*dst.StarExpr); ok {
		t = star.X
	}
	if idx, ok := t.(*dst.IndexExpr); ok {
		t = idx.X
	}
	if id, ok := t.(*dst.Ident); ok {
		return id.Name + "." + n.Name.Name
	}
	return n.Name.Name
}

func tracerCall(fn string, arg int) *dst.CallExpr {
	return &dst.CallExpr{
		Fun: &dst.SelectorExpr{
			X:   dst.NewIdent(TracerAlias),
			Sel: dst.NewIdent(fn),
		},
		Args: []dst.Expr{&dst.BasicLit{Kind: token.INT, Value: strconv.Itoa(arg)}},
	}
}

func hitStmt(id uint32) dst.Stmt {
	return &dst.ExprStmt{X: tracerCall("Hit", int(id))}
}

func addImport(f *dst.File) {
	spec := &dst.ImportSpec{
		Name: dst.NewIdent(TracerAlias),
		Path: &dst.BasicLit{Kind: token.STRING, Value: strconv.Quote(TracerPath)},
	}
	decl := &dst.GenDecl{Tok: token.IMPORT, Specs: []dst.Spec{spec}}
	f.Decls = append([]dst.Decl{decl}, f.Decls...)
}

func initDecl(edges uint32) *dst.FuncDecl {
	return &dst.FuncDecl{
		Name: dst.NewIdent("init"),
		Type: &dst.FuncType{Params: &dst.FieldList{}},
		Body: &dst.BlockStmt{List: []dst.Stmt{
			&dst.ExprStmt{X: tracerCall("Extend", int(edges))},
		}},
		Decs: dst.FuncDeclDecorations{NodeDecs: dst.NodeDecs{Before: dst.EmptyLine}},
	}
}
