package codecheck

import (
	"context"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
)

func init() {
	DefaultRegistry.Register("go", []string{".go"}, func() Validator {
		return &goValidator{}
	})
}

// goValidator checks Go source with the standard parser. It reports
// every syntax error with its position and flags exported declarations
// that carry no doc comment as suggestions.
type goValidator struct{}

func (v *goValidator) Language() string { return "go" }

func (v *goValidator) Validate(_ context.Context, source []byte) (*Result, error) {
	res := &Result{}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "artifact.go", source, parser.ParseComments|parser.AllErrors)
	if err != nil {
		var list scanner.ErrorList
		if ok := asErrorList(err, &list); ok {
			for _, e := range list {
				res.addError(e.Pos.Line, e.Pos.Column, "%s", e.Msg)
			}
		} else {
			res.addError(0, 0, "%v", err)
		}
		return res, nil
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Name.IsExported() && d.Doc == nil {
				pos := fset.Position(d.Pos())
				res.addSuggestion("exported %s at line %d has no doc comment", d.Name.Name, pos.Line)
			}
		case *ast.GenDecl:
			if d.Doc != nil {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok || !ts.Name.IsExported() || ts.Doc != nil {
					continue
				}
				pos := fset.Position(ts.Pos())
				res.addSuggestion("exported type %s at line %d has no doc comment", ts.Name.Name, pos.Line)
			}
		}
	}

	return res, nil
}

func asErrorList(err error, list *scanner.ErrorList) bool {
	if l, ok := err.(scanner.ErrorList); ok {
		*list = l
		return true
	}
	return false
}
