package codecheck

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

func init() {
	DefaultRegistry.Register("python", []string{".py"}, func() Validator {
		return newTreeSitterValidator("python", python.GetLanguage())
	})
	DefaultRegistry.Register("typescript", []string{".ts", ".tsx"}, func() Validator {
		return newTreeSitterValidator("typescript", typescript.GetLanguage())
	})
}

// treeSitterValidator checks source with a tree-sitter grammar. Error
// and missing nodes in the parse tree become positioned errors.
type treeSitterValidator struct {
	language string
	parser   *sitter.Parser
}

func newTreeSitterValidator(language string, lang *sitter.Language) *treeSitterValidator {
	p := sitter.NewParser()
	p.SetLanguage(lang)
	return &treeSitterValidator{language: language, parser: p}
}

func (v *treeSitterValidator) Language() string { return v.language }

func (v *treeSitterValidator) Validate(ctx context.Context, source []byte) (*Result, error) {
	tree, err := v.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()

	res := &Result{}
	root := tree.RootNode()
	if root.HasError() {
		collectSyntaxErrors(root, source, res)
		if len(res.Errors) == 0 {
			// HasError was set but no ERROR node surfaced; report at
			// the root so the artifact still fails.
			res.addError(1, 1, "%s source contains a syntax error", v.language)
		}
	}
	return res, nil
}

// collectSyntaxErrors walks the tree and records every ERROR and
// MISSING node. Children of an ERROR node are not descended into; one
// finding per broken region is enough.
func collectSyntaxErrors(n *sitter.Node, source []byte, res *Result) {
	if n.IsMissing() {
		pt := n.StartPoint()
		res.addError(int(pt.Row)+1, int(pt.Column)+1, "missing %s", n.Type())
		return
	}
	if n.Type() == "ERROR" {
		pt := n.StartPoint()
		snippet := n.Content(source)
		if len(snippet) > 40 {
			snippet = snippet[:40] + "..."
		}
		res.addError(int(pt.Row)+1, int(pt.Column)+1, "unexpected %q", snippet)
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collectSyntaxErrors(n.Child(i), source, res)
	}
}
