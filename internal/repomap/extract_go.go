package repomap

import (
	"go/ast"
	"go/parser"
	"go/token"
)

// extractGoSymbols parses a Go source file and returns its top-level
// symbols. Funcs/methods map to the original SymbolKind taxonomy's "fn"
// and "method"; interface types map to "trait" and every other named
// type declaration to "struct", since Go has no direct analogue of
// Rust's enum/impl/assoc_fn split. "enum" is never emitted.
func extractGoSymbols(projectRoot, relPath string, src []byte) ([]SymbolRecord, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, relPath, src, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	var out []SymbolRecord
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			kind := "fn"
			parent := ""
			if d.Recv != nil && len(d.Recv.List) > 0 {
				kind = "method"
				parent = receiverTypeName(d.Recv.List[0].Type)
			}
			start := fset.Position(d.Pos()).Line
			end := fset.Position(d.End()).Line
			out = append(out, SymbolRecord{
				ProjectRoot: projectRoot,
				FilePath:    relPath,
				Name:        d.Name.Name,
				Kind:        kind,
				StartLine:   start,
				EndLine:     end,
				Parent:      parent,
				Signature:   funcSignature(d),
			})
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				kind := "struct"
				switch ts.Type.(type) {
				case *ast.InterfaceType:
					kind = "trait"
				case *ast.StructType:
					kind = "struct"
				}
				start := fset.Position(ts.Pos()).Line
				end := fset.Position(ts.End()).Line
				out = append(out, SymbolRecord{
					ProjectRoot: projectRoot,
					FilePath:    relPath,
					Name:        ts.Name.Name,
					Kind:        kind,
					StartLine:   start,
					EndLine:     end,
					Signature:   "type " + ts.Name.Name,
				})
			}
		}
	}
	return out, nil
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.Ident:
		return t.Name
	default:
		return ""
	}
}

func funcSignature(d *ast.FuncDecl) string {
	sig := "func "
	if d.Recv != nil && len(d.Recv.List) > 0 {
		sig += "(" + receiverTypeName(d.Recv.List[0].Type) + ") "
	}
	sig += d.Name.Name + "(...)"
	return sig
}
