// Package goparser implements collab.Parser over Go source using the
// standard library's go/parser and go/ast: a reference Parser collaborator
// suitable for test fixtures and for the module's own self-hosted use.
package goparser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"

	"grits/internal/graph"
	"grits/internal/logging"
)

// Parser implements collab.Parser for Go source files.
type Parser struct{}

// New returns a Parser.
func New() *Parser {
	return &Parser{}
}

// Extract parses source as a single Go file and returns one symbol for the
// file and one per top-level func and type declaration, plus import and
// intra-file call edges. Const and var declarations produce no symbols. Endpoints of call edges that are not themselves declared in
// this file (stdlib calls, cross-file calls) are still emitted: the graph
// auto-materializes them.
func (p *Parser) Extract(fileID string, source []byte) ([]graph.Symbol, []graph.Edge, error) {
	timer := logging.StartTimer(logging.CategoryRuntime, "goparser.Extract")
	defer timer.Stop()

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, fileID, source, parser.ParseComments)
	if err != nil {
		return nil, nil, fmt.Errorf("goparser: parse %s: %w", fileID, err)
	}

	var symbols []graph.Symbol
	var edges []graph.Edge
	declaredFuncs := make(map[string]bool)

	fileSym := graph.Symbol{Key: fileID, Name: fileID, File: fileID, Lang: "go", Kind: graph.KindFile}
	symbols = append(symbols, fileSym)

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			name := d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				name = receiverName(d.Recv.List[0].Type) + "." + name
			}
			key := fileID + "::" + name
			symbols = append(symbols, graph.Symbol{
				Key:   key,
				Name:  name,
				File:  fileID,
				Lang:  "go",
				Kind:  funcKind(d.Recv),
				Range: byteRange(fset, d.Pos(), d.End()),
			})
			declaredFuncs[d.Name.Name] = true
			edges = append(edges, graph.Edge{From: fileID, To: key, Relation: graph.RelationDefinedIn, Strength: graph.StrengthImport})

		case *ast.GenDecl:
			switch d.Tok {
			case token.IMPORT:
				for _, spec := range d.Specs {
					imp := spec.(*ast.ImportSpec)
					path := trimQuotes(imp.Path.Value)
					edges = append(edges, graph.Edge{From: fileID, To: path, Relation: graph.RelationImports, Strength: graph.StrengthImport})
				}
			case token.TYPE:
				for _, spec := range d.Specs {
					ts, ok := spec.(*ast.TypeSpec)
					if !ok {
						continue
					}
					key := fileID + "::" + ts.Name.Name
					symbols = append(symbols, graph.Symbol{
						Key:   key,
						Name:  ts.Name.Name,
						File:  fileID,
						Lang:  "go",
						Kind:  typeKind(ts.Type),
						Range: byteRange(fset, ts.Pos(), ts.End()),
					})
					edges = append(edges, graph.Edge{From: fileID, To: key, Relation: graph.RelationDefinedIn, Strength: graph.StrengthImport})
				}
			}
		}
	}

	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}
		fromName := fn.Name.Name
		if fn.Recv != nil && len(fn.Recv.List) > 0 {
			fromName = receiverName(fn.Recv.List[0].Type) + "." + fromName
		}
		fromKey := fileID + "::" + fromName
		ast.Inspect(fn.Body, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			ident, ok := call.Fun.(*ast.Ident)
			if !ok {
				return true
			}
			toKey := ident.Name
			if declaredFuncs[ident.Name] {
				toKey = fileID + "::" + ident.Name
			}
			edges = append(edges, graph.Edge{From: fromKey, To: toKey, Relation: graph.RelationCalls, Strength: graph.StrengthCall})
			return true
		})
	}

	return symbols, edges, nil
}

func funcKind(recv *ast.FieldList) graph.Kind {
	if recv != nil && len(recv.List) > 0 {
		return graph.KindMethod
	}
	return graph.KindFunction
}

func typeKind(expr ast.Expr) graph.Kind {
	switch expr.(type) {
	case *ast.StructType:
		return graph.KindStruct
	case *ast.InterfaceType:
		return graph.KindInterface
	default:
		return graph.KindUnknown
	}
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	default:
		return "?"
	}
}

func byteRange(fset *token.FileSet, start, end token.Pos) *graph.Range {
	s, e := fset.Position(start).Offset, fset.Position(end).Offset
	return &graph.Range{Start: s, End: e}
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
