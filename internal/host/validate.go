package host

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

// WrapCode ensures the blob has a package clause so it parses and evaluates
// as a complete file. Blobs may omit it for brevity.
func WrapCode(code string) string {
	trimmed := strings.TrimSpace(code)
	for _, line := range strings.Split(trimmed, "\n") {
		l := strings.TrimSpace(line)
		if l == "" || strings.HasPrefix(l, "//") {
			continue
		}
		if strings.HasPrefix(l, "package ") {
			return code
		}
		break
	}
	return "package main\n\n" + code
}

// ValidateStructure checks a procedural blob before it enters the vault.
// Only imports, type, const, var and function declarations are allowed;
// func init is rejected; a Run function with the expected shape must exist;
// every import must clear the deny set. Validation happens at upsert so a
// bad blob is refused up front instead of failing at dispatch.
func ValidateStructure(code string, deny DenySet) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "tool.go", WrapCode(code), 0)
	if err != nil {
		return fmt.Errorf("code does not parse: %w", err)
	}

	var hasRun bool
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			switch d.Tok {
			case token.IMPORT, token.TYPE, token.CONST, token.VAR:
			default:
				return fmt.Errorf("declaration %s is not allowed in tool code", d.Tok)
			}
		case *ast.FuncDecl:
			if d.Name.Name == "init" && d.Recv == nil {
				return fmt.Errorf("func init is not allowed in tool code")
			}
			if d.Name.Name == "Run" && d.Recv == nil {
				hasRun = true
			}
		default:
			return fmt.Errorf("only declarations are allowed at the top level of tool code")
		}
	}
	if !hasRun {
		return fmt.Errorf("tool code must define func Run(args map[string]interface{}) (interface{}, error)")
	}

	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("bad import path %s", imp.Path.Value)
		}
		if deny.Blocked(path) {
			return fmt.Errorf("import %q is not allowed in tool code", path)
		}
	}
	return nil
}
