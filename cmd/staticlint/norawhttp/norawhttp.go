// Package norawhttp reports outbound requests made with the net/http package
// helpers. Service code talks to OpenAI, Instagram, Discord, Brevo and the
// mail API through configured resty clients that carry timeouts and auth.
package norawhttp

import (
	"go/ast"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
)

var Analyzer = &analysis.Analyzer{
	Name: "norawhttp",
	Doc:  "reports http.Get, http.Post, http.PostForm, http.Head and http.DefaultClient outside tests",
	Run:  run,
}

var forbidden = map[string]bool{
	"Get":           true,
	"Post":          true,
	"PostForm":      true,
	"Head":          true,
	"DefaultClient": true,
}

func run(pass *analysis.Pass) (interface{}, error) {
	for _, file := range pass.Files {
		filename := pass.Fset.File(file.Pos()).Name()
		if strings.HasSuffix(filename, "_test.go") {
			continue
		}

		ast.Inspect(file, func(n ast.Node) bool {
			sel, ok := n.(*ast.SelectorExpr)
			if !ok || !forbidden[sel.Sel.Name] {
				return true
			}

			ident, ok := sel.X.(*ast.Ident)
			if !ok {
				return true
			}

			pkgName, ok := pass.TypesInfo.Uses[ident].(*types.PkgName)
			if ok && pkgName.Imported().Path() == "net/http" {
				pass.Reportf(sel.Pos(), "outbound HTTP must go through a resty client, not http.%s", sel.Sel.Name)
			}

			return true
		})
	}

	return nil, nil
}
