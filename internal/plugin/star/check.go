// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package star

import (
	"fmt"
	"strings"

	"github.com/devkit-dev/devkit/internal/plugin"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"go.starlark.net/syntax"
)

// checkFile inspects a resolved file without running it. The top level may
// hold only docstrings, def statements and assignments; nothing evaluated at
// the top level may call a function, and load statements are not allowed.
// Every required capability must be defined.
func checkFile(f *syntax.File) error {
	var problems []string
	defined := make(map[string]bool)

	for i, stmt := range f.Stmts {
		pos, _ := stmt.Span()
		switch s := stmt.(type) {
		case *syntax.DefStmt:
			defined[s.Name.Name] = true
			for _, param := range s.Params {
				if hasCall(param) {
					problems = append(problems, fmt.Sprintf("%s: default value of a parameter of %s calls a function", pos, s.Name.Name))
				}
			}
		case *syntax.AssignStmt:
			if hasCall(s.RHS) || hasCall(s.LHS) {
				problems = append(problems, fmt.Sprintf("%s: top-level assignment calls a function", pos))
			}
		case *syntax.LoadStmt:
			problems = append(problems, fmt.Sprintf("%s: load statements are not allowed", pos))
		case *syntax.ExprStmt:
			if lit, ok := s.X.(*syntax.Literal); !ok || lit.Token != syntax.STRING || i != 0 {
				problems = append(problems, fmt.Sprintf("%s: top-level expressions are not allowed", pos))
			}
		default:
			problems = append(problems, fmt.Sprintf("%s: top-level statement not allowed", pos))
		}
	}

	if len(problems) > 0 {
		return devkiterr.New(devkiterr.CodePluginInterfaceInvalid,
			"entry point runs code at load time: "+strings.Join(problems, "; "))
	}

	var missing []string
	for _, name := range plugin.RequiredCapabilities {
		if !defined[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return devkiterr.New(devkiterr.CodePluginInterfaceMissing,
			"missing required functions: "+strings.Join(missing, ", "))
	}
	return nil
}

func hasCall(n syntax.Node) bool {
	found := false
	syntax.Walk(n, func(n syntax.Node) bool {
		if _, ok := n.(*syntax.CallExpr); ok {
			found = true
		}
		return !found
	})
	return found
}
