package script

import (
	"fmt"
	"io"

	"github.com/chazu/shroud/pkg/bytecode"
)

// Builtins returns the host bindings every payload can rely on.
// print writes its arguments to w separated by spaces.
func Builtins(w io.Writer) map[string]bytecode.Value {
	return map[string]bytecode.Value{
		"print": bytecode.Func(func(args ...bytecode.Value) (bytecode.Value, error) {
			line := make([]any, len(args))
			for i, a := range args {
				if a == nil {
					a = "null"
				}
				line[i] = a
			}
			_, err := fmt.Fprintln(w, line...)
			return nil, err
		}),
	}
}
