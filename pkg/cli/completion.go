package cli

import (
	"strings"

	"github.com/vmark/vmark-node/pkg/cmdtree"
)

// treeCompleter adapts the static command tree to readline's AutoComplete
// interface.
type treeCompleter struct{}

// Do implements readline.AutoCompleter.
func (t *treeCompleter) Do(line []rune, pos int) ([][]rune, int) {
	prefix := string(line[:pos])
	words := strings.Fields(prefix)

	partial := ""
	if len(words) > 0 && !strings.HasSuffix(prefix, " ") {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}

	candidates := cmdtree.Complete(cmdtree.Tree, words, partial)
	out := make([][]rune, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, []rune(c[len(partial):]+" "))
	}
	return out, len(partial)
}
