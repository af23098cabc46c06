package methodology

import (
	"fmt"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// DiffTemplates returns a unified diff between two template versions.
func DiffTemplates(a, b PromptTemplate) string {
	from := fmt.Sprintf("%s.v%d", a.Methodology, a.Version)
	to := fmt.Sprintf("%s.v%d", b.Methodology, b.Version)
	edits := myers.ComputeEdits(span.URIFromPath(from), a.TemplateText, b.TemplateText)
	return fmt.Sprint(gotextdiff.ToUnified(from, to, a.TemplateText, edits))
}
