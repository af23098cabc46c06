package methodology

import (
	"regexp"
	"strings"
)

// WorkedExample is the parsed form of a worked-examples reply.
type WorkedExample struct {
	Reflection       string            `json:"reflection"`
	Steps            []string          `json:"steps"`
	CorrectExample   string            `json:"correct_example"`
	IncorrectExample *IncorrectExample `json:"incorrect_example,omitempty"`
	Checklist        []string          `json:"checklist,omitempty"`
	Quiz             []string          `json:"quiz,omitempty"`
	FinalCode        string            `json:"final_code"`
}

// IncorrectExample is a common mistake with its explanation.
type IncorrectExample struct {
	Example string `json:"example"`
	Error   string `json:"error"`
}

var tagRe = regexp.MustCompile(`</?(reflection|steps|step|correct_example|incorrect_example|error|checklist|question|quiz|item|final_code)>`)

// allowedParent lists where each tag may appear; "" is the top level.
var allowedParent = map[string]string{
	"reflection":        "",
	"steps":             "",
	"correct_example":   "",
	"incorrect_example": "",
	"checklist":         "",
	"quiz":              "",
	"final_code":        "",
	"step":              "steps",
	"error":             "incorrect_example",
	"question":          "checklist",
	"item":              "quiz",
}

type element struct {
	name       string
	innerStart int
	innerEnd   int
	children   []*element
}

// ParseWorkedExample parses a tagged worked-example reply. It returns false
// for unbalanced or misplaced tags and when reflection, steps,
// correct_example or final_code is missing or empty. It never panics.
func ParseWorkedExample(raw string) (*WorkedExample, bool) {
	top, ok := scan(raw)
	if !ok {
		return nil, false
	}

	first := func(name string) *element {
		for _, e := range top {
			if e.name == name {
				return e
			}
		}
		return nil
	}
	inner := func(e *element) string {
		return strings.TrimSpace(raw[e.innerStart:e.innerEnd])
	}
	childTexts := func(e *element) []string {
		if e == nil {
			return nil
		}
		var out []string
		for _, c := range e.children {
			if s := inner(c); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	reflection, steps, correct, final := first("reflection"), first("steps"), first("correct_example"), first("final_code")
	if reflection == nil || steps == nil || correct == nil || final == nil {
		return nil, false
	}

	we := &WorkedExample{
		Reflection:     inner(reflection),
		Steps:          childTexts(steps),
		CorrectExample: inner(correct),
		Checklist:      childTexts(first("checklist")),
		Quiz:           childTexts(first("quiz")),
		FinalCode:      stripFence(inner(final)),
	}
	if we.Reflection == "" || len(we.Steps) == 0 || we.CorrectExample == "" || we.FinalCode == "" {
		return nil, false
	}

	if ie := first("incorrect_example"); ie != nil {
		ex := &IncorrectExample{}
		var (
			b    strings.Builder
			errs []string
		)
		pos := ie.innerStart
		for _, c := range ie.children {
			// children of incorrect_example are only <error>
			b.WriteString(raw[pos : c.innerStart-len("<error>")])
			if e := inner(c); e != "" {
				errs = append(errs, e)
			}
			pos = c.innerEnd + len("</error>")
		}
		b.WriteString(raw[pos:ie.innerEnd])
		ex.Example = strings.TrimSpace(b.String())
		ex.Error = strings.Join(errs, "\n")
		if ex.Example != "" || ex.Error != "" {
			we.IncorrectExample = ex
		}
	}
	return we, true
}

// scan walks the known tags with a stack and returns the top-level elements.
func scan(raw string) ([]*element, bool) {
	var (
		top   []*element
		stack []*element
	)
	for _, loc := range tagRe.FindAllStringSubmatchIndex(raw, -1) {
		tag := raw[loc[0]:loc[1]]
		name := raw[loc[2]:loc[3]]
		closing := strings.HasPrefix(tag, "</")

		if closing {
			if len(stack) == 0 || stack[len(stack)-1].name != name {
				return nil, false
			}
			stack[len(stack)-1].innerEnd = loc[0]
			stack = stack[:len(stack)-1]
			continue
		}

		parent := ""
		if len(stack) > 0 {
			parent = stack[len(stack)-1].name
		}
		if allowedParent[name] != parent {
			return nil, false
		}
		e := &element{name: name, innerStart: loc[1]}
		if len(stack) == 0 {
			top = append(top, e)
		} else {
			p := stack[len(stack)-1]
			p.children = append(p.children, e)
		}
		stack = append(stack, e)
	}
	if len(stack) != 0 {
		return nil, false
	}
	return top, true
}

// stripFence removes a surrounding markdown code fence, if any.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	body := s[3 : len(s)-3]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return s
	}
	return strings.TrimSpace(body)
}
