package methodology

import (
	"strings"
	"testing"
)

const wellFormed = `Here is the lesson.
<reflection>The task asks for the factorial of n; recursion fits because n! = n * (n-1)!.</reflection>
<steps>
<step>Identify the base case: 0! = 1.</step>
<step>Express n! in terms of (n-1)!.</step>
<step>Combine both into one function.</step>
</steps>
<correct_example>fatorial(3) = 3 * fatorial(2) = 3 * 2 * 1 = 6</correct_example>
<incorrect_example>def f(n): return n * f(n-1)<error>There is no base case, so the recursion never stops.</error></incorrect_example>
<checklist>
<question>Does every call move toward the base case?</question>
<question>Is the base case reachable for n = 0?</question>
</checklist>
<quiz>
<item>Write fib(n) recursively.</item>
</quiz>
<final_code>` + "```python\ndef fatorial(n):\n    if n == 0:\n        return 1\n    return n * fatorial(n - 1)\n```" + `</final_code>`

func TestParseWorkedExample_WellFormed(t *testing.T) {
	we, ok := ParseWorkedExample(wellFormed)
	if !ok || we == nil {
		t.Fatal("expected well-formed response to parse")
	}

	if !strings.HasPrefix(we.Reflection, "The task asks") {
		t.Errorf("Reflection = %q", we.Reflection)
	}
	if len(we.Steps) != 3 || we.Steps[0] != "Identify the base case: 0! = 1." {
		t.Errorf("Steps = %#v", we.Steps)
	}
	if we.CorrectExample != "fatorial(3) = 3 * fatorial(2) = 3 * 2 * 1 = 6" {
		t.Errorf("CorrectExample = %q", we.CorrectExample)
	}
	if we.IncorrectExample == nil {
		t.Fatal("IncorrectExample missing")
	}
	if we.IncorrectExample.Example != "def f(n): return n * f(n-1)" {
		t.Errorf("IncorrectExample.Example = %q", we.IncorrectExample.Example)
	}
	if we.IncorrectExample.Error != "There is no base case, so the recursion never stops." {
		t.Errorf("IncorrectExample.Error = %q", we.IncorrectExample.Error)
	}
	if len(we.Checklist) != 2 || len(we.Quiz) != 1 {
		t.Errorf("Checklist = %#v, Quiz = %#v", we.Checklist, we.Quiz)
	}
	if !strings.HasPrefix(we.FinalCode, "def fatorial(n):") || strings.Contains(we.FinalCode, "```") {
		t.Errorf("FinalCode = %q", we.FinalCode)
	}

	// No field may carry raw markup.
	fields := append([]string{we.Reflection, we.CorrectExample, we.FinalCode,
		we.IncorrectExample.Example, we.IncorrectExample.Error}, we.Steps...)
	fields = append(fields, we.Checklist...)
	fields = append(fields, we.Quiz...)
	for _, f := range fields {
		if tagRe.MatchString(f) {
			t.Errorf("field contains raw markup: %q", f)
		}
	}
}

func TestParseWorkedExample_OptionalSectionsAbsent(t *testing.T) {
	raw := `<reflection>r</reflection><steps><step>s</step></steps><correct_example>c</correct_example><final_code>x := 1</final_code>`
	we, ok := ParseWorkedExample(raw)
	if !ok {
		t.Fatal("expected parse without optional sections")
	}
	if we.IncorrectExample != nil || we.Checklist != nil || we.Quiz != nil {
		t.Errorf("optional sections should be empty: %#v", we)
	}
}

func TestParseWorkedExample_MultipleErrors(t *testing.T) {
	raw := `<reflection>r</reflection><steps><step>s</step></steps><correct_example>c</correct_example>` +
		`<incorrect_example>x = y<error>e1</error> + z<error>e2</error></incorrect_example><final_code>x := 1</final_code>`
	we, ok := ParseWorkedExample(raw)
	if !ok || we.IncorrectExample == nil {
		t.Fatal("expected incorrect example to parse")
	}
	if we.IncorrectExample.Error != "e1\ne2" {
		t.Errorf("Error = %q, want both annotations", we.IncorrectExample.Error)
	}
	if we.IncorrectExample.Example != "x = y + z" {
		t.Errorf("Example = %q", we.IncorrectExample.Example)
	}
}

func TestParseWorkedExample_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":                 "",
		"plain text":            "Recursion is when a function calls itself.",
		"unclosed reflection":   `<reflection>r<steps><step>s</step></steps><correct_example>c</correct_example><final_code>x</final_code>`,
		"mismatched close":      `<reflection>r</steps><steps><step>s</step></steps><correct_example>c</correct_example><final_code>x</final_code>`,
		"missing final_code":    `<reflection>r</reflection><steps><step>s</step></steps><correct_example>c</correct_example>`,
		"missing steps":         `<reflection>r</reflection><correct_example>c</correct_example><final_code>x</final_code>`,
		"steps without step":    `<reflection>r</reflection><steps>do it</steps><correct_example>c</correct_example><final_code>x</final_code>`,
		"step outside steps":    `<reflection>r</reflection><step>s</step><steps><step>s</step></steps><correct_example>c</correct_example><final_code>x</final_code>`,
		"nested top-level tags": `<reflection>r<final_code>x</final_code></reflection><steps><step>s</step></steps><correct_example>c</correct_example>`,
		"empty reflection":      `<reflection>  </reflection><steps><step>s</step></steps><correct_example>c</correct_example><final_code>x</final_code>`,
		"truncated output":      wellFormed[:len(wellFormed)/2],
		"stray closing":         `</reflection>`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("parser panicked: %v", r)
				}
			}()
			we, ok := ParseWorkedExample(raw)
			if ok || we != nil {
				t.Errorf("expected (nil, false), got (%#v, %v)", we, ok)
			}
		})
	}
}

func TestParseWorkedExample_Deterministic(t *testing.T) {
	a, _ := ParseWorkedExample(wellFormed)
	b, _ := ParseWorkedExample(wellFormed)
	if a.FinalCode != b.FinalCode || strings.Join(a.Steps, "|") != strings.Join(b.Steps, "|") {
		t.Error("parse results differ between runs")
	}
}

func TestStripFence(t *testing.T) {
	if got := stripFence("```go\nx := 1\n```"); got != "x := 1" {
		t.Errorf("stripFence = %q", got)
	}
	if got := stripFence("```"); got != "```" {
		t.Errorf("stripFence short = %q", got)
	}
	if got := stripFence("plain"); got != "plain" {
		t.Errorf("stripFence plain = %q", got)
	}
}
