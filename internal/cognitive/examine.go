package cognitive

import (
	"regexp"
	"strings"

	"github.com/jeanpaul/tutor/internal/embedding"
)

// Examination scores a candidate solution. Scores are in [0,1].
type Examination struct {
	Correctness           float64  `json:"correctness"`
	Completeness          float64  `json:"completeness"`
	Clarity               float64  `json:"clarity"`
	Efficiency            float64  `json:"efficiency"`
	DetectedErrors        []string `json:"detected_errors"`
	Suggestions           []string `json:"suggestions"`
	AlternativeApproaches []string `json:"alternative_approaches"`
}

// Overall is the mean of the four scores.
func (e Examination) Overall() float64 {
	return (e.Correctness + e.Completeness + e.Clarity + e.Efficiency) / 4
}

var (
	placeholderRe = regexp.MustCompile(`(?i)\b(todo|fixme)\b|\.\.\.|pass\s*$`)
	loopRe        = regexp.MustCompile(`(?m)^\s*(for|while)\b|\bfor\s*\(|\bfor\s+\w+\s+in\b|\.forEach\(`)
	funcDefRe     = regexp.MustCompile(`(?:def|func|function)\s+(\w+)\s*\(|(\w+)\s*=\s*(?:function|\()`)
	baseCaseRe    = regexp.MustCompile(`(?i)\bif\b[^\n]*(<=|==|<|\bnot\b|!|\bis\b)|\bcase\b|\bmatch\b`)
	memoRe        = regexp.MustCompile(`(?i)memo|cache|lru_cache|dp\[`)
	shortNameRe   = regexp.MustCompile(`\b[a-zA-Z]\b\s*=[^=]`)
)

// Examine scores solution against problem. ctx is optional reference
// material; terms it shares with the problem count toward correctness.
func Examine(solution, problem, ctx string) Examination {
	ex := Examination{
		DetectedErrors:        []string{},
		Suggestions:           []string{},
		AlternativeApproaches: []string{},
	}
	sol := strings.TrimSpace(solution)
	if sol == "" {
		ex.DetectedErrors = append(ex.DetectedErrors, "solution is empty")
		ex.Suggestions = append(ex.Suggestions, "write an attempt, even a partial one, before asking for review")
		return ex
	}

	code := looksLikeCode(sol)
	found := detectErrors(sol, code)
	ex.DetectedErrors = append(ex.DetectedErrors, found...)

	problemTerms := frequentTerms(problem+" "+ctx, 12)
	coverage := 1.0
	if len(problemTerms) > 0 {
		solTerms := termSet(sol)
		hit := 0
		for _, t := range problemTerms {
			if solTerms[t] {
				hit++
			}
		}
		coverage = float64(hit) / float64(len(problemTerms))
	}

	ex.Correctness = clamp(0.5 + 0.5*coverage - 0.25*float64(len(found)))
	ex.Completeness = clamp(0.4*coverage + 0.6*lengthScore(sol) - 0.2*float64(countPlaceholders(sol)))
	ex.Clarity = clarity(sol, code)
	ex.Efficiency = efficiency(sol, code)

	if ex.Correctness < 0.6 {
		ex.Suggestions = append(ex.Suggestions, "re-read the problem statement and check every requirement is addressed")
	}
	if ex.Completeness < 0.6 {
		ex.Suggestions = append(ex.Suggestions, "cover the remaining parts of the problem and remove placeholders")
	}
	if ex.Clarity < 0.6 {
		if code {
			ex.Suggestions = append(ex.Suggestions, "use descriptive names and split long lines")
		} else {
			ex.Suggestions = append(ex.Suggestions, "use shorter sentences and organise the answer in steps")
		}
	}
	if ex.Efficiency < 0.6 {
		ex.Suggestions = append(ex.Suggestions, "look for repeated work that can be avoided")
	}
	ex.AlternativeApproaches = alternatives(sol, code)
	return ex
}

func detectErrors(sol string, code bool) []string {
	var errs []string
	if code {
		pairs := []struct{ open, close string }{{"(", ")"}, {"[", "]"}, {"{", "}"}}
		for _, p := range pairs {
			if strings.Count(sol, p.open) != strings.Count(sol, p.close) {
				errs = append(errs, "unbalanced "+p.open+p.close)
			}
		}
		if name := recursiveFunction(sol); name != "" && !baseCaseRe.MatchString(sol) {
			errs = append(errs, "recursive function "+name+" has no base case")
		}
	}
	if n := countPlaceholders(sol); n > 0 {
		errs = append(errs, "solution contains unfinished placeholders")
	}
	return errs
}

// recursiveFunction returns the name of a function that calls itself.
func recursiveFunction(sol string) string {
	for _, m := range funcDefRe.FindAllStringSubmatch(sol, -1) {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if name == "" {
			continue
		}
		if strings.Count(sol, name+"(") >= 2 {
			return name
		}
	}
	return ""
}

func looksLikeCode(s string) bool {
	signals := []string{"def ", "func ", "function ", "return", "{", "};", "=>", "int ", "print(", "console.log", "#include"}
	n := 0
	for _, sig := range signals {
		if strings.Contains(s, sig) {
			n++
		}
	}
	return n >= 2
}

func countPlaceholders(s string) int {
	return len(placeholderRe.FindAllStringIndex(s, -1))
}

func lengthScore(sol string) float64 {
	words := len(strings.Fields(sol))
	switch {
	case words >= 40:
		return 1
	case words >= 15:
		return 0.8
	case words >= 5:
		return 0.5
	}
	return 0.2
}

func clarity(sol string, code bool) float64 {
	if code {
		lines := strings.Split(sol, "\n")
		long := 0
		for _, l := range lines {
			if len([]rune(l)) > 100 {
				long++
			}
		}
		short := len(shortNameRe.FindAllString(sol, -1))
		return clamp(1 - 0.15*float64(long) - 0.05*float64(short))
	}
	sentences := strings.FieldsFunc(sol, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
	if len(sentences) == 0 {
		return 0.5
	}
	words := len(strings.Fields(sol))
	avg := float64(words) / float64(len(sentences))
	score := 1.0
	if avg > 25 {
		score -= (avg - 25) / 50
	}
	if strings.Contains(sol, "\n") {
		score += 0.1
	}
	return clamp(score)
}

func efficiency(sol string, code bool) float64 {
	if !code {
		return 1
	}
	score := 1.0
	if nesting := maxLoopNesting(sol); nesting >= 2 {
		score -= 0.2 * float64(nesting-1)
	}
	if name := recursiveFunction(sol); name != "" && strings.Count(sol, name+"(") >= 3 && !memoRe.MatchString(sol) {
		// two or more self-calls per frame without memoization
		score -= 0.3
	}
	return clamp(score)
}

// maxLoopNesting estimates loop nesting from indentation.
func maxLoopNesting(sol string) int {
	type loop struct{ indent int }
	var stack []loop
	maxDepth := 0
	for _, line := range strings.Split(sol, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		for len(stack) > 0 && indent <= stack[len(stack)-1].indent {
			stack = stack[:len(stack)-1]
		}
		if loopRe.MatchString(line) {
			stack = append(stack, loop{indent: indent})
			if len(stack) > maxDepth {
				maxDepth = len(stack)
			}
		}
	}
	return maxDepth
}

func alternatives(sol string, code bool) []string {
	var out []string
	if !code {
		return append(out, "illustrate the explanation with a small worked example")
	}
	if recursiveFunction(sol) != "" {
		out = append(out, "iterative version with an explicit loop or stack")
		if !memoRe.MatchString(sol) {
			out = append(out, "memoize repeated subproblems")
		}
	} else if maxLoopNesting(sol) > 0 {
		out = append(out, "recursive formulation with a clear base case")
	}
	if maxLoopNesting(sol) >= 2 {
		out = append(out, "use a hash map to avoid the nested loop")
	}
	if len(out) == 0 {
		out = append(out, "decompose the solution into smaller named functions")
	}
	return out
}

func termSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, t := range embedding.Tokenize(s) {
		set[t] = true
	}
	return set
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
