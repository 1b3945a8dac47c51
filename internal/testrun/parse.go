package testrun

import (
	"regexp"
	"strconv"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
)

// Matcher recognises one test framework's summary convention
type Matcher struct {
	Name  string
	Match func(output string) (domain.TestCounts, bool)
}

var (
	jestRe      = regexp.MustCompile(`Tests:\s+(?:(\d+)\s+failed,\s*)?(?:\d+\s+skipped,\s*)?(?:\d+\s+todo,\s*)?(?:(\d+)\s+passed,\s*)?(\d+)\s+total`)
	vitestRe    = regexp.MustCompile(`Tests\s+(?:(\d+)\s+failed\s*\|\s*)?(?:(\d+)\s+passed)?(?:\s*\|\s*\d+\s+skipped)?\s*\((\d+)\)`)
	cargoRe     = regexp.MustCompile(`test result: \w+\.\s+(\d+)\s+passed;\s+(\d+)\s+failed`)
	denoRe      = regexp.MustCompile(`(\d+)\s+passed\s*\|\s*(\d+)\s+failed`)
	rspecRe     = regexp.MustCompile(`(\d+)\s+examples?,\s+(\d+)\s+failures?`)
	mochaPassRe = regexp.MustCompile(`(\d+)\s+passing`)
	mochaFailRe = regexp.MustCompile(`(\d+)\s+failing`)
	pytestFPRe  = regexp.MustCompile(`(\d+)\s+failed,\s+(\d+)\s+passed`)
	pytestPFRe  = regexp.MustCompile(`(\d+)\s+passed(?:,\s+(\d+)\s+failed)?`)
	pytestFRe   = regexp.MustCompile(`(\d+)\s+failed`)
	goPassRe    = regexp.MustCompile(`--- PASS`)
	goFailRe    = regexp.MustCompile(`--- FAIL`)
	tapPassRe   = regexp.MustCompile(`(?m)^ok\s+\d+`)
	tapFailRe   = regexp.MustCompile(`(?m)^not ok\s+\d+`)
)

// DefaultMatchers is ordered by specificity: matchers keyed on distinctive
// tokens run before the generic "N passed" and per-test marker counters.
var DefaultMatchers = []Matcher{
	{Name: "jest", Match: matchJest},
	{Name: "vitest", Match: matchVitest},
	{Name: "cargo", Match: matchCargo},
	{Name: "deno", Match: matchPair(denoRe, 1, 2)},
	{Name: "rspec", Match: matchRSpec},
	{Name: "mocha", Match: matchMocha},
	{Name: "pytest-failed-first", Match: matchPair(pytestFPRe, 2, 1)},
	{Name: "pytest", Match: matchPair(pytestPFRe, 1, 2)},
	{Name: "pytest-failed-only", Match: matchPair(pytestFRe, 0, 1)},
	{Name: "go", Match: matchCounter(goPassRe, goFailRe)},
	{Name: "tap", Match: matchCounter(tapPassRe, tapFailRe)},
}

// Parse extracts pass/fail counts from combined test output. Unrecognised
// output yields the all-zero sentinel.
func Parse(output string) domain.TestCounts {
	_, counts := Identify(output)
	return counts
}

// Identify is Parse that also reports which matcher fired, "" if none did
func Identify(output string) (string, domain.TestCounts) {
	return ParseWith(DefaultMatchers, output)
}

// ParseWith applies matchers in order; the first match wins
func ParseWith(matchers []Matcher, output string) (string, domain.TestCounts) {
	for _, m := range matchers {
		if counts, ok := m.Match(output); ok {
			return m.Name, counts
		}
	}
	return "", domain.TestCounts{}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func added(passed, failed int) domain.TestCounts {
	return domain.TestCounts{Passed: passed, Failed: failed, Total: passed + failed}
}

// jest reports its own total, which includes skipped and todo tests
func matchJest(output string) (domain.TestCounts, bool) {
	m := jestRe.FindStringSubmatch(output)
	if m == nil {
		return domain.TestCounts{}, false
	}
	return domain.TestCounts{Failed: atoi(m[1]), Passed: atoi(m[2]), Total: atoi(m[3])}, true
}

// vitest: "Tests  2 failed | 8 passed (10)"
func matchVitest(output string) (domain.TestCounts, bool) {
	m := vitestRe.FindStringSubmatch(output)
	if m == nil || (m[1] == "" && m[2] == "") {
		return domain.TestCounts{}, false
	}
	return domain.TestCounts{Failed: atoi(m[1]), Passed: atoi(m[2]), Total: atoi(m[3])}, true
}

// cargo prints one result line per test binary; they are summed
func matchCargo(output string) (domain.TestCounts, bool) {
	all := cargoRe.FindAllStringSubmatch(output, -1)
	if len(all) == 0 {
		return domain.TestCounts{}, false
	}
	var passed, failed int
	for _, m := range all {
		passed += atoi(m[1])
		failed += atoi(m[2])
	}
	return added(passed, failed), true
}

func matchRSpec(output string) (domain.TestCounts, bool) {
	m := rspecRe.FindStringSubmatch(output)
	if m == nil {
		return domain.TestCounts{}, false
	}
	total, failed := atoi(m[1]), atoi(m[2])
	return domain.TestCounts{Passed: total - failed, Failed: failed, Total: total}, true
}

func matchMocha(output string) (domain.TestCounts, bool) {
	p := mochaPassRe.FindStringSubmatch(output)
	if p == nil {
		return domain.TestCounts{}, false
	}
	failed := 0
	if f := mochaFailRe.FindStringSubmatch(output); f != nil {
		failed = atoi(f[1])
	}
	return added(atoi(p[1]), failed), true
}

// matchPair reads passed and failed from the given submatch groups; a group
// index of 0 means the value is absent.
func matchPair(re *regexp.Regexp, passedGroup, failedGroup int) func(string) (domain.TestCounts, bool) {
	return func(output string) (domain.TestCounts, bool) {
		m := re.FindStringSubmatch(output)
		if m == nil {
			return domain.TestCounts{}, false
		}
		var passed, failed int
		if passedGroup > 0 {
			passed = atoi(m[passedGroup])
		}
		if failedGroup > 0 {
			failed = atoi(m[failedGroup])
		}
		return added(passed, failed), true
	}
}

// matchCounter counts per-test pass and fail markers
func matchCounter(pass, fail *regexp.Regexp) func(string) (domain.TestCounts, bool) {
	return func(output string) (domain.TestCounts, bool) {
		passed := len(pass.FindAllStringIndex(output, -1))
		failed := len(fail.FindAllStringIndex(output, -1))
		if passed+failed == 0 {
			return domain.TestCounts{}, false
		}
		return added(passed, failed), true
	}
}
