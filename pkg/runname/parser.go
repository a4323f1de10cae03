package runname

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// timestampPattern matches the scheduling timestamp embedded in a run
	// name, e.g. 2014-03-13_01:00:03.
	timestampPattern = `[0-9]{1,4}-[0-9]{1,2}-[0-9]{1,2}_[0-9]{1,2}:[0-9]{1,2}:[0-9]{1,2}`

	// timestampLayout accepts non zero-padded month, day and clock fields.
	timestampLayout = "2006-1-2_15:4:5"

	// trimCutset is stripped from both ends of a parsed suite or branch.
	trimCutset = " -"
)

// DefaultSuites is the catalog of known suite names. Order matters: when
// one suite name is a prefix of another, the longer one comes first.
var DefaultSuites = []string{
	"big",
	"ceph-deploy",
	"dummy",
	"experimental",
	"fs",
	"hadoop",
	"iozone",
	"kcephfs",
	"krbd",
	"marginal",
	"mixed-clients",
	"nfs",
	"powercycle",
	"rados",
	"rbd",
	"rgw",
	"smoke",
	"stress",
	"tgt",
	"upgrade-cuttlefish",
	"upgrade-dumpling",
	"upgrade-fs",
	"upgrade-mixed-cluster",
	"upgrade-mixed-mons",
	"upgrade-parallel",
	"upgrade-rados-double",
	"upgrade-rados",
	"upgrade-rbd-double",
	"upgrade-rbd",
	"upgrade-rgw-double",
	"upgrade-rgw",
	"upgrade-small",
	"upgrade",
}

// Parsed holds the metadata extracted from a run name.
type Parsed struct {
	// Scheduled is nil when the name did not match or its timestamp is not
	// a valid calendar time.
	Scheduled *time.Time `json:"scheduled,omitempty" yaml:"scheduled,omitempty"`
	Suite     string     `json:"suite" yaml:"suite"`
	Branch    string     `json:"branch" yaml:"branch"`
	Matched   bool       `json:"matched" yaml:"matched"`
}

// Parser extracts the scheduled time, suite and branch from run names of
// the form user-timestamp-suite-branch-flavor-machine_type.
//
// Suite and branch names may contain hyphens, which is also the field
// delimiter, so the parser first tries patterns built from a catalog of
// known suites and only then falls back to a generic pattern.
type Parser struct {
	suites   []string
	patterns []*regexp.Regexp
}

var defaultParser = NewParser()

// Parse parses name with the default suite catalog.
func Parse(name string) Parsed {
	return defaultParser.Parse(name)
}

// NewParser builds a parser whose catalog is extraSuites followed by
// DefaultSuites. Duplicates are dropped, keeping the first occurrence.
func NewParser(extraSuites ...string) *Parser {
	seen := make(map[string]struct{}, len(extraSuites)+len(DefaultSuites))
	suites := make([]string, 0, len(extraSuites)+len(DefaultSuites))

	for _, list := range [][]string{extraSuites, DefaultSuites} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}

			if _, ok := seen[s]; ok {
				continue
			}

			seen[s] = struct{}{}
			suites = append(suites, s)
		}
	}

	return &Parser{
		suites:   suites,
		patterns: buildPatterns(suites),
	}
}

// Suites returns the catalog in match order.
func (p *Parser) Suites() []string {
	out := make([]string, len(p.suites))
	copy(out, p.suites)

	return out
}

// Parse tries each pattern in order and returns the first match. A name
// that matches nothing yields the zero Parsed.
func (p *Parser) Parse(name string) Parsed {
	for _, re := range p.patterns {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}

		parsed := Parsed{
			Suite:   strings.Trim(m[re.SubexpIndex("suite")], trimCutset),
			Branch:  strings.Trim(m[re.SubexpIndex("branch")], trimCutset),
			Matched: true,
		}

		if ts, err := parseTimestamp(m[re.SubexpIndex("scheduled")]); err == nil {
			parsed.Scheduled = &ts
		}

		return parsed
	}

	return Parsed{}
}

// buildPatterns returns, in order: the machine-type aware catalog pattern,
// the machine-type agnostic catalog pattern and the generic fallback.
func buildPatterns(suites []string) []*regexp.Regexp {
	quoted := make([]string, 0, len(suites))
	for _, s := range suites {
		quoted = append(quoted, regexp.QuoteMeta(s))
	}

	catalog := "(" + strings.Join(quoted, "|") + ")"

	noMachineType := fmt.Sprintf(
		`^.*-(?P<scheduled>%s)-(?P<suite>%s)-(?P<branch>.*)-.*?-.*?`,
		timestampPattern, catalog,
	)
	withMachineType := noMachineType + `-.*?`
	fallback := fmt.Sprintf(
		`^.*-(?P<scheduled>%s)-(?P<suite>.*)-(?P<branch>.*)-.*?-.*?-.*?`,
		timestampPattern,
	)

	return []*regexp.Regexp{
		regexp.MustCompile(withMachineType),
		regexp.MustCompile(noMachineType),
		regexp.MustCompile(fallback),
	}
}

// parseTimestamp parses a matched timestamp as UTC. Years shorter than four
// digits are zero-padded first.
func parseTimestamp(raw string) (time.Time, error) {
	year, rest, ok := strings.Cut(raw, "-")
	if !ok {
		return time.Time{}, fmt.Errorf("malformed timestamp %q", raw)
	}

	n, err := strconv.Atoi(year)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed year in %q: %w", raw, err)
	}

	t, err := time.Parse(timestampLayout, fmt.Sprintf("%04d-%s", n, rest))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", raw, err)
	}

	return t.UTC(), nil
}
