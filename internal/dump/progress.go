package dump

import (
	"regexp"
	"strconv"
	"strings"
)

type Phase string

const (
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

// Progress is one update from a running tool.
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
	Phase   Phase  `json:"phase"`
}

type ProgressFunc func(Progress)

const (
	runningCap   = 99
	estimatedCap = 95
)

// tracker turns tool output lines into percentages. With a known total
// each counted line is one step; without one the estimate closes a tenth
// of the remaining gap to estimatedCap per line. 100 is left to finish.
type tracker struct {
	fn      ProgressFunc
	total   int
	done    int
	percent float64
	counts  func(line string) bool
}

func newTracker(fn ProgressFunc, total int, counts func(string) bool) *tracker {
	if fn == nil {
		fn = func(Progress) {}
	}
	return &tracker{fn: fn, total: total, counts: counts}
}

func (t *tracker) start(msg string) {
	t.fn(Progress{Percent: 0, Message: msg, Phase: PhaseStarting})
}

func (t *tracker) line(line string) {
	if t.counts == nil || t.counts(line) {
		t.done++
		if t.total > 0 {
			t.percent = min(float64(t.done)*100/float64(t.total), runningCap)
		} else {
			t.percent += (estimatedCap - t.percent) / 10
		}
	}
	t.fn(Progress{Percent: int(t.percent), Message: line, Phase: PhaseRunning})
}

func (t *tracker) finish(msg string) {
	t.fn(Progress{Percent: 100, Message: msg, Phase: PhaseDone})
}

func (t *tracker) fail(msg string) {
	t.fn(Progress{Percent: int(t.percent), Message: msg, Phase: PhaseFailed})
}

var ignoredRe = regexp.MustCompile(`(?i)errors ignored on restore:\s*(\d+)`)

// classifier sorts tool stderr into warnings and errors.
type classifier struct {
	warnings  []string
	errors    []string
	ignored   int
	lastError string
}

func (c *classifier) line(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if m := ignoredRe.FindStringSubmatch(line); m != nil {
		c.ignored, _ = strconv.Atoi(m[1])
		c.warnings = append(c.warnings, line)
		return
	}

	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "warning:"):
		c.warnings = append(c.warnings, line)
	case strings.Contains(lower, "error:"),
		strings.Contains(lower, "fatal:"),
		strings.Contains(lower, "could not"):
		c.errors = append(c.errors, line)
		c.lastError = line
	}
}

// tolerated reports whether a failed exit only reflects errors pg_restore
// ignored and carried on past.
func (c *classifier) tolerated() bool {
	return c.ignored > 0
}
