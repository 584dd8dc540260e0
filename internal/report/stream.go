// Package report implements §6's report stream: human-readable stdout
// progress lines during a run, plus an xlsx export of a completed job for
// offline review. This is deliberately not routed through internal/logging
// — the report stream is the operator-facing live surface §6 names, zap's
// structured lines are the separate ambient log.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sitewarden/crawler/internal/blockrules"
)

// Stream writes the live progress lines a CLI run prints to stdout. A
// Stream holds no per-job state; cmd/sentinel shares one across every site
// job of a run. W defaults to os.Stdout.
type Stream struct {
	W io.Writer
}

// NewStream returns a Stream writing to os.Stdout.
func NewStream() *Stream {
	return &Stream{W: os.Stdout}
}

func (s *Stream) writer() io.Writer {
	if s.W == nil {
		return os.Stdout
	}
	return s.W
}

// Phase prints a banner marking the start of a named phase of a run
// ("discovering seed", "crawling", "comparing", ...).
func (s *Stream) Phase(title string) {
	fmt.Fprintf(s.writer(), "\n===== %s =====\n", title)
}

// WorkerFetch prints one [Worker-i] fetch line.
func (s *Stream) WorkerFetch(workerID int, url string, statusCode int, elapsed time.Duration) {
	fmt.Fprintf(s.writer(), "[Worker-%d] %d %s (%v)\n", workerID, statusCode, url, elapsed.Round(time.Millisecond))
}

// WorkerError prints one [Worker-i] fetch-failure line in place of
// WorkerFetch when a fetch never produced a status code.
func (s *Stream) WorkerError(workerID int, url string, err error) {
	fmt.Fprintf(s.writer(), "[Worker-%d] ERROR %s: %v\n", workerID, url, err)
}

// SiteProgress prints a periodic one-line snapshot of a site job's state,
// grounded on the teacher main.go's ticker-driven stats line.
func (s *Stream) SiteProgress(siteURL string, pending, active, visited int, elapsed time.Duration) {
	fmt.Fprintf(s.writer(), "[%s] pending=%d active_workers=%d visited=%d elapsed=%v\n",
		siteURL, pending, active, visited, elapsed.Round(time.Second))
}

// BlockedReport prints the end-of-job BLOCKED URL REPORT summary, one line
// per rule class in descending count order, §6's contractual shape.
func (s *Stream) BlockedReport(counts map[blockrules.Rule]int) {
	w := s.writer()
	fmt.Fprintf(w, "\n----- BLOCKED URL REPORT -----\n")
	if len(counts) == 0 {
		fmt.Fprintf(w, "  (no URLs blocked)\n")
		return
	}

	rules := make([]blockrules.Rule, 0, len(counts))
	for r := range counts {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool {
		if counts[rules[i]] != counts[rules[j]] {
			return counts[rules[i]] > counts[rules[j]]
		}
		return rules[i] < rules[j]
	})

	total := 0
	for _, r := range rules {
		fmt.Fprintf(w, "  %-14s %d\n", r, counts[r])
		total += counts[r]
	}
	fmt.Fprintf(w, "  %-14s %d\n", "TOTAL", total)
}

// JobResult prints the one-line end-of-job summary: completion status,
// pages crawled, and elapsed time.
func (s *Stream) JobResult(siteURL, status string, pagesCrawled int, elapsed time.Duration) {
	fmt.Fprintf(s.writer(), "\n[%s] job %s: %d pages in %v\n", siteURL, status, pagesCrawled, elapsed.Round(time.Second))
}
