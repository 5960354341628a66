package withsecure

import (
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/pkg/connector/core"
)

// Assembler turns a page sequence into event batches and tracks the
// watermark candidate of one cycle. It is not safe for concurrent use and
// must not be reused across cycles.
type Assembler struct {
	logger    *zap.Logger
	start     time.Time
	candidate time.Time
	pages     int
	events    int
}

// NewAssembler starts a cycle from the given watermark.
func NewAssembler(start time.Time, logger *zap.Logger) *Assembler {
	return &Assembler{
		logger:    logger.With(zap.String("component", "withsecure_assembler")),
		start:     start,
		candidate: start,
	}
}

// Assemble yields the events of every non-empty page as one batch, in page
// order. Before a batch is yielded, the candidate moves to the second after
// the page's last event when that event is later than the candidate. The
// first page error is yielded and ends the sequence.
func (a *Assembler) Assemble(pages iter.Seq2[core.Page, error]) iter.Seq2[[]core.Event, error] {
	return func(yield func([]core.Event, error) bool) {
		for page, err := range pages {
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page.Events) == 0 {
				continue
			}

			a.pages++
			a.events += len(page.Events)
			a.advance(page.Events[len(page.Events)-1])

			if !yield(page.Events, nil) {
				return
			}
		}
	}
}

// advance follows the last event of a page; the API returns events in
// ascending serverTimestampStart order.
func (a *Assembler) advance(last core.Event) {
	ts, err := EventTimestamp(last)
	if err != nil {
		a.logger.Warn("cannot read timestamp of the last event of the page, watermark unchanged",
			zap.Error(err))
		return
	}

	if ts.After(a.candidate) {
		a.candidate = core.NextSecond(ts)
	}
}

// Candidate returns the watermark the cycle reached so far.
func (a *Assembler) Candidate() time.Time {
	return a.candidate
}

// Advanced reports whether the candidate moved past the starting watermark.
func (a *Assembler) Advanced() bool {
	return a.candidate.After(a.start)
}

// Pages returns the number of non-empty pages assembled.
func (a *Assembler) Pages() int {
	return a.pages
}

// Events returns the number of events assembled.
func (a *Assembler) Events() int {
	return a.events
}
