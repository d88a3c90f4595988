// Package transcript turns cumulative recognizer output into fragments and
// projects fragments from every speaker into an ordered caption list.
package transcript

import (
	"strings"

	"github.com/dkeye/Parley/internal/domain"
)

// Aggregator diffs the cumulative text of one local speaker. The recognizer
// repeats the whole utterance on every event, so only the part beyond the
// last final text is new.
//
// The diff is a plain prefix match: when the recognizer revises earlier
// words, the whole final text is treated as new.
type Aggregator struct {
	speakerID   domain.UserID
	speakerName string
	culture     string
	now         func() int64

	lastFinal   string
	lastInterim string
	startTs     int64
}

func NewAggregator(speakerID domain.UserID, speakerName, culture string, now func() int64) *Aggregator {
	if now == nil {
		now = domain.NowMillis
	}
	a := &Aggregator{speakerID: speakerID, speakerName: speakerName, culture: culture, now: now}
	a.Reset()
	return a
}

// Reset starts a fresh session: nothing has been finalized yet.
func (a *Aggregator) Reset() {
	a.lastFinal = ""
	a.lastInterim = ""
	a.startTs = a.now()
}

func (a *Aggregator) SetCulture(culture string) { a.culture = culture }

func (a *Aggregator) SetSpeaker(id domain.UserID, name string) {
	a.speakerID = id
	a.speakerName = name
}

// Push feeds one recognizer event. It reports false when nothing should be
// emitted.
func (a *Aggregator) Push(text string, isFinal bool) (domain.Fragment, bool) {
	full := strings.TrimSpace(text)
	if full == "" {
		return domain.Fragment{}, false
	}
	if isFinal {
		return a.final(full)
	}
	if full == a.lastInterim {
		return domain.Fragment{}, false
	}
	a.lastInterim = full
	return a.fragment(full, false), true
}

func (a *Aggregator) final(full string) (domain.Fragment, bool) {
	suffix := full
	if a.lastFinal != "" && strings.HasPrefix(full, a.lastFinal) {
		suffix = strings.TrimSpace(full[len(a.lastFinal):])
	}
	var (
		frag domain.Fragment
		ok   bool
	)
	if suffix != "" {
		frag, ok = a.fragment(suffix, true), true
	}
	a.lastFinal = full
	a.lastInterim = ""
	a.startTs = a.now()
	return frag, ok
}

func (a *Aggregator) fragment(text string, isFinal bool) domain.Fragment {
	now := a.now()
	return domain.Fragment{
		SpeakerID:   a.speakerID,
		SpeakerName: a.speakerName,
		Text:        text,
		IsFinal:     isFinal,
		Culture:     a.culture,
		StartTs:     a.startTs,
		Timestamp:   now,
		DurationMs:  now - a.startTs,
	}
}
