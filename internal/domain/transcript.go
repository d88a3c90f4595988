package domain

import "strings"

const (
	TextstreamDataType = "transcribe"

	finalConfidence   = 0.9
	interimConfidence = 0.8
)

// Word is one recognized span inside a Textstream.
type Word struct {
	Text       string  `json:"text"`
	StartMs    int64   `json:"start_ms"`
	DurationMs int64   `json:"duration_ms"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence"`
}

type Translation struct {
	Lang  string   `json:"lang"`
	Texts []string `json:"texts"`
}

// Textstream is the transcript payload relayed between participants.
type Textstream struct {
	DataType    string        `json:"dataType"`
	Culture     string        `json:"culture"`
	UID         string        `json:"uid"`
	StartTextTs int64         `json:"startTextTs"`
	TextTs      int64         `json:"textTs"`
	Time        int64         `json:"time"`
	DurationMs  int64         `json:"durationMs"`
	Words       []Word        `json:"words"`
	Trans       []Translation `json:"trans"`
}

// Text joins the non-empty words of the stream.
func (t Textstream) Text() string {
	parts := make([]string, 0, len(t.Words))
	for _, w := range t.Words {
		if s := strings.TrimSpace(w.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// IsFinal reports whether every word of the stream is final.
func (t Textstream) IsFinal() bool {
	if len(t.Words) == 0 {
		return false
	}
	for _, w := range t.Words {
		if !w.IsFinal {
			return false
		}
	}
	return true
}

// Fragment is a single transcript unit. Final fragments are append-only;
// interim fragments are replaced by newer ones from the same speaker.
type Fragment struct {
	SpeakerID   UserID
	SpeakerName string
	Text        string
	IsFinal     bool
	Culture     string
	StartTs     int64 // utterance window start, ms
	Timestamp   int64 // fragment time, ms
	DurationMs  int64 // offset from StartTs
}

// Textstream renders the fragment in its wire shape.
func (f Fragment) Textstream() Textstream {
	confidence := interimConfidence
	if f.IsFinal {
		confidence = finalConfidence
	}
	return Textstream{
		DataType:    TextstreamDataType,
		Culture:     f.Culture,
		UID:         string(f.SpeakerID),
		StartTextTs: f.StartTs,
		TextTs:      f.Timestamp,
		Time:        f.Timestamp,
		DurationMs:  f.DurationMs,
		Words: []Word{{
			Text:       f.Text,
			DurationMs: f.DurationMs,
			IsFinal:    f.IsFinal,
			Confidence: confidence,
		}},
		Trans: []Translation{},
	}
}

// FragmentFromTextstream attributes a relayed stream to its sender. The
// speaker id comes from the relay envelope, not from the stream uid.
func FragmentFromTextstream(ts Textstream, speakerID UserID, speakerName string) Fragment {
	return Fragment{
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
		Text:        ts.Text(),
		IsFinal:     ts.IsFinal(),
		Culture:     ts.Culture,
		StartTs:     ts.StartTextTs,
		Timestamp:   ts.TextTs,
		DurationMs:  ts.DurationMs,
	}
}
