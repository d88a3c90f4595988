package transcript

import (
	"sort"
	"strings"
	"sync"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/samber/lo"
)

// Board is the caption projection of a room. Finals are permanent lines;
// each speaker has at most one interim line, dropped when that speaker's
// next final arrives.
type Board struct {
	mu       sync.Mutex
	finals   []domain.Fragment
	interims map[domain.UserID]domain.Fragment
}

func NewBoard() *Board {
	return &Board{interims: make(map[domain.UserID]domain.Fragment)}
}

// Add reports whether the projection changed.
func (b *Board) Add(f domain.Fragment) bool {
	f.Text = strings.TrimSpace(f.Text)
	if f.Text == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if f.IsFinal {
		b.finals = append(b.finals, f)
		delete(b.interims, f.SpeakerID)
		return true
	}
	if prev, ok := b.interims[f.SpeakerID]; ok && prev.Text == f.Text {
		return false
	}
	b.interims[f.SpeakerID] = f
	return true
}

// Lines returns the projection ordered by fragment timestamp.
func (b *Board) Lines() []domain.Fragment {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Fragment, 0, len(b.finals)+len(b.interims))
	out = append(out, b.finals...)
	speakers := lo.Keys(b.interims)
	sort.Slice(speakers, func(i, j int) bool { return speakers[i] < speakers[j] })
	for _, s := range speakers {
		out = append(out, b.interims[s])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func (b *Board) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finals = nil
	b.interims = make(map[domain.UserID]domain.Fragment)
}
