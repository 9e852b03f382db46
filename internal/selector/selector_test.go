package selector

import (
	"reflect"
	"testing"

	"github.com/platinummonkey/oris/internal/logger"
)

type availability struct {
	order []string
	up    map[string]bool
}

func engines(order []string, up ...string) *availability {
	a := &availability{order: order, up: make(map[string]bool)}
	for _, name := range up {
		a.up[name] = true
	}
	return a
}

func (a *availability) Available(name string) bool { return a.up[name] }

func (a *availability) AvailableNames() []string {
	var out []string
	for _, name := range a.order {
		if a.up[name] {
			out = append(out, name)
		}
	}
	return out
}

func TestSelect(t *testing.T) {
	all := []string{"mock", "tesseract", "openai", "ollama"}

	tests := []struct {
		name     string
		up       []string
		label    Label
		explicit []string
		want     []string
	}{
		{
			name:  "printed with everything available",
			up:    all,
			label: LabelPrinted,
			want:  []string{"openai", "tesseract"},
		},
		{
			name:  "handwritten with everything available",
			up:    all,
			label: LabelHandwritten,
			want:  []string{"ollama", "openai"},
		},
		{
			name:  "handwritten without the handwriting engine",
			up:    []string{"tesseract", "openai"},
			label: LabelHandwritten,
			want:  []string{"openai"},
		},
		{
			name:  "no preferred engine falls back to first available",
			up:    []string{"mock", "tesseract"},
			label: LabelHandwritten,
			want:  []string{"mock"},
		},
		{
			name:  "nothing available",
			label: LabelPrinted,
			want:  nil,
		},
		{
			name:     "explicit list kept verbatim",
			up:       all,
			label:    LabelPrinted,
			explicit: []string{"ollama", "tesseract"},
			want:     []string{"ollama", "tesseract"},
		},
		{
			name:     "explicit list drops unavailable and duplicate engines",
			up:       []string{"tesseract"},
			label:    LabelPrinted,
			explicit: []string{"ollama", "tesseract", "tesseract", "easyocr"},
			want:     []string{"tesseract"},
		},
		{
			name:     "explicit list with nothing available does not fall back",
			up:       []string{"mock"},
			label:    LabelPrinted,
			explicit: []string{"ollama"},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(engines(all, tt.up...), nil, logger.Nop())
			got := s.Select(tt.label, tt.explicit)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Select() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew_CustomPriorities(t *testing.T) {
	s := New(engines([]string{"anthropic", "ollama"}, "anthropic", "ollama"), Priorities{
		LabelPrinted: {"anthropic"},
	}, logger.Nop())

	if got := s.Select(LabelPrinted, nil); !reflect.DeepEqual(got, []string{"anthropic"}) {
		t.Errorf("printed = %v", got)
	}
	if got := s.Select(LabelHandwritten, nil); !reflect.DeepEqual(got, []string{"ollama"}) {
		t.Errorf("handwritten should keep the default table, got %v", got)
	}

	p := s.Priorities()
	p[LabelPrinted][0] = "changed"
	if s.Priorities()[LabelPrinted][0] != "anthropic" {
		t.Error("Priorities() must return a copy")
	}
}

func TestLabelFor(t *testing.T) {
	if LabelFor(true) != LabelHandwritten || LabelFor(false) != LabelPrinted {
		t.Error("LabelFor mapping is wrong")
	}
}
