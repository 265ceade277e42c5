//go:build linux

package hotkey

import "testing"

func TestComboEdges(t *testing.T) {
	tests := []struct {
		name   string
		events [][2]int
		want   []comboEdge
	}{
		{
			name:   "ctrl shift space",
			events: [][2]int{{keyLCtrl, 1}, {keyLShift, 1}, {keySpace, 1}, {keySpace, 0}},
			want:   []comboEdge{comboNone, comboNone, comboDown, comboUp},
		},
		{
			name:   "space alone",
			events: [][2]int{{keySpace, 1}, {keySpace, 0}},
			want:   []comboEdge{comboNone, comboNone},
		},
		{
			name:   "right modifiers with repeat",
			events: [][2]int{{keyRShift, 1}, {keyRCtrl, 1}, {keyRCtrl, 2}, {keySpace, 1}, {keySpace, 2}, {keySpace, 0}},
			want:   []comboEdge{comboNone, comboNone, comboNone, comboDown, comboNone, comboUp},
		},
		{
			name:   "modifier released first",
			events: [][2]int{{keyLCtrl, 1}, {keyLShift, 1}, {keyLCtrl, 0}, {keySpace, 1}},
			want:   []comboEdge{comboNone, comboNone, comboNone, comboNone},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c combo
			for i, ev := range tt.events {
				if got := c.feed(uint16(ev[0]), int32(ev[1])); got != tt.want[i] {
					t.Errorf("event %d (%v) = %v, want %v", i, ev, got, tt.want[i])
				}
			}
		})
	}
}
