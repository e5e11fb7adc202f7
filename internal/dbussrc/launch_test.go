package dbussrc

import "testing"

func TestParseLaunched(t *testing.T) {
	tests := []struct {
		name    string
		body    []any
		wantID  string
		wantPID uint32
		wantOK  bool
	}{
		{
			name:    "simple path with NUL terminator, wire int64 pid",
			body:    []any{[]byte("/usr/share/applications/org.mozilla.firefox.desktop\x00"), "", int64(4242), []string{}, map[string]dbus_Variant{}},
			wantID:  "org.mozilla.firefox",
			wantPID: 4242,
			wantOK:  true,
		},
		{
			name:    "bare desktop id, uint32 pid",
			body:    []any{[]byte("org.gnome.Calculator.desktop"), ":0", uint32(99), []string{}, map[string]dbus_Variant{}},
			wantID:  "org.gnome.Calculator",
			wantPID: 99,
			wantOK:  true,
		},
		{
			name:    "int32 pid from a non-GLib emitter",
			body:    []any{[]byte("org.foo.Bar.desktop"), "", int32(7)},
			wantID:  "org.foo.Bar",
			wantPID: 7,
			wantOK:  true,
		},
		{
			name:   "too few fields",
			body:   []any{[]byte("x.desktop")},
			wantOK: false,
		},
		{
			name:   "wrong type for path",
			body:   []any{"not bytes", "", int32(1)},
			wantOK: false,
		},
		{
			name:   "empty resulting app id",
			body:   []any{[]byte(".desktop"), "", int32(1)},
			wantOK: false,
		},
		{
			name:   "wrong type for pid",
			body:   []any{[]byte("x.desktop"), "", "not-a-pid"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, gotPID, ok := parseLaunched(tt.body)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !tt.wantOK {
				return
			}
			if gotID != tt.wantID {
				t.Errorf("appID = %q, want %q", gotID, tt.wantID)
			}
			if gotPID != tt.wantPID {
				t.Errorf("pid = %d, want %d", gotPID, tt.wantPID)
			}
		})
	}
}

// dbus_Variant is a minimal stand-in for dbus.Variant in test bodies; the
// real signal payload's fifth field is a{sv} but parseLaunched never reads
// it, so any map type is fine here.
type dbus_Variant struct{}
