package frame

import "testing"

func TestHasToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		meta   string
		tokens []string
		want   bool
	}{
		{"video subscribe", `<OMTSubscribe Video="true" />`, []string{"Subscribe", "Video"}, true},
		{"case insensitive", `<omtsubscribe video="TRUE" />`, []string{"Subscribe", "Video"}, true},
		{"audio not video", `<OMTSubscribe Audio="true" />`, []string{"Subscribe", "Video"}, false},
		{"tally", `<OMTTally Preview="true" Program="false" />`, []string{"Tally"}, true},
		{"empty", "", []string{"Subscribe"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasToken(tt.meta, tt.tokens...); got != tt.want {
				t.Errorf("HasToken(%q, %v) = %t, want %t", tt.meta, tt.tokens, got, tt.want)
			}
		})
	}
}

func TestMetadataTextTrimsNULs(t *testing.T) {
	t.Parallel()

	payload := append([]byte(`<OMTInfo Name="cam" />`), 0, 0, 0)
	if got := MetadataText(payload); got != `<OMTInfo Name="cam" />` {
		t.Errorf("MetadataText = %q", got)
	}
}

func TestAttrValue(t *testing.T) {
	t.Parallel()

	meta := `<OMTSettings Quality="High" />`
	if got := AttrValue(meta, "Quality"); got != "High" {
		t.Errorf("AttrValue Quality = %q, want High", got)
	}
	if got := AttrValue(meta, "quality"); got != "High" {
		t.Errorf("AttrValue is not case-insensitive on the name: %q", got)
	}
	if got := AttrValue(meta, "Missing"); got != "" {
		t.Errorf("AttrValue Missing = %q, want empty", got)
	}
}

func TestParseTally(t *testing.T) {
	t.Parallel()

	preview, program := ParseTally(Tally(true, false))
	if !preview || program {
		t.Errorf("ParseTally(Tally(true,false)) = %t,%t", preview, program)
	}
	preview, program = ParseTally(Tally(false, true))
	if preview || !program {
		t.Errorf("ParseTally(Tally(false,true)) = %t,%t", preview, program)
	}
}

func TestFragmentsMatchProtocolSpelling(t *testing.T) {
	t.Parallel()

	if SubscribeVideo != `<OMTSubscribe Video="true" />` {
		t.Errorf("SubscribeVideo = %q", SubscribeVideo)
	}
	if got := SettingsQuality("Default"); got != `<OMTSettings Quality="Default" />` {
		t.Errorf("SettingsQuality = %q", got)
	}
	if got := Tally(true, true); got != `<OMTTally Preview="true" Program="true" />` {
		t.Errorf("Tally = %q", got)
	}
}
