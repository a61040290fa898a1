package dialog

import "testing"

func TestParseIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "plain", raw: `{"action":"closing","reason":"stated"}`, want: ActionClosing},
		{name: "fenced", raw: "```json\n{\"action\":\"farewell\",\"reason\":\"bye\"}\n```", want: ActionFarewell},
		{name: "whitespace", raw: "  {\"action\":\"take_message\",\"reason\":\"\"}  ", want: ActionTakeMessage},
		{name: "unknown action", raw: `{"action":"shout","reason":"?"}`, wantErr: true},
		{name: "prose", raw: "The user seems to be closing the call.", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			intent, err := parseIntent(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("want error, got %+v", intent)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if intent.Action != tc.want {
				t.Errorf("action = %q, want %q", intent.Action, tc.want)
			}
		})
	}
}

func TestMatchesNothingFurther(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want bool
	}{
		{"No, thank you!", true},
		{"nothing else.", true},
		{"That's all", true},
		{"no tanks", true}, // transcription artifact
		{"Goodbye", true},
		{"yes, one more thing", false},
		{"can you check my order", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := matchesNothingFurther(tc.msg); got != tc.want {
			t.Errorf("matchesNothingFurther(%q) = %t, want %t", tc.msg, got, tc.want)
		}
	}
}
