package claude

import "testing"

func TestParseStreamLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{
			name: "text delta",
			line: `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}}`,
			want: TextDelta{Text: "hi"},
		},
		{
			name: "empty delta text ignored",
			line: `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":""}}}`,
			want: nil,
		},
		{
			name: "non-text delta ignored",
			line: `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{"}}}`,
			want: nil,
		},
		{
			name: "wrong inner event type ignored",
			line: `{"type":"stream_event","event":{"type":"message_start"}}`,
			want: nil,
		},
		{
			name: "user receipt",
			line: `{"type":"user","message":{"role":"user","content":"x"}}`,
			want: UserReceipt{},
		},
		{
			name: "unknown type ignored",
			line: `{"type":"system","subtype":"init"}`,
			want: nil,
		},
		{
			name: "blank line",
			line: "   \t ",
			want: nil,
		},
		{
			name: "truncated json",
			line: `{"type":"result","resu`,
			want: nil,
		},
		{
			name: "not json at all",
			line: "Claude Code v2",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseStreamLine(tt.line)
			if got != tt.want {
				t.Errorf("ParseStreamLine(%q) = %#v, want %#v", tt.line, got, tt.want)
			}
		})
	}
}

func TestParseStreamLineResult(t *testing.T) {
	line := `{"type":"result","result":"done","session_id":"abc","cost_usd":0.01,"usage":{"input_tokens":100,"output_tokens":50}}`
	ev := ParseStreamLine(line)
	res, ok := ev.(Result)
	if !ok {
		t.Fatalf("got %#v, want Result", ev)
	}
	if res.Text != "done" || res.SessionID != "abc" {
		t.Errorf("Result = %+v", res)
	}
	if res.Cost == nil || *res.Cost != 0.01 {
		t.Errorf("cost = %v, want 0.01", res.Cost)
	}
	if res.Tokens == nil || *res.Tokens != 150 {
		t.Errorf("tokens = %v, want 150", res.Tokens)
	}
}

func TestParseStreamLineResultCostFallback(t *testing.T) {
	line := `{"type":"result","result":"ok","total_cost_usd":0.25}`
	res, ok := ParseStreamLine(line).(Result)
	if !ok {
		t.Fatal("not a Result")
	}
	if res.Cost == nil || *res.Cost != 0.25 {
		t.Errorf("cost = %v, want total_cost_usd fallback 0.25", res.Cost)
	}
	if res.Tokens != nil {
		t.Errorf("tokens = %v, want nil without usage", res.Tokens)
	}
}

func TestParseStreamLineNeverPanics(t *testing.T) {
	inputs := []string{
		"", "null", "[]", `{"type":null}`, `{"type":"stream_event"}`,
		`{"type":"stream_event","event":null}`,
		`{"type":"stream_event","event":{"type":"content_block_delta"}}`,
		`{"type":"result"}`,
		string([]byte{0xff, 0xfe}),
	}
	for _, in := range inputs {
		ParseStreamLine(in) // must not panic
	}
}
