package output

import (
	"bytes"
	"strings"
	"testing"
)

type sample struct {
	Name  string `json:"name" yaml:"name"`
	Value int    `json:"value" yaml:"value"`
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v, want %q (error %v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestNewFormatter(t *testing.T) {
	if _, ok := NewFormatter(FormatJSON, false).(*JSONFormatter); !ok {
		t.Error("NewFormatter(json) is not a JSONFormatter")
	}
	if _, ok := NewFormatter(FormatYAML, false).(*YAMLFormatter); !ok {
		t.Error("NewFormatter(yaml) is not a YAMLFormatter")
	}
	tf, ok := NewFormatter(FormatTable, true).(*TableFormatter)
	if !ok || !tf.Wide {
		t.Error("NewFormatter(table, wide) is not a wide TableFormatter")
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONFormatter{}).Format(&buf, []sample{{"a", 1}}); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"name": "a"`) || !strings.Contains(out, `"value": 1`) {
		t.Fatalf("Format() = %q, want indented fields", out)
	}
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&YAMLFormatter{}).Format(&buf, []sample{{"a", 1}, {"b", 2}}); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	want := "- name: a\n  value: 1\n- name: b\n  value: 2\n"
	if got := buf.String(); got != want {
		t.Fatalf("Format() = %q, want %q", got, want)
	}
}
