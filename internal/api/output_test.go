package api

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

type sample struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

func TestOutputTo(t *testing.T) {
	tests := []struct {
		format OutputFormat
		want   string
	}{
		{OutputFormatJSON, "{\n  \"name\": \"book\",\n  \"count\": 3\n}\n"},
		{OutputFormatYAML, "name: book\ncount: 3\n"},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := OutputTo(&buf, tt.format, sample{Name: "book", Count: 3}); err != nil {
				t.Fatalf("OutputTo() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}

	if err := OutputTo(&bytes.Buffer{}, "xml", nil); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestSetOutputFormat(t *testing.T) {
	t.Cleanup(func() {
		SetOutputFormat("yaml")
		SetWriter(os.Stdout)
	})

	if err := SetOutputFormat("toml"); err == nil {
		t.Fatal("expected error for toml")
	}
	if GetOutputFormat() != OutputFormatYAML {
		t.Errorf("format changed after rejected value: %s", GetOutputFormat())
	}

	if err := SetOutputFormat("json"); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	SetWriter(&buf)
	if err := Output(sample{Name: "x"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
}
