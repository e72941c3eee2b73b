package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/healbee/healbee/internal/flow"
)

func TestRunREPL(t *testing.T) {
	m := newTestManager(t)
	in := strings.NewReader("I have fever\n\n/lang xx\n/lang hi\nI have fever\n/new\n/help\n/quit\nnever read\n")
	var out bytes.Buffer

	if err := runREPL(t.Context(), m, in, &out, flow.StartOptions{}); err != nil {
		t.Fatalf("runREPL: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"How many days have you had the fever?",
		`Unsupported language "xx".`,
		`Started a new conversation (language "hi").`,
		"आपको कितने दिनों से बुखार है?",
		"Started a new conversation.",
		"/quit        exit",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if m.Len() != 0 {
		t.Errorf("%d conversations left open", m.Len())
	}
}

func TestRunREPL_EOF(t *testing.T) {
	m := newTestManager(t)
	var out bytes.Buffer
	if err := runREPL(t.Context(), m, strings.NewReader("I have a cold"), &out, flow.StartOptions{}); err != nil {
		t.Fatalf("runREPL: %v", err)
	}
	if !strings.Contains(out.String(), "> ") {
		t.Errorf("no prompt written:\n%s", out.String())
	}
}

func TestRunREPL_InvalidStart(t *testing.T) {
	var out bytes.Buffer
	if err := runREPL(t.Context(), newTestManager(t), strings.NewReader(""), &out, flow.StartOptions{Language: "fr"}); err == nil {
		t.Error("expected an error for an unsupported language")
	}
}
