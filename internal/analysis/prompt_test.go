package analysis

import (
	"strings"
	"testing"

	"github.com/kalambet/recall/internal/resolve"
)

func TestStripFences(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"output":[]}`, `{"output":[]}`},
		{"```json\n{\"output\":[]}\n```", `{"output":[]}`},
		{"```\n[]\n```", `[]`},
		{"  []  ", `[]`},
	}
	for _, c := range cases {
		if got := stripFences(c.in); got != c.want {
			t.Errorf("stripFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParsePairs(t *testing.T) {
	raw := "```json\n" + `{"output":[
		{"question":"How to request a refund?","answer":"Open a ticket."},
		{"question":"  ","answer":"dropped"},
		{"question":"How to reset a password?","answer":"Use the reset link."}
	]}` + "\n```"

	pairs, err := parsePairs(raw)
	if err != nil {
		t.Fatalf("parsePairs: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(pairs))
	}
	if pairs[0].Question != "How to request a refund?" || pairs[0].Answer != "Open a ticket." {
		t.Errorf("pairs[0] = %+v", pairs[0])
	}

	if _, err := parsePairs("not json"); err == nil {
		t.Error("got nil error for malformed output")
	}
}

func TestParseQuestionList(t *testing.T) {
	questions, err := parseQuestionList(`["How to track my order?", "", "How to cancel?"]`)
	if err != nil {
		t.Fatalf("parseQuestionList: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(questions))
	}

	empty, err := parseQuestionList("[]")
	if err != nil {
		t.Fatalf("parseQuestionList empty: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("got %d questions from empty array, want 0", len(empty))
	}
}

func TestAnswerFromCandidatesPromptMaterial(t *testing.T) {
	messages := answerFromCandidatesPrompt([]resolve.Candidate{
		{Name: "How to request a refund?", Text: "Open a ticket."},
		{Name: "How to reset a password?", Text: "Use the reset link."},
	}, "refund please")

	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	user := messages[1].Content
	if !strings.Contains(user, "How to request a refund?\nOpen a ticket.") {
		t.Errorf("material missing first candidate:\n%s", user)
	}
	if !strings.Contains(user, "\n\nHow to reset a password?") {
		t.Errorf("candidates not separated by a blank line:\n%s", user)
	}
	if !strings.Contains(user, "refund please") {
		t.Errorf("user message missing:\n%s", user)
	}
}
