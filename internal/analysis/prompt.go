package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/recall/internal/llm"
	"github.com/kalambet/recall/internal/resolve"
)

const questionsFromDocumentSystem = `You are a helpful assistant who prepares the list of questions. Output ONLY a valid JSON object of the form {"output":[{"question":"...","answer":"..."}]}.`

const questionsFromDocumentUser = `Prepare the list of "How to..?" questions that can be answered with information from the text. Generate as many questions as you can think of and answer them. Keep questions generic.

TEXT:
%s`

const questionsFromMessageSystem = `You are a helpful assistant who prepares the list of questions. Output ONLY a valid JSON array of questions.`

const questionsFromMessageUser = `Rewrite the user message as the list of "How to..?" questions that user is asking.
Keep the questions generic. DO NOT include in generated questions names, website domains or sensitive user data.
If user message does not have any problems or questions, DO NOT make up them. Just return an empty array.

USER MESSAGE:
%s`

const answerFromDocumentSystem = `You are a helpful assistant and you use provided information to generate the best possible answer to the user question. Do not include any placeholders like "[Your Name]", "[Company Name]", etc. The generated message will be forwarded to customer as-is.`

const answerFromDocumentUser = `Generate response to the user message based on the provided material. Answer only to questions that you can find answers in provided material. Do not fabricate the answer.

INFORMATION:
%s

USER QUESTION:
%s`

const answerFromCandidatesSystem = `You are a helpful assistant and you use provided information to generate the best possible answer to the user question. Keep the answer concise.`

const answerFromCandidatesUser = `Generate an answer to the user message based on the provided material. If you cannot prepare a good answer, say you do not know. DO NOT fabricate the answer.

MATERIAL:
%s

USER MESSAGE:
%s`

func questionsFromDocumentPrompt(text string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: questionsFromDocumentSystem},
		{Role: "user", Content: fmt.Sprintf(questionsFromDocumentUser, text)},
	}
}

func questionsFromMessagePrompt(message string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: questionsFromMessageSystem},
		{Role: "user", Content: fmt.Sprintf(questionsFromMessageUser, message)},
	}
}

func answerFromDocumentPrompt(text, questionText string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: answerFromDocumentSystem},
		{Role: "user", Content: fmt.Sprintf(answerFromDocumentUser, text, questionText)},
	}
}

func answerFromCandidatesPrompt(candidates []resolve.Candidate, message string) []llm.Message {
	var material strings.Builder
	for i, c := range candidates {
		if i > 0 {
			material.WriteString("\n\n")
		}
		material.WriteString(c.Name)
		material.WriteString("\n")
		material.WriteString(c.Text)
	}
	return []llm.Message{
		{Role: "system", Content: answerFromCandidatesSystem},
		{Role: "user", Content: fmt.Sprintf(answerFromCandidatesUser, material.String(), message)},
	}
}

// Pair is one generated question and its answer.
type Pair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// stripFences trims markdown code fences that chat models wrap JSON in.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// parsePairs decodes the {"output":[...]} object produced by the document
// prompt. Entries missing a question are dropped.
func parsePairs(raw string) ([]Pair, error) {
	var wrapper struct {
		Output []Pair `json:"output"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &wrapper); err != nil {
		return nil, fmt.Errorf("parsing generated questions: %w", err)
	}
	pairs := wrapper.Output[:0]
	for _, p := range wrapper.Output {
		if strings.TrimSpace(p.Question) != "" {
			pairs = append(pairs, p)
		}
	}
	return pairs, nil
}

// parseQuestionList decodes the bare JSON array produced by the message
// prompt. An empty array is a valid result: the message asked nothing.
func parseQuestionList(raw string) ([]string, error) {
	var questions []string
	if err := json.Unmarshal([]byte(stripFences(raw)), &questions); err != nil {
		return nil, fmt.Errorf("parsing rewritten questions: %w", err)
	}
	kept := questions[:0]
	for _, q := range questions {
		if strings.TrimSpace(q) != "" {
			kept = append(kept, q)
		}
	}
	return kept, nil
}
