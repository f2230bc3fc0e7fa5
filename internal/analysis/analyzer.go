// Package analysis runs the model-driven flows: generating questions from
// source material, answering questions from material or stored neighbors,
// and deciding how a question enters fine-tuning.
package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/recall/internal/llm"
	"github.com/kalambet/recall/internal/question"
	"github.com/kalambet/recall/internal/resolve"
)

// Completer produces a chat completion.
type Completer interface {
	Complete(ctx context.Context, model string, messages []llm.Message, temperature *float64) (string, llm.Usage, error)
}

// Embedder produces embeddings for input texts.
type Embedder interface {
	Embed(ctx context.Context, model string, input []string) ([][]float32, llm.Usage, error)
	EmbedChunked(ctx context.Context, model string, input []string, batchSize int) ([][]float32, llm.Usage, error)
}

// QuestionStore is the slice of the question store the analyzer writes
// through.
type QuestionStore interface {
	Create(ctx context.Context, q question.Question) (question.Summary, error)
	Read(ctx context.Context, uuid string) (question.Question, error)
	Update(ctx context.Context, uuid string, patch question.Patch) (question.Summary, error)
}

// Enqueuer queues a question for deep fine-tuning.
type Enqueuer interface {
	Enqueue(ctx context.Context, questionUUID string) (string, error)
}

// CandidateFinder resolves an embedding to stored answer candidates.
type CandidateFinder interface {
	Candidates(ctx context.Context, embedding []float32) ([]resolve.Candidate, error)
}

// OriginContent fetches the text of an origin object so it can serve as
// answer material.
type OriginContent interface {
	Content(ctx context.Context, target question.OriginRef) (string, error)
}

// Config names the models the analyzer calls.
// EmbedBatch caps how many texts go into one embeddings request.
type Config struct {
	ChatModel  string
	EmbedModel string
	EmbedBatch int
}

// Analyzer wires the model client to the question store, the tuning queue
// and the candidate resolver.
type Analyzer struct {
	chat       Completer
	embed      Embedder
	questions  QuestionStore
	queue      Enqueuer
	candidates CandidateFinder
	content    OriginContent
	cfg        Config
	logger     *slog.Logger
}

func New(chat Completer, embed Embedder, questions QuestionStore, queue Enqueuer, candidates CandidateFinder, content OriginContent, cfg Config) *Analyzer {
	if cfg.EmbedBatch <= 0 {
		cfg.EmbedBatch = 16
	}
	return &Analyzer{
		chat:       chat,
		embed:      embed,
		questions:  questions,
		queue:      queue,
		candidates: candidates,
		content:    content,
		cfg:        cfg,
		logger:     slog.Default(),
	}
}

// QuestionsFromDocument generates question/answer pairs from document text
// and stores each as a fully answered question attached to the origin.
// Answered questions arrive with embeddings, so they are searchable right
// away.
func (a *Analyzer) QuestionsFromDocument(ctx context.Context, origin question.OriginRef, text string) ([]question.Summary, error) {
	raw, chatUsage, err := a.chat.Complete(ctx, a.cfg.ChatModel, questionsFromDocumentPrompt(text), nil)
	if err != nil {
		return nil, fmt.Errorf("generating questions from document: %w", err)
	}
	pairs, err := parsePairs(raw)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(pairs))
	for i, p := range pairs {
		texts[i] = p.Question
	}
	embeddings, embedUsage, err := a.embed.EmbedChunked(ctx, a.cfg.EmbedModel, texts, a.cfg.EmbedBatch)
	if err != nil {
		return nil, fmt.Errorf("embedding generated questions: %w", err)
	}

	summaries := make([]question.Summary, 0, len(pairs))
	for i, p := range pairs {
		q := question.Question{
			Text:      p.Question,
			Answer:    p.Answer,
			Embedding: embeddings[i],
			Origin:    &origin,
		}
		if i == 0 {
			// Usage is billed per request, so only the first record carries it.
			q.Usage = []llm.Usage{
				chatUsage.WithPurpose("Document2Questions"),
				embedUsage.WithPurpose("Embedding"),
			}
		}
		s, err := a.questions.Create(ctx, q)
		if err != nil {
			return summaries, fmt.Errorf("storing generated question: %w", err)
		}
		summaries = append(summaries, s)
	}
	a.logger.Info("questions generated from document", "origin", origin.String(), "count", len(summaries))
	return summaries, nil
}

// QuestionsFromMessage rewrites a user message into generic questions and
// stores them unanswered. A message that asks nothing yields no questions.
func (a *Analyzer) QuestionsFromMessage(ctx context.Context, origin question.OriginRef, message string) ([]question.Summary, error) {
	raw, chatUsage, err := a.chat.Complete(ctx, a.cfg.ChatModel, questionsFromMessagePrompt(message), nil)
	if err != nil {
		return nil, fmt.Errorf("rewriting message into questions: %w", err)
	}
	texts, err := parseQuestionList(raw)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings, embedUsage, err := a.embed.EmbedChunked(ctx, a.cfg.EmbedModel, texts, a.cfg.EmbedBatch)
	if err != nil {
		return nil, fmt.Errorf("embedding rewritten questions: %w", err)
	}

	summaries := make([]question.Summary, 0, len(texts))
	for i, text := range texts {
		q := question.Question{
			Text:      text,
			Embedding: embeddings[i],
			Origin:    &origin,
		}
		if i == 0 {
			q.Usage = []llm.Usage{
				chatUsage.WithPurpose("Message2Questions"),
				embedUsage.WithPurpose("Embedding"),
			}
		}
		s, err := a.questions.Create(ctx, q)
		if err != nil {
			return summaries, fmt.Errorf("storing rewritten question: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// AnswerFromOrigin generates an answer for a stored question from the
// target origin's material and persists it. A question answered this way
// gains an embedding if it had none, which pulls it into the search index.
func (a *Analyzer) AnswerFromOrigin(ctx context.Context, questionUUID string, target question.OriginRef) error {
	q, err := a.questions.Read(ctx, questionUUID)
	if err != nil {
		return err
	}

	material, err := a.content.Content(ctx, target)
	if err != nil {
		return fmt.Errorf("loading material from %s: %w", target, err)
	}

	answer, chatUsage, err := a.chat.Complete(ctx, a.cfg.ChatModel, answerFromDocumentPrompt(material, q.Text), nil)
	if err != nil {
		return fmt.Errorf("generating answer for %s: %w", questionUUID, err)
	}

	patch := question.Patch{
		Answer:      &answer,
		AppendUsage: []llm.Usage{chatUsage.WithPurpose("Question2Answer")},
	}

	if len(q.Embedding) == 0 {
		embeddings, embedUsage, err := a.embed.Embed(ctx, a.cfg.EmbedModel, []string{q.Text})
		if err != nil {
			return fmt.Errorf("embedding question %s: %w", questionUUID, err)
		}
		patch.Embedding = embeddings[0]
		patch.AppendUsage = append(patch.AppendUsage, embedUsage.WithPurpose("Embedding"))
	}

	if _, err := a.questions.Update(ctx, questionUUID, patch); err != nil {
		return err
	}
	return nil
}

// CandidatesForMessage embeds a user message and resolves it to stored
// answer candidates.
func (a *Analyzer) CandidatesForMessage(ctx context.Context, message string) ([]resolve.Candidate, error) {
	embeddings, _, err := a.embed.Embed(ctx, a.cfg.EmbedModel, []string{message})
	if err != nil {
		return nil, fmt.Errorf("embedding message: %w", err)
	}
	return a.candidates.Candidates(ctx, embeddings[0])
}

// Answer drafts a reply to a user message from stored candidates. The
// message is embedded, resolved to candidates, and the candidates serve as
// the only material. With no usable candidates the message cannot be
// answered from the knowledge base and both returns are empty.
func (a *Analyzer) Answer(ctx context.Context, message string) (string, []resolve.Candidate, error) {
	candidates, err := a.CandidatesForMessage(ctx, message)
	if err != nil {
		return "", nil, err
	}
	if len(candidates) == 0 {
		return "", nil, nil
	}

	answer, _, err := a.chat.Complete(ctx, a.cfg.ChatModel, answerFromCandidatesPrompt(candidates, message), nil)
	if err != nil {
		return "", nil, fmt.Errorf("drafting answer: %w", err)
	}
	return answer, candidates, nil
}

// FineTuneQuestion decides how an answered question enters fine-tuning.
// Close stored neighbors mean the knowledge is already represented, so the
// question is linked shallow with its neighbors recorded; otherwise it goes
// deep and joins the open tuning batch. A question that already has a
// method is left alone.
func (a *Analyzer) FineTuneQuestion(ctx context.Context, questionUUID string) error {
	q, err := a.questions.Read(ctx, questionUUID)
	if err != nil {
		return err
	}
	if q.FTMethod != question.FTNone {
		return nil
	}
	if q.Answer == "" {
		return fmt.Errorf("%w: question %s has no answer", question.ErrValidation, questionUUID)
	}

	embedding := q.Embedding
	patch := question.Patch{}
	if len(embedding) == 0 {
		embeddings, embedUsage, err := a.embed.Embed(ctx, a.cfg.EmbedModel, []string{q.Text})
		if err != nil {
			return fmt.Errorf("embedding question %s: %w", questionUUID, err)
		}
		embedding = embeddings[0]
		patch.Embedding = embedding
		patch.AppendUsage = append(patch.AppendUsage, embedUsage.WithPurpose("Embedding"))
	}

	candidates, err := a.candidates.Candidates(ctx, embedding)
	if err != nil {
		return err
	}

	neighbors := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.UUID != questionUUID {
			neighbors = append(neighbors, c.UUID)
		}
	}

	if len(neighbors) > 0 {
		method := question.FTShallow
		patch.FTMethod = &method
		patch.SimilarQuestions = neighbors
		if _, err := a.questions.Update(ctx, questionUUID, patch); err != nil {
			return err
		}
		a.logger.Info("question linked shallow", "uuid", questionUUID, "neighbors", len(neighbors))
		return nil
	}

	if len(patch.Embedding) > 0 || len(patch.AppendUsage) > 0 {
		if _, err := a.questions.Update(ctx, questionUUID, patch); err != nil {
			return err
		}
	}
	batchUUID, err := a.queue.Enqueue(ctx, questionUUID)
	if err != nil {
		return fmt.Errorf("queueing question %s for tuning: %w", questionUUID, err)
	}
	method := question.FTDeep
	if _, err := a.questions.Update(ctx, questionUUID, question.Patch{FTMethod: &method}); err != nil {
		return err
	}
	a.logger.Info("question queued deep", "uuid", questionUUID, "batch", batchUUID)
	return nil
}

// GenerateAnswer and FineTune satisfy the question store's link hooks.

func (a *Analyzer) GenerateAnswer(ctx context.Context, questionUUID string, target question.OriginRef) error {
	return a.AnswerFromOrigin(ctx, questionUUID, target)
}

func (a *Analyzer) FineTune(ctx context.Context, questionUUID string) error {
	return a.FineTuneQuestion(ctx, questionUUID)
}
