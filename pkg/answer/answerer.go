package answer

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/perbu/policyrag/pkg/policyrag"
)

var tracer = otel.Tracer("github.com/perbu/policyrag/answer")

// Retriever supplies the evidence for a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (policyrag.EvidenceSet, error)
}

// Answerer runs one question through retrieval, completion and assembly.
type Answerer struct {
	retriever Retriever
	completer Completer
	log       logr.Logger
}

// NewAnswerer returns an Answerer asking c about evidence from r.
func NewAnswerer(r Retriever, c Completer, log logr.Logger) *Answerer {
	return &Answerer{retriever: r, completer: c, log: log}
}

// Ask answers question from the policy. Retrieval and completion failures
// fail the question and produce no structured answer; an unparseable
// completion still yields an answer with fallback texts.
func (a *Answerer) Ask(ctx context.Context, question string) (policyrag.Answer, error) {
	ctx, span := tracer.Start(ctx, "answer.Ask")
	defer span.End()

	ev, err := a.retriever.Retrieve(ctx, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return policyrag.Answer{}, err
	}

	raw, err := a.completer.Complete(ctx, SystemPrompt, UserMessage(ev.Context, question))
	if err != nil {
		if !errors.Is(err, policyrag.ErrCompletion) {
			err = fmt.Errorf("%v: %w", err, policyrag.ErrCompletion)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.log.Error(err, "completion failed", "pages", ev.Citations)
		return policyrag.Answer{}, err
	}

	ans := policyrag.Answer{
		Question:  question,
		Answer:    Assemble(raw),
		Citations: ev.Citations,
		Evidence:  ev.Hits,
		Raw:       raw,
	}
	span.SetAttributes(attribute.IntSlice("policyrag.citations", ev.Citations))
	a.log.Info("answered question", "pages", ev.Citations, "decision", ans.Answer.Decision)
	return ans, nil
}
