package ai

import (
	"fmt"

	"github.com/zhouzirui/datachat/backend/internal/model/dataset"
)

// RefusalMessage is the reply the model is told to give for questions
// unrelated to the dataset. Compliance is up to the model.
const RefusalMessage = "Por ahora solo me centro en responder preguntas del dataset"

// PromptTemplate frames the dataset rendering inside the system message.
type PromptTemplate struct {
	Role         string
	Scope        string
	RefusalRule  string
	RefusalReply string
}

// DefaultPromptTemplate restricts the model to data-analyst answers.
func DefaultPromptTemplate() PromptTemplate {
	return PromptTemplate{
		Role:         "Eres un analista de datos.",
		Scope:        "Solo debes responder preguntas relacionadas con el siguiente dataset:",
		RefusalRule:  "Si la pregunta no tiene relación con los datos, responde:",
		RefusalReply: RefusalMessage,
	}
}

// PromptBuilder renders the system message from the leading dataset rows.
type PromptBuilder struct {
	template    PromptTemplate
	contextRows int
}

// NewPromptBuilder serializes at most contextRows rows into the prompt.
func NewPromptBuilder(contextRows int) *PromptBuilder {
	return &PromptBuilder{
		template:    DefaultPromptTemplate(),
		contextRows: contextRows,
	}
}

// BuildSystemPrompt creates the system message for table.
func (pb *PromptBuilder) BuildSystemPrompt(table *dataset.Table) string {
	return fmt.Sprintf("%s %s\n\n%s\n\n%s '%s'.",
		pb.template.Role,
		pb.template.Scope,
		table.Head(pb.contextRows).Text(),
		pb.template.RefusalRule,
		pb.template.RefusalReply,
	)
}
