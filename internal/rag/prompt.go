package rag

import (
	"fmt"
	"strings"

	"github.com/bvergne/docrag/internal/llm"
	"github.com/bvergne/docrag/internal/memory"
)

const systemInstruction = `Tu es un assistant documentaire d'entreprise. Réponds uniquement à partir des documents fournis ci-dessous. Cite les noms de fichiers entre crochets lorsque tu t'appuies sur un document, par exemple [procedure.pdf]. Si l'information demandée ne figure pas dans les documents, dis-le explicitement. Réponds dans la langue de la question.`

// noDocumentsAnswer is returned without calling the model when retrieval
// yields nothing to ground an answer on.
const noDocumentsAnswer = "Je n'ai trouvé aucun document pertinent pour répondre à cette question."

const (
	// promptHistory bounds how many past exchanges are replayed into the
	// prompt and the contextualization request.
	promptHistory = 3
	// answerExcerptLen truncates past answers when replayed as history, to
	// keep the prompt budget for retrieved passages.
	answerExcerptLen = 200
)

// notFoundPhrases mark an answer that admits the documents don't cover the
// question. Matched case-insensitively.
var notFoundPhrases = []string{
	"je n'ai trouvé aucun",
	"je ne trouve pas",
	"aucune information",
	"pas d'information",
	"ne figure pas dans les documents",
	"je ne dispose pas",
	"no relevant information",
	"not found in the documents",
	"i could not find",
}

// scoreConfidence labels how grounded an answer appears: low when the model
// admits the documents don't cover the question, high when it was grounded
// on at least 4 passages, medium otherwise. A heuristic, not a probability.
func scoreConfidence(answer string, passageCount int) string {
	lower := strings.ToLower(answer)
	for _, phrase := range notFoundPhrases {
		if strings.Contains(lower, phrase) {
			return "low"
		}
	}
	if passageCount >= 4 {
		return "high"
	}
	return "medium"
}

// buildPrompt assembles the grounded generation request: the system
// instruction plus tagged passages, recent history, then the question.
func buildPrompt(history []memory.Exchange, passages []retrieved, question string) []llm.Message {
	var sb strings.Builder
	sb.WriteString(systemInstruction)
	sb.WriteString("\n\nDocuments :\n")
	for _, p := range passages {
		fmt.Fprintf(&sb, "\n[%s]\n%s\n", p.File, p.Text)
	}

	messages := []llm.Message{{Role: "system", Content: sb.String()}}
	for _, ex := range tailExchanges(history, promptHistory) {
		messages = append(messages,
			llm.Message{Role: "user", Content: ex.Question},
			llm.Message{Role: "assistant", Content: truncate(ex.Answer, answerExcerptLen)},
		)
	}
	return append(messages, llm.Message{Role: "user", Content: question})
}

// buildContextualizePrompt asks the model to rewrite a follow-up question
// into a standalone one given the recent exchanges.
func buildContextualizePrompt(history []memory.Exchange, message string) []llm.Message {
	var sb strings.Builder
	sb.WriteString("Historique de la conversation :\n")
	for _, ex := range tailExchanges(history, promptHistory) {
		fmt.Fprintf(&sb, "Utilisateur : %s\nAssistant : %s\n", ex.Question, truncate(ex.Answer, answerExcerptLen))
	}
	fmt.Fprintf(&sb, "\nQuestion de suivi : %s", message)

	return []llm.Message{
		{Role: "system", Content: "Reformule la question de suivi en une question autonome et complète, compréhensible sans l'historique. Réponds uniquement avec la question reformulée."},
		{Role: "user", Content: sb.String()},
	}
}

func tailExchanges(history []memory.Exchange, n int) []memory.Exchange {
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

// truncate shortens s to at most max runes, marking the cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
