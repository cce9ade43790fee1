package oracle

import (
	"fmt"
	"strings"
)

// Fallback answers used when the oracle cannot be reached.
const (
	FallbackNextQuestion    = "What else would you like to share?"
	FallbackInitialQuestion = "Hi! Let's talk about this topic."
)

const (
	temperatureGrammar     = 0.3
	temperatureImprovement = 0.7
	temperatureQuestion    = 0.8
)

func grammarPrompt(feedbackLanguage string) string {
	return fmt.Sprintf(`You are an English grammar checker. Analyze the sentence and determine if it's grammatically correct.

Response format:
- If correct: Return JSON {"isCorrect": true}
- If incorrect: Return JSON {"isCorrect": false, "error": "brief explanation in %s", "correction": "corrected sentence"}

Be strict about grammar but accept minor stylistic variations.`, feedbackLanguage)
}

const improvementPrompt = "You are an English writing coach. Suggest a more natural, fluent, or sophisticated way to express the same idea. " +
	"Keep the meaning intact but make it sound better. Reply with the improved sentence only."

func initialQuestionMessages(topic string) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: fmt.Sprintf(
			"You are an English teacher helping students practice writing. Generate a simple, friendly opening question "+
				"or statement related to the topic %q to start a conversation. Keep it natural and conversational.", topic)},
		{Role: "user", Content: "Create an opening question about: " + topic},
	}
}

func nextQuestionMessages(topic string, priorTurns []string) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: fmt.Sprintf(
			"You are an English teacher having a conversation about %q. Based on the previous messages, ask a natural "+
				"follow-up question to continue the conversation. Keep it friendly and encouraging.", topic)},
		{Role: "user", Content: "Previous conversation:\n" + strings.Join(priorTurns, "\n") + "\n\nGenerate the next question:"},
	}
}
