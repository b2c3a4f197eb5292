package completion

import (
	"fmt"
	"strings"
)

const respondGuidelines = `

Guidelines:
- Keep responses conversational and encouraging
- Stay in character based on your personality background
- Don't correct grammar mistakes unless explicitly asked
- Ask follow-up questions to keep the conversation flowing
- Adapt your language level to match the user's proficiency
- Be patient and supportive
- Focus on practical, everyday English usage
- Draw from your background and expertise when relevant
- Keep your response shorter than 160 characters`

const suggestGuidelines = `

Based on the conversation history, suggest a natural reply the user could say next to continue the conversation.

Guidelines:
- Provide only ONE suggested reply
- Keep it conversational and shorter than 100 characters
- Match the user's language proficiency level
- Don't suggest a question if the partner just asked one
- Keep it relevant to the conversation topic

Return ONLY the suggested reply text, without explanations or formatting.`

const grammarPrompt = `You are a grammar correction assistant. For the given text produce two versions:
1. The text with only punctuation added (periods, question marks, commas), grammar unchanged.
2. If the text contains grammar mistakes, a grammatically corrected version.

Format the reply as:
[first version]
#
[second version]

If no grammar correction is needed, return only the first version without the # separator. Return ONLY the text, no explanations.`

const analyzePromptTemplate = `You are an English grammar analysis assistant. Analyse the user's messages from a conversation for grammatical errors and learning opportunities.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "conversationInfo": {"contactName": %q, "date": %q, "totalUserMessages": %d},
  "errors": [
    {
      "messageText": "<exact user message with the error>",
      "errorType": "grammar|word_choice|sentence_structure|punctuation|spelling",
      "errorDescription": "<what is wrong>",
      "suggestion": "<corrected version>",
      "explanation": "<why it is better, with a learning tip>",
      "severity": "high|medium|low"
    }
  ],
  "summary": "<overall assessment and main areas for improvement>"
}

Rules:
- Focus on errors that help learning; ignore minor stylistic preferences.
- Prioritise grammar, word choice and sentence structure.
- Be encouraging but specific.
- If there are no significant errors, return an empty errors array.
- Severity: high affects meaning, medium is incorrect but understandable, low is a minor improvement.`

// partnerPrompt is the system prompt shared by respond and suggest.
func partnerPrompt(personality, guidelines string) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful English conversation partner")
	if personality != "" {
		sb.WriteString(" with this background: ")
		sb.WriteString(personality)
	}
	sb.WriteByte('.')
	sb.WriteString(guidelines)
	return sb.String()
}

func analyzePrompt(contactName, date string, total int) string {
	return fmt.Sprintf(analyzePromptTemplate, contactName, date, total)
}

func analyzeUserMessage(userMessages []string) string {
	var sb strings.Builder
	sb.WriteString("Please analyse these user messages from a conversation:\n\n")
	for i, m := range userMessages {
		fmt.Fprintf(&sb, "Message %d: %q\n", i+1, m)
	}
	return strings.TrimRight(sb.String(), "\n")
}
