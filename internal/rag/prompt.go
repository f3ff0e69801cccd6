package rag

import "fmt"

const systemPrompt = `You are a news assistant. Answer the user's question using only the provided news articles. ` +
	`If the articles do not contain enough information to answer, say so plainly. ` +
	`Cite articles by their number when you draw on them. Do not invent facts that are not in the articles.`

// BuildPrompt renders the system and user messages for answer generation.
func BuildPrompt(contextText, question string) (system, user string) {
	user = fmt.Sprintf("News articles:\n\n%s\n\nQuestion: %s", contextText, question)
	return systemPrompt, user
}
