package models

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultTopK         = 10
	DefaultDimension    = 768

	ContextSeparator = "\n\n"
	ThinkTag         = `(?s)<think>.*?</think>`

	NoInformationAnswer = "No information is available in the uploaded documents to answer this question."
)

var (
	SystemPrompt = `You are a helpful assistant. Use the following document context to answer the question accurately.`

	AnswerPromptTemplate = `Document Context:
%s

Question: %s

Answer:`

	SummaryPromptTemplate = `Summarize the following pdf:
%s`
)
