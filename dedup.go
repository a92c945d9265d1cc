package tosassembler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// LLMSimilarityChecker implements SimilarityChecker with a model call. It is
// optional: assembly runs without it, since structural anti-redundancy is
// already enforced at generation time.
type LLMSimilarityChecker struct {
	client *openai.Client
	logger *RunLogger
}

// NewLLMSimilarityChecker creates a checker with an OpenAI client.
func NewLLMSimilarityChecker(apiKey string) *LLMSimilarityChecker {
	return &LLMSimilarityChecker{client: openai.NewClient(apiKey)}
}

// SetLogger attaches a run logger for request/response auditing.
func (c *LLMSimilarityChecker) SetLogger(logger *RunLogger) {
	c.logger = logger
}

// TooSimilar asks the model whether the candidate tests the same knowledge
// point as any question already selected for this run.
func (c *LLMSimilarityChecker) TooSimilar(ctx context.Context, candidate Question, selected []Question) (bool, error) {
	if len(selected) == 0 {
		return false, nil
	}

	var sb strings.Builder
	sb.WriteString("Questions already selected for this test:\n\n")
	for _, q := range selected {
		writeQuestionBlock(&sb, q)
	}
	sb.WriteString("Candidate question:\n\n")
	writeQuestionBlock(&sb, candidate)
	sb.WriteString(similarityCriteria)

	prompt := sb.String()
	if c.logger != nil {
		c.logger.LogLLMRequest("SimilarityChecker", prompt)
	}

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: openai.GPT4o,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "You are an expert at detecting duplicate exam questions. Compare the candidate against the selected questions and decide whether it tests the same knowledge point as any of them.",
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			Tools: []openai.Tool{
				{
					Type: openai.ToolTypeFunction,
					Function: &openai.FunctionDefinition{
						Name:        "report_similarity",
						Description: "Report whether the candidate duplicates a selected question",
						Parameters: map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"reason": map[string]interface{}{
									"type":        "string",
									"description": "Explanation for the decision",
								},
								"too_similar": map[string]interface{}{
									"type":        "boolean",
									"description": "Whether the candidate is too similar to a selected question",
								},
							},
							"required": []string{"reason", "too_similar"},
						},
					},
				},
			},
			ToolChoice: openai.ToolChoice{
				Type: openai.ToolTypeFunction,
				Function: openai.ToolFunction{
					Name: "report_similarity",
				},
			},
		},
	)
	if err != nil {
		return false, fmt.Errorf("failed to check similarity: %w", err)
	}

	if len(resp.Choices) == 0 {
		return false, fmt.Errorf("no response from model")
	}
	choice := resp.Choices[0]
	if len(choice.Message.ToolCalls) == 0 {
		return false, fmt.Errorf("no tool calls in response")
	}
	toolCall := choice.Message.ToolCalls[0]
	if toolCall.Function.Name != "report_similarity" {
		return false, fmt.Errorf("unexpected tool call: %s", toolCall.Function.Name)
	}

	if c.logger != nil {
		c.logger.LogLLMResponse("SimilarityChecker", toolCall.Function.Arguments)
	}

	var toolArgs struct {
		Reason     string `json:"reason"`
		TooSimilar bool   `json:"too_similar"`
	}
	if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &toolArgs); err != nil {
		return false, fmt.Errorf("failed to parse tool arguments: %w", err)
	}

	VerboseLog("Similarity check for %s: similar=%v, reason=%s", candidate.ID, toolArgs.TooSimilar, toolArgs.Reason)
	return toolArgs.TooSimilar, nil
}

func writeQuestionBlock(sb *strings.Builder, q Question) {
	sb.WriteString(fmt.Sprintf("ID: %s\n", q.ID))
	sb.WriteString(fmt.Sprintf("Question: %s\n", q.Text))
	if q.IsMCQ() {
		sb.WriteString("Options:\n")
		for _, key := range q.ChoiceOrder {
			marker := " "
			if key == q.CorrectAnswer {
				marker = "*"
			}
			sb.WriteString(fmt.Sprintf("%s%s. %s\n", marker, key, q.Choices[key]))
		}
	}
	sb.WriteString(fmt.Sprintf("Correct Answer: %s\n\n", q.CorrectAnswer))
}

const similarityCriteria = `Evaluation criteria:

1. TOO SIMILAR:
   - Same concept tested with different wording
   - Same question with minor rephrasing
   - Questions that test the same knowledge point
2. NOT TOO SIMILAR:
   - Different aspects of the same topic
   - Different cognitive operations on related material
   - Questions that test related but distinct concepts

Decide whether the candidate is too similar to any selected question.`
