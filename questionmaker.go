package tosassembler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// GenerationRequest is one planned question sent to the text-generation
// service. Requests for a cell are batched into a single call.
type GenerationRequest struct {
	Topic             string             `json:"topic"`
	Level             CognitiveLevel     `json:"cognitive_level"`
	Dimension         KnowledgeDimension `json:"knowledge_dimension"`
	Difficulty        Difficulty         `json:"difficulty"`
	AnswerType        AnswerType         `json:"answer_type"`
	Constraint        string             `json:"answer_type_constraint"`
	Concept           string             `json:"assigned_concept"`
	Operation         string             `json:"assigned_operation"`
	ForbiddenPatterns []string           `json:"forbidden_patterns"`
}

// GenerationResult is one question/answer pair returned by the service.
// Choices are present only for multiple-choice output.
type GenerationResult struct {
	QuestionText  string   `json:"question"`
	AnswerText    string   `json:"answer"`
	Choices       []string `json:"choices,omitempty"`
	CorrectChoice int      `json:"correct_choice"`
}

// TextGenerator produces question text from constrained requests. Failure of
// the whole batch is a single error, never per-item.
type TextGenerator interface {
	GenerateBatch(ctx context.Context, reqs []GenerationRequest) ([]GenerationResult, error)
}

// answerTypeConstraints describe, for the generator, what shape each answer
// structure must take.
var answerTypeConstraints = map[AnswerType]string{
	AnswerDefinition:     "The answer must be a precise definition of the concept.",
	AnswerIdentification: "The answer must name or identify the specific item asked for.",
	AnswerExplanation:    "The answer must explain how or why, not merely restate facts.",
	AnswerComparison:     "The answer must explicitly compare two things using comparative language.",
	AnswerAnalysis:       "The answer must break the subject into parts and relate them; it must not enumerate a list.",
	AnswerApplication:    "The answer must apply the concept to a concrete situation.",
	AnswerDemonstration:  "The answer must walk through performing the procedure in a specific case.",
	AnswerEvaluation:     "The answer must render a judgment with explicit criteria.",
	AnswerJustification:  "The answer must defend a position with reasons (because, therefore).",
	AnswerDesign:         "The answer must describe a new artifact or plan, not define existing ones.",
	AnswerConstruction:   "The answer must build something concrete step by step toward a stated goal.",
	AnswerReflection:     "The answer must reflect on the learner's own thinking or strategy.",
}

// QuestionMaker generates exam questions through the OpenAI chat completion
// API, implementing TextGenerator.
type QuestionMaker struct {
	client *openai.Client
	logger *RunLogger
}

// NewQuestionMaker creates a question maker with an OpenAI client.
func NewQuestionMaker(apiKey string) *QuestionMaker {
	return &QuestionMaker{client: openai.NewClient(apiKey)}
}

// SetLogger attaches a run logger for LLM request/response auditing.
func (qm *QuestionMaker) SetLogger(logger *RunLogger) {
	qm.logger = logger
}

// GenerateBatch sends all requests in one chat completion round-trip and
// parses the tool-call response into results, one per request.
func (qm *QuestionMaker) GenerateBatch(ctx context.Context, reqs []GenerationRequest) ([]GenerationResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	prompt := buildBatchPrompt(reqs)
	if qm.logger != nil {
		qm.logger.LogLLMRequest("QuestionMaker", prompt)
	}

	resp, err := qm.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: openai.GPT4o,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "You are an expert exam item writer. Write one question and its correct answer per specification you are given. Follow each specification's structural constraint and assigned concept exactly.",
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
						Name:        "submit_questions",
						Description: "Submit the generated exam questions, one per specification, in order",
						Parameters: map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"questions": map[string]interface{}{
									"type": "array",
									"items": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"question": map[string]interface{}{
												"type":        "string",
												"description": "The question text",
											},
											"answer": map[string]interface{}{
												"type":        "string",
												"description": "The full correct answer text",
											},
											"choices": map[string]interface{}{
												"type": "array",
												"items": map[string]interface{}{
													"type": "string",
												},
												"description": "Exactly 4 options for multiple-choice items; omit otherwise",
											},
											"correct_choice": map[string]interface{}{
												"type":        "integer",
												"description": "0-based index of the correct option when choices are present",
											},
										},
										"required": []string{"question", "answer"},
									},
								},
							},
							"required": []string{"questions"},
						},
					},
				},
			},
			ToolChoice: openai.ToolChoice{
				Type: openai.ToolTypeFunction,
				Function: openai.ToolFunction{
					Name: "submit_questions",
				},
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate questions: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}
	choice := resp.Choices[0]
	if len(choice.Message.ToolCalls) == 0 {
		return nil, fmt.Errorf("no tool calls in response")
	}
	toolCall := choice.Message.ToolCalls[0]
	if toolCall.Function.Name != "submit_questions" {
		return nil, fmt.Errorf("unexpected tool call: %s", toolCall.Function.Name)
	}

	if qm.logger != nil {
		qm.logger.LogLLMResponse("QuestionMaker", toolCall.Function.Arguments)
	}

	var toolArgs struct {
		Questions []GenerationResult `json:"questions"`
	}
	if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &toolArgs); err != nil {
		return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
	}
	if len(toolArgs.Questions) < len(reqs) {
		return nil, fmt.Errorf("model returned %d questions for %d requests", len(toolArgs.Questions), len(reqs))
	}

	return toolArgs.Questions[:len(reqs)], nil
}

func buildBatchPrompt(reqs []GenerationRequest) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Write %d exam questions. Each specification below describes exactly one question.\n\n", len(reqs)))

	for i, req := range reqs {
		sb.WriteString(fmt.Sprintf("Specification %d:\n", i+1))
		sb.WriteString(fmt.Sprintf("- Topic: %s\n", req.Topic))
		sb.WriteString(fmt.Sprintf("- Cognitive level: %s\n", req.Level))
		sb.WriteString(fmt.Sprintf("- Knowledge dimension: %s\n", req.Dimension))
		sb.WriteString(fmt.Sprintf("- Difficulty: %s\n", req.Difficulty))
		sb.WriteString(fmt.Sprintf("- The question must target this concept: %s\n", req.Concept))
		sb.WriteString(fmt.Sprintf("- The question must ask the student to %s\n", req.Operation))
		sb.WriteString(fmt.Sprintf("- %s\n", req.Constraint))
		if len(req.ForbiddenPatterns) > 0 {
			sb.WriteString(fmt.Sprintf("- The answer must NOT use any of these phrasings: %s\n", strings.Join(req.ForbiddenPatterns, ", ")))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Requirements:\n")
	sb.WriteString("- Return exactly one question per specification, in order\n")
	sb.WriteString("- Do not reuse a concept or angle across questions\n")
	sb.WriteString("- The answer must satisfy the stated structural constraint\n")
	sb.WriteString("- Use the submit_questions tool to return your questions\n")

	return sb.String()
}

// GenerationOrchestrator produces validated question/answer pairs for one TOS
// cell, structurally guaranteed non-redundant against everything already
// marked in the session registry it is handed.
type GenerationOrchestrator struct {
	generator TextGenerator
	pool      *ConceptOperationPool
	logger    *RunLogger
}

// NewGenerationOrchestrator wraps a text generator.
func NewGenerationOrchestrator(generator TextGenerator) *GenerationOrchestrator {
	return &GenerationOrchestrator{generator: generator, pool: DefaultPools()}
}

// SetPools replaces the pools consulted for per-level forbidden phrasings.
func (g *GenerationOrchestrator) SetPools(pool *ConceptOperationPool) {
	g.pool = pool
}

// SetLogger attaches a run logger for structure-check auditing.
func (g *GenerationOrchestrator) SetLogger(logger *RunLogger) {
	g.logger = logger
}

// GenerateForCell produces up to count questions for the cell. The returned
// shortfall is count minus what the intent space could supply; it is a normal
// outcome for small topics, not an error. A transport failure aborts the whole
// cell and leaves reg's intent set untouched.
func (g *GenerationOrchestrator) GenerateForCell(ctx context.Context, reg *IntentRegistry, cell TOSCell, count int) ([]Question, int, error) {
	intents := SelectIntents(reg, cell.Topic, cell.Level, cell.Dimension, count)
	shortfall := count - len(intents)
	if len(intents) == 0 {
		return nil, shortfall, nil
	}

	// Concepts and operations are committed eagerly so two intents in the
	// same batch can never share one, even if generation later fails.
	reqs := make([]GenerationRequest, len(intents))
	for i, intent := range intents {
		assignment := SelectConceptAndOperation(reg, cell.Topic, cell.Level)
		if assignment == nil {
			assignment = &ConceptAssignment{Concept: DefaultConcept, Operation: DefaultOperation}
			VerboseLog("Concept/operation pools exhausted for %s/%s, using defaults", cell.Topic, cell.Level)
		}
		reg.MarkConceptUsed(cell.Topic, assignment.Concept)
		reg.MarkOperationUsed(cell.Topic, cell.Level, assignment.Operation)

		reqs[i] = GenerationRequest{
			Topic:             cell.Topic,
			Level:             intent.Level,
			Dimension:         intent.Dimension,
			Difficulty:        cell.Difficulty,
			AnswerType:        intent.AnswerType,
			Constraint:        answerTypeConstraints[intent.AnswerType],
			Concept:           assignment.Concept,
			Operation:         assignment.Operation,
			ForbiddenPatterns: g.pool.ForbiddenPhrases(intent.Level),
		}
	}

	results, err := g.generator.GenerateBatch(ctx, reqs)
	if err != nil {
		return nil, shortfall, fmt.Errorf("generation batch failed: %w", err)
	}

	questions := make([]Question, 0, len(results))
	for i, res := range results {
		q := questionFromResult(reqs[i], res)

		verdict := ShouldReject(reqs[i].AnswerType, res.AnswerText, reqs[i].Level)
		if verdict.Reject {
			// A structure violation flags the item for human review instead
			// of discarding it; blocking the batch on one bad generation is
			// worse than flagging one item.
			q.NeedsReview = true
			q.Confidence = 0.5
			q.Generation.StructureValidated = false
			if g.logger != nil {
				g.logger.LogStructureRejection(q.Topic, string(reqs[i].AnswerType), verdict.Reason)
			}
			VerboseLog("Structure check failed for %s question on %s: %s", reqs[i].AnswerType, q.Topic, verdict.Reason)
		}
		questions = append(questions, q)
	}

	// Intents are committed to the session registry only after the whole
	// batch has been processed.
	CommitIntents(reg, intents)

	return questions, shortfall, nil
}

func questionFromResult(req GenerationRequest, res GenerationResult) Question {
	q := Question{
		Topic:         req.Topic,
		Level:         req.Level,
		Dimension:     req.Dimension,
		Difficulty:    req.Difficulty,
		Text:          res.QuestionText,
		CorrectAnswer: res.AnswerText,
		Source:        SourceGenerated,
		Confidence:    1.0,
		CreatedAt:     time.Now(),
		Generation: &GenerationMeta{
			Concept:            req.Concept,
			Operation:          req.Operation,
			AnswerType:         req.AnswerType,
			StructureValidated: true,
		},
	}

	if len(res.Choices) > 0 {
		q.Type = TypeMCQ
		q.Choices = make(map[string]string, len(res.Choices))
		for i, text := range res.Choices {
			key := choiceLetter(i)
			q.Choices[key] = text
			q.ChoiceOrder = append(q.ChoiceOrder, key)
		}
		if res.CorrectChoice >= 0 && res.CorrectChoice < len(res.Choices) {
			q.CorrectAnswer = choiceLetter(res.CorrectChoice)
		}
	} else {
		switch req.AnswerType {
		case AnswerDefinition, AnswerIdentification:
			q.Type = TypeShortAnswer
		default:
			q.Type = TypeEssay
		}
	}

	return q
}

func newQuestionID() string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 8)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
