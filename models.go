package tosassembler

import (
	"fmt"
	"strings"
	"time"
)

// CognitiveLevel is a Bloom's-taxonomy stage describing the mental operation
// a question requires.
type CognitiveLevel string

const (
	Remembering   CognitiveLevel = "Remembering"
	Understanding CognitiveLevel = "Understanding"
	Applying      CognitiveLevel = "Applying"
	Analyzing     CognitiveLevel = "Analyzing"
	Evaluating    CognitiveLevel = "Evaluating"
	Creating      CognitiveLevel = "Creating"
)

// KnowledgeDimension classifies the kind of content a question covers.
type KnowledgeDimension string

const (
	Factual       KnowledgeDimension = "Factual"
	Conceptual    KnowledgeDimension = "Conceptual"
	Procedural    KnowledgeDimension = "Procedural"
	Metacognitive KnowledgeDimension = "Metacognitive"
)

// Difficulty is the teacher-assigned difficulty band.
type Difficulty string

const (
	Easy      Difficulty = "Easy"
	Average   Difficulty = "Average"
	Difficult Difficulty = "Difficult"
)

// QuestionType is the rendered form of a question.
type QuestionType string

const (
	TypeMCQ         QuestionType = "mcq"
	TypeTrueFalse   QuestionType = "true_false"
	TypeEssay       QuestionType = "essay"
	TypeShortAnswer QuestionType = "short_answer"
)

// AnswerType is the required structural shape of a correct answer.
type AnswerType string

const (
	AnswerDefinition     AnswerType = "definition"
	AnswerIdentification AnswerType = "identification"
	AnswerExplanation    AnswerType = "explanation"
	AnswerComparison     AnswerType = "comparison"
	AnswerAnalysis       AnswerType = "analysis"
	AnswerApplication    AnswerType = "application"
	AnswerDemonstration  AnswerType = "demonstration"
	AnswerEvaluation     AnswerType = "evaluation"
	AnswerJustification  AnswerType = "justification"
	AnswerDesign         AnswerType = "design"
	AnswerConstruction   AnswerType = "construction"
	AnswerReflection     AnswerType = "reflection"
)

// QuestionSource records where a bank entry came from.
type QuestionSource string

const (
	SourceAuthored  QuestionSource = "authored"
	SourceImported  QuestionSource = "imported"
	SourceGenerated QuestionSource = "generated"
)

// GenerationMeta carries the planning tuple a generated question was produced
// under, plus the outcome of its structure validation.
type GenerationMeta struct {
	Concept            string     `json:"concept"`
	Operation          string     `json:"operation"`
	AnswerType         AnswerType `json:"answer_type"`
	StructureValidated bool       `json:"structure_validated"`
}

// Question is one canonical bank entry. Choice keys are letters and
// ChoiceOrder records their display order; code must never range over the
// Choices map when order matters.
type Question struct {
	ID            string             `json:"id"`
	Topic         string             `json:"topic"`
	Level         CognitiveLevel     `json:"cognitive_level"`
	Dimension     KnowledgeDimension `json:"knowledge_dimension"`
	Difficulty    Difficulty         `json:"difficulty"`
	Type          QuestionType       `json:"question_type"`
	Text          string             `json:"text"`
	ChoiceOrder   []string           `json:"choice_order,omitempty"`
	Choices       map[string]string  `json:"choices,omitempty"`
	CorrectAnswer string             `json:"correct_answer"`
	Source        QuestionSource     `json:"source"`
	Approved      bool               `json:"approved"`
	NeedsReview   bool               `json:"needs_review"`
	Deleted       bool               `json:"deleted"`
	UsageCount    int                `json:"usage_count"`
	Confidence    float64            `json:"confidence"`
	Generation    *GenerationMeta    `json:"generation,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// IsMCQ reports whether the question carries shuffleable choices.
func (q *Question) IsMCQ() bool {
	return q.Type == TypeMCQ && len(q.ChoiceOrder) > 0
}

// QuestionIntent is an ephemeral planning tuple. It is never persisted; it
// exists only while one generation session runs.
type QuestionIntent struct {
	Topic      string
	Level      CognitiveLevel
	Dimension  KnowledgeDimension
	AnswerType AnswerType
}

// Key returns the canonical identity of the intent for set membership.
func (qi QuestionIntent) Key() string {
	return strings.Join([]string{
		normalizeTopic(qi.Topic),
		string(qi.Level),
		string(qi.Dimension),
		string(qi.AnswerType),
	}, "|")
}

// TOSCell is one cell of a Table of Specification: how many items a given
// topic needs at a given cognitive level and difficulty.
type TOSCell struct {
	Topic      string             `json:"topic"`
	Level      CognitiveLevel     `json:"cognitive_level"`
	Dimension  KnowledgeDimension `json:"knowledge_dimension"`
	Difficulty Difficulty         `json:"difficulty"`
	Count      int                `json:"count"`
}

// TOSSpec is a teacher-authored Table of Specification.
type TOSSpec struct {
	Title string    `json:"title"`
	Cells []TOSCell `json:"cells"`
}

// TotalRequired is the number of items one complete version needs.
func (t TOSSpec) TotalRequired() int {
	total := 0
	for _, c := range t.Cells {
		total += c.Count
	}
	return total
}

// AssemblyConfig controls how versions are produced from a question list.
// The same config and seed always reproduce the same versions.
type AssemblyConfig struct {
	NumVersions       int   `json:"num_versions"`
	ShuffleQuestions  bool  `json:"shuffle_questions"`
	ShuffleChoices    bool  `json:"shuffle_choices"`
	PointsPerQuestion int   `json:"points_per_question"`
	Seed              int64 `json:"seed"`
}

// VersionItem is one placed question within a version. For MCQ items the
// choice mapping and correct key are version-local.
type VersionItem struct {
	QuestionID    string            `json:"question_id"`
	Position      int               `json:"position"`
	Text          string            `json:"text"`
	ChoiceOrder   []string          `json:"choice_order,omitempty"`
	Choices       map[string]string `json:"choices,omitempty"`
	CorrectAnswer string            `json:"correct_answer"`
	Points        int               `json:"points"`
}

// TestVersion is one shuffled rendering of a shared question set.
type TestVersion struct {
	Label       string        `json:"label"`
	Items       []VersionItem `json:"items"`
	TotalPoints int           `json:"total_points"`
}

// AnswerKeyEntry maps a question number to its correct answer for one version.
type AnswerKeyEntry struct {
	Number int    `json:"number"`
	Answer string `json:"answer"`
}

// AnswerKey is derived from a version's items, never authored independently.
type AnswerKey struct {
	Label string           `json:"label"`
	Keys  []AnswerKeyEntry `json:"keys"`
}

// CellError identifies a TOS cell whose shortfall generation failed.
type CellError struct {
	Topic      string         `json:"topic"`
	Level      CognitiveLevel `json:"cognitive_level"`
	Difficulty Difficulty     `json:"difficulty"`
	Err        error          `json:"-"`
	Message    string         `json:"message"`
}

func (ce CellError) Error() string {
	return fmt.Sprintf("cell %s/%s/%s: %s", ce.Topic, ce.Level, ce.Difficulty, ce.Message)
}

func (ce CellError) Unwrap() error { return ce.Err }

// CellShortfall records a cell that yielded fewer items than required because
// its intent space was exhausted. This is a count discrepancy, not an error.
type CellShortfall struct {
	Topic     string         `json:"topic"`
	Level     CognitiveLevel `json:"cognitive_level"`
	Requested int            `json:"requested"`
	Delivered int            `json:"delivered"`
}

// AssembledTest is the complete output of one assembly run: the merged
// question list, every version, and the derived answer keys, plus the
// per-cell diagnostics accumulated along the way.
type AssembledTest struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Config     AssemblyConfig  `json:"config"`
	Questions  []Question      `json:"questions"`
	Versions   []TestVersion   `json:"versions"`
	AnswerKeys []AnswerKey     `json:"answer_keys"`
	Failures   []CellError     `json:"failures,omitempty"`
	Shortfalls []CellShortfall `json:"shortfalls,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// normalizeTopic folds case and whitespace so free-text topic labels compare
// loosely ("Databases " == "databases").
func normalizeTopic(topic string) string {
	return strings.Join(strings.Fields(strings.ToLower(topic)), " ")
}

// recordKeys lists the accepted aliases for each canonical Question field.
// Imported records are inconsistent about casing, so the boundary accepts
// both snake_case and camelCase.
var recordKeys = map[string][]string{
	"id":             {"id", "question_id", "questionId"},
	"topic":          {"topic"},
	"level":          {"cognitive_level", "cognitiveLevel", "level"},
	"dimension":      {"knowledge_dimension", "knowledgeDimension", "dimension"},
	"difficulty":     {"difficulty"},
	"type":           {"question_type", "questionType", "type"},
	"text":           {"text", "question", "question_text", "questionText"},
	"correct_answer": {"correct_answer", "correctAnswer", "answer"},
}

// NormalizeRecord converts a loosely shaped record (as produced by CSV import
// or an external API) into a canonical Question. Ambiguous-shape maps must not
// travel past this boundary.
func NormalizeRecord(rec map[string]interface{}) (Question, error) {
	get := func(field string) string {
		for _, key := range recordKeys[field] {
			if v, ok := rec[key]; ok {
				if s, ok := v.(string); ok {
					return s
				}
			}
		}
		return ""
	}

	q := Question{
		ID:            get("id"),
		Topic:         strings.TrimSpace(get("topic")),
		Level:         CognitiveLevel(get("level")),
		Dimension:     KnowledgeDimension(get("dimension")),
		Difficulty:    Difficulty(get("difficulty")),
		Type:          QuestionType(get("type")),
		Text:          get("text"),
		CorrectAnswer: get("correct_answer"),
		Source:        SourceImported,
		Confidence:    1.0,
	}

	if q.Topic == "" {
		return Question{}, fmt.Errorf("record has no topic")
	}
	if q.Text == "" {
		return Question{}, fmt.Errorf("record has no question text")
	}
	if q.Type == "" {
		q.Type = TypeShortAnswer
	}

	// Choices may arrive as a map of letter -> text or as an ordered list.
	switch choices := rec["choices"].(type) {
	case map[string]interface{}:
		q.Choices = make(map[string]string, len(choices))
		for key, v := range choices {
			if s, ok := v.(string); ok {
				q.Choices[key] = s
			}
		}
		q.ChoiceOrder = sortedLetterKeys(q.Choices)
	case []interface{}:
		q.Choices = make(map[string]string, len(choices))
		for i, v := range choices {
			s, ok := v.(string)
			if !ok {
				continue
			}
			key := choiceLetter(i)
			q.Choices[key] = s
			q.ChoiceOrder = append(q.ChoiceOrder, key)
		}
	}
	if len(q.ChoiceOrder) > 0 {
		q.Type = TypeMCQ
	}

	return q, nil
}

// sortedLetterKeys returns map keys in letter order, the display order used
// when a record carried no explicit ordering.
func sortedLetterKeys(choices map[string]string) []string {
	keys := make([]string, 0, len(choices))
	for i := 0; i < 26; i++ {
		key := choiceLetter(i)
		if _, ok := choices[key]; ok {
			keys = append(keys, key)
		}
	}
	for key := range choices {
		if len(key) != 1 || key[0] < 'A' || key[0] > 'Z' {
			keys = append(keys, key)
		}
	}
	return keys
}

func choiceLetter(i int) string {
	return string(rune('A' + i))
}

// versionLabel returns the single-letter label for the i-th version (A, B, …).
func versionLabel(i int) string {
	return string(rune('A' + i))
}
