package tosassembler

// ConceptAssignment pairs a concept label with a cognitive-operation verb for
// one planned question.
type ConceptAssignment struct {
	Concept   string
	Operation string
}

// Default concept/operation used when a topic's pools are exhausted. The
// degradation is deliberate: downstream intent dedup still applies, so a
// defaulted assignment can never produce a structurally duplicate question.
const (
	DefaultConcept   = "general principles of the topic"
	DefaultOperation = "discuss"
)

// SelectIntents collects up to count distinct intents for the triple,
// deterministically taking the first available answer type each time. It
// operates on a working copy of the registry; nothing is committed to reg
// until the caller invokes CommitIntents. When the combinatorial space is
// exhausted it returns fewer than requested, never an error.
func SelectIntents(reg *IntentRegistry, topic string, level CognitiveLevel, dimension KnowledgeDimension, count int) []QuestionIntent {
	scratch := reg.Clone()

	var intents []QuestionIntent
	for len(intents) < count {
		available := scratch.AvailableAnswerTypes(topic, level, dimension)
		if len(available) == 0 {
			break
		}
		intent := QuestionIntent{
			Topic:      topic,
			Level:      level,
			Dimension:  dimension,
			AnswerType: available[0],
		}
		scratch.MarkIntentUsed(intent)
		intents = append(intents, intent)
	}
	return intents
}

// CommitIntents marks an accepted batch of intents in the session registry.
// Callers commit only after the batch has been fully processed.
func CommitIntents(reg *IntentRegistry, intents []QuestionIntent) {
	for _, intent := range intents {
		reg.MarkIntentUsed(intent)
	}
}

// SelectConceptAndOperation picks the first unused concept for the topic and
// the first unused operation verb for the topic/level pair. It returns nil
// when either pool is exhausted; callers fall back to DefaultConcept and
// DefaultOperation rather than failing.
func SelectConceptAndOperation(reg *IntentRegistry, topic string, level CognitiveLevel) *ConceptAssignment {
	concepts := reg.AvailableConcepts(topic)
	if len(concepts) == 0 {
		return nil
	}
	operations := reg.AvailableOperations(topic, level)
	if len(operations) == 0 {
		return nil
	}
	return &ConceptAssignment{Concept: concepts[0], Operation: operations[0]}
}
