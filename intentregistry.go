package tosassembler

import (
	"sync"
)

// IntentRegistry tracks which intent tuples, concepts, and operations have
// been consumed within one generation session. One instance is threaded
// through an entire assembly run so cross-cell duplication is prevented;
// concurrent runs must each construct their own.
type IntentRegistry struct {
	mu             sync.Mutex
	pool           *ConceptOperationPool
	usedIntents    map[string]bool
	usedConcepts   map[string]map[string]bool // normalized topic -> concept set
	usedOperations map[string]map[string]bool // topic|level -> verb set
}

// NewIntentRegistry creates an empty registry backed by the given pools.
func NewIntentRegistry(pool *ConceptOperationPool) *IntentRegistry {
	return &IntentRegistry{
		pool:           pool,
		usedIntents:    make(map[string]bool),
		usedConcepts:   make(map[string]map[string]bool),
		usedOperations: make(map[string]map[string]bool),
	}
}

// defaultRegistry is a convenience for single-shot scripts only. Concurrent
// callers must construct their own registry with NewIntentRegistry.
var defaultRegistry = NewIntentRegistry(DefaultPools())

// DefaultRegistry returns the process-wide single-shot registry.
func DefaultRegistry() *IntentRegistry {
	return defaultRegistry
}

func operationKey(topic string, level CognitiveLevel) string {
	return normalizeTopic(topic) + "|" + string(level)
}

// IsIntentUsed reports whether an identical intent tuple was already marked.
func (r *IntentRegistry) IsIntentUsed(intent QuestionIntent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usedIntents[intent.Key()]
}

// MarkIntentUsed records an intent tuple as consumed.
func (r *IntentRegistry) MarkIntentUsed(intent QuestionIntent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usedIntents[intent.Key()] = true
}

// AvailableAnswerTypes returns the compatible answer types for the triple
// that have not yet been consumed, in pool order. Exhaustion is an empty
// return, never an error.
func (r *IntentRegistry) AvailableAnswerTypes(topic string, level CognitiveLevel, dimension KnowledgeDimension) []AnswerType {
	r.mu.Lock()
	defer r.mu.Unlock()

	var available []AnswerType
	for _, at := range AllowedAnswerTypes(level, dimension) {
		intent := QuestionIntent{Topic: topic, Level: level, Dimension: dimension, AnswerType: at}
		if !r.usedIntents[intent.Key()] {
			available = append(available, at)
		}
	}
	return available
}

// HasAvailableSlot reports whether at least one intent remains for the triple.
func (r *IntentRegistry) HasAvailableSlot(topic string, level CognitiveLevel, dimension KnowledgeDimension) bool {
	return len(r.AvailableAnswerTypes(topic, level, dimension)) > 0
}

// AvailableConcepts returns the topic's unused concepts in pool order.
func (r *IntentRegistry) AvailableConcepts(topic string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	used := r.usedConcepts[normalizeTopic(topic)]
	var available []string
	for _, concept := range r.pool.Concepts(topic) {
		if !used[concept] {
			available = append(available, concept)
		}
	}
	return available
}

// MarkConceptUsed records a concept as consumed for a topic.
func (r *IntentRegistry) MarkConceptUsed(topic, concept string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := normalizeTopic(topic)
	if r.usedConcepts[key] == nil {
		r.usedConcepts[key] = make(map[string]bool)
	}
	r.usedConcepts[key][concept] = true
}

// AvailableOperations returns the unused operation verbs for a topic/level
// pair in pool order.
func (r *IntentRegistry) AvailableOperations(topic string, level CognitiveLevel) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	used := r.usedOperations[operationKey(topic, level)]
	var available []string
	for _, verb := range r.pool.Operations(level) {
		if !used[verb] {
			available = append(available, verb)
		}
	}
	return available
}

// MarkOperationUsed records an operation verb as consumed for a topic/level.
func (r *IntentRegistry) MarkOperationUsed(topic string, level CognitiveLevel, operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := operationKey(topic, level)
	if r.usedOperations[key] == nil {
		r.usedOperations[key] = make(map[string]bool)
	}
	r.usedOperations[key][operation] = true
}

// Clear resets all three sets. Called once at the start of an independent
// generation session, never mid-session.
func (r *IntentRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usedIntents = make(map[string]bool)
	r.usedConcepts = make(map[string]map[string]bool)
	r.usedOperations = make(map[string]map[string]bool)
}

// Clone returns an independent working copy seeded from the current state.
// Selection runs against clones so a partial batch never pollutes the real
// session registry.
func (r *IntentRegistry) Clone() *IntentRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := NewIntentRegistry(r.pool)
	for k := range r.usedIntents {
		clone.usedIntents[k] = true
	}
	for topic, set := range r.usedConcepts {
		copied := make(map[string]bool, len(set))
		for c := range set {
			copied[c] = true
		}
		clone.usedConcepts[topic] = copied
	}
	for key, set := range r.usedOperations {
		copied := make(map[string]bool, len(set))
		for v := range set {
			copied[v] = true
		}
		clone.usedOperations[key] = copied
	}
	return clone
}
