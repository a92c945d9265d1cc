package tosassembler

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// genericConcepts is the cross-domain fallback pool used when a topic has no
// pool of its own. Concepts are abstract enough to combine with any subject.
var genericConcepts = []string{
	"fundamental principles",
	"core terminology",
	"underlying mechanisms",
	"practical applications",
	"common misconceptions",
	"limitations and constraints",
	"historical development",
	"relationships between components",
	"real-world examples",
	"best practices",
}

// builtinConcepts seeds topic-specific pools for subjects the authoring tool
// ships with. Keys are normalized topic labels.
var builtinConcepts = map[string][]string{
	"databases": {
		"normalization",
		"indexing strategies",
		"transaction isolation",
		"query optimization",
		"schema design",
	},
	"networking": {
		"packet routing",
		"transport protocols",
		"addressing and subnetting",
		"congestion control",
		"name resolution",
	},
	"operating systems": {
		"process scheduling",
		"memory management",
		"file systems",
		"concurrency primitives",
		"virtualization",
	},
}

// operationVerbs lists the cognitive-operation verbs permitted per level,
// in pool order. Selection is deterministic: first unused verb wins.
var operationVerbs = map[CognitiveLevel][]string{
	Remembering:   {"define", "identify", "recall", "state", "label"},
	Understanding: {"explain", "summarize", "interpret", "classify", "paraphrase"},
	Applying:      {"apply", "demonstrate", "solve", "use", "implement"},
	Analyzing:     {"differentiate", "examine", "deconstruct", "contrast", "attribute"},
	Evaluating:    {"judge", "critique", "defend", "appraise", "prioritize"},
	Creating:      {"design", "construct", "formulate", "devise", "compose"},
}

// forbiddenPhrases lists the generic-listing phrasings disallowed in answers
// at higher-order levels. They are sent to the generator as plain strings and
// enforced lexically by the StructureEnforcer.
var forbiddenPhrases = map[CognitiveLevel][]string{
	Analyzing:  {"include", "such as", "key factors are", "examples are"},
	Evaluating: {"include", "such as", "key factors are", "the main points are"},
	Creating:   {"include", "such as", "key factors are", "steps are listed"},
}

// ConceptOperationPool provides per-topic concept labels and per-level
// operation verbs. Topic pools can be extended with a YAML overlay file.
type ConceptOperationPool struct {
	concepts map[string][]string
}

// DefaultPools returns a pool seeded with the built-in topic pools.
func DefaultPools() *ConceptOperationPool {
	concepts := make(map[string][]string, len(builtinConcepts))
	for topic, list := range builtinConcepts {
		concepts[topic] = append([]string(nil), list...)
	}
	return &ConceptOperationPool{concepts: concepts}
}

// NewConceptOperationPool builds a pool from explicit topic pools. Topics
// absent from the map fall back to the generic cross-domain pool.
func NewConceptOperationPool(concepts map[string][]string) *ConceptOperationPool {
	pool := &ConceptOperationPool{concepts: make(map[string][]string, len(concepts))}
	for topic, list := range concepts {
		pool.concepts[normalizeTopic(topic)] = append([]string(nil), list...)
	}
	return pool
}

// conceptOverlay is the YAML shape of a teacher-supplied topic pool file.
type conceptOverlay struct {
	Topics map[string][]string `yaml:"topics"`
}

// LoadOverlay merges topic pools from a YAML file. Overlay entries replace
// built-in pools for the same topic.
func (p *ConceptOperationPool) LoadOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read concept overlay: %w", err)
	}

	var overlay conceptOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse concept overlay: %w", err)
	}

	for topic, list := range overlay.Topics {
		p.concepts[normalizeTopic(topic)] = append([]string(nil), list...)
	}
	return nil
}

// Concepts returns the concept pool for a topic, falling back to the generic
// pool when the topic has none of its own.
func (p *ConceptOperationPool) Concepts(topic string) []string {
	if list, ok := p.concepts[normalizeTopic(topic)]; ok && len(list) > 0 {
		return append([]string(nil), list...)
	}
	return append([]string(nil), genericConcepts...)
}

// Operations returns the cognitive-operation verbs permitted at a level.
func (p *ConceptOperationPool) Operations(level CognitiveLevel) []string {
	return append([]string(nil), operationVerbs[level]...)
}

// ForbiddenPhrases returns the generic-listing phrasings disallowed at a
// level. Lower-order levels have none.
func (p *ConceptOperationPool) ForbiddenPhrases(level CognitiveLevel) []string {
	return append([]string(nil), forbiddenPhrases[level]...)
}
