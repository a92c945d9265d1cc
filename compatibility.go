package tosassembler

// compatibilityTable maps each (cognitive level, knowledge dimension) pair to
// the answer-structure types that are pedagogically valid for it. A recall
// question cannot demand a justification; a design task cannot be answered
// with a definition.
var compatibilityTable = map[CognitiveLevel]map[KnowledgeDimension][]AnswerType{
	Remembering: {
		Factual:       {AnswerDefinition, AnswerIdentification},
		Conceptual:    {AnswerDefinition},
		Procedural:    {AnswerIdentification},
		Metacognitive: {AnswerDefinition},
	},
	Understanding: {
		Factual:       {AnswerExplanation},
		Conceptual:    {AnswerExplanation, AnswerComparison},
		Procedural:    {AnswerExplanation},
		Metacognitive: {AnswerExplanation, AnswerReflection},
	},
	Applying: {
		Factual:       {AnswerApplication},
		Conceptual:    {AnswerApplication, AnswerDemonstration},
		Procedural:    {AnswerApplication, AnswerDemonstration},
		Metacognitive: {AnswerApplication},
	},
	Analyzing: {
		Factual:       {AnswerAnalysis},
		Conceptual:    {AnswerComparison, AnswerAnalysis},
		Procedural:    {AnswerAnalysis},
		Metacognitive: {AnswerAnalysis, AnswerReflection},
	},
	Evaluating: {
		Factual:       {AnswerEvaluation},
		Conceptual:    {AnswerEvaluation, AnswerJustification},
		Procedural:    {AnswerEvaluation, AnswerJustification},
		Metacognitive: {AnswerEvaluation, AnswerJustification, AnswerReflection},
	},
	Creating: {
		Factual:       {AnswerConstruction},
		Conceptual:    {AnswerDesign},
		Procedural:    {AnswerDesign, AnswerConstruction},
		Metacognitive: {AnswerDesign, AnswerReflection},
	},
}

// AllowedAnswerTypes returns the answer-structure types permitted for the
// given level/dimension pair, in pool order. Unknown inputs return nil,
// signaling "no valid structure" upstream.
func AllowedAnswerTypes(level CognitiveLevel, dimension KnowledgeDimension) []AnswerType {
	byDimension, ok := compatibilityTable[level]
	if !ok {
		return nil
	}
	types := byDimension[dimension]
	if len(types) == 0 {
		return nil
	}
	out := make([]AnswerType, len(types))
	copy(out, types)
	return out
}
