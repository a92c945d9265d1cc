package tosassembler

import (
	"fmt"
	"regexp"
	"strings"
)

// StructureVerdict is the outcome of checking an answer's lexical shape.
type StructureVerdict struct {
	Reject bool
	Reason string
}

// genericListingPatterns match enumeration phrasing that signals a recall-style
// answer dressed up as higher-order thinking. Applied only at Analyzing,
// Evaluating, and Creating.
var genericListingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bkey factors\s+(?:are|include)\b`),
	regexp.MustCompile(`(?i)\bmain points\s+(?:are|include)\b`),
	regexp.MustCompile(`(?i)\bsuch as\b`),
	regexp.MustCompile(`(?i)\binclud(?:e|es|ing)\b`),
	regexp.MustCompile(`(?i)\bexamples\s+(?:are|of)\b`),
	regexp.MustCompile(`(?i)\bthe following\s+(?:are|is)\b`),
}

// higherOrderLevels are the levels at which generic listing is forbidden.
var higherOrderLevels = map[CognitiveLevel]bool{
	Analyzing:  true,
	Evaluating: true,
	Creating:   true,
}

// requiredMarkers lists lexical markers an answer of the given type must
// contain somewhere. A comparison with no comparative language is not a
// comparison.
var requiredMarkers = map[AnswerType][]string{
	AnswerComparison: {
		"than", "while", "whereas", "compared", "in contrast",
		"similar", "differ", "unlike", "both",
	},
	AnswerJustification: {
		"because", "since", "therefore", "due to", "as a result",
		"justifie", "reason",
	},
	AnswerEvaluation: {
		"better", "worse", "stronger", "weaker", "more effective",
		"less effective", "preferable", "superior", "inferior", "trade-off",
	},
}

// forbiddenSubstrings lists per-answer-type phrasings that indicate the wrong
// structure was produced regardless of cognitive level.
var forbiddenSubstrings = map[AnswerType][]string{
	AnswerAnalysis:     {"a list of", "the steps are"},
	AnswerDesign:       {"the definition of", "is defined as"},
	AnswerConstruction: {"the definition of", "is defined as"},
}

// ShouldReject classifies generated answer text against the structural
// constraints of its answer type and cognitive level. Definition answers are
// exempt: enumeration is semantically valid for factual recall. The first
// violation found is reported; no violation means accept.
func ShouldReject(answerType AnswerType, answerText string, level CognitiveLevel) StructureVerdict {
	if answerType == AnswerDefinition || answerType == AnswerIdentification {
		return StructureVerdict{}
	}

	lower := strings.ToLower(answerText)

	if higherOrderLevels[level] {
		for _, pattern := range genericListingPatterns {
			if pattern.MatchString(answerText) {
				return StructureVerdict{
					Reject: true,
					Reason: fmt.Sprintf("generic listing phrasing %q is forbidden at level %s", pattern.String(), level),
				}
			}
		}
	}

	for _, phrase := range forbiddenSubstrings[answerType] {
		if strings.Contains(lower, phrase) {
			return StructureVerdict{
				Reject: true,
				Reason: fmt.Sprintf("phrase %q is forbidden for %s answers", phrase, answerType),
			}
		}
	}

	if markers, ok := requiredMarkers[answerType]; ok {
		found := false
		for _, marker := range markers {
			if strings.Contains(lower, marker) {
				found = true
				break
			}
		}
		if !found {
			return StructureVerdict{
				Reject: true,
				Reason: fmt.Sprintf("%s answer lacks any %s language", answerType, answerType),
			}
		}
	}

	return StructureVerdict{}
}
