package tosassembler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// QuestionFilter selects bank entries. Topic matching is loose: case and
// surrounding whitespace are ignored, since authored topics are free text.
type QuestionFilter struct {
	Topic          string
	Level          CognitiveLevel
	OnlyApproved   bool
	IncludeDeleted bool
}

// QuestionStore is the persistence boundary for the question bank.
type QuestionStore interface {
	Query(ctx context.Context, filter QuestionFilter) ([]Question, error)
	// Insert persists questions and returns them with assigned ids.
	Insert(ctx context.Context, questions []Question) ([]Question, error)
	// MarkUsed increments a question's usage counter.
	MarkUsed(ctx context.Context, questionID string) error
}

// SimilarityChecker decides whether a bank candidate is semantically too
// close to a question already selected for the current run. The structural
// anti-redundancy guarantee lives at generation time; this check only guards
// reuse of pre-existing bank entries.
type SimilarityChecker interface {
	TooSimilar(ctx context.Context, candidate Question, selected []Question) (bool, error)
}

// TestAssembler drives one assembly run over a TOS: bank-first candidate
// selection per cell, constrained generation for shortfall, and version
// assembly over the merged list.
type TestAssembler struct {
	store   QuestionStore
	gen     *GenerationOrchestrator
	checker SimilarityChecker
	pool    *ConceptOperationPool
	logger  *RunLogger
}

// NewTestAssembler creates an assembler. generator may be nil, in which case
// shortfalls are reported instead of generated.
func NewTestAssembler(store QuestionStore, generator TextGenerator) *TestAssembler {
	ta := &TestAssembler{
		store: store,
		pool:  DefaultPools(),
	}
	if generator != nil {
		ta.gen = NewGenerationOrchestrator(generator)
	}
	return ta
}

// SetSimilarityChecker enables semantic dedup of reused bank candidates.
func (ta *TestAssembler) SetSimilarityChecker(checker SimilarityChecker) {
	ta.checker = checker
}

// SetPools replaces the concept/operation pools used for generation.
func (ta *TestAssembler) SetPools(pool *ConceptOperationPool) {
	ta.pool = pool
	if ta.gen != nil {
		ta.gen.SetPools(pool)
	}
}

// SetLogger attaches a per-run audit logger.
func (ta *TestAssembler) SetLogger(logger *RunLogger) {
	ta.logger = logger
	if ta.gen != nil {
		ta.gen.SetLogger(logger)
	}
}

// AssembleTest is the single entry point for TOS-driven assembly. Cells are
// processed best-effort: a generation failure in one cell is recorded with
// the cell's identity and the remaining cells proceed. The run fails only
// when the merged list cannot fill one complete version.
func (ta *TestAssembler) AssembleTest(ctx context.Context, tos TOSSpec, config AssemblyConfig) (*AssembledTest, error) {
	// One registry for the whole traversal, so cells sharing a topic cannot
	// duplicate concepts.
	reg := NewIntentRegistry(ta.pool)

	result := &AssembledTest{
		ID:        uuid.NewString(),
		Title:     tos.Title,
		Config:    config,
		CreatedAt: time.Now(),
	}

	for _, cell := range tos.Cells {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("assembly aborted: %w", err)
		}

		selected, err := ta.fillCell(ctx, reg, cell, result.Questions)
		if err != nil {
			cellErr := CellError{
				Topic:      cell.Topic,
				Level:      cell.Level,
				Difficulty: cell.Difficulty,
				Err:        err,
				Message:    err.Error(),
			}
			result.Failures = append(result.Failures, cellErr)
			if ta.logger != nil {
				ta.logger.LogCellResult(cell, 0, cellErr.Message)
			}
			continue
		}

		if len(selected) < cell.Count {
			result.Shortfalls = append(result.Shortfalls, CellShortfall{
				Topic:     cell.Topic,
				Level:     cell.Level,
				Requested: cell.Count,
				Delivered: len(selected),
			})
		}
		if ta.logger != nil {
			ta.logger.LogCellResult(cell, len(selected), "")
		}
		result.Questions = append(result.Questions, selected...)
	}

	if required := tos.TotalRequired(); len(result.Questions) < required {
		return nil, &InsufficientPoolError{
			Required:   required,
			Available:  len(result.Questions),
			Failures:   result.Failures,
			Shortfalls: result.Shortfalls,
		}
	}

	versions, err := AssembleVersions(result.Questions, config)
	if err != nil {
		return nil, err
	}
	result.Versions = versions
	result.AnswerKeys = DeriveAnswerKeys(versions)

	return result, nil
}

// fillCell sources up to cell.Count questions for one TOS cell: existing bank
// candidates first (least-used first), generation for the remainder.
func (ta *TestAssembler) fillCell(ctx context.Context, reg *IntentRegistry, cell TOSCell, alreadySelected []Question) ([]Question, error) {
	candidates, err := ta.store.Query(ctx, QuestionFilter{
		Topic:        cell.Topic,
		Level:        cell.Level,
		OnlyApproved: true,
	})
	if err != nil {
		return nil, fmt.Errorf("bank query failed: %w", err)
	}

	// Least-used first; stable so insertion order breaks ties.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].UsageCount < candidates[j].UsageCount
	})

	// A bank question may satisfy at most one cell per run. Cells differing
	// only in knowledge dimension query the same candidate pool, so versions
	// would otherwise carry the same question twice.
	taken := make(map[string]bool, len(alreadySelected))
	for _, q := range alreadySelected {
		taken[q.ID] = true
	}

	var selected []Question
	var reused []string
	for _, candidate := range candidates {
		if len(selected) >= cell.Count {
			break
		}
		if candidate.Difficulty != cell.Difficulty {
			continue
		}
		if taken[candidate.ID] {
			continue
		}
		if ta.isTooSimilar(ctx, candidate, append(alreadySelected, selected...)) {
			VerboseLog("Skipping bank candidate %s: too similar to an already selected question", candidate.ID)
			continue
		}
		selected = append(selected, candidate)
		taken[candidate.ID] = true
		reused = append(reused, candidate.ID)
	}

	need := cell.Count - len(selected)
	if need <= 0 || ta.gen == nil {
		ta.bumpUsage(reused)
		return selected, nil
	}

	generated, _, err := ta.gen.GenerateForCell(ctx, reg, cell, need)
	if err != nil {
		// The cell keeps what the bank supplied; the generation failure is
		// surfaced to the caller with the cell identity attached.
		return nil, err
	}
	if len(generated) > 0 {
		// Generated questions gain real ids before they can appear in any
		// version item.
		persisted, err := ta.store.Insert(ctx, generated)
		if err != nil {
			return nil, fmt.Errorf("failed to persist generated questions: %w", err)
		}
		selected = append(selected, persisted...)
	}

	ta.bumpUsage(reused)
	return selected, nil
}

// bumpUsage records reuse of bank questions once the cell's selection is
// final. A cell that fails after candidate selection never bumps counters.
func (ta *TestAssembler) bumpUsage(ids []string) {
	for _, id := range ids {
		ta.markUsedAsync(id)
	}
}

// isTooSimilar consults the optional similarity checker. Checker failures are
// swallowed: the candidate is kept, since this check is advisory.
func (ta *TestAssembler) isTooSimilar(ctx context.Context, candidate Question, selected []Question) bool {
	if ta.checker == nil || len(selected) == 0 {
		return false
	}
	similar, err := ta.checker.TooSimilar(ctx, candidate, selected)
	if err != nil {
		VerboseLog("Similarity check failed for %s: %v", candidate.ID, err)
		return false
	}
	return similar
}

// markUsedAsync bumps the usage counter without blocking the run. A failed
// bump never corrupts the assembly result, so the error is swallowed.
func (ta *TestAssembler) markUsedAsync(questionID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ta.store.MarkUsed(ctx, questionID); err != nil {
			VerboseLog("Failed to mark question %s used: %v", questionID, err)
		}
	}()
}

// AssembleVersionsFromQuestions is the narrower entry point for manually
// curated question sets where redundancy-aware sourcing is not needed.
func AssembleVersionsFromQuestions(questions []Question, config AssemblyConfig) ([]TestVersion, []AnswerKey, error) {
	versions, err := AssembleVersions(questions, config)
	if err != nil {
		return nil, nil, err
	}
	return versions, DeriveAnswerKeys(versions), nil
}
