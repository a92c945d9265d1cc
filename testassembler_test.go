package tosassembler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

/* ---------------- In-memory fakes for QuestionStore and TextGenerator ---------------- */

type fakeStore struct {
	mu        sync.Mutex
	bank      []Question
	inserted  []Question
	nextID    int
	insertErr error
	queryErr  error
}

func (s *fakeStore) Query(ctx context.Context, filter QuestionFilter) ([]Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}

	var out []Question
	for _, q := range s.bank {
		if q.Deleted && !filter.IncludeDeleted {
			continue
		}
		if filter.OnlyApproved && !q.Approved {
			continue
		}
		if filter.Topic != "" && normalizeTopic(q.Topic) != normalizeTopic(filter.Topic) {
			continue
		}
		if filter.Level != "" && q.Level != filter.Level {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *fakeStore) Insert(ctx context.Context, questions []Question) ([]Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}

	stored := make([]Question, 0, len(questions))
	for _, q := range questions {
		if q.ID == "" {
			s.nextID++
			q.ID = fmt.Sprintf("gen-%d", s.nextID)
		}
		s.inserted = append(s.inserted, q)
		stored = append(stored, q)
	}
	return stored, nil
}

func (s *fakeStore) MarkUsed(ctx context.Context, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.bank {
		if s.bank[i].ID == questionID {
			s.bank[i].UsageCount++
		}
	}
	return nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	batches  [][]GenerationRequest
	failWith error
}

// validAnswer satisfies every structural constraint the enforcer checks for
// the answer types exercised in these tests.
const validAnswer = "The first approach is stronger than the second because its parts interact differently, whereas the alternative couples them."

func (g *fakeGenerator) GenerateBatch(ctx context.Context, reqs []GenerationRequest) ([]GenerationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return nil, g.failWith
	}

	g.batches = append(g.batches, reqs)
	results := make([]GenerationResult, len(reqs))
	for i, req := range reqs {
		results[i] = GenerationResult{
			QuestionText: fmt.Sprintf("Generated question on %s (%s)", req.Concept, req.AnswerType),
			AnswerText:   validAnswer,
		}
	}
	return results, nil
}

func (g *fakeGenerator) requestCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, batch := range g.batches {
		total += len(batch)
	}
	return total
}

type fakeChecker struct {
	similarIDs map[string]bool
}

func (c *fakeChecker) TooSimilar(ctx context.Context, candidate Question, selected []Question) (bool, error) {
	return c.similarIDs[candidate.ID], nil
}

func bankQuestion(id, topic string, level CognitiveLevel, difficulty Difficulty, usage int) Question {
	return Question{
		ID:            id,
		Topic:         topic,
		Level:         level,
		Dimension:     Conceptual,
		Difficulty:    difficulty,
		Type:          TypeShortAnswer,
		Text:          "Bank question " + id,
		CorrectAnswer: "answer " + id,
		Source:        SourceAuthored,
		Approved:      true,
		UsageCount:    usage,
	}
}

func testConfig() AssemblyConfig {
	return AssemblyConfig{
		NumVersions: 2, ShuffleQuestions: true, ShuffleChoices: true,
		PointsPerQuestion: 1, Seed: 1,
	}
}

/* ---------------- Tests ---------------- */

func TestAssembleTestBankFirst(t *testing.T) {
	store := &fakeStore{bank: []Question{
		bankQuestion("q1", "Databases", Analyzing, Average, 5),
		bankQuestion("q2", "Databases", Analyzing, Average, 0),
		bankQuestion("q3", "Databases", Analyzing, Average, 2),
	}}
	gen := &fakeGenerator{}
	ta := NewTestAssembler(store, gen)

	tos := TOSSpec{Title: "Midterm", Cells: []TOSCell{
		{Topic: "Databases", Level: Analyzing, Dimension: Conceptual, Difficulty: Average, Count: 2},
	}}

	test, err := ta.AssembleTest(context.Background(), tos, testConfig())
	if err != nil {
		t.Fatal(err)
	}

	if gen.requestCount() != 0 {
		t.Errorf("generator should not be invoked when the bank suffices, got %d requests", gen.requestCount())
	}
	if len(test.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(test.Questions))
	}
	// Least-used first: q2 (0 uses) then q3 (2 uses).
	if test.Questions[0].ID != "q2" || test.Questions[1].ID != "q3" {
		t.Errorf("expected least-used-first selection [q2 q3], got [%s %s]",
			test.Questions[0].ID, test.Questions[1].ID)
	}
	if len(test.Versions) != 2 || len(test.AnswerKeys) != 2 {
		t.Errorf("expected 2 versions and 2 keys, got %d and %d", len(test.Versions), len(test.AnswerKeys))
	}
}

func TestAssembleTestGeneratesShortfall(t *testing.T) {
	store := &fakeStore{bank: []Question{
		bankQuestion("q1", "Databases", Analyzing, Average, 0),
	}}
	gen := &fakeGenerator{}
	ta := NewTestAssembler(store, gen)

	tos := TOSSpec{Title: "Quiz", Cells: []TOSCell{
		{Topic: "Databases", Level: Analyzing, Dimension: Conceptual, Difficulty: Average, Count: 2},
	}}

	test, err := ta.AssembleTest(context.Background(), tos, testConfig())
	if err != nil {
		t.Fatal(err)
	}

	if gen.requestCount() != 1 {
		t.Fatalf("expected 1 generation request for the shortfall, got %d", gen.requestCount())
	}
	if len(test.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(test.Questions))
	}
	// Generated questions are persisted before use and carry store ids.
	generated := test.Questions[1]
	if generated.Source != SourceGenerated {
		t.Errorf("second question should be generated, got source %s", generated.Source)
	}
	if !strings.HasPrefix(generated.ID, "gen-") {
		t.Errorf("generated question should carry a store-assigned id, got %q", generated.ID)
	}
	if len(store.inserted) != 1 {
		t.Errorf("expected 1 persisted question, got %d", len(store.inserted))
	}
}

func TestAssembleTestRegistryThreadedAcrossCells(t *testing.T) {
	// Two cells share a topic; their generated questions must not reuse
	// concepts, which only holds if one registry spans the traversal.
	store := &fakeStore{}
	gen := &fakeGenerator{}
	ta := NewTestAssembler(store, gen)

	tos := TOSSpec{Title: "Final", Cells: []TOSCell{
		{Topic: "Databases", Level: Analyzing, Dimension: Conceptual, Difficulty: Average, Count: 2},
		{Topic: "Databases", Level: Evaluating, Dimension: Conceptual, Difficulty: Difficult, Count: 2},
	}}

	if _, err := ta.AssembleTest(context.Background(), tos, testConfig()); err != nil {
		t.Fatal(err)
	}

	concepts := make(map[string]bool)
	for _, batch := range gen.batches {
		for _, req := range batch {
			if concepts[req.Concept] {
				t.Errorf("concept %q assigned in two cells of one run", req.Concept)
			}
			concepts[req.Concept] = true
		}
	}
}

func TestAssembleTestPerCellFailure(t *testing.T) {
	// Generation fails; the failing cell is reported with its identity and
	// the resulting deficit fails the run as InsufficientPool.
	store := &fakeStore{bank: []Question{
		bankQuestion("q1", "Networking", Understanding, Easy, 0),
		bankQuestion("q2", "Networking", Understanding, Easy, 0),
	}}
	gen := &fakeGenerator{failWith: errors.New("upstream timeout")}
	ta := NewTestAssembler(store, gen)

	tos := TOSSpec{Title: "Quiz", Cells: []TOSCell{
		{Topic: "Networking", Level: Understanding, Dimension: Conceptual, Difficulty: Easy, Count: 2},
		{Topic: "Databases", Level: Analyzing, Dimension: Conceptual, Difficulty: Average, Count: 2},
	}}

	_, err := ta.AssembleTest(context.Background(), tos, testConfig())
	var poolErr *InsufficientPoolError
	if !errors.As(err, &poolErr) {
		t.Fatalf("expected InsufficientPoolError, got %v", err)
	}
	if poolErr.Available != 2 || poolErr.Required != 4 {
		t.Errorf("deficit = %d/%d, want 2/4", poolErr.Available, poolErr.Required)
	}
	if len(poolErr.Failures) != 1 {
		t.Fatalf("expected 1 cell failure, got %d", len(poolErr.Failures))
	}
	failure := poolErr.Failures[0]
	if failure.Topic != "Databases" || failure.Level != Analyzing || failure.Difficulty != Average {
		t.Errorf("failure should carry the cell identity, got %+v", failure)
	}
	if !strings.Contains(failure.Message, "upstream timeout") {
		t.Errorf("failure should wrap the transport error, got %q", failure.Message)
	}
}

func TestAssembleTestBankQuestionUsedInOneCellOnly(t *testing.T) {
	// Two cells share topic, level, and difficulty and differ only in
	// knowledge dimension, so they draw from the identical candidate pool in
	// the identical least-used order. Each bank entry must still appear at
	// most once in the merged list; otherwise every version carries a
	// duplicated question.
	store := &fakeStore{bank: []Question{
		bankQuestion("q1", "Databases", Analyzing, Average, 0),
		bankQuestion("q2", "Databases", Analyzing, Average, 1),
	}}
	ta := NewTestAssembler(store, nil)

	tos := TOSSpec{Title: "Quiz", Cells: []TOSCell{
		{Topic: "Databases", Level: Analyzing, Dimension: Conceptual, Difficulty: Average, Count: 1},
		{Topic: "Databases", Level: Analyzing, Dimension: Procedural, Difficulty: Average, Count: 1},
	}}

	test, err := ta.AssembleTest(context.Background(), tos, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(test.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(test.Questions))
	}
	seen := make(map[string]int)
	for _, q := range test.Questions {
		seen[q.ID]++
	}
	for id, n := range seen {
		if n > 1 {
			t.Errorf("question %s selected %d times in one run", id, n)
		}
	}
	for _, v := range test.Versions {
		ids := make(map[string]int)
		for _, item := range v.Items {
			ids[item.QuestionID]++
		}
		for id, n := range ids {
			if n > 1 {
				t.Errorf("version %s carries question %s %d times", v.Label, id, n)
			}
		}
	}
}

func TestAssembleTestFailedCellDoesNotBumpUsage(t *testing.T) {
	// The bank supplies one of two required questions, then generation fails
	// and the cell is discarded. The discarded selection must not have
	// incremented the bank entry's usage counter.
	store := &fakeStore{bank: []Question{
		bankQuestion("q1", "Databases", Analyzing, Average, 0),
	}}
	gen := &fakeGenerator{failWith: errors.New("gateway timeout")}
	ta := NewTestAssembler(store, gen)

	tos := TOSSpec{Title: "Quiz", Cells: []TOSCell{
		{Topic: "Databases", Level: Analyzing, Dimension: Conceptual, Difficulty: Average, Count: 2},
	}}

	if _, err := ta.AssembleTest(context.Background(), tos, testConfig()); err == nil {
		t.Fatal("expected the run to fail")
	}

	store.mu.Lock()
	usage := store.bank[0].UsageCount
	store.mu.Unlock()
	if usage != 0 {
		t.Errorf("usage counter bumped for a cell that never committed, count = %d", usage)
	}
}

func TestAssembleTestSimilarCandidatesSkipped(t *testing.T) {
	store := &fakeStore{bank: []Question{
		bankQuestion("q1", "Databases", Analyzing, Average, 0),
		bankQuestion("q2", "Databases", Analyzing, Average, 1),
		bankQuestion("q3", "Databases", Analyzing, Average, 2),
	}}
	ta := NewTestAssembler(store, &fakeGenerator{})
	ta.SetSimilarityChecker(&fakeChecker{similarIDs: map[string]bool{"q2": true}})

	tos := TOSSpec{Title: "Quiz", Cells: []TOSCell{
		{Topic: "Databases", Level: Analyzing, Dimension: Conceptual, Difficulty: Average, Count: 2},
	}}

	test, err := ta.AssembleTest(context.Background(), tos, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if test.Questions[0].ID != "q1" || test.Questions[1].ID != "q3" {
		t.Errorf("similar candidate q2 should be skipped, got [%s %s]",
			test.Questions[0].ID, test.Questions[1].ID)
	}
}

func TestAssembleTestInsufficientPoolWithoutGenerator(t *testing.T) {
	ta := NewTestAssembler(&fakeStore{}, nil)

	tos := TOSSpec{Title: "Quiz", Cells: []TOSCell{
		{Topic: "Databases", Level: Analyzing, Dimension: Conceptual, Difficulty: Average, Count: 3},
	}}

	_, err := ta.AssembleTest(context.Background(), tos, testConfig())
	var poolErr *InsufficientPoolError
	if !errors.As(err, &poolErr) {
		t.Fatalf("expected InsufficientPoolError, got %v", err)
	}
	if poolErr.Required != 3 || poolErr.Available != 0 {
		t.Errorf("deficit = %d/%d, want 0/3", poolErr.Available, poolErr.Required)
	}
}

func TestAssembleTestPersistenceFailureFailsCell(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("disk full")}
	ta := NewTestAssembler(store, &fakeGenerator{})

	tos := TOSSpec{Title: "Quiz", Cells: []TOSCell{
		{Topic: "Databases", Level: Analyzing, Dimension: Conceptual, Difficulty: Average, Count: 1},
	}}

	_, err := ta.AssembleTest(context.Background(), tos, testConfig())
	var poolErr *InsufficientPoolError
	if !errors.As(err, &poolErr) {
		t.Fatalf("expected InsufficientPoolError, got %v", err)
	}
	if len(poolErr.Failures) != 1 || !strings.Contains(poolErr.Failures[0].Message, "disk full") {
		t.Errorf("unpersisted questions must not be used; failures = %+v", poolErr.Failures)
	}
}

func TestAssembleTestShortfallReported(t *testing.T) {
	// Analyzing/Conceptual permits 2 answer types, so a cell asking for 3
	// generated items delivers 2 and reports the discrepancy.
	store := &fakeStore{bank: []Question{
		bankQuestion("q1", "Databases", Analyzing, Average, 0),
	}}
	ta := NewTestAssembler(store, &fakeGenerator{})

	tos := TOSSpec{Title: "Quiz", Cells: []TOSCell{
		{Topic: "Databases", Level: Analyzing, Dimension: Conceptual, Difficulty: Average, Count: 4},
		{Topic: "Databases", Level: Evaluating, Dimension: Metacognitive, Difficulty: Average, Count: 1},
	}}

	_, err := ta.AssembleTest(context.Background(), tos, testConfig())
	var poolErr *InsufficientPoolError
	if !errors.As(err, &poolErr) {
		t.Fatalf("expected InsufficientPoolError for the undersized test, got %v", err)
	}
	// 1 bank + 2 generated for cell one, 1 generated for cell two.
	if poolErr.Available != 4 || poolErr.Required != 5 {
		t.Errorf("deficit = %d/%d, want 4/5", poolErr.Available, poolErr.Required)
	}
	// The error identifies which cell ran out of intent space.
	if len(poolErr.Shortfalls) != 1 {
		t.Fatalf("expected 1 shortfall on the error, got %d", len(poolErr.Shortfalls))
	}
	sf := poolErr.Shortfalls[0]
	if sf.Topic != "Databases" || sf.Level != Analyzing || sf.Requested != 4 || sf.Delivered != 3 {
		t.Errorf("shortfall should carry the exhausted cell's identity and counts, got %+v", sf)
	}
}

func TestAssembleVersionsFromQuestions(t *testing.T) {
	versions, keys, err := AssembleVersionsFromQuestions(questionSet(5), AssemblyConfig{
		NumVersions: 2, ShuffleQuestions: true, ShuffleChoices: true,
		PointsPerQuestion: 3, Seed: 21,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 || len(keys) != 2 {
		t.Fatalf("expected 2 versions and 2 keys, got %d and %d", len(versions), len(keys))
	}
	for i, v := range versions {
		if v.TotalPoints != 15 {
			t.Errorf("version %s: expected 15 points, got %d", v.Label, v.TotalPoints)
		}
		if keys[i].Label != v.Label {
			t.Errorf("key %d labeled %s for version %s", i, keys[i].Label, v.Label)
		}
	}
}
