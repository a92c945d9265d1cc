package tosassembler

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"
)

func mcqQuestion(id, correct string) Question {
	return Question{
		ID:    id,
		Topic: "Databases",
		Type:  TypeMCQ,
		Text:  "Question " + id,
		Choices: map[string]string{
			"A": "option A of " + id,
			"B": "option B of " + id,
			"C": "option C of " + id,
			"D": "option D of " + id,
		},
		ChoiceOrder:   []string{"A", "B", "C", "D"},
		CorrectAnswer: correct,
	}
}

func questionSet(n int) []Question {
	qs := make([]Question, n)
	for i := range qs {
		qs[i] = mcqQuestion(fmt.Sprintf("q%02d", i+1), "B")
	}
	return qs
}

func sortedIDs(v TestVersion) []string {
	ids := make([]string, len(v.Items))
	for i, item := range v.Items {
		ids[i] = item.QuestionID
	}
	sort.Strings(ids)
	return ids
}

func orderedIDs(v TestVersion) []string {
	ids := make([]string, len(v.Items))
	for i, item := range v.Items {
		ids[i] = item.QuestionID
	}
	return ids
}

func TestAssembleVersionsMultisetInvariant(t *testing.T) {
	versions, err := AssembleVersions(questionSet(10), AssemblyConfig{
		NumVersions: 4, ShuffleQuestions: true, ShuffleChoices: true,
		PointsPerQuestion: 1, Seed: 7,
	})
	if err != nil {
		t.Fatal(err)
	}

	want := sortedIDs(versions[0])
	for _, v := range versions[1:] {
		if got := sortedIDs(v); !reflect.DeepEqual(got, want) {
			t.Errorf("version %s id multiset differs: %v vs %v", v.Label, got, want)
		}
	}
}

func TestAssembleVersionsAnswerKeyFidelity(t *testing.T) {
	versions, err := AssembleVersions(questionSet(8), AssemblyConfig{
		NumVersions: 2, ShuffleQuestions: true, ShuffleChoices: true,
		PointsPerQuestion: 1, Seed: 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, v := range versions {
		key := DeriveAnswerKey(v)
		if len(key.Keys) != len(v.Items) {
			t.Fatalf("version %s: key length %d != item count %d", v.Label, len(key.Keys), len(v.Items))
		}
		for i, item := range v.Items {
			if key.Keys[i].Number != item.Position || key.Keys[i].Answer != item.CorrectAnswer {
				t.Errorf("version %s item %d: key (%d,%s) != item (%d,%s)",
					v.Label, i, key.Keys[i].Number, key.Keys[i].Answer, item.Position, item.CorrectAnswer)
			}
		}
		// Replaying the items must reproduce the key exactly.
		if !reflect.DeepEqual(DeriveAnswerKey(v), key) {
			t.Errorf("version %s: answer key not reproducible", v.Label)
		}
	}
}

func TestAssembleVersionsChoiceShuffleCorrectness(t *testing.T) {
	q := mcqQuestion("q1", "B")
	correctText := q.Choices["B"]

	versions, err := AssembleVersions([]Question{q}, AssemblyConfig{
		NumVersions: 5, ShuffleQuestions: false, ShuffleChoices: true,
		PointsPerQuestion: 1, Seed: 11,
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, v := range versions {
		item := v.Items[0]
		if got := item.Choices[item.CorrectAnswer]; got != correctText {
			t.Errorf("version %s: correct key %s holds %q, want %q",
				v.Label, item.CorrectAnswer, got, correctText)
		}
		// The shuffled mapping must still hold all four original texts.
		if len(item.Choices) != 4 {
			t.Errorf("version %s: expected 4 choices, got %d", v.Label, len(item.Choices))
		}
	}
}

func TestAssembleVersionsDeterminism(t *testing.T) {
	config := AssemblyConfig{
		NumVersions: 3, ShuffleQuestions: true, ShuffleChoices: true,
		PointsPerQuestion: 2, Seed: 42,
	}

	first, err := AssembleVersions(questionSet(9), config)
	if err != nil {
		t.Fatal(err)
	}
	second, err := AssembleVersions(questionSet(9), config)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("same seed and input must reproduce identical versions")
	}

	// A different seed must not be forced to match (sanity: orderings vary).
	third, err := AssembleVersions(questionSet(9), AssemblyConfig{
		NumVersions: 3, ShuffleQuestions: true, ShuffleChoices: true,
		PointsPerQuestion: 2, Seed: 43,
	})
	if err != nil {
		t.Fatal(err)
	}
	if reflect.DeepEqual(orderedIDs(first[0]), orderedIDs(third[0])) &&
		reflect.DeepEqual(orderedIDs(first[1]), orderedIDs(third[1])) &&
		reflect.DeepEqual(orderedIDs(first[2]), orderedIDs(third[2])) {
		t.Error("different seeds produced identical orderings for all versions")
	}
}

func TestAssembleVersionsEndToEnd(t *testing.T) {
	versions, err := AssembleVersions(questionSet(12), AssemblyConfig{
		NumVersions: 3, ShuffleQuestions: true, ShuffleChoices: true,
		PointsPerQuestion: 2, Seed: 99,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	for _, v := range versions {
		if len(v.Items) != 12 {
			t.Errorf("version %s: expected 12 items, got %d", v.Label, len(v.Items))
		}
		if v.TotalPoints != 24 {
			t.Errorf("version %s: expected 24 points, got %d", v.Label, v.TotalPoints)
		}
	}

	if !reflect.DeepEqual(sortedIDs(versions[0]), sortedIDs(versions[1])) ||
		!reflect.DeepEqual(sortedIDs(versions[1]), sortedIDs(versions[2])) {
		t.Error("versions must share one question-id multiset")
	}
	if reflect.DeepEqual(orderedIDs(versions[0]), orderedIDs(versions[1])) {
		t.Error("versions A and B should have different orderings for this seed")
	}
}

func TestAssembleVersionsNoShuffleKeepsOrder(t *testing.T) {
	qs := questionSet(6)
	versions, err := AssembleVersions(qs, AssemblyConfig{
		NumVersions: 2, ShuffleQuestions: false, ShuffleChoices: false,
		PointsPerQuestion: 1, Seed: 5,
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, v := range versions {
		for i, item := range v.Items {
			if item.QuestionID != qs[i].ID {
				t.Errorf("version %s position %d: got %s, want %s", v.Label, i+1, item.QuestionID, qs[i].ID)
			}
			if item.CorrectAnswer != "B" {
				t.Errorf("version %s position %d: correct key changed without choice shuffle", v.Label, i+1)
			}
		}
	}
}

func TestAssembleVersionsSingleVersionStillShuffles(t *testing.T) {
	// numberOfVersions == 1 runs the same pipeline; determinism by seed must
	// hold for it too.
	config := AssemblyConfig{
		NumVersions: 1, ShuffleQuestions: true, ShuffleChoices: true,
		PointsPerQuestion: 1, Seed: 17,
	}
	first, err := AssembleVersions(questionSet(10), config)
	if err != nil {
		t.Fatal(err)
	}
	second, err := AssembleVersions(questionSet(10), config)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("single-version assembly must be deterministic by seed")
	}
}

func TestAssembleVersionsEmptyPool(t *testing.T) {
	_, err := AssembleVersions(nil, AssemblyConfig{NumVersions: 2, PointsPerQuestion: 1})
	var poolErr *InsufficientPoolError
	if err == nil {
		t.Fatal("empty pool must fail")
	}
	if !errors.As(err, &poolErr) {
		t.Fatalf("expected InsufficientPoolError, got %T", err)
	}
}

func TestVersionLabels(t *testing.T) {
	versions, err := AssembleVersions(questionSet(3), AssemblyConfig{
		NumVersions: 3, PointsPerQuestion: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"A", "B", "C"}
	for i, v := range versions {
		if v.Label != want[i] {
			t.Errorf("version %d labeled %s, want %s", i, v.Label, want[i])
		}
	}
}
