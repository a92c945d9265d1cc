package tosassembler

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// InsufficientPoolError reports that fewer questions were available than one
// complete version requires. Assembly never silently produces an undersized
// test. Failures carries the per-cell errors and Shortfalls the per-cell
// exhaustion counts that contributed to the deficit.
type InsufficientPoolError struct {
	Required   int
	Available  int
	Failures   []CellError
	Shortfalls []CellShortfall
}

func (e *InsufficientPoolError) Error() string {
	return fmt.Sprintf("insufficient question pool: %d required, %d available (%d cells failed, %d cells exhausted)",
		e.Required, e.Available, len(e.Failures), len(e.Shortfalls))
}

// versionSeed derives a deterministic per-version seed from the run seed and
// the version label, so the same configuration always reproduces the same
// versions.
func versionSeed(seed int64, label string) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s", seed, label)
	return int64(h.Sum64())
}

// AssembleVersions turns one finalized question list plus a configuration
// into config.NumVersions versions, each with its own question order and
// per-version MCQ choice layout. Every version carries the same multiset of
// question ids.
func AssembleVersions(questions []Question, config AssemblyConfig) ([]TestVersion, error) {
	if config.NumVersions < 1 {
		return nil, fmt.Errorf("number of versions must be at least 1, got %d", config.NumVersions)
	}
	if len(questions) == 0 {
		return nil, &InsufficientPoolError{Required: 1, Available: 0}
	}

	versions := make([]TestVersion, 0, config.NumVersions)
	for v := 0; v < config.NumVersions; v++ {
		label := versionLabel(v)
		rng := rand.New(rand.NewSource(versionSeed(config.Seed, label)))

		ordered := make([]Question, len(questions))
		copy(ordered, questions)
		if config.ShuffleQuestions {
			fisherYates(ordered, rng)
		}

		items := make([]VersionItem, len(ordered))
		total := 0
		for i := range ordered {
			item := VersionItem{
				QuestionID:    ordered[i].ID,
				Position:      i + 1,
				Text:          ordered[i].Text,
				CorrectAnswer: ordered[i].CorrectAnswer,
				Points:        config.PointsPerQuestion,
			}
			if ordered[i].IsMCQ() {
				if config.ShuffleChoices {
					item.ChoiceOrder, item.Choices, item.CorrectAnswer = shuffleChoices(&ordered[i], rng)
				} else {
					item.ChoiceOrder = append([]string(nil), ordered[i].ChoiceOrder...)
					item.Choices = copyChoices(ordered[i].Choices)
				}
			}
			total += item.Points
			items[i] = item
		}

		versions = append(versions, TestVersion{
			Label:       label,
			Items:       items,
			TotalPoints: total,
		})
	}

	return versions, nil
}

// fisherYates shuffles qs in place using the given source.
func fisherYates(qs []Question, rng *rand.Rand) {
	for i := len(qs) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		qs[i], qs[j] = qs[j], qs[i]
	}
}

// shuffleChoices produces a version-local choice layout for one MCQ item.
// The returned correct key is whichever letter now holds the originally
// correct text, so semantic correctness survives relabeling. Duplicate choice
// texts are handled by permuting indices, never by text lookup.
func shuffleChoices(q *Question, rng *rand.Rand) ([]string, map[string]string, string) {
	n := len(q.ChoiceOrder)
	texts := make([]string, n)
	correctIdx := -1
	for i, key := range q.ChoiceOrder {
		texts[i] = q.Choices[key]
		if key == q.CorrectAnswer {
			correctIdx = i
		}
	}

	perm := rng.Perm(n)

	order := append([]string(nil), q.ChoiceOrder...)
	choices := make(map[string]string, n)
	correct := q.CorrectAnswer
	for i, key := range order {
		choices[key] = texts[perm[i]]
		if perm[i] == correctIdx {
			correct = key
		}
	}
	return order, choices, correct
}

func copyChoices(choices map[string]string) map[string]string {
	out := make(map[string]string, len(choices))
	for k, v := range choices {
		out[k] = v
	}
	return out
}

// DeriveAnswerKey replays a version's items into its answer key. The key is
// never stored or edited independently of the items.
func DeriveAnswerKey(version TestVersion) AnswerKey {
	key := AnswerKey{Label: version.Label, Keys: make([]AnswerKeyEntry, 0, len(version.Items))}
	for _, item := range version.Items {
		key.Keys = append(key.Keys, AnswerKeyEntry{
			Number: item.Position,
			Answer: item.CorrectAnswer,
		})
	}
	return key
}

// DeriveAnswerKeys derives keys for every version in order.
func DeriveAnswerKeys(versions []TestVersion) []AnswerKey {
	keys := make([]AnswerKey, len(versions))
	for i, v := range versions {
		keys[i] = DeriveAnswerKey(v)
	}
	return keys
}
