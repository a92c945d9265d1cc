package tosassembler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// BankDB is a sqlite-backed QuestionStore plus persistence for assembled
// tests. Questions are soft-deleted so already-issued versions keep valid
// references.
type BankDB struct {
	db *sql.DB
}

// OpenBankDB opens (or creates) the bank database at the given path.
func OpenBankDB(dbPath string) (*BankDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &BankDB{db: db}, nil
}

// Close closes the database connection.
func (b *BankDB) Close() error {
	return b.db.Close()
}

// CreateTables creates the schema if it does not exist.
func (b *BankDB) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			topic_norm TEXT NOT NULL,
			cognitive_level TEXT NOT NULL,
			knowledge_dimension TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			question_type TEXT NOT NULL,
			text TEXT NOT NULL,
			choices TEXT,
			choice_order TEXT,
			correct_answer TEXT NOT NULL,
			source TEXT NOT NULL,
			approved INTEGER NOT NULL DEFAULT 0,
			needs_review INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			usage_count INTEGER NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 1.0,
			concept TEXT,
			operation TEXT,
			answer_type TEXT,
			structure_validated INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_topic ON questions(topic_norm, cognitive_level)`,
		`CREATE TABLE IF NOT EXISTS tests (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			config TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS test_versions (
			test_id TEXT NOT NULL,
			label TEXT NOT NULL,
			total_points INTEGER NOT NULL,
			PRIMARY KEY (test_id, label),
			FOREIGN KEY (test_id) REFERENCES tests(id)
		)`,
		`CREATE TABLE IF NOT EXISTS version_items (
			test_id TEXT NOT NULL,
			label TEXT NOT NULL,
			position INTEGER NOT NULL,
			question_id TEXT NOT NULL,
			text TEXT NOT NULL,
			choices TEXT,
			choice_order TEXT,
			correct_answer TEXT NOT NULL,
			points INTEGER NOT NULL,
			PRIMARY KEY (test_id, label, position),
			FOREIGN KEY (test_id, label) REFERENCES test_versions(test_id, label),
			FOREIGN KEY (question_id) REFERENCES questions(id)
		)`,
	}

	for _, query := range queries {
		if _, err := b.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute %s: %w", query, err)
		}
	}
	return nil
}

const questionColumns = `id, topic, cognitive_level, knowledge_dimension, difficulty, question_type,
	text, choices, choice_order, correct_answer, source, approved, needs_review, deleted,
	usage_count, confidence, concept, operation, answer_type, structure_validated, created_at`

// Query returns bank entries matching the filter. Topic matching folds case
// and whitespace. Soft-deleted rows are excluded unless asked for.
func (b *BankDB) Query(ctx context.Context, filter QuestionFilter) ([]Question, error) {
	query := "SELECT " + questionColumns + " FROM questions WHERE 1=1"
	var args []interface{}

	if !filter.IncludeDeleted {
		query += " AND deleted = 0"
	}
	if filter.OnlyApproved {
		query += " AND approved = 1"
	}
	if filter.Topic != "" {
		query += " AND topic_norm = ?"
		args = append(args, normalizeTopic(filter.Topic))
	}
	if filter.Level != "" {
		query += " AND cognitive_level = ?"
		args = append(args, string(filter.Level))
	}
	query += " ORDER BY created_at"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}
	return questions, nil
}

func scanQuestion(rows *sql.Rows) (Question, error) {
	var q Question
	var choicesJSON, orderJSON, concept, operation, answerType sql.NullString
	var structureValidated bool

	err := rows.Scan(
		&q.ID, &q.Topic, &q.Level, &q.Dimension, &q.Difficulty, &q.Type,
		&q.Text, &choicesJSON, &orderJSON, &q.CorrectAnswer, &q.Source,
		&q.Approved, &q.NeedsReview, &q.Deleted, &q.UsageCount, &q.Confidence,
		&concept, &operation, &answerType, &structureValidated, &q.CreatedAt,
	)
	if err != nil {
		return Question{}, fmt.Errorf("failed to scan question: %w", err)
	}

	if choicesJSON.Valid && choicesJSON.String != "" {
		if err := json.Unmarshal([]byte(choicesJSON.String), &q.Choices); err != nil {
			return Question{}, fmt.Errorf("failed to unmarshal choices for %s: %w", q.ID, err)
		}
	}
	if orderJSON.Valid && orderJSON.String != "" {
		if err := json.Unmarshal([]byte(orderJSON.String), &q.ChoiceOrder); err != nil {
			return Question{}, fmt.Errorf("failed to unmarshal choice order for %s: %w", q.ID, err)
		}
	}
	if q.Source == SourceGenerated {
		q.Generation = &GenerationMeta{
			Concept:            concept.String,
			Operation:          operation.String,
			AnswerType:         AnswerType(answerType.String),
			StructureValidated: structureValidated,
		}
	}
	return q, nil
}

// Insert persists questions, assigning ids to entries that lack one, and
// returns the stored copies.
func (b *BankDB) Insert(ctx context.Context, questions []Question) ([]Question, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stored := make([]Question, 0, len(questions))
	for _, q := range questions {
		if q.ID == "" {
			q.ID = newQuestionID()
		}
		if q.CreatedAt.IsZero() {
			q.CreatedAt = time.Now()
		}

		var choicesJSON, orderJSON string
		if len(q.Choices) > 0 {
			data, err := json.Marshal(q.Choices)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal choices for %s: %w", q.ID, err)
			}
			choicesJSON = string(data)
			data, err = json.Marshal(q.ChoiceOrder)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal choice order for %s: %w", q.ID, err)
			}
			orderJSON = string(data)
		}

		var concept, operation, answerType string
		structureValidated := true
		if q.Generation != nil {
			concept = q.Generation.Concept
			operation = q.Generation.Operation
			answerType = string(q.Generation.AnswerType)
			structureValidated = q.Generation.StructureValidated
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO questions (id, topic, topic_norm, cognitive_level, knowledge_dimension,
				difficulty, question_type, text, choices, choice_order, correct_answer, source,
				approved, needs_review, deleted, usage_count, confidence, concept, operation,
				answer_type, structure_validated, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.ID, q.Topic, normalizeTopic(q.Topic), string(q.Level), string(q.Dimension),
			string(q.Difficulty), string(q.Type), q.Text, choicesJSON, orderJSON,
			q.CorrectAnswer, string(q.Source), q.Approved, q.NeedsReview, q.Deleted,
			q.UsageCount, q.Confidence, concept, operation, answerType, structureValidated,
			q.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert question %s: %w", q.ID, err)
		}
		stored = append(stored, q)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit questions: %w", err)
	}
	return stored, nil
}

// MarkUsed increments a question's usage counter.
func (b *BankDB) MarkUsed(ctx context.Context, questionID string) error {
	_, err := b.db.ExecContext(ctx,
		"UPDATE questions SET usage_count = usage_count + 1 WHERE id = ?", questionID)
	if err != nil {
		return fmt.Errorf("failed to mark question used: %w", err)
	}
	return nil
}

// SoftDelete flags a question as deleted without removing the row, preserving
// referential integrity with already-issued versions.
func (b *BankDB) SoftDelete(ctx context.Context, questionID string) error {
	_, err := b.db.ExecContext(ctx,
		"UPDATE questions SET deleted = 1 WHERE id = ?", questionID)
	if err != nil {
		return fmt.Errorf("failed to delete question: %w", err)
	}
	return nil
}

// Approve clears the needs-review flag and marks the question approved.
func (b *BankDB) Approve(ctx context.Context, questionID string) error {
	_, err := b.db.ExecContext(ctx,
		"UPDATE questions SET approved = 1, needs_review = 0 WHERE id = ?", questionID)
	if err != nil {
		return fmt.Errorf("failed to approve question: %w", err)
	}
	return nil
}

// SaveGeneratedTest persists a fully assembled test in one transaction: the
// aggregate with its configuration, every version, and every item. Answer
// keys are not stored; they are derived from items on load. Callers save only
// after assembly fully succeeds.
func (b *BankDB) SaveGeneratedTest(ctx context.Context, test *AssembledTest) error {
	configJSON, err := json.Marshal(test.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO tests (id, title, config, created_at) VALUES (?, ?, ?, ?)",
		test.ID, test.Title, string(configJSON), test.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert test: %w", err)
	}

	for _, version := range test.Versions {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO test_versions (test_id, label, total_points) VALUES (?, ?, ?)",
			test.ID, version.Label, version.TotalPoints)
		if err != nil {
			return fmt.Errorf("failed to insert version %s: %w", version.Label, err)
		}

		for _, item := range version.Items {
			var choicesJSON, orderJSON string
			if len(item.Choices) > 0 {
				data, err := json.Marshal(item.Choices)
				if err != nil {
					return fmt.Errorf("failed to marshal item choices: %w", err)
				}
				choicesJSON = string(data)
				data, err = json.Marshal(item.ChoiceOrder)
				if err != nil {
					return fmt.Errorf("failed to marshal item choice order: %w", err)
				}
				orderJSON = string(data)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO version_items (test_id, label, position, question_id, text,
					choices, choice_order, correct_answer, points)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				test.ID, version.Label, item.Position, item.QuestionID, item.Text,
				choicesJSON, orderJSON, item.CorrectAnswer, item.Points)
			if err != nil {
				return fmt.Errorf("failed to insert item %d of version %s: %w",
					item.Position, version.Label, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit test: %w", err)
	}
	return nil
}

// LoadGeneratedTest reads a persisted test back, deriving answer keys from
// the stored items.
func (b *BankDB) LoadGeneratedTest(ctx context.Context, testID string) (*AssembledTest, error) {
	test := &AssembledTest{ID: testID}
	var configJSON string
	err := b.db.QueryRowContext(ctx,
		"SELECT title, config, created_at FROM tests WHERE id = ?", testID).
		Scan(&test.Title, &configJSON, &test.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("test not found: %s", testID)
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &test.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	versionRows, err := b.db.QueryContext(ctx,
		"SELECT label, total_points FROM test_versions WHERE test_id = ? ORDER BY label", testID)
	if err != nil {
		return nil, fmt.Errorf("failed to get versions: %w", err)
	}
	defer versionRows.Close()

	for versionRows.Next() {
		var version TestVersion
		if err := versionRows.Scan(&version.Label, &version.TotalPoints); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		test.Versions = append(test.Versions, version)
	}
	if err := versionRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	for i := range test.Versions {
		items, err := b.loadVersionItems(ctx, testID, test.Versions[i].Label)
		if err != nil {
			return nil, err
		}
		test.Versions[i].Items = items
	}
	test.AnswerKeys = DeriveAnswerKeys(test.Versions)

	return test, nil
}

func (b *BankDB) loadVersionItems(ctx context.Context, testID, label string) ([]VersionItem, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT position, question_id, text, choices, choice_order, correct_answer, points
		FROM version_items WHERE test_id = ? AND label = ? ORDER BY position`, testID, label)
	if err != nil {
		return nil, fmt.Errorf("failed to get items for version %s: %w", label, err)
	}
	defer rows.Close()

	var items []VersionItem
	for rows.Next() {
		var item VersionItem
		var choicesJSON, orderJSON sql.NullString
		err := rows.Scan(&item.Position, &item.QuestionID, &item.Text,
			&choicesJSON, &orderJSON, &item.CorrectAnswer, &item.Points)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		if choicesJSON.Valid && choicesJSON.String != "" {
			if err := json.Unmarshal([]byte(choicesJSON.String), &item.Choices); err != nil {
				return nil, fmt.Errorf("failed to unmarshal item choices: %w", err)
			}
		}
		if orderJSON.Valid && orderJSON.String != "" {
			if err := json.Unmarshal([]byte(orderJSON.String), &item.ChoiceOrder); err != nil {
				return nil, fmt.Errorf("failed to unmarshal item choice order: %w", err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}
