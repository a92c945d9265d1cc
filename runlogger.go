package tosassembler

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunLogger writes an audit trail of one assembly run to a file: every LLM
// request and response, every structure-check rejection, and per-cell
// outcomes. Logging failures never fail the run.
type RunLogger struct {
	file  *os.File
	mu    sync.Mutex
	runID string
}

// NewRunLogger creates a logger for one assembly run under log/<run-id>.log.
func NewRunLogger(runID string, tos TOSSpec) (*RunLogger, error) {
	if err := os.MkdirAll("log", 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := filepath.Join("log", fmt.Sprintf("%s.log", runID))
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := &RunLogger{file: file, runID: runID}

	logger.Logf("=== Test Assembly Log ===\n")
	logger.Logf("Run ID: %s\n", runID)
	logger.Logf("Title: %s\n", tos.Title)
	logger.Logf("Cells: %d, Total items required: %d\n", len(tos.Cells), tos.TotalRequired())
	logger.Logf("Started: %s\n", time.Now().Format(time.RFC3339))
	logger.Logf("========================\n\n")

	return logger, nil
}

// Logf writes a formatted log entry with timestamp
func (rl *RunLogger) Logf(format string, args ...interface{}) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	timestamp := time.Now().Format("15:04:05.000")
	message := fmt.Sprintf(format, args...)

	fmt.Fprintf(rl.file, "[%s] %s", timestamp, message)
	rl.file.Sync()
}

// LogLLMRequest logs an LLM request
func (rl *RunLogger) LogLLMRequest(module, prompt string) {
	rl.Logf("=== LLM REQUEST (%s) ===\n", module)
	rl.Logf("Prompt:\n%s\n", prompt)
	rl.Logf("=====================\n\n")
}

// LogLLMResponse logs an LLM response
func (rl *RunLogger) LogLLMResponse(module, response string) {
	rl.Logf("=== LLM RESPONSE (%s) ===\n", module)
	rl.Logf("Response:\n%s\n", response)
	rl.Logf("======================\n\n")
}

// LogStructureRejection logs a structure-check failure for a generated answer.
func (rl *RunLogger) LogStructureRejection(topic, answerType, reason string) {
	rl.Logf("Structure check FAILED (%s, %s): %s\n", topic, answerType, reason)
}

// LogCellResult logs the outcome of one TOS cell. An empty failure string
// means the cell succeeded.
func (rl *RunLogger) LogCellResult(cell TOSCell, delivered int, failure string) {
	if failure != "" {
		rl.Logf("Cell %s/%s/%s: FAILED - %s\n", cell.Topic, cell.Level, cell.Difficulty, failure)
		return
	}
	rl.Logf("Cell %s/%s/%s: %d/%d items\n", cell.Topic, cell.Level, cell.Difficulty, delivered, cell.Count)
}

// Close closes the log file
func (rl *RunLogger) Close() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.file != nil {
		timestamp := time.Now().Format("15:04:05.000")
		fmt.Fprintf(rl.file, "[%s] === Assembly Complete ===\n", timestamp)
		fmt.Fprintf(rl.file, "[%s] Completed: %s\n", timestamp, time.Now().Format(time.RFC3339))
		return rl.file.Close()
	}
	return nil
}
