// Package history is the run-history writer: an append-only JSONL
// journal per workflow under a history directory, plus a purge
// operation that drops whole files or rewrites them with matching
// records removed. Filesystem access goes through afero, matching
// internal/catalog's Store, so purge's rewrite-atomically step is
// unit-testable against afero.NewMemMapFs().
package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"oatty/internal/workflow"
)

// Record is one completed run's journal entry.
type Record struct {
	WorkflowID string          `json:"workflow_id"`
	RunID      string          `json:"run_id"`
	Status     string          `json:"status"`
	Timestamp  time.Time       `json:"timestamp"`
	Inputs     json.RawMessage `json:"inputs"`
}

// Writer appends run records to <dir>/<workflow_id>.jsonl.
type Writer struct {
	Fs  afero.Fs
	Dir string
}

// NewWriter builds a Writer rooted at dir, with fs defaulting to the OS
// filesystem when nil.
func NewWriter(fs afero.Fs, dir string) *Writer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Writer{Fs: fs, Dir: dir}
}

func (w *Writer) pathFor(workflowID string) string {
	return filepath.Join(w.Dir, workflowID+".jsonl")
}

// Append writes one record, terminated by a newline, to the
// workflow-scoped journal file.
func (w *Writer) Append(rec Record) error {
	if err := w.Fs.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}
	data = append(data, '\n')

	f, err := w.Fs.OpenFile(w.pathFor(rec.WorkflowID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history journal: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write history record: %w", err)
	}
	return nil
}

// RecordForRun builds a Record from a completed run's final status,
// deriving an overall Succeeded/Failed status from whether any step
// failed.
func RecordForRun(workflowID, runID string, steps []workflow.StepResult, inputs json.RawMessage, now time.Time) Record {
	status := string(workflow.StepSucceeded)
	for _, s := range steps {
		if s.Status == workflow.StepFailed {
			status = string(workflow.StepFailed)
			break
		}
	}
	return Record{
		WorkflowID: workflowID,
		RunID:      runID,
		Status:     status,
		Timestamp:  now.UTC(),
		Inputs:     inputs,
	}
}

// PurgeResult reports what Purge removed.
type PurgeResult struct {
	FilesRemoved   int
	RecordsRemoved int
}

// Purge removes history. With workflowID empty, it scans every *.jsonl
// file in the directory; otherwise it operates on the single matching
// file. With inputKeys empty, whole matching files are deleted and their
// record count reported. With inputKeys non-empty, each file is read and
// rewritten keeping only records whose inputs object contains none of
// the listed keys.
func (w *Writer) Purge(workflowID string, inputKeys []string) (PurgeResult, error) {
	var result PurgeResult
	files, err := w.targetFiles(workflowID)
	if err != nil {
		return result, err
	}

	for _, path := range files {
		data, err := afero.ReadFile(w.Fs, path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return result, fmt.Errorf("read history file %s: %w", path, err)
		}
		lines := splitLines(data)

		if len(inputKeys) == 0 {
			result.FilesRemoved++
			result.RecordsRemoved += len(lines)
			if err := w.Fs.Remove(path); err != nil {
				return result, fmt.Errorf("remove history file %s: %w", path, err)
			}
			continue
		}

		kept := make([][]byte, 0, len(lines))
		removed := 0
		for _, line := range lines {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var rec struct {
				Inputs json.RawMessage `json:"inputs"`
			}
			if err := json.Unmarshal(line, &rec); err != nil {
				kept = append(kept, line)
				continue
			}
			if recordHasAnyKey(rec.Inputs, inputKeys) {
				removed++
				continue
			}
			kept = append(kept, line)
		}
		if removed == 0 {
			continue
		}
		result.RecordsRemoved += removed

		var buf bytes.Buffer
		for _, line := range kept {
			buf.Write(line)
			buf.WriteByte('\n')
		}
		if err := w.atomicRewrite(path, buf.Bytes()); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (w *Writer) targetFiles(workflowID string) ([]string, error) {
	if workflowID != "" {
		return []string{w.pathFor(workflowID)}, nil
	}
	entries, err := afero.ReadDir(w.Fs, w.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list history dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		files = append(files, filepath.Join(w.Dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (w *Writer) atomicRewrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(w.Fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp history file: %w", err)
	}
	if err := w.Fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp history file: %w", err)
	}
	return nil
}

func recordHasAnyKey(inputs json.RawMessage, keys []string) bool {
	if len(inputs) == 0 {
		return false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(inputs, &m); err != nil {
		return false
	}
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		lines = append(lines, line)
	}
	return lines
}
