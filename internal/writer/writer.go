package writer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TimestampLayout names timestamped artifacts.
const TimestampLayout = "20060102_150405"

// FileWriter handles writing run artifacts into one directory
type FileWriter struct {
	outputDir string
	mu        sync.Mutex
	now       func() time.Time
}

// New creates a new FileWriter instance, creating outputDir if needed
func New(outputDir string) (*FileWriter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileWriter{outputDir: outputDir, now: time.Now}, nil
}

// Dir returns the artifact directory.
func (w *FileWriter) Dir() string { return w.outputDir }

// WriteBatch writes v as <name>_<timestamp>.json and refreshes the
// <name>_latest.json alias. It returns the timestamped path.
func (w *FileWriter) WriteBatch(name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", name, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	stamped := filepath.Join(w.outputDir, fmt.Sprintf("%s_%s.json", name, w.now().Format(TimestampLayout)))
	if err := os.WriteFile(stamped, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", stamped, err)
	}
	if err := w.writeAtomic(w.LatestPath(name), data); err != nil {
		return "", err
	}
	return stamped, nil
}

// WriteLatest rewrites only the <name>_latest.json alias.
func (w *FileWriter) WriteLatest(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeAtomic(w.LatestPath(name), data)
}

// WriteFile writes raw content under the artifact dir and returns its path.
func (w *FileWriter) WriteFile(name string, content []byte) (string, error) {
	path := filepath.Join(w.outputDir, name)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// LatestPath returns the path of the latest alias for name.
func (w *FileWriter) LatestPath(name string) string {
	return filepath.Join(w.outputDir, name+"_latest.json")
}

// Path returns a path inside the artifact dir for a diagnostic file, with
// the label made filesystem safe.
func (w *FileWriter) Path(label, ext string) string {
	return filepath.Join(w.outputDir, sanitizeFilename(label)+ext)
}

func (w *FileWriter) writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// sanitizeFilename creates a safe filename from a label
func sanitizeFilename(label string) string {
	unsafe := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " "}
	for _, char := range unsafe {
		label = strings.ReplaceAll(label, char, "_")
	}
	if len(label) > 120 {
		label = label[:120]
	}
	return label
}
