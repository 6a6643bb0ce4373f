// Package storage persists a snapshot of every finished generation so
// earlier parameter sets can be browsed and restored.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type Store struct {
	rootDir string
	gensDir string
}

// A ParamRecord is one parameter as it stood when the generation finished.
type ParamRecord struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

type GenerationSummary struct {
	SavedAt    string `json:"saved_at"`
	ParamCount int    `json:"param_count"`
	Directory  string `json:"directory"`
}

type GenerationSnapshot struct {
	Summary GenerationSummary `json:"summary"`
	Params  []ParamRecord     `json:"params"`
	LogTail []string          `json:"log_tail"`
}

func NewStore(rootDir string) (*Store, error) {
	gensDir := filepath.Join(rootDir, "generations")
	if err := os.MkdirAll(gensDir, 0o755); err != nil {
		return nil, fmt.Errorf("create generations dir: %w", err)
	}
	return &Store{rootDir: rootDir, gensDir: gensDir}, nil
}

func (s *Store) GenerationsDir() string {
	return s.gensDir
}

// SaveGeneration writes one finished generation's parameters and log tail
// into a timestamped directory.
func (s *Store) SaveGeneration(records []ParamRecord, logTail []string) (GenerationSummary, error) {
	now := time.Now().UTC()
	dirName := now.Format("20060102-150405.000")
	dirPath := filepath.Join(s.gensDir, dirName)
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return GenerationSummary{}, fmt.Errorf("create snapshot dir: %w", err)
	}

	summary := GenerationSummary{
		SavedAt:    now.Format(time.RFC3339),
		ParamCount: len(records),
		Directory:  dirPath,
	}
	snapshot := GenerationSnapshot{
		Summary: summary,
		Params:  append([]ParamRecord(nil), records...),
		LogTail: append([]string(nil), logTail...),
	}

	if err := writeJSON(filepath.Join(dirPath, "summary.json"), summary); err != nil {
		return GenerationSummary{}, err
	}
	if err := writeJSON(filepath.Join(dirPath, "snapshot.json"), snapshot); err != nil {
		return GenerationSummary{}, err
	}
	return summary, nil
}

// List returns saved generation summaries, newest first.
func (s *Store) List(limit int) ([]GenerationSummary, error) {
	entries, err := os.ReadDir(s.gensDir)
	if err != nil {
		return nil, fmt.Errorf("read generations dir: %w", err)
	}

	summaries := make([]GenerationSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		summaryPath := filepath.Join(s.gensDir, entry.Name(), "summary.json")
		blob, err := os.ReadFile(summaryPath)
		if err != nil {
			continue
		}
		var summary GenerationSummary
		if err := json.Unmarshal(blob, &summary); err != nil {
			continue
		}
		if summary.Directory == "" {
			summary.Directory = filepath.Join(s.gensDir, entry.Name())
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].SavedAt > summaries[j].SavedAt
	})

	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// Load reads one snapshot back. A relative directory is resolved against
// the generations dir.
func (s *Store) Load(directory string) (*GenerationSnapshot, error) {
	dir := strings.TrimSpace(directory)
	if dir == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.gensDir, dir)
	}

	var snapshot GenerationSnapshot
	if err := readJSON(filepath.Join(dir, "snapshot.json"), &snapshot); err != nil {
		return nil, err
	}
	if snapshot.Summary.Directory == "" {
		snapshot.Summary.Directory = dir
	}
	return &snapshot, nil
}

func writeJSON(path string, value any) error {
	blob, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json for %s: %w", path, err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, out any) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
