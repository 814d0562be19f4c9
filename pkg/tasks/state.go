package tasks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"coursemirror/pkg/models"
	"coursemirror/pkg/utils"
)

const taskStateFileName = "tasks.json"

// persistedState is the on-disk shape of the task table
type persistedState struct {
	Tasks     []models.TaskView `json:"tasks"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// StateFile persists the task table to one JSON file in the state dir so
// queued work survives a restart. Writes go through a temp file and rename;
// a crash never leaves a torn state file behind.
type StateFile struct {
	stateDir  string
	statePath string
}

func NewStateFile(stateDir string) *StateFile {
	return &StateFile{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, taskStateFileName),
	}
}

// Load reads the persisted task views. A missing file means a fresh start;
// an unparsable one is an error rather than silently dropped work.
func (s *StateFile) Load() ([]models.TaskView, error) {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading task state: %v", utils.ErrFilesystem, err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: task state file %s: %v", utils.ErrParsing, s.statePath, err)
	}
	return state.Tasks, nil
}

// Save atomically replaces the state file with the given task views
func (s *StateFile) Save(views []models.TaskView) error {
	if err := os.MkdirAll(s.stateDir, 0755); err != nil {
		return fmt.Errorf("%w: creating state dir: %v", utils.ErrFilesystem, err)
	}

	data, err := json.MarshalIndent(persistedState{Tasks: views, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling task state: %w", err)
	}

	tmp, err := os.CreateTemp(s.stateDir, ".tasks-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp state file: %v", utils.ErrFilesystem, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing temp state file: %v", utils.ErrFilesystem, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing temp state file: %v", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmpName, s.statePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replacing state file: %v", utils.ErrFilesystem, err)
	}
	return nil
}
