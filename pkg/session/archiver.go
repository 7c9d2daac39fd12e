package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ArchiveEntry is one line of an archived transcript.
type ArchiveEntry struct {
	SessionID string  `json:"sessionId"`
	Message   Message `json:"message"`
}

// Archiver writes the transcripts of evicted sessions as JSONL files.
// Archives are write-only; nothing in the process reads them back.
type Archiver struct {
	dir string
	mu  sync.Mutex
}

// NewArchiver creates an archiver rooted at dir.
func NewArchiver(dir string) (*Archiver, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	a := &Archiver{dir: dir}
	ids, err := a.ArchivedSessions()
	if err != nil {
		return nil, err
	}

	log.Info().Str("dir", dir).Int("archived", len(ids)).Msg("Session archiver initialized")
	return a, nil
}

// validateSessionID validates the session id for use as a file name
func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (a *Archiver) path(id string) string {
	return filepath.Join(a.dir, id+".jsonl")
}

// Archive appends the full history of sess to its transcript file.
func (a *Archiver) Archive(sess *Session) error {
	if err := validateSessionID(sess.ID()); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.OpenFile(a.path(sess.ID()), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	defer file.Close()

	for _, msg := range sess.Messages() {
		data, err := json.Marshal(ArchiveEntry{SessionID: sess.ID(), Message: msg})
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	log.Info().
		Str("session_id", sess.ID()).
		Int("messages", sess.MessageCount()).
		Msg("Session archived")
	return nil
}

// Hook adapts the archiver to a Store eviction hook. Failures are logged.
func (a *Archiver) Hook() func(*Session) {
	return func(sess *Session) {
		if err := a.Archive(sess); err != nil {
			log.Error().Err(err).Str("session_id", sess.ID()).Msg("Failed to archive session")
		}
	}
}

// ArchivedSessions lists the ids that have a transcript on disk.
func (a *Archiver) ArchivedSessions() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".jsonl"))
	}
	return ids, nil
}
