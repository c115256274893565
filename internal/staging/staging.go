// Package staging writes the receive buffer to disk: one JPEG per participant
// plus a roster manifest, each replaced atomically.
package staging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/telepresence/internal/roster"
)

const manifestName = "roster.json"

// Writer mirrors roster entries into a directory.
type Writer struct {
	baseDir     string
	stagingRoot string
	logger      *zap.Logger

	mu      sync.Mutex
	written map[string][]byte // participant id -> frame on disk
}

// ManifestEntry describes one participant in roster.json.
type ManifestEntry struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	File          string `json:"file,omitempty"`
}

type manifest struct {
	UpdatedAt    time.Time       `json:"updatedAt"`
	Participants []ManifestEntry `json:"participants"`
}

func NewWriter(baseDir string, logger *zap.Logger) *Writer {
	return &Writer{
		baseDir:     baseDir,
		stagingRoot: filepath.Join(baseDir, ".staging"),
		logger:      logger,
		written:     make(map[string][]byte),
	}
}

func (w *Writer) FinalDir() string {
	return w.baseDir
}

// FramePath returns where a participant's frame is written.
func (w *Writer) FramePath(participantID string) string {
	return filepath.Join(w.baseDir, fileName(participantID))
}

// Prepare creates the output and staging directories.
func (w *Writer) Prepare() error {
	return os.MkdirAll(w.stagingRoot, 0750)
}

// Render writes changed frames, removes files of departed participants and
// rewrites the manifest. Participants without a frame get no file.
func (w *Writer) Render(entries []roster.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.Prepare(); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	present := make(map[string]bool, len(entries))
	m := manifest{UpdatedAt: time.Now().UTC(), Participants: make([]ManifestEntry, 0, len(entries))}

	for _, e := range entries {
		present[e.ID] = true
		me := ManifestEntry{ParticipantID: e.ID, Name: e.Name}
		if e.Frame != nil {
			me.File = fileName(e.ID)
			if prev, ok := w.written[e.ID]; !ok || !bytes.Equal(prev, e.Frame) {
				if err := w.writeAtomic(me.File, e.Frame); err != nil {
					return err
				}
				w.written[e.ID] = e.Frame
			}
		} else if _, ok := w.written[e.ID]; ok {
			w.removeFrame(e.ID)
		}
		m.Participants = append(m.Participants, me)
	}

	for id := range w.written {
		if !present[id] {
			w.removeFrame(id)
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return w.writeAtomic(manifestName, data)
}

func (w *Writer) removeFrame(id string) {
	delete(w.written, id)
	if err := os.Remove(w.FramePath(id)); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("failed to remove frame", zap.String("participant_id", id), zap.Error(err))
		return
	}
	w.logger.Debug("removed frame", zap.String("participant_id", id))
}

func (w *Writer) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(w.stagingRoot, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", name, err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, filepath.Join(w.baseDir, name)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Cleanup removes the staging directory.
func (w *Writer) Cleanup() error {
	return os.RemoveAll(w.stagingRoot)
}

// fileName keeps ids from escaping the output directory.
func fileName(participantID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, participantID)
	return safe + ".jpg"
}
