// Package ingest feeds pre-recorded encounters into the pipeline from a
// watch folder. Each recording is a WAV file with a JSON consent sidecar;
// recordings without an approved sidecar are never processed.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/session"
)

// doneSuffix marks files the watcher has finished with. Renaming instead of
// deleting keeps the original recording for audit.
const doneSuffix = ".done"

// Sidecar is the consent metadata placed next to each recording as
// {name}.json. Approved must be true for the recording to be processed.
type Sidecar struct {
	PatientName string    `json:"patient_name"`
	RecordedAt  time.Time `json:"recorded_at"`
	Approved    bool      `json:"approved"`
	TemplateID  string    `json:"template_id,omitempty"`
}

// ProcessFunc runs one consented recording through the pipeline.
type ProcessFunc func(ctx context.Context, consent session.ConsentRecord, artifact *audio.Artifact, templateID string) error

// Watcher monitors an inbox directory for WAV recordings and their consent
// sidecars. A recording is picked up once both files exist, processed, and
// both are renamed with a .done suffix.
type Watcher struct {
	dir     string
	process ProcessFunc
	log     zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	pending        atomic.Int64
	filesProcessed atomic.Int64
	filesSkipped   atomic.Int64
}

// NewWatcher creates a watcher over dir. Call Start to begin.
func NewWatcher(dir string, process ProcessFunc, log zerolog.Logger) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		dir:            dir,
		process:        process,
		log:            log.With().Str("component", "watcher").Logger(),
		ctx:            ctx,
		cancel:         cancel,
		debounceTimers: make(map[string]*time.Timer),
	}
}

// Start initializes the fsnotify watcher, scans for recordings already in the
// inbox, and begins watching for new ones.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw

	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}
	w.log.Info().Str("inbox", w.dir).Msg("inbox watcher initialized")

	w.wg.Add(1)
	go w.watchLoop()

	// Pick up recordings dropped while we were down.
	w.wg.Add(1)
	go w.scanExisting()

	return nil
}

// Stop cancels in-flight processing and closes the watcher.
func (w *Watcher) Stop() {
	w.cancel()
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()
	w.log.Info().
		Int64("files_processed", w.filesProcessed.Load()).
		Int64("files_skipped", w.filesSkipped.Load()).
		Msg("inbox watcher stopped")
}

// PendingCount reports recordings scheduled but not yet processed. Used by
// the metrics collector at scrape time.
func (w *Watcher) PendingCount() int {
	return int(w.pending.Load())
}

func (w *Watcher) scanExisting() {
	defer w.wg.Done()
	_ = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if isRecording(path) {
			w.scheduleProcess(path)
		}
		return nil
	})
}

// watchLoop is the main event loop that processes fsnotify events.
func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// A sidecar landing may complete a pair whose WAV arrived first.
			name := event.Name
			if strings.HasSuffix(strings.ToLower(name), ".json") {
				name = strings.TrimSuffix(name, filepath.Ext(name)) + ".wav"
			}
			if isRecording(name) {
				w.scheduleProcess(name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess debounces by 500ms so a file is read only after the writer
// has finished with it.
func (w *Watcher) scheduleProcess(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(500 * time.Millisecond)
		return
	}

	w.pending.Add(1)
	w.debounceTimers[path] = time.AfterFunc(500*time.Millisecond, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()
		defer w.pending.Add(-1)

		w.processRecording(path)
	})
}

// processRecording runs one WAV+sidecar pair through the pipeline and marks
// both files done. Pairs still missing their sidecar are left for a later
// event.
func (w *Watcher) processRecording(wavPath string) {
	if w.ctx.Err() != nil {
		return
	}

	sidecarPath := sidecarFor(wavPath)
	sidecar, err := readSidecar(sidecarPath)
	if errors.Is(err, fs.ErrNotExist) {
		return // wait for the sidecar
	}
	if err != nil {
		w.log.Warn().Err(err).Str("path", sidecarPath).Msg("unreadable consent sidecar")
		w.skip(wavPath, sidecarPath, "bad_sidecar")
		return
	}
	if !sidecar.Approved {
		w.log.Warn().Str("path", wavPath).Msg("recording without approved consent, skipping")
		w.skip(wavPath, sidecarPath, "no_consent")
		return
	}

	data, err := os.ReadFile(wavPath)
	if err != nil {
		w.log.Warn().Err(err).Str("path", wavPath).Msg("failed to read recording")
		return
	}
	artifact, err := audio.FromWAV(data)
	if err != nil {
		w.log.Warn().Err(err).Str("path", wavPath).Msg("invalid WAV file")
		w.skip(wavPath, sidecarPath, "bad_audio")
		return
	}
	if !sidecar.RecordedAt.IsZero() {
		artifact.CapturedAt = sidecar.RecordedAt
	}

	consent := session.ConsentRecord{
		PatientName: sidecar.PatientName,
		Approved:    true,
		ObtainedAt:  sidecar.RecordedAt,
	}
	if err := w.process(w.ctx, consent, artifact, sidecar.TemplateID); err != nil {
		w.log.Error().Err(err).Str("path", wavPath).Msg("pipeline failed for inbox recording")
		metrics.InboxFile("failed")
		// Leave the files in place so the failure can be retried after the
		// operator fixes the cause.
		return
	}

	w.markDone(wavPath)
	w.markDone(sidecarPath)
	w.filesProcessed.Add(1)
	metrics.InboxFile("processed")
	w.log.Info().Str("path", wavPath).Str("patient", sidecar.PatientName).Msg("inbox recording processed")
}

func (w *Watcher) skip(wavPath, sidecarPath, outcome string) {
	w.markDone(wavPath)
	if _, err := os.Stat(sidecarPath); err == nil {
		w.markDone(sidecarPath)
	}
	w.filesSkipped.Add(1)
	metrics.InboxFile(outcome)
}

func (w *Watcher) markDone(path string) {
	if err := os.Rename(path, path+doneSuffix); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("failed to mark file done")
	}
}

func isRecording(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".wav") && !strings.HasSuffix(lower, doneSuffix)
}

func sidecarFor(wavPath string) string {
	return strings.TrimSuffix(wavPath, filepath.Ext(wavPath)) + ".json"
}

func readSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
