// Package session drives a clinical encounter through its pipeline stages:
// capture, transcription, sanitization, diarization, and note generation.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/diarize"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/notegen"
	"github.com/snarg/scribe-engine/internal/sanitize"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// Stage identifies a session's position in the pipeline.
type Stage string

const (
	StageIdle           Stage = "idle"
	StageCapturing      Stage = "capturing"
	StageTranscribing   Stage = "transcribing"
	StageSanitizing     Stage = "sanitizing"
	StageDiarizing      Stage = "diarizing"
	StageGeneratingNote Stage = "generating_note"
	StageComplete       Stage = "complete"
	StageFailed         Stage = "failed"
)

// ConsentRecord documents that recording consent was obtained before capture.
type ConsentRecord struct {
	PatientName string    `json:"patient_name"`
	Approved    bool      `json:"approved"`
	ObtainedAt  time.Time `json:"obtained_at"`
}

// Archiver persists completed sessions and note versions.
type Archiver interface {
	SaveSession(snap *Snapshot) error
	SaveNoteVersion(sessionID string, note *notegen.Note) error
}

// ArtifactSink persists the raw recording of a completed session.
type ArtifactSink interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
}

// Snapshot is a point-in-time, race-free view of a session.
type Snapshot struct {
	ID          string             `json:"id"`
	Stage       Stage              `json:"stage"`
	Paused      bool               `json:"paused,omitempty"`
	Consent     ConsentRecord      `json:"consent"`
	TemplateID  string             `json:"template_id"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Engine      string             `json:"engine,omitempty"`
	EngineModel string             `json:"engine_model,omitempty"`
	Duration    float64            `json:"duration_seconds,omitempty"`
	Transcript  string             `json:"transcript,omitempty"`
	Segments    []diarize.Segment  `json:"segments,omitempty"`
	Notes       []*notegen.Note    `json:"notes,omitempty"`
	FailureKind Kind               `json:"failure_kind,omitempty"`
	Failure     string             `json:"failure,omitempty"`
}

// Note returns the latest note version, or nil before generation.
func (s *Snapshot) Note() *notegen.Note {
	if len(s.Notes) == 0 {
		return nil
	}
	return s.Notes[len(s.Notes)-1]
}

type session struct {
	id         string
	stage      Stage
	paused     bool
	consent    ConsentRecord
	templateID string
	createdAt  time.Time
	updatedAt  time.Time

	frames   []byte
	artifact *audio.Artifact

	transcript *transcribe.Transcript
	cleaned    *sanitize.CleanedTranscript
	diarized   *diarize.DiarizedTranscript
	notes      []*notegen.Note
	failure    *Error

	cancel context.CancelFunc
}

// Options configures a Controller. Engine, Generator, Sanitizer, Labeler, and
// Templates are required; Archive is optional.
type Options struct {
	Engine         transcribe.Engine
	Generator      notegen.Generator
	Sanitizer      *sanitize.Sanitizer
	Labeler        *diarize.Labeler
	Templates      *notegen.Registry
	Archive        Archiver
	Artifacts      ArtifactSink
	Retry          RetryPolicy
	TranscribeOpts transcribe.Options
	SampleRate     int
	Channels       int
	LowConfidence  float64 // words below this confidence are flagged in the export
	Logger         zerolog.Logger
}

// Controller owns the in-memory session registry and runs each session
// through the pipeline. The registry mutex is never held across engine or
// generator calls.
type Controller struct {
	opts Options
	log  zerolog.Logger
	reg  *registry
}

// NewController creates a Controller with sane fallbacks for optional fields.
func NewController(opts Options) *Controller {
	if opts.Sanitizer == nil {
		opts.Sanitizer = sanitize.New(sanitize.Options{})
	}
	if opts.Labeler == nil {
		opts.Labeler = &diarize.Labeler{}
	}
	if opts.Templates == nil {
		opts.Templates = notegen.NewRegistry()
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.LowConfidence <= 0 {
		opts.LowConfidence = 0.5
	}
	return &Controller{
		opts: opts,
		log:  opts.Logger.With().Str("component", "session").Logger(),
		reg:  newRegistry(),
	}
}

// Start creates a session and moves it to Capturing. Recording never begins
// without an approved consent record.
func (c *Controller) Start(consent ConsentRecord, templateID string) (*Snapshot, error) {
	if !consent.Approved {
		return nil, &Error{Kind: KindConsentRequired, Stage: StageIdle}
	}
	if _, err := c.opts.Templates.Get(templateID); err != nil {
		return nil, &Error{Kind: KindNoteGenerationError, Stage: StageIdle, Err: err}
	}
	if consent.ObtainedAt.IsZero() {
		consent.ObtainedAt = time.Now().UTC()
	}

	now := time.Now().UTC()
	s := &session{
		id:         uuid.NewString(),
		stage:      StageCapturing,
		consent:    consent,
		templateID: templateID,
		createdAt:  now,
		updatedAt:  now,
	}
	c.reg.put(s)
	metrics.SessionStarted()
	c.log.Info().Str("session_id", s.id).Str("template", templateID).Msg("session started")
	return c.snapshotOf(s), nil
}

// Append adds raw PCM frames to a capturing session.
func (c *Controller) Append(id string, pcm []byte) error {
	return c.reg.with(id, func(s *session) error {
		if s.stage != StageCapturing {
			return &Error{Kind: KindInvalidStageTransition, Stage: s.stage, Err: errAppendOutsideCapture}
		}
		if s.paused {
			return nil // frames during pause are dropped, not buffered
		}
		s.frames = append(s.frames, pcm...)
		s.updatedAt = time.Now().UTC()
		return nil
	})
}

// Pause suspends capture; appended frames are dropped until Resume.
func (c *Controller) Pause(id string) error {
	return c.reg.with(id, func(s *session) error {
		if s.stage != StageCapturing {
			return &Error{Kind: KindInvalidStageTransition, Stage: s.stage, Err: errPauseOutsideCapture}
		}
		s.paused = true
		return nil
	})
}

// Resume restarts a paused capture.
func (c *Controller) Resume(id string) error {
	return c.reg.with(id, func(s *session) error {
		if s.stage != StageCapturing {
			return &Error{Kind: KindInvalidStageTransition, Stage: s.stage, Err: errPauseOutsideCapture}
		}
		s.paused = false
		return nil
	})
}

// Accept attaches a pre-recorded artifact to a capturing session, replacing
// any buffered frames. Used by the watch-folder ingest path.
func (c *Controller) Accept(id string, artifact *audio.Artifact) error {
	return c.reg.with(id, func(s *session) error {
		if s.stage != StageCapturing {
			return &Error{Kind: KindInvalidStageTransition, Stage: s.stage, Err: errAcceptOutsideCapture}
		}
		s.artifact = artifact
		s.frames = nil
		s.updatedAt = time.Now().UTC()
		return nil
	})
}

// Stop ends capture and runs the remaining pipeline stages to completion.
// It blocks until the session reaches Complete or Failed; a pipeline failure
// is returned as the classified error alongside the Failed snapshot.
func (c *Controller) Stop(ctx context.Context, id string) (*Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var artifact *audio.Artifact
	err := c.reg.with(id, func(s *session) error {
		if s.stage != StageCapturing {
			return &Error{Kind: KindInvalidStageTransition, Stage: s.stage, Err: errStopOutsideCapture}
		}
		if s.artifact == nil {
			a, err := audio.FromPCM(s.frames, c.opts.SampleRate, c.opts.Channels)
			if err != nil {
				return c.failLocked(s, &Error{Kind: KindEmptyAudio, Stage: StageCapturing, Err: err})
			}
			s.artifact = a
			s.frames = nil
		}
		if s.artifact.Duration == 0 {
			return c.failLocked(s, &Error{Kind: KindEmptyAudio, Stage: StageCapturing})
		}
		artifact = s.artifact
		s.cancel = cancel
		return nil
	})
	if err != nil {
		return nil, err
	}

	if perr := c.runPipeline(ctx, id, artifact); perr != nil {
		snap, _ := c.Get(id)
		return snap, perr
	}
	return c.Get(id)
}

// Process runs a pre-recorded artifact through the full pipeline in one call:
// start, accept, stop. Used by the watch-folder ingest path.
func (c *Controller) Process(ctx context.Context, consent ConsentRecord, artifact *audio.Artifact, templateID string) (*Snapshot, error) {
	snap, err := c.Start(consent, templateID)
	if err != nil {
		return nil, err
	}
	if err := c.Accept(snap.ID, artifact); err != nil {
		return nil, err
	}
	return c.Stop(ctx, snap.ID)
}

// Discard abandons a session. A running pipeline is cancelled; the session
// ends Failed with kind cancelled.
func (c *Controller) Discard(id string) error {
	return c.reg.with(id, func(s *session) error {
		if s.stage == StageComplete || s.stage == StageFailed {
			return &Error{Kind: KindInvalidStageTransition, Stage: s.stage, Err: errDiscardFinished}
		}
		if s.cancel != nil {
			s.cancel()
			return nil // the pipeline observes cancellation and records the failure
		}
		c.failLocked(s, &Error{Kind: KindCancelled, Stage: s.stage})
		return nil
	})
}

// EditNote records a manually revised note as a new version. The edit is
// conformed to the session's template so section order and presence hold for
// every version.
func (c *Controller) EditNote(id string, sections []notegen.Section) (*notegen.Note, error) {
	tmplOf := func(s *session) (*notegen.Template, error) {
		return c.opts.Templates.Get(s.templateID)
	}

	var edited *notegen.Note
	err := c.reg.with(id, func(s *session) error {
		if s.stage != StageComplete {
			return &Error{Kind: KindInvalidStageTransition, Stage: s.stage, Err: errEditBeforeComplete}
		}
		tmpl, err := tmplOf(s)
		if err != nil {
			return &Error{Kind: KindNoteGenerationError, Stage: s.stage, Err: err}
		}
		prev := s.notes[len(s.notes)-1]
		edited = &notegen.Note{
			TemplateID:  tmpl.ID,
			Sections:    tmpl.Conform(sections),
			GeneratedAt: time.Now().UTC(),
			Backend:     "manual",
			Model:       prev.Model,
			Version:     prev.Version + 1,
		}
		s.notes = append(s.notes, edited)
		s.updatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.opts.Archive != nil {
		if aerr := c.opts.Archive.SaveNoteVersion(id, edited); aerr != nil {
			c.log.Error().Err(aerr).Str("session_id", id).Msg("archiving edited note failed")
		}
	}
	return edited, nil
}

// Export is the full downstream-facing view of a completed session: every
// pipeline product plus provenance.
type Export struct {
	SessionID          string                      `json:"session_id"`
	Consent            ConsentRecord               `json:"consent"`
	Engine             string                      `json:"engine"`
	EngineModel        string                      `json:"engine_model"`
	RawTranscript      string                      `json:"raw_transcript"`
	CleanedTranscript  string                      `json:"cleaned_transcript"`
	DiarizedTranscript []diarize.Segment           `json:"diarized_transcript"`
	Note               *notegen.Note               `json:"note"`
	NoteVersions       []*notegen.Note             `json:"note_versions"`
	Words              []transcribe.Word           `json:"words,omitempty"`
	LowConfidenceWords []transcribe.Word           `json:"low_confidence_words,omitempty"`
	Duration           float64                     `json:"duration_seconds"`
	CompletedAt        time.Time                   `json:"completed_at"`
}

// Export assembles the export payload. Only complete sessions export.
func (c *Controller) Export(id string) (*Export, error) {
	var exp *Export
	err := c.reg.with(id, func(s *session) error {
		if s.stage != StageComplete {
			return &Error{Kind: KindInvalidStageTransition, Stage: s.stage, Err: errExportBeforeComplete}
		}
		exp = &Export{
			SessionID:          s.id,
			Consent:            s.consent,
			Engine:             s.transcript.Engine,
			EngineModel:        s.transcript.Model,
			RawTranscript:      s.transcript.Text,
			CleanedTranscript:  s.cleaned.Text,
			DiarizedTranscript: append([]diarize.Segment(nil), s.diarized.Segments...),
			Note:               s.notes[len(s.notes)-1],
			NoteVersions:       append([]*notegen.Note(nil), s.notes...),
			Words:              append([]transcribe.Word(nil), s.cleaned.Words...),
			LowConfidenceWords: s.cleaned.LowConfidenceWords(c.opts.LowConfidence),
			Duration:           s.transcript.Duration,
			CompletedAt:        s.updatedAt,
		}
		return nil
	})
	return exp, err
}

// Get returns a snapshot of the session.
func (c *Controller) Get(id string) (*Snapshot, error) {
	var snap *Snapshot
	err := c.reg.with(id, func(s *session) error {
		snap = c.snapshotOf(s)
		return nil
	})
	return snap, err
}

// Delete removes a session from the registry. Finished sessions only.
func (c *Controller) Delete(id string) error {
	return c.reg.remove(id)
}

// List returns snapshots of all live sessions, newest first.
func (c *Controller) List() []*Snapshot {
	var out []*Snapshot
	c.reg.each(func(s *session) {
		out = append(out, c.snapshotOf(s))
	})
	return out
}

// ActiveSessionCount reports sessions that have not finished. Used by the
// metrics collector at scrape time.
func (c *Controller) ActiveSessionCount() int {
	n := 0
	c.reg.each(func(s *session) {
		if s.stage != StageComplete && s.stage != StageFailed {
			n++
		}
	})
	return n
}

// runPipeline executes Transcribing through GeneratingNote for the session.
// All heavy work happens outside the registry lock; transitions take it
// briefly.
func (c *Controller) runPipeline(ctx context.Context, id string, artifact *audio.Artifact) error {
	log := c.log.With().Str("session_id", id).Logger()

	// Transcribing
	var transcript *transcribe.Transcript
	err := c.runStage(id, StageTranscribing, func() error {
		return c.opts.Retry.Do(ctx, func(ctx context.Context) error {
			t, terr := c.opts.Engine.Transcribe(ctx, artifact, c.opts.TranscribeOpts)
			if terr != nil {
				return classify(StageTranscribing, c.opts.Engine.Name(), terr)
			}
			transcript = t
			return nil
		}, func(attempt int, rerr error) {
			metrics.BackendRetry(c.opts.Engine.Name())
			log.Warn().Err(rerr).Int("attempt", attempt).Msg("transcription retry")
		})
	})
	if err != nil {
		return c.fail(id, err)
	}

	// Sanitizing
	var cleaned *sanitize.CleanedTranscript
	err = c.runStage(id, StageSanitizing, func() error {
		cleaned = c.opts.Sanitizer.Clean(transcript)
		return nil
	})
	if err != nil {
		return c.fail(id, err)
	}

	// Diarizing
	var diarized *diarize.DiarizedTranscript
	err = c.runStage(id, StageDiarizing, func() error {
		d, derr := c.opts.Labeler.Label(cleaned)
		if derr != nil {
			return classify(StageDiarizing, "", derr)
		}
		diarized = d
		return nil
	})
	if err != nil {
		return c.fail(id, err)
	}

	// GeneratingNote
	var note *notegen.Note
	err = c.runStage(id, StageGeneratingNote, func() error {
		snap, gerr := c.Get(id)
		if gerr != nil {
			return gerr
		}
		tmpl, gerr := c.opts.Templates.Get(snap.TemplateID)
		if gerr != nil {
			return classify(StageGeneratingNote, "", gerr)
		}
		return c.opts.Retry.Do(ctx, func(ctx context.Context) error {
			n, nerr := c.opts.Generator.Generate(ctx, diarized, tmpl)
			if nerr != nil {
				return classify(StageGeneratingNote, c.opts.Generator.Name(), nerr)
			}
			note = n
			return nil
		}, func(attempt int, rerr error) {
			metrics.BackendRetry(c.opts.Generator.Name())
			log.Warn().Err(rerr).Int("attempt", attempt).Msg("note generation retry")
		})
	})
	if err != nil {
		return c.fail(id, err)
	}

	werr := c.reg.with(id, func(s *session) error {
		s.transcript = transcript
		s.cleaned = cleaned
		s.diarized = diarized
		s.notes = append(s.notes, note)
		s.stage = StageComplete
		s.updatedAt = time.Now().UTC()
		s.cancel = nil
		return nil
	})
	if werr != nil {
		return werr
	}

	metrics.SessionCompleted()
	log.Info().Str("engine", c.opts.Engine.Name()).Str("generator", c.opts.Generator.Name()).
		Int("segments", len(diarized.Segments)).Msg("session complete")

	if c.opts.Archive != nil {
		snap, _ := c.Get(id)
		if aerr := c.opts.Archive.SaveSession(snap); aerr != nil {
			log.Error().Err(aerr).Msg("archiving session failed")
		}
	}
	if c.opts.Artifacts != nil {
		if aerr := c.opts.Artifacts.Save(ctx, id+"/encounter.wav", artifact.Data, "audio/wav"); aerr != nil {
			log.Error().Err(aerr).Msg("storing session audio failed")
		}
		if exp, xerr := c.Export(id); xerr == nil {
			data, merr := json.Marshal(exp)
			if merr == nil {
				if aerr := c.opts.Artifacts.Save(ctx, id+"/export.json", data, "application/json"); aerr != nil {
					log.Error().Err(aerr).Msg("storing session export failed")
				}
			}
		}
	}
	return nil
}

// runStage transitions the session to stage, runs fn, and records the stage
// duration.
func (c *Controller) runStage(id string, stage Stage, fn func() error) error {
	err := c.reg.with(id, func(s *session) error {
		s.stage = stage
		s.updatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}

	start := time.Now()
	err = fn()
	metrics.ObserveStage(string(stage), time.Since(start).Seconds())
	return err
}

// fail marks the session Failed with the classified error.
func (c *Controller) fail(id string, err error) error {
	se, ok := err.(*Error)
	if !ok {
		se = classify(StageFailed, "", err)
	}
	werr := c.reg.with(id, func(s *session) error {
		c.failLocked(s, se)
		return nil
	})
	if werr != nil {
		return werr
	}
	return se
}

// failLocked records the failure on a session already under the registry
// lock. It returns the error for callers that propagate it.
func (c *Controller) failLocked(s *session, se *Error) *Error {
	s.stage = StageFailed
	s.failure = se
	s.updatedAt = time.Now().UTC()
	s.cancel = nil
	metrics.SessionFailed(string(se.Kind))
	c.log.Error().Err(se).Str("session_id", s.id).Str("kind", string(se.Kind)).Msg("session failed")
	return se
}

func (c *Controller) snapshotOf(s *session) *Snapshot {
	snap := &Snapshot{
		ID:         s.id,
		Stage:      s.stage,
		Paused:     s.paused,
		Consent:    s.consent,
		TemplateID: s.templateID,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
		Notes:      append([]*notegen.Note(nil), s.notes...),
	}
	if s.transcript != nil {
		snap.Engine = s.transcript.Engine
		snap.EngineModel = s.transcript.Model
		snap.Duration = s.transcript.Duration
	}
	if s.cleaned != nil {
		snap.Transcript = s.cleaned.Text
	}
	if s.diarized != nil {
		snap.Segments = append([]diarize.Segment(nil), s.diarized.Segments...)
	}
	if s.failure != nil {
		snap.FailureKind = s.failure.Kind
		snap.Failure = s.failure.Error()
	}
	return snap
}
