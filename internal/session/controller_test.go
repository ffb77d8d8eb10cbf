package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/diarize"
	"github.com/snarg/scribe-engine/internal/notegen"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// fakeEngine returns canned transcripts, optionally failing the first N calls.
type fakeEngine struct {
	mu         sync.Mutex
	calls      int
	failFirst  int
	failWith   error
	text       string
	confidence []float64     // per-word, 0.9 where unset
	block      chan struct{} // when set, Transcribe waits for ctx or close
}

func (f *fakeEngine) Transcribe(ctx context.Context, a *audio.Artifact, _ transcribe.Options) (*transcribe.Transcript, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.block:
		}
	}
	if calls <= f.failFirst {
		return nil, f.failWith
	}

	text := f.text
	if text == "" {
		text = "patient reports chest pain"
	}
	tr := &transcribe.Transcript{
		Text:     text,
		Duration: a.Duration,
		Engine:   f.Name(),
		Model:    f.Model(),
	}
	start := 0.0
	for i, w := range splitWords(text) {
		conf := 0.9
		if i < len(f.confidence) {
			conf = f.confidence[i]
		}
		tr.Words = append(tr.Words, transcribe.Word{Text: w, Start: start, End: start + 0.3, Confidence: conf})
		start += 0.4
	}
	return tr, nil
}

func (f *fakeEngine) Name() string  { return "fake" }
func (f *fakeEngine) Model() string { return "fake-1" }

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func splitWords(s string) []string {
	var out []string
	word := ""
	for _, r := range s {
		if r == ' ' {
			if word != "" {
				out = append(out, word)
			}
			word = ""
			continue
		}
		word += string(r)
	}
	if word != "" {
		out = append(out, word)
	}
	return out
}

// fakeGenerator fills the Subjective section from the transcript.
type fakeGenerator struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	failWith  error
}

func (f *fakeGenerator) Generate(_ context.Context, dt *diarize.DiarizedTranscript, tmpl *notegen.Template) (*notegen.Note, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()
	if calls <= f.failFirst {
		return nil, f.failWith
	}

	sections := []notegen.Section{{Name: tmpl.Sections[0], Text: notegen.RenderTranscript(dt)}}
	return &notegen.Note{
		TemplateID:  tmpl.ID,
		Sections:    tmpl.Conform(sections),
		GeneratedAt: time.Now().UTC(),
		Backend:     f.Name(),
		Model:       "stub",
		Version:     1,
	}, nil
}

func (f *fakeGenerator) Name() string  { return "fakegen" }
func (f *fakeGenerator) Model() string { return "stub" }

func quickRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}
}

func newTestController(engine transcribe.Engine, gen notegen.Generator) *Controller {
	return NewController(Options{
		Engine:    engine,
		Generator: gen,
		Retry:     quickRetry(),
		Logger:    zerolog.Nop(),
	})
}

func approvedConsent() ConsentRecord {
	return ConsentRecord{PatientName: "Jordan Doe", Approved: true, ObtainedAt: time.Now().UTC()}
}

func pcmFrames(n int) []byte { return make([]byte, n) }

func TestSessionLifecycle(t *testing.T) {
	c := newTestController(&fakeEngine{}, &fakeGenerator{})

	snap, err := c.Start(approvedConsent(), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap.Stage != StageCapturing {
		t.Fatalf("stage after Start = %q", snap.Stage)
	}
	if snap.ID == "" {
		t.Fatal("session must get an ID")
	}

	if err := c.Append(snap.ID, pcmFrames(32000)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	final, err := c.Stop(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if final.Stage != StageComplete {
		t.Fatalf("stage after Stop = %q (failure: %s)", final.Stage, final.Failure)
	}
	if final.Transcript == "" {
		t.Error("completed session must carry a transcript")
	}
	if len(final.Segments) == 0 {
		t.Error("completed session must carry diarized segments")
	}

	note := final.Note()
	if note == nil {
		t.Fatal("completed session must carry a note")
	}
	if len(note.Sections) != 4 {
		t.Errorf("note sections = %d, want all 4 template sections", len(note.Sections))
	}
	if note.Version != 1 {
		t.Errorf("note version = %d, want 1", note.Version)
	}
}

func TestStart_RequiresConsent(t *testing.T) {
	c := newTestController(&fakeEngine{}, &fakeGenerator{})

	_, err := c.Start(ConsentRecord{PatientName: "Jordan Doe", Approved: false}, "")
	if KindOf(err) != KindConsentRequired {
		t.Fatalf("error kind = %q, want %q", KindOf(err), KindConsentRequired)
	}
}

func TestStop_EmptyAudioFails(t *testing.T) {
	c := newTestController(&fakeEngine{}, &fakeGenerator{})

	snap, _ := c.Start(approvedConsent(), "")
	_, err := c.Stop(context.Background(), snap.ID)
	if KindOf(err) != KindEmptyAudio {
		t.Fatalf("error kind = %q, want %q", KindOf(err), KindEmptyAudio)
	}

	got, _ := c.Get(snap.ID)
	if got.Stage != StageFailed || got.FailureKind != KindEmptyAudio {
		t.Errorf("session = %q/%q, want failed/empty_audio", got.Stage, got.FailureKind)
	}
}

func TestProcess_ZeroDurationArtifactFails(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestController(eng, &fakeGenerator{})

	// A structurally valid WAV with an empty data chunk.
	artifact, err := audio.FromWAV(audio.EncodeWAV(nil, 16000, 1))
	if err != nil {
		t.Fatalf("FromWAV: %v", err)
	}

	_, err = c.Process(context.Background(), approvedConsent(), artifact, "")
	if KindOf(err) != KindEmptyAudio {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindEmptyAudio)
	}
	if eng.callCount() != 0 {
		t.Errorf("engine calls = %d, zero-length audio must not reach the engine", eng.callCount())
	}
}

func TestOutOfOrderOperations(t *testing.T) {
	c := newTestController(&fakeEngine{}, &fakeGenerator{})
	snap, _ := c.Start(approvedConsent(), "")
	c.Append(snap.ID, pcmFrames(3200))
	if _, err := c.Stop(context.Background(), snap.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := c.Append(snap.ID, pcmFrames(10)); KindOf(err) != KindInvalidStageTransition {
		t.Errorf("Append after Stop: kind = %q", KindOf(err))
	}
	if _, err := c.Stop(context.Background(), snap.ID); KindOf(err) != KindInvalidStageTransition {
		t.Errorf("double Stop: kind = %q", KindOf(err))
	}
	if err := c.Pause(snap.ID); KindOf(err) != KindInvalidStageTransition {
		t.Errorf("Pause after Stop: kind = %q", KindOf(err))
	}
	if err := c.Discard(snap.ID); KindOf(err) != KindInvalidStageTransition {
		t.Errorf("Discard after completion: kind = %q", KindOf(err))
	}

	if err := c.Append("no-such-id", pcmFrames(10)); KindOf(err) != KindNotFound {
		t.Errorf("unknown session: kind = %q", KindOf(err))
	}
}

func TestPause_DropsFrames(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestController(eng, &fakeGenerator{})
	snap, _ := c.Start(approvedConsent(), "")

	c.Append(snap.ID, pcmFrames(3200))
	if err := c.Pause(snap.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	c.Append(snap.ID, pcmFrames(3200)) // dropped
	if err := c.Resume(snap.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	final, err := c.Stop(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// 3200 bytes of 16-bit mono at 16kHz is 0.1s.
	if final.Duration < 0.09 || final.Duration > 0.11 {
		t.Errorf("duration = %v, want ~0.1s (paused frames dropped)", final.Duration)
	}
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	eng := &fakeEngine{failFirst: 2, failWith: transcribe.ErrUnavailable}
	c := newTestController(eng, &fakeGenerator{})

	snap, _ := c.Start(approvedConsent(), "")
	c.Append(snap.ID, pcmFrames(3200))
	final, err := c.Stop(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if final.Stage != StageComplete {
		t.Fatalf("stage = %q, want complete after retries", final.Stage)
	}
	if eng.callCount() != 3 {
		t.Errorf("engine calls = %d, want 3", eng.callCount())
	}
}

func TestTransientFailureExhaustsRetries(t *testing.T) {
	eng := &fakeEngine{failFirst: 10, failWith: transcribe.ErrUnavailable}
	c := newTestController(eng, &fakeGenerator{})

	snap, _ := c.Start(approvedConsent(), "")
	c.Append(snap.ID, pcmFrames(3200))
	_, err := c.Stop(context.Background(), snap.ID)
	if KindOf(err) != KindEngineUnavailable {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindEngineUnavailable)
	}
	if eng.callCount() != 3 {
		t.Errorf("engine calls = %d, want exactly MaxAttempts", eng.callCount())
	}

	got, _ := c.Get(snap.ID)
	if got.Stage != StageFailed {
		t.Errorf("stage = %q, want failed", got.Stage)
	}
}

func TestPermanentFailureNotRetried(t *testing.T) {
	eng := &fakeEngine{failFirst: 10, failWith: transcribe.ErrUnsupportedFormat}
	c := newTestController(eng, &fakeGenerator{})

	snap, _ := c.Start(approvedConsent(), "")
	c.Append(snap.ID, pcmFrames(3200))
	_, err := c.Stop(context.Background(), snap.ID)
	if KindOf(err) != KindUnsupportedFormat {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindUnsupportedFormat)
	}
	if eng.callCount() != 1 {
		t.Errorf("engine calls = %d, permanent failures must not retry", eng.callCount())
	}
}

func TestTemplateMismatchFailsGeneration(t *testing.T) {
	gen := &fakeGenerator{failFirst: 10, failWith: notegen.ErrTemplateMismatch}
	c := newTestController(&fakeEngine{}, gen)

	snap, _ := c.Start(approvedConsent(), "")
	c.Append(snap.ID, pcmFrames(3200))
	_, err := c.Stop(context.Background(), snap.ID)
	if KindOf(err) != KindTemplateMismatch {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindTemplateMismatch)
	}
}

func TestDiscard_CancelsRunningPipeline(t *testing.T) {
	eng := &fakeEngine{block: make(chan struct{})}
	c := newTestController(eng, &fakeGenerator{})

	snap, _ := c.Start(approvedConsent(), "")
	c.Append(snap.ID, pcmFrames(3200))

	done := make(chan error, 1)
	go func() {
		_, err := c.Stop(context.Background(), snap.ID)
		done <- err
	}()

	// Wait until the engine call is in flight, then discard.
	deadline := time.After(2 * time.Second)
	for eng.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("engine never called")
		case <-time.After(time.Millisecond):
		}
	}
	if err := c.Discard(snap.ID); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	err := <-done
	if KindOf(err) != KindCancelled {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindCancelled)
	}
	got, _ := c.Get(snap.ID)
	if got.Stage != StageFailed || got.FailureKind != KindCancelled {
		t.Errorf("session = %q/%q, want failed/cancelled", got.Stage, got.FailureKind)
	}
}

func TestEditNote_AppendsVersion(t *testing.T) {
	c := newTestController(&fakeEngine{}, &fakeGenerator{})
	snap, _ := c.Start(approvedConsent(), "")
	c.Append(snap.ID, pcmFrames(3200))
	if _, err := c.Stop(context.Background(), snap.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	edited, err := c.EditNote(snap.ID, []notegen.Section{
		{Name: "Plan", Text: "follow up in two weeks"},
	})
	if err != nil {
		t.Fatalf("EditNote: %v", err)
	}
	if edited.Version != 2 || edited.Backend != "manual" {
		t.Errorf("edited = v%d/%s, want v2/manual", edited.Version, edited.Backend)
	}
	if len(edited.Sections) != 4 {
		t.Errorf("edited note must keep all template sections, got %d", len(edited.Sections))
	}
	if text, _ := edited.Section("Plan"); text != "follow up in two weeks" {
		t.Errorf("Plan = %q", text)
	}

	got, _ := c.Get(snap.ID)
	if len(got.Notes) != 2 {
		t.Errorf("note versions = %d, want 2 (original preserved)", len(got.Notes))
	}
	if got.Notes[0].Version != 1 {
		t.Errorf("original version mutated: v%d", got.Notes[0].Version)
	}
}

func TestExport_FlagsLowConfidenceWords(t *testing.T) {
	eng := &fakeEngine{
		text:       "patient reports severe nausea",
		confidence: []float64{0.9, 0.2, 0.9, 0.9},
	}
	c := newTestController(eng, &fakeGenerator{})

	snap, _ := c.Start(approvedConsent(), "")
	c.Append(snap.ID, pcmFrames(32000))
	if _, err := c.Stop(context.Background(), snap.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	exp, err := c.Export(snap.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(exp.LowConfidenceWords) != 1 || exp.LowConfidenceWords[0].Text != "reports" {
		t.Errorf("LowConfidenceWords = %v, want exactly [reports]", exp.LowConfidenceWords)
	}
}

func TestEditNote_BeforeCompleteRejected(t *testing.T) {
	c := newTestController(&fakeEngine{}, &fakeGenerator{})
	snap, _ := c.Start(approvedConsent(), "")

	_, err := c.EditNote(snap.ID, nil)
	if KindOf(err) != KindInvalidStageTransition {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindInvalidStageTransition)
	}
}

func TestRetryPolicy_ContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, Multiplier: 2}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return classify(StageTranscribing, "x", transcribe.ErrUnavailable)
	}, nil)

	if KindOf(err) != KindCancelled {
		t.Fatalf("kind = %q, want cancelled", KindOf(err))
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{transcribe.ErrUnavailable, KindEngineUnavailable},
		{transcribe.ErrUnsupportedFormat, KindUnsupportedFormat},
		{notegen.ErrUnavailable, KindGenerationUnavailable},
		{notegen.ErrTemplateMismatch, KindTemplateMismatch},
		{context.Canceled, KindCancelled},
		{errors.New("boom"), KindTranscriptionError},
	}
	for _, tc := range cases {
		got := classify(StageTranscribing, "x", tc.err)
		if got.Kind != tc.want {
			t.Errorf("classify(%v) = %q, want %q", tc.err, got.Kind, tc.want)
		}
		if !errors.Is(got, tc.err) {
			t.Errorf("classified error must unwrap to %v", tc.err)
		}
	}
}
