package session

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/diarize"
	"github.com/snarg/scribe-engine/internal/notegen"
	"github.com/snarg/scribe-engine/internal/sanitize"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// Branch is one side of a comparison: an engine/generator pairing run over
// the same audio.
type Branch struct {
	Label     string
	Engine    transcribe.Engine
	Generator notegen.Generator
	Template  *notegen.Template
}

// BranchResult is the outcome of a single branch. A failed branch carries its
// failure kind; the other branch's results remain valid.
type BranchResult struct {
	Label       string            `json:"label"`
	Engine      string            `json:"engine,omitempty"`
	Generator   string            `json:"generator,omitempty"`
	Transcript  string            `json:"transcript,omitempty"`
	Segments    []diarize.Segment `json:"segments,omitempty"`
	Note        *notegen.Note     `json:"note,omitempty"`
	Failed      bool              `json:"failed"`
	FailureKind Kind              `json:"failure_kind,omitempty"`
	Failure     string            `json:"failure,omitempty"`
}

// SectionDiff pairs one note section across the two branches.
type SectionDiff struct {
	Name  string `json:"name"`
	Left  string `json:"left"`
	Right string `json:"right"`
	Equal bool   `json:"equal"`
}

// Comparison is the result of running both branches over the same audio.
// Distance metrics are present only when both branches succeed.
type Comparison struct {
	Left         BranchResult  `json:"left"`
	Right        BranchResult  `json:"right"`
	WordDistance int           `json:"word_distance"`
	SectionDiffs []SectionDiff `json:"section_diffs,omitempty"`
}

// Runner executes two pipeline branches concurrently over one artifact.
type Runner struct {
	Sanitizer *sanitize.Sanitizer
	Labeler   *diarize.Labeler
	Retry     RetryPolicy
	Opts      transcribe.Options
}

// Compare runs both branches to completion, tolerating the failure of either.
// Branch failures are reported in the result, never returned as an error.
func (r *Runner) Compare(ctx context.Context, artifact *audio.Artifact, left, right Branch) (*Comparison, error) {
	cmp := &Comparison{}

	// Branches are independent: one failing must not cancel the other, so
	// each goroutine reports through its result instead of returning an
	// error to the group.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cmp.Left = r.runBranch(gctx, artifact, left)
		return nil
	})
	g.Go(func() error {
		cmp.Right = r.runBranch(gctx, artifact, right)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !cmp.Left.Failed && !cmp.Right.Failed {
		cmp.WordDistance = wordEditDistance(cmp.Left.Transcript, cmp.Right.Transcript)
		cmp.SectionDiffs = diffSections(cmp.Left.Note, cmp.Right.Note)
	}
	return cmp, nil
}

func (r *Runner) runBranch(ctx context.Context, artifact *audio.Artifact, b Branch) BranchResult {
	res := BranchResult{
		Label:     b.Label,
		Engine:    b.Engine.Name(),
		Generator: b.Generator.Name(),
	}
	fail := func(err error) BranchResult {
		se, ok := err.(*Error)
		if !ok {
			se = classify("", "", err)
		}
		res.Failed = true
		res.FailureKind = se.Kind
		res.Failure = se.Error()
		return res
	}

	var transcript *transcribe.Transcript
	err := r.Retry.Do(ctx, func(ctx context.Context) error {
		t, terr := b.Engine.Transcribe(ctx, artifact, r.Opts)
		if terr != nil {
			return classify(StageTranscribing, b.Engine.Name(), terr)
		}
		transcript = t
		return nil
	}, nil)
	if err != nil {
		return fail(err)
	}

	sanitizer := r.Sanitizer
	if sanitizer == nil {
		sanitizer = sanitize.New(sanitize.Options{})
	}
	cleaned := sanitizer.Clean(transcript)

	labeler := r.Labeler
	if labeler == nil {
		labeler = &diarize.Labeler{}
	}
	diarized, err := labeler.Label(cleaned)
	if err != nil {
		return fail(classify(StageDiarizing, "", err))
	}

	var note *notegen.Note
	err = r.Retry.Do(ctx, func(ctx context.Context) error {
		n, nerr := b.Generator.Generate(ctx, diarized, b.Template)
		if nerr != nil {
			return classify(StageGeneratingNote, b.Generator.Name(), nerr)
		}
		note = n
		return nil
	}, nil)
	if err != nil {
		return fail(err)
	}

	res.Transcript = cleaned.Text
	res.Segments = diarized.Segments
	res.Note = note
	return res
}

// wordEditDistance is the Levenshtein distance between the two texts split on
// whitespace. Identical texts score zero.
func wordEditDistance(a, b string) int {
	aw := strings.Fields(a)
	bw := strings.Fields(b)

	prev := make([]int, len(bw)+1)
	curr := make([]int, len(bw)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(aw); i++ {
		curr[0] = i
		for j := 1; j <= len(bw); j++ {
			cost := 1
			if aw[i-1] == bw[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(bw)]
}

// diffSections pairs up section texts by name across the two notes. Sections
// compare equal on exact text match after trimming.
func diffSections(left, right *notegen.Note) []SectionDiff {
	if left == nil || right == nil {
		return nil
	}

	rightByName := make(map[string]string, len(right.Sections))
	for _, s := range right.Sections {
		rightByName[s.Name] = s.Text
	}

	diffs := make([]SectionDiff, 0, len(left.Sections))
	for _, s := range left.Sections {
		r := rightByName[s.Name]
		diffs = append(diffs, SectionDiff{
			Name:  s.Name,
			Left:  s.Text,
			Right: r,
			Equal: strings.TrimSpace(s.Text) == strings.TrimSpace(r),
		})
	}
	return diffs
}
