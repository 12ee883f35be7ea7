package reasoning

import "encoding/json"

// Phase is a state of the reasoning loop.
type Phase int

const (
	PhaseClassify Phase = iota
	PhaseRetrieveChunks
	PhaseExtractEvidence
	PhaseIntegrate
	PhasePrepareNext
	PhaseFinish
)

var phaseNames = [...]string{
	PhaseClassify:        "classify",
	PhaseRetrieveChunks:  "retrieve_chunks",
	PhaseExtractEvidence: "extract_evidence",
	PhaseIntegrate:       "integrate",
	PhasePrepareNext:     "prepare_next",
	PhaseFinish:          "finish",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// MarshalJSON renders a phase by name.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// Next returns the phase that follows s.Phase. The only conditional edge is
// after integration, which is resolved by Decide.
func Next(s Snapshot, stopConfidence float64) Phase {
	switch s.Phase {
	case PhaseClassify:
		return PhaseRetrieveChunks
	case PhaseRetrieveChunks:
		return PhaseExtractEvidence
	case PhaseExtractEvidence:
		return PhaseIntegrate
	case PhaseIntegrate:
		return Decide(s, stopConfidence)
	case PhasePrepareNext:
		return PhaseClassify
	}
	return PhaseFinish
}

// Decide chooses between finishing and refining once a depth has been
// assessed. The session finishes when the latest assessment can solve the
// question or the depth budget is spent. A positive stopConfidence also
// finishes once the assessment reaches it and carries a solution outline.
func Decide(s Snapshot, stopConfidence float64) Phase {
	a, ok := s.Latest()
	if ok && bool(a.CanSolve) {
		return PhaseFinish
	}
	if s.Depth >= s.MaxDepth {
		return PhaseFinish
	}
	if ok && stopConfidence > 0 && float64(a.Confidence) >= stopConfidence && len(a.SolutionOutline) > 0 {
		return PhaseFinish
	}
	return PhasePrepareNext
}

// prepareNext advances to the next depth, clearing per-depth state. History
// and assessments carry over.
func prepareNext(s Snapshot) Snapshot {
	next := s.clone()
	next.Depth++
	next.Current = nil
	next.Selected = nil
	next.Chunks = nil
	next.Evidence = nil
	next.Phase = PhaseClassify
	return next
}
