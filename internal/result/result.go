// Package result holds the typed payloads exchanged with the reasoning
// oracle and the packaged outcome of a reasoning session. Every decoder here
// defaults missing or oddly shaped fields instead of failing.
package result

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned when a payload is not a JSON object.
var ErrMalformed = errors.New("malformed payload")

// SelectedNode is one node chosen by a classification.
type SelectedNode struct {
	NodeID      Text `json:"node_id"`
	WhyRelevant Text `json:"why_relevant"`
	Priority    Int  `json:"priority"`
}

type Subquestion struct {
	ID             Text `json:"sub_id"`
	Question       Text `json:"question"`
	Goal           Text `json:"goal"`
	ExpectedOutput Text `json:"expected_output"`
	RelatedNodeIDs List `json:"related_node_ids"`
}

// Classification is the decomposition produced at one depth.
type Classification struct {
	Depth          Int                 `json:"depth"`
	SelectedNodes  Items[SelectedNode] `json:"selected_nodes"`
	Subquestions   Items[Subquestion]  `json:"subquestions"`
	Confidence     Score               `json:"confidence"`
	NeedMoreDetail Flag                `json:"need_more_detail"`
	Notes          Text                `json:"notes"`
}

// NodeIDs returns the selected node ids in order, blanks removed.
func (c Classification) NodeIDs() []string {
	ids := make([]string, 0, len(c.SelectedNodes))
	for _, n := range c.SelectedNodes {
		if id := strings.TrimSpace(string(n.NodeID)); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

type Variable struct {
	Symbol  Text `json:"symbol"`
	Meaning Text `json:"meaning"`
}

type Formula struct {
	Latex     Text            `json:"latex"`
	Meaning   Text            `json:"meaning"`
	Variables Items[Variable] `json:"variables"`
}

// UnmarshalJSON accepts a bare string as the formula's LaTeX.
func (f *Formula) UnmarshalJSON(b []byte) error {
	if s, ok := bareString(b); ok {
		*f = Formula{Latex: Text(s)}
		return nil
	}
	type plain Formula
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*f = Formula(p)
	return nil
}

type Quote struct {
	Quote Text `json:"quote"`
	Why   Text `json:"why"`
}

// UnmarshalJSON accepts a bare string as the quote text.
func (q *Quote) UnmarshalJSON(b []byte) error {
	if s, ok := bareString(b); ok {
		*q = Quote{Quote: Text(s)}
		return nil
	}
	type plain Quote
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*q = Quote(p)
	return nil
}

// EvidenceNote is what one chunk contributed to the question.
type EvidenceNote struct {
	NodeID                  Text           `json:"node_id"`
	ChunkID                 Text           `json:"chunk_id"`
	RelevantPoints          List           `json:"relevant_points"`
	RelevantFormulas        Items[Formula] `json:"relevant_formulas"`
	AssumptionsOrConditions List           `json:"assumptions_or_conditions"`
	DirectQuotes            Items[Quote]   `json:"direct_quotes"`
}

// Empty reports whether the note carries no evidence.
func (n EvidenceNote) Empty() bool {
	return len(n.RelevantPoints) == 0 && len(n.RelevantFormulas) == 0 &&
		len(n.AssumptionsOrConditions) == 0 && len(n.DirectQuotes) == 0
}

type SolutionStep struct {
	Step      Text `json:"step"`
	Detail    Text `json:"detail"`
	Equations List `json:"equations"`
	Notes     Text `json:"notes"`
}

// UnmarshalJSON accepts a bare string as the step title.
func (s *SolutionStep) UnmarshalJSON(b []byte) error {
	if str, ok := bareString(b); ok {
		*s = SolutionStep{Step: Text(str)}
		return nil
	}
	type plain SolutionStep
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = SolutionStep(p)
	return nil
}

// UsedSource traces a piece of the solution back to a node.
type UsedSource struct {
	DocumentID   Text `json:"document_id"`
	DocumentName Text `json:"document_name"`
	NodeID       Text `json:"node_id"`
	Breadcrumb   Text `json:"breadcrumb"`
	HowUsed      Text `json:"how_used"`
}

// UnmarshalJSON also reads the breadcrumb from node_path.
func (u *UsedSource) UnmarshalJSON(b []byte) error {
	var p struct {
		DocumentID   Text `json:"document_id"`
		DocumentName Text `json:"document_name"`
		NodeID       Text `json:"node_id"`
		Breadcrumb   Text `json:"breadcrumb"`
		NodePath     Text `json:"node_path"`
		HowUsed      Text `json:"how_used"`
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*u = UsedSource{
		DocumentID:   p.DocumentID,
		DocumentName: p.DocumentName,
		NodeID:       p.NodeID,
		Breadcrumb:   p.Breadcrumb,
		HowUsed:      p.HowUsed,
	}
	if u.Breadcrumb == "" {
		u.Breadcrumb = p.NodePath
	}
	return nil
}

type RefineSuggestion struct {
	NeedDeeperNodes List `json:"need_deeper_nodes"`
	NeedUserInputs  List `json:"need_user_inputs"`
	Reason          Text `json:"reason"`
}

// UnmarshalJSON accepts a bare string as the reason.
func (r *RefineSuggestion) UnmarshalJSON(b []byte) error {
	*r = RefineSuggestion{}
	if s, ok := bareString(b); ok {
		r.Reason = Text(s)
		return nil
	}
	type plain RefineSuggestion
	var p plain
	if json.Unmarshal(b, &p) == nil {
		*r = RefineSuggestion(p)
	}
	return nil
}

// Assessment is the integration verdict for one depth.
type Assessment struct {
	CanSolve         Flag                `json:"can_solve"`
	Confidence       Score               `json:"confidence"`
	SolutionOutline  Items[SolutionStep] `json:"solution_outline"`
	SolutionSteps    Items[SolutionStep] `json:"solution_steps"`
	UsedSources      Items[UsedSource]   `json:"used_sources"`
	Conclusions      List                `json:"conclusions"`
	MissingParts     List                `json:"missing_parts"`
	RefineSuggestion RefineSuggestion    `json:"refine_suggestion"`
}

func (a *Assessment) normalize() {
	if len(a.SolutionSteps) == 0 {
		a.SolutionSteps = a.SolutionOutline
	}
}

// FinalPlan is the structured plan handed to code generation.
type FinalPlan struct {
	Depth           int                   `json:"depth"`
	Classifications Items[Classification] `json:"classifications"`
	Assessment      Assessment            `json:"assessment"`
}

// Result is the packaged outcome of a reasoning session.
type Result struct {
	SessionID     string              `json:"session_id"`
	Question      string              `json:"question"`
	Outline       string              `json:"outline,omitempty"`
	PlanText      string              `json:"plan_text"`
	EvidenceNotes Items[EvidenceNote] `json:"evidence_notes"`
	UsedSources   Items[UsedSource]   `json:"used_sources"`
	FinalPlan     FinalPlan           `json:"final_plan"`
	Assessment    Assessment          `json:"assessment"`
}

// Terminal is the loop state a Result is packaged from.
type Terminal struct {
	SessionID  string
	Question   string
	Outline    string
	Depth      int
	History    []Classification
	Evidence   []EvidenceNote
	Assessment Assessment
}

// Package builds the Result for a finished session. titleOf resolves node
// titles for the plan text and may be nil.
func Package(t Terminal, titleOf func(nodeID string) (string, bool)) Result {
	a := t.Assessment
	a.normalize()
	return Result{
		SessionID:     t.SessionID,
		Question:      t.Question,
		Outline:       t.Outline,
		PlanText:      RenderPlanText(t.History, titleOf),
		EvidenceNotes: Items[EvidenceNote](t.Evidence),
		UsedSources:   a.UsedSources,
		FinalPlan: FinalPlan{
			Depth:           t.Depth,
			Classifications: Items[Classification](t.History),
			Assessment:      a,
		},
		Assessment: a,
	}
}

// Placeholders used when a classification lacks the data to render.
const (
	UnknownNode  = "unknown node"
	UnknownTitle = "untitled"
	NoPlan       = "No solution plan was produced."
)

// RenderPlanText renders one line per classification listing its selected
// nodes with their titles.
func RenderPlanText(history []Classification, titleOf func(nodeID string) (string, bool)) string {
	if len(history) == 0 {
		return NoPlan
	}
	lines := []string{"Solution plan:"}
	for i, c := range history {
		depth := int(c.Depth)
		if depth <= 0 {
			depth = i + 1
		}
		var parts []string
		for _, id := range c.NodeIDs() {
			title := UnknownTitle
			if titleOf != nil {
				if t, ok := titleOf(id); ok && t != "" {
					title = t
				}
			}
			parts = append(parts, fmt.Sprintf("%s (%s)", id, title))
		}
		if len(parts) == 0 {
			parts = []string{fmt.Sprintf("%s (%s)", UnknownNode, UnknownTitle)}
		}
		lines = append(lines, fmt.Sprintf("- depth %d: %s", depth, strings.Join(parts, ", ")))
	}
	return strings.Join(lines, "\n")
}

// DecodeClassification decodes a decompose or refine response.
func DecodeClassification(raw []byte) (Classification, error) {
	var c Classification
	if err := decodeObject(raw, &c); err != nil {
		return Classification{}, fmt.Errorf("decode classification: %w", err)
	}
	return c, nil
}

// DecodeEvidence decodes an extract_evidence response.
func DecodeEvidence(raw []byte) (EvidenceNote, error) {
	var n EvidenceNote
	if err := decodeObject(raw, &n); err != nil {
		return EvidenceNote{}, fmt.Errorf("decode evidence: %w", err)
	}
	return n, nil
}

// DecodeAssessment decodes an integrate response.
func DecodeAssessment(raw []byte) (Assessment, error) {
	var a Assessment
	if err := decodeObject(raw, &a); err != nil {
		return Assessment{}, fmt.Errorf("decode assessment: %w", err)
	}
	a.normalize()
	return a, nil
}

// Decode reads a persisted Result, defaulting every missing field.
func Decode(raw []byte) (Result, error) {
	var r Result
	if err := decodeObject(raw, &r); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	r.Assessment.normalize()
	r.FinalPlan.Assessment.normalize()
	if len(r.UsedSources) == 0 {
		r.UsedSources = r.Assessment.UsedSources
	}
	return r, nil
}

func decodeObject(raw []byte, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return ErrMalformed
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func bareString(b []byte) (string, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '"' {
		return "", false
	}
	var s string
	if json.Unmarshal(b, &s) != nil {
		return "", false
	}
	return s, true
}
