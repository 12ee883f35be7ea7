package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// TaskKind names one kind of oracle request.
type TaskKind string

const (
	TaskDecompose       TaskKind = "decompose"
	TaskRefine          TaskKind = "refine"
	TaskExtractEvidence TaskKind = "extract_evidence"
	TaskIntegrate       TaskKind = "integrate"
	TaskGenerateCode    TaskKind = "generate_code"

	// Knowledge construction.
	TaskSummarizeNode      TaskKind = "summarize_node"
	TaskSummarizeNodeShort TaskKind = "summarize_node_short"
	TaskSummarizeChunk     TaskKind = "summarize_chunk"
	TaskMergeSummaries     TaskKind = "merge_summaries"
)

// Role selects which of a provider's models serves a task.
type Role string

const (
	RoleOutline   Role = "outline"
	RoleReasoning Role = "reasoning"
	RoleCoding    Role = "coding"
)

// Routing keys group tasks for provider priority configuration.
const (
	RouteOutline       = "outline"
	RouteDecomposition = "decomposition"
	RouteEvidence      = "evidence"
	RouteIntegration   = "integration"
	RouteCoding        = "coding"
)

type taskSpec struct {
	name   string // payload "task" field
	role   Role
	route  string
	system string
	schema any
}

func (t TaskKind) spec() (taskSpec, bool) {
	s, ok := taskSpecs[t]
	return s, ok
}

// Valid reports whether t has a registered prompt.
func (t TaskKind) Valid() bool {
	_, ok := taskSpecs[t]
	return ok
}

// Role returns the model role serving t.
func (t TaskKind) Role() Role {
	return taskSpecs[t].role
}

// Route returns the routing key for t.
func (t TaskKind) Route() string {
	return taskSpecs[t].route
}

// JSONOnlyInstruction prefixes every user message.
const JSONOnlyInstruction = `You must output STRICT JSON (RFC 8259) only:
1) Output exactly one JSON object, starting with { and ending with }.
2) No Markdown code fences and no explanatory text.
3) No raw newlines inside JSON strings; write \\n instead.
4) Every backslash inside a string must be doubled (LaTeX \theta is written \\theta).
5) Never leave an array or object unclosed.
6) Keep lists short: at most 12 key points, 20 key concepts, 8 formulas, 8 cross links.
If a field cannot be determined, use an empty array or empty string, but the JSON must stay complete and parseable.`

type formulaSchema struct {
	Latex     string           `json:"latex"`
	Meaning   string           `json:"meaning"`
	Variables []map[string]any `json:"variables,omitempty"`
}

var variablesSchema = []map[string]any{{"symbol": "string", "meaning": "string"}}

var classificationSchema = map[string]any{
	"depth":          "int",
	"selected_nodes": []any{map[string]any{"node_id": "string", "why_relevant": "string", "priority": "int"}},
	"subquestions": []any{map[string]any{
		"sub_id":           "string",
		"question":         "string",
		"goal":             "string",
		"expected_output":  "string",
		"related_node_ids": []string{"string"},
	}},
	"confidence":       "float (0~1)",
	"need_more_detail": "bool",
	"notes":            "string",
}

var nodeSummarySchema = map[string]any{
	"document_id":  "string",
	"node_id":      "string",
	"level":        "int",
	"title":        "string",
	"summary":      "string",
	"key_points":   []string{"string (<=12)"},
	"key_concepts": []string{"string (<=20)"},
	"formulas":     []any{formulaSchema{Latex: "string", Meaning: "string", Variables: variablesSchema}},
	"cross_links":  []any{map[string]any{"related_node_id": "string", "relation": "string", "note": "string"}},
	"source":       map[string]any{"document_name": "string", "node_path": "string"},
}

var taskSpecs = map[TaskKind]taskSpec{
	TaskDecompose: {
		name:  "DECOMPOSE_QUESTION",
		role:  RoleReasoning,
		route: RouteDecomposition,
		system: "You are a domain expert who breaks complex research questions into solvable sub-questions " +
			"and maps them onto textbook sections. You receive the user question and an outline of the " +
			"knowledge base (node ids and section titles only). Produce the classification for the given depth. " +
			"Selected node ids must come from the outline; never invent ids.",
		schema: classificationSchema,
	},
	TaskRefine: {
		name:  "REFINE_CLASSIFICATION",
		role:  RoleReasoning,
		route: RouteDecomposition,
		system: "You are an expert in question decomposition and knowledge mapping. You receive the question, " +
			"the outline, the previous classification and the previous assessment including missing_parts and " +
			"refine_suggestion. Produce a finer classification for the next depth using only node ids that " +
			"exist in the outline.",
		schema: classificationSchema,
	},
	TaskExtractEvidence: {
		name:  "EVIDENCE_EXTRACTION",
		role:  RoleReasoning,
		route: RouteEvidence,
		system: "You are a rigorous research assistant reading one chunk of textbook text. Extract only the facts, " +
			"concepts, definitions, formulas, derivation steps and modelling or programming points relevant to " +
			"the user question. Always report the source node_id.",
		schema: map[string]any{
			"node_id":                   "string",
			"chunk_id":                  "string",
			"relevant_points":           []string{"string"},
			"relevant_formulas":         []any{formulaSchema{Latex: "string", Meaning: "string", Variables: variablesSchema}},
			"assumptions_or_conditions": []string{"string"},
			"direct_quotes":             []any{map[string]any{"quote": "string (<=200 chars, verbatim)", "why": "string"}},
		},
	},
	TaskIntegrate: {
		name:  "INTEGRATE_AND_ASSESS",
		role:  RoleReasoning,
		route: RouteIntegration,
		system: "You are a domain expert. You receive the question, the current classification and evidence notes " +
			"extracted chunk by chunk from the selected sections. Reason rigorously from the evidence to a " +
			"solution outline, decide whether the question can already be solved (can_solve), and always list " +
			"used_sources down to document, node_id and section path. If it cannot be solved, list missing_parts " +
			"and a refine_suggestion naming deeper nodes or extra user inputs.",
		schema: map[string]any{
			"can_solve":        "bool",
			"confidence":       "float (0~1)",
			"solution_outline": []any{map[string]any{"step": "string", "detail": "string", "equations": []string{"string"}, "notes": "string"}},
			"used_sources": []any{map[string]any{
				"document_name": "string",
				"document_id":   "string",
				"node_id":       "string",
				"node_path":     "string",
				"how_used":      "string",
			}},
			"conclusions":   []string{"string"},
			"missing_parts": []string{"string"},
			"refine_suggestion": map[string]any{
				"need_deeper_nodes": []string{"string (node_id)"},
				"need_user_inputs":  []string{"string"},
				"reason":            "string",
			},
		},
	},
	TaskGenerateCode: {
		name:  "CODE_GENERATION",
		role:  RoleCoding,
		route: RouteCoding,
		system: "You are a senior scientific computing engineer. From the final solution plan produce: the " +
			"necessary derivation with variables and assumptions listed; runnable Python code (preferred) with " +
			"comments, input parameters and outputs; or, when Python is unsuitable, LAMMPS or GROMACS input with " +
			"the reason. The code must match the derivation and come with run instructions and expected outputs.",
		schema: map[string]any{
			"engine_choice":            "string (python|lammps|gromacs)",
			"rationale":                "string",
			"math_derivation":          []string{"string"},
			"algorithm":                []string{"string"},
			"code_files":               []any{map[string]any{"path": "string", "content": "string"}},
			"requirements":             []string{"string (pip package or system dependency)"},
			"run_instructions":         []string{"string"},
			"expected_outputs":         []string{"string"},
			"notes_for_user_to_modify": []string{"string"},
		},
	},
	TaskSummarizeNode: {
		name:  "NODE_SUMMARY",
		role:  RoleOutline,
		route: RouteOutline,
		system: "You are a research assistant who distills textbook text into a structured knowledge outline. " +
			"Summarize the given chapter, section or subsection.",
		schema: nodeSummarySchema,
	},
	TaskSummarizeNodeShort: {
		name:  "NODE_SUMMARY_SHORT",
		role:  RoleOutline,
		route: RouteOutline,
		system: "You are a research assistant. Give a concise structured summary of this section, keeping only " +
			"the most important information.",
		schema: map[string]any{
			"document_id":  "string",
			"node_id":      "string",
			"level":        "int",
			"title":        "string",
			"summary":      "string",
			"key_points":   []string{"string (<=8)"},
			"key_concepts": []string{"string (<=12)"},
			"source":       map[string]any{"document_name": "string", "node_path": "string"},
		},
	},
	TaskSummarizeChunk: {
		name:  "NODE_CHUNK_SUMMARY",
		role:  RoleOutline,
		route: RouteOutline,
		system: "You are a textbook outlining assistant reading one chunk of a section. Extract its key points, " +
			"concepts and formulas and keep the source node_id.",
		schema: map[string]any{
			"node_id":      "string",
			"chunk_id":     "string",
			"summary":      "string",
			"key_points":   []string{"string (<=8)"},
			"key_concepts": []string{"string (<=12)"},
			"formulas":     []any{formulaSchema{Latex: "string", Meaning: "string"}},
		},
	},
	TaskMergeSummaries: {
		name:  "NODE_REDUCE",
		role:  RoleOutline,
		route: RouteOutline,
		system: "You are a textbook outlining assistant. Merge the chunk summaries of one section into its final " +
			"structured summary, removing duplicates and keeping the logical structure.",
		schema: nodeSummarySchema,
	},
}

// BuildMessages renders the system and user messages for a task. The request
// is marshalled to a JSON object and extended with the task name, the output
// schema and the json_only flag.
func BuildMessages(task TaskKind, request any) ([]Message, error) {
	spec, ok := task.spec()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}

	payload := map[string]any{}
	if request != nil {
		raw, err := json.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", task, err)
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("%s request must be a JSON object: %w", task, err)
		}
		if payload == nil {
			payload = map[string]any{}
		}
	}
	payload["task"] = spec.name
	payload["output_schema"] = spec.schema
	payload["json_only"] = true

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", task, err)
	}

	return []Message{
		{Role: RoleSystem, Content: spec.system},
		{Role: RoleUser, Content: JSONOnlyInstruction + "\n\n" + strings.TrimRight(buf.String(), "\n")},
	}, nil
}
