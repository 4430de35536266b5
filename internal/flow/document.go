package flow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Document is the persisted shape of a flow as the editor exchanges it.
// Only Nodes and Edges feed validation and execution.
type Document struct {
	ID        string     `json:"id,omitempty"`
	Name      string     `json:"name,omitempty"`
	Version   int        `json:"version,omitempty"`
	Draft     bool       `json:"draft,omitempty"`
	Status    string     `json:"status,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Nodes     []Node     `json:"nodes"`
	Edges     []Edge     `json:"edges"`
	Tests     []Test     `json:"tests,omitempty"`
}

func (d *Document) Graph() *Graph { return NewGraph(d.Nodes, d.Edges) }

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

func LoadDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow document: %w", err)
	}
	return DecodeDocument(raw, FormatFromPath(path))
}

// DecodeDocument parses a JSON or YAML flow document. YAML is normalised to
// JSON first so both formats share one set of decoding rules.
func DecodeDocument(raw []byte, format Format) (*Document, error) {
	if format == FormatYAML {
		var v any
		if err := yaml.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		j, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to normalise YAML: %w", err)
		}
		raw = j
	}

	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to decode flow document: %w", err)
	}
	return &d, nil
}

type wireNode struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Position Position       `json:"position"`
	Data     map[string]any `json:"data,omitempty"`
}

type decisionFields struct {
	PolicyID   string `mapstructure:"policyId"`
	PolicyName string `mapstructure:"policyName"`
	Input      any    `mapstructure:"input"`
}

type returnFields struct {
	ReturnValue bool `mapstructure:"returnValue"`
}

type customFields struct {
	Outcome string `mapstructure:"outcome"`
}

func (n *Node) UnmarshalJSON(b []byte) error {
	var w wireNode
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	kind, err := ParseKind(w.Type)
	if err != nil {
		return fmt.Errorf("node %q: %w", w.ID, err)
	}
	data, err := DecodeNodeData(kind, w.Data)
	if err != nil {
		return fmt.Errorf("node %q: %w", w.ID, err)
	}
	*n = Node{ID: w.ID, Position: w.Position, Data: data}
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	data, err := EncodeNodeData(n.Data)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", n.ID, err)
	}
	return json.Marshal(wireNode{ID: n.ID, Type: string(n.Kind()), Position: n.Position, Data: data})
}

// EncodeNodeData is the inverse of DecodeNodeData.
func EncodeNodeData(data NodeData) (map[string]any, error) {
	out := map[string]any{}
	switch d := data.(type) {
	case StartData:
		out["policyId"] = d.Policy.ID
		if d.Policy.Name != "" {
			out["policyName"] = d.Policy.Name
		}
		if !d.Input.IsEmpty() {
			out["input"] = string(d.Input)
		}
	case PolicyData:
		out["policyId"] = d.Policy.ID
		if d.Policy.Name != "" {
			out["policyName"] = d.Policy.Name
		}
	case ReturnData:
		out["returnValue"] = d.Value
	case CustomData:
		out["outcome"] = d.Outcome
	default:
		return nil, fmt.Errorf("unsupported data %T", data)
	}
	return out, nil
}

// FieldsOf lists the data fields a node of kind accepts.
func FieldsOf(kind Kind) []string {
	switch kind {
	case KindStart:
		return []string{"policyId", "policyName", "input"}
	case KindPolicy:
		return []string{"policyId", "policyName"}
	case KindReturn:
		return []string{"returnValue"}
	case KindCustom:
		return []string{"outcome"}
	}
	return nil
}

// DecodeNodeData builds the typed payload for kind from a loosely typed map,
// as found in the "data" object of a wire node. Scalars are coerced only where
// the meaning is unambiguous: 7 for a policy id, "true" or "false" for a
// return value. Outcomes stay strict, so a custom outcome must be a string.
func DecodeNodeData(kind Kind, raw map[string]any) (NodeData, error) {
	switch kind {
	case KindStart:
		var f decisionFields
		if err := decodeFields(raw, &f, true); err != nil {
			return nil, err
		}
		input, err := payloadOf(f.Input)
		if err != nil {
			return nil, err
		}
		return StartData{Policy: PolicyRef{ID: f.PolicyID, Name: f.PolicyName}, Input: input}, nil
	case KindPolicy:
		var f decisionFields
		if err := decodeFields(raw, &f, true); err != nil {
			return nil, err
		}
		return PolicyData{Policy: PolicyRef{ID: f.PolicyID, Name: f.PolicyName}}, nil
	case KindReturn:
		var f returnFields
		if err := decodeFields(raw, &f, false); err != nil {
			return nil, err
		}
		return ReturnData{Value: f.ReturnValue}, nil
	case KindCustom:
		var f customFields
		if err := decodeFields(raw, &f, false); err != nil {
			return nil, err
		}
		return CustomData{Outcome: f.Outcome}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func decodeFields(raw map[string]any, out any, weak bool) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: weak,
		DecodeHook:       mapstructure.DecodeHookFuncType(boolText),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("invalid node data: %w", err)
	}
	return nil
}

// boolText accepts "true" and "false" (any case) for boolean fields and
// rejects any other text.
func boolText(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}
	text := reflect.ValueOf(data).String()
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return nil, fmt.Errorf("%q is not a boolean", text)
}

func (e *Edge) UnmarshalJSON(b []byte) error {
	type alias Edge
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	if a.Label == "" {
		if l := Label(a.SourceHandle); l.Valid() {
			a.Label = l
		}
	}
	*e = Edge(a)
	return nil
}
