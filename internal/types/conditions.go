package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ConditionNode is a parsed condition tree node. The set of implementations is
// closed: *LeafCondition and *GroupCondition.
type ConditionNode interface {
	conditionNode()
}

// Temporal carries the optional windowing parameters of a leaf.
type Temporal struct {
	// Duration is the trailing window for a windowed count ("2 hours").
	Duration string `json:"duration,omitempty"`
	// Interval is the rate denominator for RATE> ("30 minutes").
	Interval string `json:"interval,omitempty"`
	// Day1 and Day2 are day tokens for DAY_DIFF>.
	Day1 string `json:"day1,omitempty"`
	Day2 string `json:"day2,omitempty"`
}

// LeafCondition compares a single metric against a numeric value.
type LeafCondition struct {
	Metric   Metric       `json:"metric"`
	Operator LeafOperator `json:"operator"`
	Value    float64      `json:"value"`
	Temporal *Temporal    `json:"temporal,omitempty"`
	// Within bounds the gap between this step's match and the next step's
	// match inside a SEQUENCE group.
	Within string `json:"within,omitempty"`
}

// GroupCondition combines sub-conditions with a logical or sequence operator.
type GroupCondition struct {
	Operator      GroupOperator   `json:"operator"`
	SubConditions []ConditionNode `json:"sub_conditions"`
}

func (*LeafCondition) conditionNode()  {}
func (*GroupCondition) conditionNode() {}

// HasWindow reports whether the leaf should be evaluated as a windowed count.
func (l *LeafCondition) HasWindow() bool {
	return l.Temporal != nil && l.Temporal.Duration != ""
}

// rawCondition is the wire shape shared by leaves and groups. A node is a
// leaf when "metric" is present.
type rawCondition struct {
	Metric        *string           `json:"metric"`
	Operator      *string           `json:"operator"`
	Value         json.RawMessage   `json:"value"`
	Temporal      *rawTemporal      `json:"temporal"`
	Within        string            `json:"within"`
	SubConditions []json.RawMessage `json:"sub_conditions"`
}

type rawTemporal struct {
	Temporal
	Within string `json:"within"`
}

// ParseConditions validates a raw condition document and returns the typed
// tree. A top-level JSON array is normalized to an AND group over its items.
// dataType, when non-empty, additionally enforces metric availability.
func ParseConditions(raw []byte, dataType DataType) (ConditionNode, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewValidationError(ErrCodeValidationMissingField, "conditions are required")
	}

	p := conditionParser{dataType: dataType}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, NewAppError(ErrCodeValidationInvalidConditions, "conditions must be a list or an object", err)
		}
		children, err := p.parseList(items, "conditions")
		if err != nil {
			return nil, err
		}
		return &GroupCondition{Operator: GroupAnd, SubConditions: children}, nil
	}
	return p.parseNode(trimmed, "conditions")
}

type conditionParser struct {
	dataType DataType
}

func (p conditionParser) parseList(items []json.RawMessage, path string) ([]ConditionNode, error) {
	nodes := make([]ConditionNode, 0, len(items))
	for i, item := range items {
		node, err := p.parseNode(item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (p conditionParser) parseNode(data []byte, path string) (ConditionNode, error) {
	var rc rawCondition
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, NewAppError(ErrCodeValidationInvalidConditions,
			fmt.Sprintf("%s: condition must be an object", path), err)
	}

	if rc.Metric != nil {
		return p.parseLeaf(rc, path)
	}
	if rc.Operator == nil || rc.SubConditions == nil {
		return nil, NewValidationError(ErrCodeValidationInvalidConditions,
			"%s: condition must have metric or operator/sub_conditions", path)
	}
	return p.parseGroup(rc, path)
}

func (p conditionParser) parseLeaf(rc rawCondition, path string) (*LeafCondition, error) {
	metric := Metric(*rc.Metric)
	if !metric.IsValid() {
		return nil, NewValidationError(ErrCodeValidationInvalidMetric, "%s: invalid metric %q", path, metric)
	}
	if p.dataType != "" && !metric.AvailableFor(p.dataType) {
		return nil, NewValidationError(ErrCodeValidationInvalidMetric,
			"%s: metric %q is not available for %s data", path, metric, p.dataType)
	}

	if rc.Operator == nil {
		return nil, NewValidationError(ErrCodeValidationMissingField, "%s: operator is required", path)
	}
	op := LeafOperator(*rc.Operator)
	if !op.IsValid() {
		return nil, NewValidationError(ErrCodeValidationInvalidConditions, "%s: invalid operator %q", path, op)
	}

	value, err := parseNumber(rc.Value)
	if err != nil {
		return nil, NewAppError(ErrCodeValidationInvalidConditions,
			fmt.Sprintf("%s: condition must have a numeric value", path), err)
	}

	leaf := &LeafCondition{Metric: metric, Operator: op, Value: value, Within: rc.Within}
	if rc.Temporal != nil {
		t := rc.Temporal.Temporal
		leaf.Temporal = &t
		if leaf.Within == "" {
			leaf.Within = rc.Temporal.Within
		}
	}

	switch op {
	case OpRateAbove:
		if leaf.Temporal == nil || leaf.Temporal.Interval == "" {
			return nil, NewValidationError(ErrCodeValidationMissingField, "%s: RATE> requires temporal.interval", path)
		}
	case OpDayDiffAbove:
		if leaf.Temporal == nil || leaf.Temporal.Day1 == "" || leaf.Temporal.Day2 == "" {
			return nil, NewValidationError(ErrCodeValidationMissingField, "%s: DAY_DIFF> requires temporal.day1 and temporal.day2", path)
		}
	}
	return leaf, nil
}

func (p conditionParser) parseGroup(rc rawCondition, path string) (*GroupCondition, error) {
	op := GroupOperator(*rc.Operator)
	if !op.IsValid() {
		return nil, NewValidationError(ErrCodeValidationInvalidConditions, "%s: invalid group operator %q", path, op)
	}

	children, err := p.parseList(rc.SubConditions, path+".sub_conditions")
	if err != nil {
		return nil, err
	}

	switch op {
	case GroupNot:
		if len(children) != 1 {
			return nil, NewValidationError(ErrCodeValidationInvalidConditions,
				"%s: NOT requires exactly one sub-condition, got %d", path, len(children))
		}
	case GroupSequence:
		if len(children) == 0 {
			return nil, NewValidationError(ErrCodeValidationInvalidConditions, "%s: SEQUENCE requires at least one step", path)
		}
		for i, child := range children {
			if _, ok := child.(*LeafCondition); !ok {
				return nil, NewValidationError(ErrCodeValidationInvalidConditions,
					"%s.sub_conditions[%d]: SEQUENCE steps must be leaf conditions", path, i)
			}
		}
	}
	return &GroupCondition{Operator: op, SubConditions: children}, nil
}

// parseNumber accepts JSON numbers and numeric strings. Stores that persist
// numbers as decimals sometimes hand them back as strings.
func parseNumber(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("value is missing")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("value is not a number")
	}
	f, err := json.Number(s).Float64()
	if err != nil {
		return 0, fmt.Errorf("value %q is not a number", s)
	}
	return f, nil
}

// MarshalJSON renders a group with its children in wire form.
func (g *GroupCondition) MarshalJSON() ([]byte, error) {
	subs := g.SubConditions
	if subs == nil {
		subs = []ConditionNode{}
	}
	return json.Marshal(struct {
		Operator      GroupOperator   `json:"operator"`
		SubConditions []ConditionNode `json:"sub_conditions"`
	}{g.Operator, subs})
}
