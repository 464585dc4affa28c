// Package heal repairs malformed JSON emitted by a model before it is trusted
// as tool-call arguments.
package heal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Repair stage names, in the order they are applied.
const (
	StageStripWrappers = "strip_wrappers"
	StageStructural    = "structural"
	StageQuotes        = "quotes"
	StageLiterals      = "literals"
	StageJSONRepair    = "jsonrepair"
)

// Result is the outcome of healing a raw argument string.
type Result struct {
	Parsed  any      `json:"parsed"`
	Healed  bool     `json:"healed"`
	Repairs []string `json:"repairs,omitempty"`
	Err     string   `json:"error,omitempty"`
}

// OK reports whether a value was parsed.
func (r Result) OK() bool { return r.Err == "" }

// Object returns the parsed value as a JSON object, or nil when the value is
// missing or not an object.
func (r Result) Object() map[string]any {
	m, _ := r.Parsed.(map[string]any)
	return m
}

type stage struct {
	name  string
	apply func(string) string
}

var stages = []stage{
	{StageStripWrappers, stripWrappers},
	{StageStructural, repairStructure},
	{StageQuotes, normalizeQuotes},
	{StageLiterals, cleanLiterals},
}

// Heal parses raw as JSON, repairing it when a direct parse fails.
// It never panics; on irrecoverable input Parsed is nil and Err is set.
// The same input always yields the same Result.
func Heal(raw string) Result {
	if v, err := parse(raw); err == nil {
		return Result{Parsed: v}
	}

	text := raw
	var repairs []string
	for _, st := range stages {
		next := st.apply(text)
		if next != text {
			repairs = append(repairs, st.name)
			text = next
		}
	}

	v, err := parse(text)
	if err != nil {
		fixed, rerr := jsonrepair.JSONRepair(text)
		if rerr == nil {
			if v2, err2 := parse(fixed); err2 == nil {
				return Result{Parsed: v2, Healed: true, Repairs: append(repairs, StageJSONRepair)}
			}
		}
		return Result{
			Healed:  false,
			Repairs: repairs,
			Err:     fmt.Sprintf("unrepairable arguments: %v", err),
		}
	}
	return Result{Parsed: v, Healed: true, Repairs: repairs}
}

func parse(s string) (any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty input")
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}
