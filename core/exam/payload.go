package exam

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Question types
const (
	TypeOX             = "ox"
	TypeMultipleChoice = "multiple_choice"
	TypeShortAnswer    = "short_answer"
	TypeEssay          = "essay"
)

// PayloadError reports a question payload that does not match the schema of its type.
type PayloadError struct {
	Type string
	Err  error
}

func (err *PayloadError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", err.Type, err.Err)
}

// Payload is the type-specific answer key of a question.
type Payload interface {
	validate() error
	// grade reports whether the raw response is correct; manual is true when a teacher must grade it.
	grade(response json.RawMessage) (correct, manual bool)
	// public is the payload shown to students taking the test.
	public() interface{}
}

type OXPayload struct {
	Answer      *bool  `json:"answer"`
	Explanation string `json:"explanation,omitempty"`
}

type MultipleChoicePayload struct {
	Options     []string `json:"options"`
	Answer      *int     `json:"answer"` // index in Options
	Explanation string   `json:"explanation,omitempty"`
}

type ShortAnswerPayload struct {
	Answers       []string `json:"answers"`
	CaseSensitive bool     `json:"case_sensitive"`
}

type EssayPayload struct {
	Rubric      string `json:"rubric,omitempty"`
	ModelAnswer string `json:"model_answer,omitempty"`
}

// DecodePayload decodes raw according to the question type. Unknown fields are rejected.
func DecodePayload(qtype string, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch qtype {
	case TypeOX:
		p = new(OXPayload)
	case TypeMultipleChoice:
		p = new(MultipleChoicePayload)
	case TypeShortAnswer:
		p = new(ShortAnswerPayload)
	case TypeEssay:
		p = new(EssayPayload)
	default:
		return nil, &PayloadError{Type: qtype, Err: errors.Errorf("unknown question type %q", qtype)}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, &PayloadError{Type: qtype, Err: err}
	}
	if err := p.validate(); err != nil {
		return nil, &PayloadError{Type: qtype, Err: err}
	}
	return p, nil
}

// IsBlank reports whether a raw response carries no answer.
func IsBlank(response json.RawMessage) bool {
	switch string(bytes.TrimSpace(response)) {
	case "", "null", `""`:
		return true
	}
	return false
}

func (p *OXPayload) validate() error {
	if p.Answer == nil {
		return errors.Errorf("answer is required")
	}
	return nil
}

func (p *OXPayload) grade(response json.RawMessage) (bool, bool) {
	if IsBlank(response) {
		return false, false
	}
	want := *p.Answer
	var b bool
	if err := json.Unmarshal(response, &b); err == nil {
		return b == want, false
	}
	var s string
	if err := json.Unmarshal(response, &s); err != nil {
		return false, false
	}
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "O", "TRUE":
		return want, false
	case "X", "FALSE":
		return !want, false
	}
	return false, false
}

func (p *OXPayload) public() interface{} { return struct{}{} }

func (p *MultipleChoicePayload) validate() error {
	if len(p.Options) < 2 {
		return errors.Errorf("at least 2 options are required")
	}
	for i, opt := range p.Options {
		if strings.TrimSpace(opt) == "" {
			return errors.Errorf("option %d is empty", i)
		}
	}
	if p.Answer == nil {
		return errors.Errorf("answer is required")
	}
	if *p.Answer < 0 || *p.Answer >= len(p.Options) {
		return errors.Errorf("answer %d is out of range", *p.Answer)
	}
	return nil
}

func (p *MultipleChoicePayload) grade(response json.RawMessage) (bool, bool) {
	if IsBlank(response) {
		return false, false
	}
	var idx int
	if err := json.Unmarshal(response, &idx); err != nil {
		return false, false
	}
	return idx == *p.Answer, false
}

func (p *MultipleChoicePayload) public() interface{} {
	return struct {
		Options []string `json:"options"`
	}{p.Options}
}

func (p *ShortAnswerPayload) validate() error {
	if len(p.Answers) == 0 {
		return errors.Errorf("at least 1 answer is required")
	}
	for i, a := range p.Answers {
		if strings.TrimSpace(a) == "" {
			return errors.Errorf("answer %d is empty", i)
		}
	}
	return nil
}

func (p *ShortAnswerPayload) grade(response json.RawMessage) (bool, bool) {
	if IsBlank(response) {
		return false, false
	}
	var s string
	if err := json.Unmarshal(response, &s); err != nil {
		return false, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return false, false
	}
	for _, a := range p.Answers {
		a = strings.TrimSpace(a)
		if a == s || (!p.CaseSensitive && strings.EqualFold(a, s)) {
			return true, false
		}
	}
	return false, false
}

func (p *ShortAnswerPayload) public() interface{} { return struct{}{} }

func (p *EssayPayload) validate() error { return nil }

func (p *EssayPayload) grade(json.RawMessage) (bool, bool) { return false, true }

func (p *EssayPayload) public() interface{} { return struct{}{} }
