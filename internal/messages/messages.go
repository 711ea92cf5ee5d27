// Package messages collects per-field warnings and errors produced while a
// submission is normalized, validated and saved.
package messages

import (
	"encoding/json"
	"strings"
)

type Severity int

const (
	Warning Severity = 1
	Error   Severity = 2
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

// Message is one entry addressed to a field key. Text may be empty when the
// entry only marks the field for highlighting.
type Message struct {
	Field    string
	Severity Severity
	Text     string

	// local marks an error confined to its field; it does not block a save.
	local bool
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Field   string `json:"field,omitempty"`
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	}{m.Field, m.Severity.String(), m.Text})
}

// Set accumulates messages in insertion order. The zero value is ready to use.
type Set struct {
	items  []Message
	fields map[string]Severity
}

func New() *Set {
	return &Set{}
}

func (s *Set) add(field string, severity Severity, text string) {
	s.push(Message{Field: field, Severity: severity, Text: text})
}

func (s *Set) push(m Message) {
	if s.fields == nil {
		s.fields = make(map[string]Severity)
	}
	if m.Field != "" && s.fields[m.Field] < m.Severity {
		s.fields[m.Field] = m.Severity
	}
	s.items = append(s.items, m)
}

func (s *Set) ErrorAt(field, text string) {
	s.add(field, Error, text)
}

func (s *Set) WarningAt(field, text string) {
	s.add(field, Warning, text)
}

// LocalErrorAt records an error that only affects field. It is reported
// and highlighted like ErrorAt but HasError ignores it, so the rest of
// the submission can still be saved.
func (s *Set) LocalErrorAt(field, text string) {
	s.push(Message{Field: field, Severity: Error, Text: text, local: true})
}

// HasError reports whether any error that blocks a save has been recorded.
func (s *Set) HasError() bool {
	for _, item := range s.items {
		if item.Severity == Error && !item.local {
			return true
		}
	}
	return false
}

func (s *Set) HasErrorAt(field string) bool {
	return s.fields[field] == Error
}

func (s *Set) HasProblemAt(field string) bool {
	return s.fields[field] > 0
}

// Messages returns entries that carry text, in insertion order.
func (s *Set) Messages() []Message {
	items := make([]Message, 0, len(s.items))
	for _, item := range s.items {
		if item.Text != "" {
			items = append(items, item)
		}
	}
	return items
}

// Errors returns only the error texts.
func (s *Set) Errors() []string {
	var texts []string
	for _, item := range s.items {
		if item.Severity == Error && item.Text != "" {
			texts = append(texts, item.Text)
		}
	}
	return texts
}

// ProblemFields returns every highlighted field with its worst severity.
func (s *Set) ProblemFields() map[string]Severity {
	fields := make(map[string]Severity, len(s.fields))
	for k, v := range s.fields {
		fields[k] = v
	}
	return fields
}

// Merge appends every entry of other.
func (s *Set) Merge(other *Set) {
	if other == nil {
		return
	}
	for _, item := range other.items {
		s.push(item)
	}
}

func (s *Set) Len() int {
	return len(s.items)
}

func (s *Set) String() string {
	var b strings.Builder
	for i, item := range s.Messages() {
		if i > 0 {
			b.WriteString("\n")
		}
		if item.Field != "" {
			b.WriteString(item.Field)
			b.WriteString(": ")
		}
		b.WriteString(item.Text)
	}
	return b.String()
}
