package model

import (
	"errors"
	"fmt"
	"strings"
)

// LabelNamespace prefixes every classification label written to a mailbox.
const LabelNamespace = "classifications/"

// Label is a fully qualified classification label, e.g. "classifications/records".
type Label string

// Reference taxonomy labels.
const (
	LabelBulkContent    Label = LabelNamespace + "bulk_content"
	LabelReadLater      Label = LabelNamespace + "read_later"
	LabelRecords        Label = LabelNamespace + "records"
	LabelRequiresAction Label = LabelNamespace + "requires_action"
	LabelUnsure         Label = LabelNamespace + "unsure"
)

// ErrLabelNotInTaxonomy is returned when a classification names a value
// outside the closed label set.
var ErrLabelNotInTaxonomy = errors.New("label not in taxonomy")

// Short returns the label without its namespace.
func (l Label) Short() string {
	if i := strings.LastIndex(string(l), "/"); i >= 0 {
		return string(l)[i+1:]
	}
	return string(l)
}

func (l Label) String() string {
	return string(l)
}

// Taxonomy is a closed set of mutually exclusive labels sharing a namespace.
type Taxonomy struct {
	set       map[Label]struct{}
	namespace string
	labels    []Label
}

// DefaultTaxonomy returns the reference five-label policy.
func DefaultTaxonomy() Taxonomy {
	t, _ := NewTaxonomy(LabelNamespace, "bulk_content", "read_later", "records", "requires_action", "unsure")
	return t
}

// NewTaxonomy builds a taxonomy from bare label names under namespace.
func NewTaxonomy(namespace string, names ...string) (Taxonomy, error) {
	if namespace == "" {
		return Taxonomy{}, fmt.Errorf("taxonomy namespace cannot be empty")
	}
	if !strings.HasSuffix(namespace, "/") {
		namespace += "/"
	}
	if len(names) == 0 {
		return Taxonomy{}, fmt.Errorf("taxonomy must contain at least one label")
	}

	t := Taxonomy{
		namespace: namespace,
		labels:    make([]Label, 0, len(names)),
		set:       make(map[Label]struct{}, len(names)),
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || strings.Contains(name, "/") {
			return Taxonomy{}, fmt.Errorf("invalid label name %q", name)
		}
		label := Label(namespace + name)
		if _, dup := t.set[label]; dup {
			return Taxonomy{}, fmt.Errorf("duplicate label %q", name)
		}
		t.set[label] = struct{}{}
		t.labels = append(t.labels, label)
	}
	return t, nil
}

// Namespace returns the shared label prefix, including the trailing slash.
func (t Taxonomy) Namespace() string {
	return t.namespace
}

// Labels returns the labels in declaration order.
func (t Taxonomy) Labels() []Label {
	out := make([]Label, len(t.labels))
	copy(out, t.labels)
	return out
}

// Names returns the fully qualified label names as strings.
func (t Taxonomy) Names() []string {
	out := make([]string, len(t.labels))
	for i, l := range t.labels {
		out[i] = string(l)
	}
	return out
}

// Contains reports whether l is a member of the taxonomy.
func (t Taxonomy) Contains(l Label) bool {
	_, ok := t.set[l]
	return ok
}

// Resolve validates a raw model answer against the closed set. Both the fully
// qualified name and the bare name are accepted; anything else is an error.
func (t Taxonomy) Resolve(raw string) (Label, error) {
	value := strings.TrimSpace(raw)
	value = strings.Trim(value, `"'`)
	if value == "" {
		return "", fmt.Errorf("%w: empty label", ErrLabelNotInTaxonomy)
	}

	if t.Contains(Label(value)) {
		return Label(value), nil
	}
	if !strings.Contains(value, "/") && t.Contains(Label(t.namespace+value)) {
		return Label(t.namespace + value), nil
	}
	return "", fmt.Errorf("%w: %q (allowed: %s)", ErrLabelNotInTaxonomy, raw, strings.Join(t.Names(), ", "))
}

// Intersects reports whether labels already carries any label in the
// taxonomy's namespace. This is the authoritative "already classified" test.
func (t Taxonomy) Intersects(labels map[string]bool) bool {
	for name, present := range labels {
		if present && strings.HasPrefix(name, t.namespace) {
			return true
		}
	}
	return false
}
