package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaxonomy_Resolve(t *testing.T) {
	tax := DefaultTaxonomy()

	tests := []struct {
		name    string
		raw     string
		want    Label
		wantErr bool
	}{
		{name: "full name", raw: "classifications/records", want: LabelRecords},
		{name: "bare name", raw: "requires_action", want: LabelRequiresAction},
		{name: "surrounding whitespace", raw: "  unsure\n", want: LabelUnsure},
		{name: "quoted", raw: `"read_later"`, want: LabelReadLater},
		{name: "unknown bare", raw: "urgent", wantErr: true},
		{name: "wrong namespace", raw: "other/records", wantErr: true},
		{name: "case differs", raw: "Records", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tax.Resolve(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrLabelNotInTaxonomy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, tax.Contains(got))
		})
	}
}

func TestTaxonomy_Intersects(t *testing.T) {
	tax := DefaultTaxonomy()

	tests := []struct {
		labels map[string]bool
		name   string
		want   bool
	}{
		{name: "no labels", labels: nil, want: false},
		{name: "unrelated labels", labels: map[string]bool{"INBOX": true, "UNREAD": true}, want: false},
		{name: "taxonomy label", labels: map[string]bool{"INBOX": true, "classifications/records": true}, want: true},
		{name: "retired label in namespace", labels: map[string]bool{"classifications/newsletters": true}, want: true},
		{name: "absent flag", labels: map[string]bool{"classifications/records": false}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tax.Intersects(tt.labels))
		})
	}
}

func TestNewTaxonomy(t *testing.T) {
	tax, err := NewTaxonomy("triage", "keep", "drop")
	require.NoError(t, err)
	assert.Equal(t, "triage/", tax.Namespace())
	assert.Equal(t, []string{"triage/keep", "triage/drop"}, tax.Names())

	_, err = NewTaxonomy("", "keep")
	assert.Error(t, err)
	_, err = NewTaxonomy("triage")
	assert.Error(t, err)
	_, err = NewTaxonomy("triage", "keep", "keep")
	assert.Error(t, err)
	_, err = NewTaxonomy("triage", "a/b")
	assert.Error(t, err)
}

func TestDefaultTaxonomy(t *testing.T) {
	tax := DefaultTaxonomy()
	assert.Equal(t, LabelNamespace, tax.Namespace())
	assert.Equal(t, []Label{LabelBulkContent, LabelReadLater, LabelRecords, LabelRequiresAction, LabelUnsure}, tax.Labels())

	labels := tax.Labels()
	labels[0] = "mutated"
	assert.Equal(t, LabelBulkContent, tax.Labels()[0])
}

func TestLabel_Short(t *testing.T) {
	assert.Equal(t, "records", LabelRecords.Short())
	assert.Equal(t, "plain", Label("plain").Short())
}
