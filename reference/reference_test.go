package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		mode Mode
		want []Ref
	}{
		{
			name: "no tokens",
			text: "plain text",
			mode: ModeStrict,
			want: nil,
		},
		{
			name: "single token",
			text: "@TABLE.step.st_validate",
			mode: ModeStrict,
			want: []Ref{{Collection: "step", Document: "st_validate"}},
		},
		{
			name: "strict keeps trailing segments apart",
			text: "@TABLE.condition.cd_mapModelResponse.modelResponse",
			mode: ModeStrict,
			want: []Ref{{Collection: "condition", Document: "cd_mapModelResponse", Trailing: ".modelResponse"}},
		},
		{
			name: "strict finds every token in a string",
			text: "go @TABLE.step.one then @TABLE.step.two",
			mode: ModeStrict,
			want: []Ref{
				{Collection: "step", Document: "one"},
				{Collection: "step", Document: "two"},
			},
		},
		{
			name: "strict keeps duplicates",
			text: "@TABLE.step.one @TABLE.step.one",
			mode: ModeStrict,
			want: []Ref{
				{Collection: "step", Document: "one"},
				{Collection: "step", Document: "one"},
			},
		},
		{
			name: "loose trailing segment",
			text: "@TABLE.condition.cd_mapModelResponse.modelResponse",
			mode: ModeLoose,
			want: []Ref{{Collection: "condition", Document: "cd_mapModelResponse", Trailing: ".modelResponse"}},
		},
		{
			// The loose capture runs to the end of the string, so the second
			// token is swallowed into Trailing.
			name: "loose over-captures later tokens",
			text: "go @TABLE.step.one then @TABLE.step.two",
			mode: ModeLoose,
			want: []Ref{{Collection: "step", Document: "one", Trailing: " then @TABLE.step.two"}},
		},
		{
			name: "loose needs two characters after the collection",
			text: "@TABLE.step.a",
			mode: ModeLoose,
			want: nil,
		},
		{
			name: "marker without identifiers",
			text: "@TABLE.step",
			mode: ModeStrict,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.text, tt.mode))
		})
	}
}

func TestExtractValue(t *testing.T) {
	doc := map[string]any{
		"vc_check": map[string]any{
			"steps": []any{
				"@TABLE.step.b_step",
				map[string]any{"next": "@TABLE.step.a_step"},
			},
			"count": 3.0,
			"flag":  true,
		},
		"alpha": "@TABLE.condition.cd_one",
	}

	refs := ExtractValue(doc, ModeStrict)
	assert.Equal(t, []Ref{
		{Collection: "condition", Document: "cd_one"},
		{Collection: "step", Document: "b_step"},
		{Collection: "step", Document: "a_step"},
	}, refs)
}

func TestExtractDocument(t *testing.T) {
	t.Run("valid json", func(t *testing.T) {
		refs, err := ExtractDocument([]byte(`{"a":{"b":["@TABLE.x.y"]}}`), ModeStrict)
		require.NoError(t, err)
		assert.Equal(t, []Ref{{Collection: "x", Document: "y"}}, refs)
	})

	t.Run("malformed falls back to raw scan", func(t *testing.T) {
		refs, err := ExtractDocument([]byte(`{"a": "@TABLE.x.y", broken`), ModeStrict)
		require.Error(t, err)
		assert.Equal(t, []Ref{{Collection: "x", Document: "y"}}, refs)
	})
}

func TestDedupe(t *testing.T) {
	refs := []Ref{
		{Collection: "step", Document: "one"},
		{Collection: "step", Document: "two"},
		{Collection: "step", Document: "one", Trailing: ".field"},
	}
	assert.Equal(t, []Ref{
		{Collection: "step", Document: "one"},
		{Collection: "step", Document: "two"},
	}, Dedupe(refs))
	assert.Nil(t, Dedupe(nil))
}

func TestParse(t *testing.T) {
	ref, err := Parse("  @TABLE.step.st_model_a ")
	require.NoError(t, err)
	assert.Equal(t, "step", ref.Collection)
	assert.Equal(t, "st_model_a", ref.Document)
	assert.Equal(t, "@TABLE.step.st_model_a", ref.String())

	_, err = Parse("step.st_model_a")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeStrict, false},
		{"strict", ModeStrict, false},
		{"LOOSE", ModeLoose, false},
		{"fuzzy", ModeStrict, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.String(), got.String())
		})
	}
}
