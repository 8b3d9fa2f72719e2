package template_test

import (
	"strings"
	"testing"

	"github.com/Eld3rt/aflow-sub000/pkg/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"user":   map[string]any{"name": "ada", "id": 42},
		"flag":   true,
		"items":  []any{"a", "b"},
		"code":   "007",
		"answer": "T",
		"title":  "[urgent] fix [db]",
		"note":   "{not json}",
	}

	tests := []struct {
		name     string
		input    string
		expected any
	}{
		{"string", "hello {{ .user.name }}", "hello ada"},
		{"number keeps its type", "{{ .user.id }}", 42},
		{"bool keeps its type", "{{ .flag }}", true},
		{"object keeps its type", "{{.user}}", map[string]any{"name": "ada", "id": 42}},
		{"numeric looking string", "{{ .code }}", "007"},
		{"bool looking string", "{{ .answer }}", "T"},
		{"bracketed string", "{{ .title }}", "[urgent] fix [db]"},
		{"braced string", "{{ .note }}", "{not json}"},
		{"mixed text stays a string", "id={{ .user.id }}", "id=42"},
		{"json func renders text", `{{ json .items }}`, `["a","b"]`},
		{"surrounding spaces kept", " {{ .user.name }} ", " ada "},
		{"literal", "plain", "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := template.Render(tt.input, data)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRender_MissingKeyFails(t *testing.T) {
	t.Parallel()

	_, err := template.Render("{{ .nope }}", map[string]any{})
	require.Error(t, err)

	_, err = template.Render("{{ .user.nope }}", map[string]any{"user": map[string]any{}})
	require.Error(t, err)
}

func TestSubstitute_NestedDocument(t *testing.T) {
	t.Parallel()

	input := map[string]any{
		"name":   "{{ .user.name }}",
		"static": "keep",
		"count":  3,
		"nested": map[string]any{
			"list": []any{"{{ .user.id }}", "x", nil},
		},
	}

	out, err := template.SubstituteMap(input, map[string]any{"user": map[string]any{"name": "ada", "id": 7}})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"name":   "ada",
		"static": "keep",
		"count":  3,
		"nested": map[string]any{
			"list": []any{7, "x", nil},
		},
	}, out)
	assert.Equal(t, "{{ .user.name }}", input["name"])
}

func TestSubstitute_ErrorNamesPath(t *testing.T) {
	t.Parallel()

	_, err := template.Substitute(map[string]any{"where": map[string]any{"id": "{{ .missing }}"}}, map[string]any{})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "$.where.id:"))
}

func TestWalk_VisitsEveryStringLeaf(t *testing.T) {
	t.Parallel()

	var paths []string

	_, err := template.Walk(map[string]any{"a": []any{"x", map[string]any{"b": "y"}}, "n": 1.5}, func(path, leaf string) (any, error) {
		paths = append(paths, path)

		return strings.ToUpper(leaf), nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"$.a[0]", "$.a[1].b"}, paths)
}
