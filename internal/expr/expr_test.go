package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestCompile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     string
		wantErr bool
	}{
		{name: "comparison", src: `output.score >= 0.8`},
		{name: "boolean logic", src: `output.ok && output.status == "done"`},
		{name: "literal", src: `true`},
		{name: "syntax error", src: `output.score >=`, wantErr: true},
		{name: "unknown variable", src: `input.score > 1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.src)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.src, p.String())
		})
	}
}

func TestPredicateEval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     string
		output  map[string]any
		want    bool
		wantErr bool
	}{
		{
			name:   "float threshold",
			src:    `output.score >= 0.8 && output.status == "ok"`,
			output: map[string]any{"score": 0.9, "status": "ok"},
			want:   true,
		},
		{
			name:   "int below threshold",
			src:    `output.count > 3`,
			output: map[string]any{"count": 2},
			want:   false,
		},
		{
			name:   "nested object",
			src:    `output.review.approved`,
			output: map[string]any{"review": map[string]any{"approved": true}},
			want:   true,
		},
		{
			name:    "functions are not available",
			src:     `length(output.items) == 2`,
			output:  map[string]any{"items": []any{"a", 1}},
			wantErr: true,
		},
		{
			name:    "non-bool result",
			src:     `output.status`,
			output:  map[string]any{"status": "ok"},
			wantErr: true,
		},
		{
			name:    "missing attribute",
			src:     `output.missing == 1`,
			output:  map[string]any{},
			wantErr: true,
		},
		{
			name:   "null result is false",
			src:    `output.flag`,
			output: map[string]any{"flag": nil},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.src)
			require.NoError(t, err)

			got, err := p.Eval(tt.output)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToCty(t *testing.T) {
	t.Parallel()

	type point struct {
		X int `cty:"x"`
		Y int `cty:"y"`
	}

	val, err := ToCty(map[string]any{
		"s":     "str",
		"n":     int64(7),
		"list":  []string{"a", "b"},
		"point": point{X: 1, Y: 2},
	})
	require.NoError(t, err)
	require.True(t, val.Type().IsObjectType())

	assert.Equal(t, cty.StringVal("str"), val.GetAttr("s"))
	assert.True(t, val.GetAttr("n").Equals(cty.NumberIntVal(7)).True())
	assert.Equal(t, 2, val.GetAttr("list").LengthInt())
	assert.True(t, val.GetAttr("point").GetAttr("y").Equals(cty.NumberIntVal(2)).True())

	_, err = ToCty(make(chan int))
	require.Error(t, err)
}
