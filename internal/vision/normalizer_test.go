package vision

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"
)

func parsePayload(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{
			name: "type alias and coords",
			in:   `{"type":"BBox","coords":[10,10,50,30]}`,
			want: map[string]any{"type": "click", "bbox": []any{10.0, 10.0, 50.0, 30.0}},
		},
		{
			name: "click and type alias keeps text",
			in:   `{"type":"click-and-type","bbox":[1,2,30,40],"text":"openclaw"}`,
			want: map[string]any{"type": "click", "bbox": []any{1.0, 2.0, 30.0, 40.0}, "text": "openclaw"},
		},
		{
			name: "coords never override a bbox",
			in:   `{"type":"click","bbox":[1,1,9,9],"coords":[2,2,8,8]}`,
			want: map[string]any{"type": "click", "bbox": []any{1.0, 1.0, 9.0, 9.0}},
		},
		{
			name: "nested bbox becomes leading candidates",
			in:   `{"type":"click","bbox":[[1,2,3,4],[5,6,7,8]],"candidates":[[9,9,19,19]]}`,
			want: map[string]any{
				"type": "click",
				"bbox": nil,
				"candidates": []any{
					map[string]any{"bbox": []any{1.0, 2.0, 3.0, 4.0}},
					map[string]any{"bbox": []any{5.0, 6.0, 7.0, 8.0}},
					map[string]any{"bbox": []any{9.0, 9.0, 19.0, 19.0}},
				},
			},
		},
		{
			name: "candidate shapes",
			in: `{"type":"click_candidates","candidates":[
				{"coords":[1,1,20,20],"reason":"a"},
				{"bbox":{"bbox":[2,2,30,30],"confidence":0.9}},
				{"bbox":"nope"},
				[1,2,3],
				"junk",
				[4,4,40,40]
			]}`,
			want: map[string]any{
				"type": "click_candidates",
				"candidates": []any{
					map[string]any{"bbox": []any{1.0, 1.0, 20.0, 20.0}, "reason": "a"},
					map[string]any{"bbox": []any{2.0, 2.0, 30.0, 30.0}, "confidence": 0.9},
					map[string]any{"bbox": []any{4.0, 4.0, 40.0, 40.0}},
				},
			},
		},
		{
			name: "non-list candidates are dropped",
			in:   `{"type":"click","bbox":[1,1,9,9],"candidates":"first one"}`,
			want: map[string]any{"type": "click", "bbox": []any{1.0, 1.0, 9.0, 9.0}},
		},
		{
			name: "string expect",
			in:   `{"type":"wait","expect":"Releases"}`,
			want: map[string]any{"type": "wait", "expect": map[string]any{"page_contains_text": "Releases"}},
		},
		{
			name: "false scroll",
			in:   `{"type":"noop","scroll":false}`,
			want: map[string]any{"type": "noop"},
		},
		{
			name: "fractional scroll",
			in:   `{"type":"scroll","scroll":{"direction":"Down","amount":0.5}}`,
			want: map[string]any{"type": "scroll", "scroll": map[string]any{"direction": "down", "amount": 400}},
		},
		{
			name: "float scroll rounds",
			in:   `{"type":"scroll","scroll":{"direction":"up","amount":250.6}}`,
			want: map[string]any{"type": "scroll", "scroll": map[string]any{"direction": "up", "amount": 251}},
		},
		{
			name: "flat scroll",
			in:   `{"type":"scroll","direction":"UP","amount":300}`,
			want: map[string]any{"type": "scroll", "scroll": map[string]any{"direction": "up", "amount": 300}},
		},
		{
			name: "flat scroll without amount",
			in:   `{"type":"scroll","direction":"down"}`,
			want: map[string]any{"type": "scroll", "scroll": map[string]any{"direction": "down", "amount": 400}},
		},
		{
			name: "flat direction on another type stays",
			in:   `{"type":"wait","direction":"down"}`,
			want: map[string]any{"type": "wait", "direction": "down"},
		},
		{
			name: "disallowed key",
			in:   `{"type":"press","key":"F5"}`,
			want: map[string]any{"type": "press", "key": nil},
		},
		{
			name: "allowed key",
			in:   `{"type":"press","key":"PageDown"}`,
			want: map[string]any{"type": "press", "key": "PageDown"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(parsePayload(t, tc.in))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}

			again := Normalize(Normalize(parsePayload(t, tc.in)))
			if diff := cmp.Diff(got, again); diff != "" {
				t.Errorf("Normalize() is not idempotent (-once +twice):\n%s", diff)
			}
		})
	}
}

func TestNormalize_Nil(t *testing.T) {
	if Normalize(nil) != nil {
		t.Fatal("expected nil")
	}
}
