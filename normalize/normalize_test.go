package normalize

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) *Value {
	t.Helper()
	v, err := Parse([]byte(s))
	require.NoError(t, err)
	return v
}

// ---------------------------------------------------------------------------
// Shapes
// ---------------------------------------------------------------------------

func TestNormalize_Shapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Pair
	}{
		{
			name:  "array of objects",
			input: `[{"id":"1","vi":"xin chào"},{"id":"2","vi":"tạm biệt"}]`,
			want:  []Pair{{"1", "xin chào"}, {"2", "tạm biệt"}},
		},
		{
			name:  "objects without id or text are skipped",
			input: `[{"id":"1","vi":"a"},{"foo":"bar"},{"id":"3"}]`,
			want:  []Pair{{"1", "a"}},
		},
		{
			name:  "tuples",
			input: `[["1","một"],[2,"hai"]]`,
			want:  []Pair{{"1", "một"}, {"2", "hai"}},
		},
		{
			name:  "wrapper object",
			input: `{"translations":[{"key":"a","translation":"một"}]}`,
			want:  []Pair{{"a", "một"}},
		},
		{
			name:  "nested object takes key as id",
			input: `{"greeting":{"vi":"xin chào"}}`,
			want:  []Pair{{"greeting", "xin chào"}},
		},
		{
			name:  "raw scalars under a key",
			input: `{"7":["dòng một","dòng hai"]}`,
			want:  []Pair{{"7", "dòng một"}, {"7", "dòng hai"}},
		},
		{
			name:  "string fallback field",
			input: `[{"id":"1","body":"nội dung"}]`,
			want:  []Pair{{"1", "nội dung"}},
		},
		{
			name:  "joined parts",
			input: `[{"id":"1","parts":["a",{"text":"b"},3]}]`,
			want:  []Pair{{"1", "a\nb\n3"}},
		},
		{
			name:  "numeric id and text",
			input: `[{"id":1,"vi":2.5},{"id":2,"vi":1e3}]`,
			want:  []Pair{{"1", "2.5"}, {"2", "1000"}},
		},
		{
			name:  "object text coerced through alias search",
			input: `[{"id":"1","translation":{"vi":"lồng nhau"}}]`,
			want:  []Pair{{"1", "lồng nhau"}},
		},
		{
			name:  "json string inside a field",
			input: `{"result":"[{\"id\":\"1\",\"vi\":\"chuỗi\"}]"}`,
			want:  []Pair{{"1", "chuỗi"}},
		},
		{
			name:  "wrapper carrying its own id",
			input: `{"id":"batch-7","output":[{"id":"1","vi":"chào"},{"id":"2","vi":"tạm biệt"}]}`,
			want:  []Pair{{"1", "chào"}, {"2", "tạm biệt"}},
		},
		{
			name:  "message with text content parts",
			input: `{"id":"msg_1","content":[{"type":"text","text":"[{\"id\":\"1\",\"vi\":\"chào\"}]"}]}`,
			want:  []Pair{{"1", "chào"}},
		},
		{
			name:  "wrapper with id and item parts",
			input: `{"id":"w","parts":[{"id":"1","vi":"một"},{"id":"2","vi":"hai"}]}`,
			want:  []Pair{{"1", "một"}, {"2", "hai"}},
		},
		{
			name:  "reserved key is not an id",
			input: `{"result":{"text":"xin chào"}}`,
			want:  nil,
		},
		{
			name:  "nothing recoverable",
			input: `{"status":"ok","code":200}`,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(mustParse(t, tt.input))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	first := NormalizeString(`{"data":[{"i":"a","t":"một"},{"i":"b","t":"hai"}]}`)
	require.Len(t, first, 2)

	raw, err := json.Marshal(first)
	require.NoError(t, err)

	again := NormalizeBytes(raw)
	assert.Equal(t, first, again)
}

func TestNormalize_AliasCoverage(t *testing.T) {
	table := DefaultTable()
	for _, idKey := range table.IDKeys {
		for _, textKey := range table.TextKeys {
			obj := Object().Set(idKey, String("1")).Set(textKey, String("xin chào"))

			got := Normalize(obj)
			want := []Pair{{ID: "1", Text: "xin chào"}}
			if !assert.Equal(t, want, got, "object {%q, %q}", idKey, textKey) {
				continue
			}

			got = Normalize(Array(obj))
			assert.Equal(t, want, got, "array of {%q, %q}", idKey, textKey)
		}
	}
}

func TestNormalize_ReservedKeyGuard(t *testing.T) {
	assert.Empty(t, NormalizeString(`{"text":"hello"}`))
	assert.Empty(t, NormalizeString(`{"message":"hello","status":"done"}`))
	assert.Empty(t, NormalizeString(`{"id":"1"}`))
}

func TestNormalize_EmbeddedFence(t *testing.T) {
	got := Normalize(String("```json\n[{\"id\":\"1\",\"vi\":\"chào\"}]\n```"))
	assert.Equal(t, []Pair{{ID: "1", Text: "chào"}}, got)
}

func TestNormalize_MapForm(t *testing.T) {
	got := NormalizeString(`{"1": "chào", "2": "tạm biệt"}`)
	assert.Equal(t, []Pair{{"1", "chào"}, {"2", "tạm biệt"}}, got)
}

func TestNormalize_MapSkipsNulls(t *testing.T) {
	got := NormalizeString(`{"1": "chào", "2": null, "3": true}`)
	assert.Equal(t, []Pair{{"1", "chào"}, {"3", "true"}}, got)
}

// ---------------------------------------------------------------------------
// Cycles
// ---------------------------------------------------------------------------

func TestNormalize_SelfReferentialObject(t *testing.T) {
	obj := Object()
	obj.Set("self", obj)
	obj.Set("inner", Object().Set("id", String("1")).Set("vi", String("chào")))

	got := Normalize(obj)
	assert.Equal(t, []Pair{{"1", "chào"}}, got)
}

func TestNormalize_SelfReferentialArray(t *testing.T) {
	arr := Array()
	arr.Append(arr, arr)
	assert.Empty(t, Normalize(arr))
}

func TestNormalize_SelfReferentialText(t *testing.T) {
	obj := Object().Set("id", String("1"))
	obj.Set("text", obj)
	assert.Empty(t, Normalize(obj))
}

func TestNormalize_CycleFromAny(t *testing.T) {
	m := map[string]any{
		"inner": map[string]any{"id": "9", "vi": "chín"},
	}
	m["loop"] = m

	v := FromAny(m)
	assert.Same(t, v, v.Get("loop"))
	assert.Equal(t, []Pair{{"9", "chín"}}, Normalize(v))
}

// ---------------------------------------------------------------------------
// Strategies
// ---------------------------------------------------------------------------

func TestStrategies_Order(t *testing.T) {
	assert.Equal(t,
		[]string{StrategyObjectPair, StrategyArrayItems, StrategyIDMap, StrategyDescend},
		Default().Strategies())
}

func TestStrategy_ObjectPair(t *testing.T) {
	n := Default()

	got := n.Apply(StrategyObjectPair, mustParse(t, `{"vi":"một"}`), "k")
	assert.Equal(t, []Pair{{"k", "một"}}, got)

	assert.Empty(t, n.Apply(StrategyObjectPair, mustParse(t, `{"vi":"một"}`), ""))
	// Array text never pairs with a borrowed id.
	assert.Empty(t, n.Apply(StrategyObjectPair, mustParse(t, `{"output":["a","b"]}`), "k"))
}

func TestStrategy_ObjectPair_ArrayText(t *testing.T) {
	n := Default()

	// Arrays of scalars and nested arrays are text.
	got := n.Apply(StrategyObjectPair, mustParse(t, `{"id":"1","output":[["a","b"],"c",2]}`), "")
	assert.Equal(t, []Pair{{"1", "a\nb\nc\n2"}}, got)

	// An array holding objects is not.
	assert.Empty(t, n.Apply(StrategyObjectPair, mustParse(t, `{"id":"1","output":[{"vi":"a"}]}`), ""))
	assert.Empty(t, n.Apply(StrategyObjectPair, mustParse(t, `{"id":"1","output":[["a",{"vi":"b"}]]}`), ""))
}

func TestStrategy_Descend_ReservedKeyIsNoFallback(t *testing.T) {
	n := Default()
	got := n.Apply(StrategyDescend, mustParse(t, `{"result":{"vi":"một"},"greeting":{"vi":"hai"}}`), "")
	assert.Equal(t, []Pair{{"greeting", "hai"}}, got)
}

func TestStrategy_ArrayItems(t *testing.T) {
	n := Default()
	mixed := mustParse(t, `["a", 2, null, ["x","y","z"], {"id":"5","vi":"năm"}]`)

	got := n.Apply(StrategyArrayItems, mixed, "f")
	assert.Equal(t, []Pair{{"f", "a"}, {"f", "2"}, {"f", "x\ny\nz"}, {"5", "năm"}}, got)

	got = n.Apply(StrategyArrayItems, mixed, "")
	assert.Equal(t, []Pair{{"5", "năm"}}, got)
}

func TestStrategy_IDMap(t *testing.T) {
	n := Default()
	got := n.Apply(StrategyIDMap, mustParse(t, `{"a":"một","text":"x","b":{"vi":"hai"}}`), "")
	assert.Equal(t, []Pair{{"a", "một"}}, got)
}

func TestStrategy_Descend(t *testing.T) {
	n := Default()
	got := n.Apply(StrategyDescend, mustParse(t, `{"x":{"vi":"một"},"y":[{"id":"2","vi":"hai"}]}`), "")
	assert.Equal(t, []Pair{{"x", "một"}, {"2", "hai"}}, got)
}

func TestStrategy_Unknown(t *testing.T) {
	assert.Nil(t, Default().Apply("bogus", mustParse(t, `{"1":"a"}`), ""))
}

func TestWithReservedKeys(t *testing.T) {
	input := `{"note":"ghi chú","1":"một"}`

	assert.Len(t, NormalizeString(input), 2)

	n := New(DefaultTable().WithReservedKeys("note", " ", "id"))
	assert.Equal(t, []Pair{{"1", "một"}}, n.NormalizeString(input))
}

func TestPositional(t *testing.T) {
	ids := []string{"a", "b"}

	got := Positional(String(`["một","hai"]`), ids)
	assert.Equal(t, []Pair{{"a", "một"}, {"b", "hai"}}, got)

	assert.Nil(t, Positional(mustParse(t, `["một"]`), ids))
	assert.Nil(t, Positional(mustParse(t, `["một",{"x":1}]`), ids))
}

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

func TestExtractEnvelope_FunctionCall(t *testing.T) {
	env := mustParse(t, `{"candidates":[{"content":{"parts":[
		{"text":"ignored"},
		{"functionCall":{"name":"emit","args":{"items":[{"id":"1","vi":"một"}]}}}
	]}}]}`)

	assert.Equal(t, []Pair{{"1", "một"}}, ExtractEnvelope(env))
}

func TestExtractEnvelope_InlineData(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte(`[{"id":"1","vi":"một"}]`))
	env := Object().Set("candidates", Array(
		Object().Set("content", Object().Set("parts", Array(
			Object().Set("inlineData", Object().
				Set("mimeType", String("application/json")).
				Set("data", String(payload))),
		))),
	))

	assert.Equal(t, []Pair{{"1", "một"}}, ExtractEnvelope(env))
}

func TestExtractEnvelope_InlineDataRaw(t *testing.T) {
	env := mustParse(t, `{"candidates":[{"content":{"parts":[
		{"inline_data":{"mime_type":"application/json","data":"{\"1\":\"một\"}"}}
	]}}]}`)

	assert.Equal(t, []Pair{{"1", "một"}}, ExtractEnvelope(env))
}

func TestExtractEnvelope_TextAcrossParts(t *testing.T) {
	env := mustParse(t, `{"candidates":[{"content":{"role":"model","parts":[
		{"text":"thinking","thought":true},
		{"text":"[{\"id\":\"1\","},
		{"text":"\"vi\":\"chào\"}]"}
	]},"finishReason":"STOP","index":0}],"modelVersion":"gemini-2.5-flash"}`)

	assert.Equal(t, []Pair{{"1", "chào"}}, ExtractEnvelope(env))
	assert.Equal(t, `[{"id":"1","vi":"chào"}]`, CandidateText(env))
}

func TestExtractEnvelope_StructuredBeatsEarlierText(t *testing.T) {
	env := mustParse(t, `{"candidates":[
		{"content":{"parts":[{"text":"[{\"id\":\"t\",\"vi\":\"text\"}]"}]}},
		{"content":{"parts":[{"functionCall":{"args":[{"id":"s","vi":"structured"}]}}]}}
	]}`)

	assert.Equal(t, []Pair{{"s", "structured"}}, ExtractEnvelope(env))
}

func TestExtractEnvelope_FirstCandidateWins(t *testing.T) {
	env := mustParse(t, `{"candidates":[
		{"content":{"parts":[{"text":"[{\"id\":\"1\",\"vi\":\"một\"}]"}]}},
		{"content":{"parts":[{"text":"[{\"id\":\"2\",\"vi\":\"hai\"}]"}]}}
	]}`)

	assert.Equal(t, []Pair{{"1", "một"}}, ExtractEnvelope(env))
}

func TestExtractEnvelope_NotAnEnvelope(t *testing.T) {
	assert.Nil(t, ExtractEnvelope(mustParse(t, `[{"id":"1","vi":"một"}]`)))
	assert.Nil(t, ExtractEnvelope(nil))
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

func TestParse_KeepsKeyOrder(t *testing.T) {
	v := mustParse(t, `{"b":1,"a":2,"c":3}`)
	var keys []string
	for _, f := range v.Fields {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"b", "a", "c"}, keys)
}

func TestParse_RejectsTrailingData(t *testing.T) {
	_, err := Parse([]byte(`[1] and more`))
	assert.Error(t, err)
	_, err = Parse([]byte(`[1][2]`))
	assert.Error(t, err)
}

func TestParseEmbeddedJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"plain", `[1,2]`, true},
		{"fence without tag", "```\n{\"a\":1}\n```", true},
		{"prose around array", "Here you go:\n[{\"id\":\"1\"}]\nEnjoy!", true},
		{"invalid escape", `Result: [{"id":"1","vi":"a \& b"}]`, true},
		{"prose only", "Sorry, I cannot help.", false},
		{"broken", "[{\"id\":", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ParseEmbeddedJSON(tt.in)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestParseEmbeddedJSON_RepairedText(t *testing.T) {
	got := NormalizeString(`[{"id":"1","vi":"a \& b"}]`)
	assert.Equal(t, []Pair{{"1", `a \& b`}}, got)
}
