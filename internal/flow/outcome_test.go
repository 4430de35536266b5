package flow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome_StrictEquality(t *testing.T) {
	assert.True(t, BoolOutcome(true).Equal(BoolOutcome(true)))
	assert.False(t, BoolOutcome(true).Equal(BoolOutcome(false)))
	assert.False(t, BoolOutcome(true).Equal(StringOutcome("true")))
	assert.True(t, StringOutcome("manual").Equal(StringOutcome("manual")))
	assert.False(t, Outcome{}.Equal(Outcome{}))
}

func TestParseOutcome_Coercion(t *testing.T) {
	tests := []struct {
		in   string
		want Outcome
	}{
		{"true", BoolOutcome(true)},
		{"  FALSE ", BoolOutcome(false)},
		{`"true"`, StringOutcome("true")},
		{`'review'`, StringOutcome("review")},
		{"manual review", StringOutcome("manual review")},
		{"1", StringOutcome("1")},
	}

	for _, tt := range tests {
		got := ParseOutcome(tt.in)
		assert.Truef(t, got.Equal(tt.want), "ParseOutcome(%q) = %s, want %s", tt.in, got, tt.want)
	}
}

func TestOutcome_JSONKeepsType(t *testing.T) {
	var out struct {
		A Outcome `json:"a"`
		B Outcome `json:"b"`
		C Outcome `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":true,"b":"true","c":null}`), &out))

	assert.True(t, out.A.Equal(BoolOutcome(true)))
	assert.True(t, out.B.Equal(StringOutcome("true")))
	assert.False(t, out.C.IsSet())

	err := json.Unmarshal([]byte(`{"a":12}`), &out)
	assert.ErrorIs(t, err, ErrBadOutcome)

	b, err := json.Marshal(out.A)
	require.NoError(t, err)
	assert.Equal(t, "true", string(b))
}

func TestPayload_Object(t *testing.T) {
	obj, err := Payload(`{"age": 20}`).Object()
	require.NoError(t, err)
	assert.Equal(t, float64(20), obj["age"])

	obj, err = Payload("").Object()
	require.NoError(t, err)
	assert.Empty(t, obj)

	_, err = Payload(`[1,2]`).Object()
	assert.ErrorIs(t, err, ErrBadPayload)

	_, err = Payload(`null`).Object()
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestPayload_AcceptsInlineObject(t *testing.T) {
	var p struct {
		Input Payload `json:"input"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"input": {"age": 20, "name": "x"}}`), &p))
	assert.JSONEq(t, `{"age":20,"name":"x"}`, string(p.Input))

	require.NoError(t, json.Unmarshal([]byte(`{"input": "{\"age\": 1}"}`), &p))
	assert.Equal(t, `{"age": 1}`, string(p.Input))
}
