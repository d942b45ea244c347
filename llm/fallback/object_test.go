package fallback

import (
	"context"
	"testing"

	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/testutil/mocks"
	"github.com/BaSui01/aifallback/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type person struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
	City string `json:"city"`
}

func TestGenerateObject_ParseFailureIsRetried(t *testing.T) {
	h := newHarness(t, textDefaults("a"))
	a := h.add(mocks.NewMockProvider("a").WithTextOutcomes(
		mocks.Outcome{Text: `{"name": "John", "age": }`, Usage: types.ReportedUsage(5, 3, 0)},
		mocks.Outcome{Text: `{"name":"John","age":30,"city":"NYC"}`, Usage: types.ReportedUsage(5, 9, 0)},
	), allCaps)

	res, err := GenerateObject[person](context.Background(), h.d, userPrompt("who"))
	require.NoError(t, err)
	assert.Equal(t, person{Name: "John", Age: 30, City: "NYC"}, res.Object)
	assert.Equal(t, 2, a.CallCount(llm.OpText))
	assert.True(t, a.Calls()[0].Text.JSONMode)

	events := h.events.Events()
	require.Len(t, events, 2)
	assert.Equal(t, types.ErrMalformedOutput, events[0].ErrorCode)
	assert.Equal(t, types.ReportedUsage(5, 3, 0), events[0].Usage, "解析失败的用量仍需记录")
	assert.Equal(t, 1, events[1].RetryCount)
	assert.False(t, events[1].Failed())
	assert.Equal(t, llm.OpObject, events[1].Operation)
}

func TestGenerateObject_ParseFailureFallsBack(t *testing.T) {
	h := newHarness(t, textDefaults("a", "b"))
	h.add(mocks.NewMockProvider("a").WithText("I cannot answer in JSON"), allCaps)
	h.add(mocks.NewMockProvider("b").WithText("```json\n{\"name\":\"Ann\",\"age\":41,\"city\":\"Oslo\"}\n```"), allCaps)

	res, err := GenerateObject[person](context.Background(), h.d, userPrompt("who"))
	require.NoError(t, err)
	assert.Equal(t, "b", res.Backend)
	assert.Equal(t, "Ann", res.Object.Name)
	assert.Contains(t, res.Raw, "```json")
}

func TestGenerateObject_AllMalformed(t *testing.T) {
	h := newHarness(t, textDefaults("a"))
	h.add(mocks.NewMockProvider("a").WithText("nope"), allCaps)

	_, err := GenerateObject[person](context.Background(), h.d, userPrompt("who"))
	require.Error(t, err)
	assert.Equal(t, types.ErrMalformedOutput, types.GetErrorCode(err))
	assert.ErrorContains(t, err, "not valid JSON")
}

func TestGenerateJSON_RawMessage(t *testing.T) {
	h := newHarness(t, textDefaults("a"))
	h.add(mocks.NewMockProvider("a").WithText(`Here you go: [{"id":1},{"id":2}] hope it helps`), allCaps)

	res, err := h.d.GenerateJSON(context.Background(), userPrompt("list"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1},{"id":2}]`, string(res.Object))
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
		{"```\n[1,2]\n```", `[1,2]`},
		{`prefix {"a":{"b":2}} suffix`, `{"a":{"b":2}}`},
		{`[{"a":1}]`, `[{"a":1}]`},
		{`{"list":[1,2]}`, `{"list":[1,2]}`},
		{`no json here`, `no json here`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, extractJSON(tc.in), tc.in)
	}
}
