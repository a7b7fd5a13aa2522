package services

import (
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// leaves flattens a JSON value into path -> leaf. Lists use index keys,
// so a list kept whole and a list split by index flatten the same way.
func leaves(prefix string, v interface{}, out map[string]interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		if len(val) == 0 {
			out[prefix] = val
			return
		}
		for k, child := range val {
			leaves(prefix+"/"+k, child, out)
		}
	case []interface{}:
		if len(val) == 0 {
			out[prefix] = val
			return
		}
		for i, child := range val {
			leaves(prefix+"/"+strconv.Itoa(i), child, out)
		}
	default:
		out[prefix] = val
	}
}

func fragmentLeaves(t *testing.T, fragments []string) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	for _, f := range fragments {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(f), &m))
		part := map[string]interface{}{}
		leaves("", m, part)
		for k, v := range part {
			_, dup := out[k]
			require.False(t, dup, "leaf %s appears in more than one fragment", k)
			out[k] = v
		}
	}
	return out
}

func roundTrip(t *testing.T, v map[string]interface{}) map[string]interface{} {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func bigRecord() map[string]interface{} {
	devices := make([]interface{}, 0, 40)
	for i := 0; i < 40; i++ {
		devices = append(devices, map[string]interface{}{
			"name":         "Device " + strconv.Itoa(i),
			"serial":       strings.Repeat("x", 30),
			"manufacturer": "Acme",
		})
	}
	return map[string]interface{}{
		"rig": map[string]interface{}{
			"rig_id":  "447_FIP",
			"devices": devices,
			"notes":   strings.Repeat("n", 200),
		},
		"session": map[string]interface{}{
			"session_type": "FIP",
			"streams":      []interface{}{map[string]interface{}{"stream": strings.Repeat("s", 120)}},
		},
		"subject":    map[string]interface{}{"subject_id": "S1", "sex": "Female"},
		"procedures": map[string]interface{}{},
	}
}

func TestSplit_FitsReturnsWhole(t *testing.T) {
	data := map[string]interface{}{"subject": map[string]interface{}{"subject_id": "S1"}, "tags": []interface{}{"a", "b"}}
	whole, err := json.Marshal(data)
	require.NoError(t, err)

	fragments, err := NewJSONSplitter(len(whole)).Split(data)
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.JSONEq(t, string(whole), fragments[0])

	fragments, err = NewJSONSplitter(8192).Split(data)
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.JSONEq(t, string(whole), fragments[0])
}

func TestSplit_EmptyObject(t *testing.T) {
	fragments, err := NewJSONSplitter(10).Split(map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, []string{"{}"}, fragments)
}

func TestSplit_RespectsBudgetAndIsLossless(t *testing.T) {
	data := roundTrip(t, bigRecord())

	for _, budget := range []int{120, 300, 1000} {
		fragments, err := NewJSONSplitter(budget).Split(data)
		require.NoError(t, err)
		require.Greater(t, len(fragments), 1, "budget %d", budget)

		for _, f := range fragments {
			if utf8.RuneCountInString(f) > budget {
				// Only a single leaf that cannot be split further may exceed the budget.
				part := map[string]interface{}{}
				var m map[string]interface{}
				require.NoError(t, json.Unmarshal([]byte(f), &m))
				leaves("", m, part)
				assert.Len(t, part, 1, "over-budget fragment with several leaves at budget %d: %s", budget, f)
			}
		}

		want := map[string]interface{}{}
		leaves("", data, want)
		assert.Equal(t, want, fragmentLeaves(t, fragments), "budget %d", budget)
	}
}

func TestSplit_KeepsSmallSectionsWhole(t *testing.T) {
	data := roundTrip(t, bigRecord())
	fragments, err := NewJSONSplitter(1000).Split(data)
	require.NoError(t, err)

	var subjectFragments int
	for _, f := range fragments {
		if strings.Contains(f, `"subject":{"sex":"Female","subject_id":"S1"}`) {
			subjectFragments++
		}
	}
	assert.Equal(t, 1, subjectFragments)
}

func TestSplit_OversizedLeafIsIsolated(t *testing.T) {
	data := map[string]interface{}{
		"a": "small",
		"b": strings.Repeat("z", 500),
		"c": "also small",
	}

	fragments, err := NewJSONSplitter(100).Split(data)
	require.NoError(t, err)
	require.Len(t, fragments, 3)
	assert.Equal(t, `{"a":"small"}`, fragments[0])
	assert.Equal(t, `{"b":"`+strings.Repeat("z", 500)+`"}`, fragments[1])
	assert.Equal(t, `{"c":"also small"}`, fragments[2])
}

func TestSplit_ListsSplitByIndex(t *testing.T) {
	items := []interface{}{strings.Repeat("a", 40), strings.Repeat("b", 40), strings.Repeat("c", 40)}
	data := map[string]interface{}{"procedures": map[string]interface{}{"steps": items}}

	fragments, err := NewJSONSplitter(80).Split(data)
	require.NoError(t, err)
	require.Len(t, fragments, 3)
	assert.Equal(t, `{"procedures":{"steps":{"0":"`+strings.Repeat("a", 40)+`"}}}`, fragments[0])
	assert.Equal(t, `{"procedures":{"steps":{"2":"`+strings.Repeat("c", 40)+`"}}}`, fragments[2])
}

func TestSplit_Deterministic(t *testing.T) {
	data := roundTrip(t, bigRecord())
	first, err := NewJSONSplitter(300).Split(data)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := NewJSONSplitter(300).Split(roundTrip(t, bigRecord()))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSplit_NoHTMLEscaping(t *testing.T) {
	fragments, err := NewJSONSplitter(100).Split(map[string]interface{}{"notes": "a<b & c>d"})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"notes":"a<b & c>d"}`}, fragments)
}
