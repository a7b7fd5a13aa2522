package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"
)

// JSONSplitter cuts a nested JSON object into self-contained JSON objects,
// each no larger than maxChunkSize characters when serialized.
//
// Fragments keep the full key path from the root, so merging them back
// together reproduces the input. Lists are only rewritten when they have
// to be split: their elements are then addressed by decimal index keys.
// A single leaf that is larger than the budget on its own is emitted as a
// fragment by itself; callers decide what to do with it.
type JSONSplitter struct {
	maxChunkSize int
}

// NewJSONSplitter creates a splitter with the given budget in characters.
func NewJSONSplitter(maxChunkSize int) *JSONSplitter {
	return &JSONSplitter{maxChunkSize: maxChunkSize}
}

// MaxChunkSize returns the splitter budget.
func (s *JSONSplitter) MaxChunkSize() int {
	return s.maxChunkSize
}

type entry struct {
	key   string
	value interface{}
}

type splitState struct {
	chunks []map[string]interface{}
}

func (st *splitState) current() map[string]interface{} {
	return st.chunks[len(st.chunks)-1]
}

func (st *splitState) startChunk() {
	if len(st.current()) == 0 {
		return
	}
	st.chunks = append(st.chunks, map[string]interface{}{})
}

// Split returns the serialized fragments of data in a stable order.
func (s *JSONSplitter) Split(data map[string]interface{}) ([]string, error) {
	whole, err := marshalJSON(data)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCount(whole) <= s.maxChunkSize {
		return []string{string(whole)}, nil
	}

	st := &splitState{chunks: []map[string]interface{}{{}}}
	if err := s.splitEntries(st, childEntries(data), nil); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(st.chunks))
	for _, chunk := range st.chunks {
		if len(chunk) == 0 {
			continue
		}
		b, err := marshalJSON(chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}

func (s *JSONSplitter) splitEntries(st *splitState, entries []entry, path []string) error {
	for _, e := range entries {
		childPath := append(path[:len(path):len(path)], e.key)

		fits, err := s.tryAdd(st.current(), childPath, e.value)
		if err != nil {
			return err
		}
		if fits {
			continue
		}

		// Does not fit next to what is already there. Keep it whole in a
		// fresh fragment if it can stand alone.
		aloneSize, err := jsonSize(nest(childPath, e.value))
		if err != nil {
			return err
		}
		if aloneSize <= s.maxChunkSize {
			st.startChunk()
			setNested(st.current(), childPath, e.value)
			continue
		}

		if children := childEntries(e.value); children != nil {
			if err := s.splitEntries(st, children, childPath); err != nil {
				return err
			}
			continue
		}

		// Oversized leaf: isolate it.
		st.startChunk()
		setNested(st.current(), childPath, e.value)
		st.startChunk()
	}
	return nil
}

// tryAdd places value at path in chunk and keeps it there only if the
// chunk still fits the budget.
func (s *JSONSplitter) tryAdd(chunk map[string]interface{}, path []string, value interface{}) (bool, error) {
	undo := setNested(chunk, path, value)
	size, err := jsonSize(chunk)
	if err != nil {
		undo()
		return false, err
	}
	if size > s.maxChunkSize {
		undo()
		return false, nil
	}
	return true, nil
}

// childEntries returns the entries of a non-empty object (sorted by key) or
// list (in index order), or nil for anything that cannot be split further.
func childEntries(v interface{}) []entry {
	switch val := v.(type) {
	case map[string]interface{}:
		if len(val) == 0 {
			return nil
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]entry, len(keys))
		for i, k := range keys {
			entries[i] = entry{key: k, value: val[k]}
		}
		return entries
	case []interface{}:
		if len(val) == 0 {
			return nil
		}
		entries := make([]entry, len(val))
		for i, item := range val {
			entries[i] = entry{key: strconv.Itoa(i), value: item}
		}
		return entries
	default:
		return nil
	}
}

// setNested stores value under path, creating intermediate objects, and
// returns a func that removes exactly what was added.
func setNested(root map[string]interface{}, path []string, value interface{}) func() {
	var undo func()
	cur := root
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[key] = next
			if undo == nil {
				parent, k := cur, key
				undo = func() { delete(parent, k) }
			}
		}
		cur = next
	}

	last := path[len(path)-1]
	cur[last] = value
	if undo == nil {
		parent := cur
		undo = func() { delete(parent, last) }
	}
	return undo
}

func nest(path []string, value interface{}) map[string]interface{} {
	root := map[string]interface{}{}
	setNested(root, path, value)
	return root
}

func jsonSize(v interface{}) (int, error) {
	b, err := marshalJSON(v)
	if err != nil {
		return 0, err
	}
	return utf8.RuneCount(b), nil
}

// marshalJSON is compact JSON without HTML escaping, so sizes match the
// text that gets embedded.
func marshalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to serialize fragment: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
