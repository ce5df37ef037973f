package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/krau/visualnarrator/errs"
)

// Load reads a tokenizer artifact. JSON files are Keras Tokenizer.to_json()
// exports or a bare {"word": index} object. Anything else is read as a
// vocabulary list with one word per line, numbered from 1.
//
// Pickled Python tokenizers are not supported, export them with to_json().
func Load(path string) (*Tokenizer, error) {
	var (
		t   *Tokenizer
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		t, err = loadJSON(path)
	case ".pkl", ".pickle":
		err = fmt.Errorf("pickle artifacts are not supported, export the tokenizer with to_json()")
	default:
		t, err = loadVocab(path)
	}
	if err != nil {
		return nil, errs.TokenizerUnavailable("load tokenizer "+path, err)
	}
	if len(t.wordIndex) == 0 {
		return nil, errs.TokenizerUnavailable("load tokenizer "+path, fmt.Errorf("empty vocabulary"))
	}
	return t, nil
}

func ReadLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(b), "\n")
	var words []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			words = append(words, l)
		}
	}
	return words, nil
}

func loadVocab(path string) (*Tokenizer, error) {
	words, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	wordIndex := make(map[string]int, len(words))
	for i, w := range words {
		if _, dup := wordIndex[w]; dup {
			return nil, fmt.Errorf("duplicate word %q on line %d", w, i+1)
		}
		wordIndex[w] = i + 1
	}
	return New(wordIndex, nil, DefaultOptions()), nil
}

type kerasTokenizer struct {
	ClassName string       `json:"class_name"`
	Config    *kerasConfig `json:"config"`
}

type kerasConfig struct {
	NumWords  *int    `json:"num_words"`
	Filters   *string `json:"filters"`
	Lower     *bool   `json:"lower"`
	Split     *string `json:"split"`
	CharLevel bool    `json:"char_level"`
	OOVToken  *string `json:"oov_token"`
	// Keras stores these two as JSON-encoded strings.
	WordIndex any `json:"word_index"`
	IndexWord any `json:"index_word"`
}

func loadJSON(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var kt kerasTokenizer
	if err := sonic.Unmarshal(data, &kt); err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer json: %w", err)
	}
	if kt.Config == nil {
		var plain map[string]int
		if err := sonic.Unmarshal(data, &plain); err != nil {
			return nil, fmt.Errorf("tokenizer json has neither a Keras config nor a word index: %w", err)
		}
		return New(plain, nil, DefaultOptions()), nil
	}

	c := kt.Config
	wordIndex, err := parseWordIndex(c.WordIndex)
	if err != nil {
		return nil, fmt.Errorf("word_index: %w", err)
	}
	var indexWord map[int]string
	if c.IndexWord != nil {
		if indexWord, err = parseIndexWord(c.IndexWord); err != nil {
			return nil, fmt.Errorf("index_word: %w", err)
		}
	}

	opts := DefaultOptions()
	opts.Filters = c.Filters
	opts.CharLevel = c.CharLevel
	if c.NumWords != nil {
		opts.NumWords = *c.NumWords
	}
	if c.Lower != nil {
		opts.Lower = *c.Lower
	}
	if c.Split != nil {
		opts.Split = *c.Split
	}
	if c.OOVToken != nil {
		opts.OOVToken = *c.OOVToken
	}
	return New(wordIndex, indexWord, opts), nil
}

// decodeNested unwraps a value that is either an object or a string holding one.
func decodeNested(v any) (map[string]any, error) {
	switch x := v.(type) {
	case map[string]any:
		return x, nil
	case string:
		var m map[string]any
		if err := sonic.UnmarshalString(x, &m); err != nil {
			return nil, err
		}
		return m, nil
	case nil:
		return nil, fmt.Errorf("missing")
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}
}

func parseWordIndex(v any) (map[string]int, error) {
	m, err := decodeNested(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(m))
	for w, raw := range m {
		i, err := toIndex(raw)
		if err != nil {
			return nil, fmt.Errorf("word %q: %w", w, err)
		}
		out[w] = i
	}
	return out, nil
}

func parseIndexWord(v any) (map[int]string, error) {
	m, err := decodeNested(v)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string, len(m))
	for k, raw := range m {
		i, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("index %q: %w", k, err)
		}
		w, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("index %d: expected string, got %T", i, raw)
		}
		out[i] = w
	}
	return out, nil
}

func toIndex(v any) (int, error) {
	switch x := v.(type) {
	case float64:
		if x != float64(int(x)) || x < 1 {
			return 0, fmt.Errorf("invalid index %v", x)
		}
		return int(x), nil
	case int64:
		if x < 1 {
			return 0, fmt.Errorf("invalid index %d", x)
		}
		return int(x), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
