// Package tokenizer maps caption words to the integer indices the sequence
// model was trained on, following the Keras text Tokenizer conventions.
package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// DefaultFilters is the Keras default set of characters stripped before splitting.
const DefaultFilters = "!\"#$%&()*+,-./:;<=>?@[\\]^_`{|}~\t\n"

type Tokenizer struct {
	wordIndex map[string]int
	indexWord map[int]string
	// 0 means unlimited
	numWords  int
	oovToken  string
	oovIndex  int
	filters   string
	lower     bool
	split     string
	charLevel bool
}

type Options struct {
	NumWords  int
	OOVToken  string
	Filters   *string
	Lower     bool
	Split     string
	CharLevel bool
}

func DefaultOptions() Options {
	return Options{Lower: true, Split: " "}
}

// New builds a tokenizer from a word index. The reverse mapping is derived
// from it unless indexWord is given.
func New(wordIndex map[string]int, indexWord map[int]string, opts Options) *Tokenizer {
	t := &Tokenizer{
		wordIndex: make(map[string]int, len(wordIndex)),
		numWords:  opts.NumWords,
		oovToken:  opts.OOVToken,
		filters:   DefaultFilters,
		lower:     opts.Lower,
		split:     opts.Split,
		charLevel: opts.CharLevel,
	}
	if opts.Filters != nil {
		t.filters = *opts.Filters
	}
	if t.split == "" {
		t.split = " "
	}
	for w, i := range wordIndex {
		t.wordIndex[w] = i
	}
	if indexWord != nil {
		t.indexWord = make(map[int]string, len(indexWord))
		for i, w := range indexWord {
			t.indexWord[i] = w
		}
	} else {
		t.indexWord = make(map[int]string, len(wordIndex))
		for w, i := range wordIndex {
			t.indexWord[i] = w
		}
	}
	if t.oovToken != "" {
		t.oovIndex = t.wordIndex[t.oovToken]
	}
	return t
}

// Encode converts words into indices. Unknown words, and words whose index is
// not below NumWords, map to the OOV index when an OOV token is configured and
// are dropped otherwise.
func (t *Tokenizer) Encode(words []string) []int {
	var out []int
	for _, w := range t.textToWords(strings.Join(words, t.split)) {
		i, ok := t.wordIndex[w]
		if ok && (t.numWords == 0 || i < t.numWords) {
			out = append(out, i)
			continue
		}
		if t.oovIndex != 0 {
			out = append(out, t.oovIndex)
		}
	}
	return out
}

// Word returns the word for index i. ok is false for indices outside the
// vocabulary, including the padding index 0.
func (t *Tokenizer) Word(i int) (string, bool) {
	w, ok := t.indexWord[i]
	return w, ok
}

func (t *Tokenizer) Index(word string) (int, bool) {
	i, ok := t.wordIndex[word]
	return i, ok
}

// VocabSize is the width of the model's output distribution: the largest
// index plus one for the padding slot, capped by NumWords.
func (t *Tokenizer) VocabSize() int {
	if t.numWords > 0 {
		return t.numWords
	}
	maxIndex := 0
	for i := range t.indexWord {
		maxIndex = max(maxIndex, i)
	}
	return maxIndex + 1
}

func (t *Tokenizer) OOVToken() string { return t.oovToken }

func (t *Tokenizer) textToWords(text string) []string {
	if t.lower {
		text = strings.ToLower(text)
	}
	if t.charLevel {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune(t.filters, r) {
			b.WriteString(t.split)
		} else {
			b.WriteRune(r)
		}
	}
	parts := strings.Split(b.String(), t.split)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
