// Package vocab maps caption token ids to words.
//
// Word ids run from 1 to V. Two ids past the words are reserved: V+1 serves
// both as the start token fed before the first word and as the end token the
// decoder emits when a caption is finished, and V+2 is the padding token.
// Sharing one id between start and end keeps the decoder's output layer at
// exactly V+1 columns. Id 0 only appears in padded ground-truth input.
package vocab

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

var (
	ErrEmpty      = errors.New("vocab: no words")
	ErrMissingID  = errors.New("vocab: ids must be contiguous from 1")
	ErrInvalidKey = errors.New("vocab: invalid token id")
)

// Vocab is an immutable id <-> word table.
type Vocab struct {
	words []string // words[i] is the word with id i+1
	ids   map[string]int
}

// New builds a vocabulary where words[i] receives id i+1.
func New(words []string) (*Vocab, error) {
	if len(words) == 0 {
		return nil, ErrEmpty
	}
	v := &Vocab{
		words: append([]string(nil), words...),
		ids:   make(map[string]int, len(words)),
	}
	for i, w := range v.words {
		if _, dup := v.ids[w]; !dup {
			v.ids[w] = i + 1
		}
	}
	return v, nil
}

// Size returns V, the number of real words.
func (v *Vocab) Size() int { return len(v.words) }

// StartToken is the id fed to the decoder before the first word.
func (v *Vocab) StartToken() int { return len(v.words) + 1 }

// EndToken is the id the decoder emits to finish a caption. It equals
// StartToken.
func (v *Vocab) EndToken() int { return len(v.words) + 1 }

// NullToken is the padding id.
func (v *Vocab) NullToken() int { return len(v.words) + 2 }

// Valid reports whether id is a legal decoder id (1..V+2).
func (v *Vocab) Valid(id int) bool {
	return id >= 1 && id <= v.NullToken()
}

// Word returns the word for a real word id and false for reserved or unknown ids.
func (v *Vocab) Word(id int) (string, bool) {
	if id < 1 || id > len(v.words) {
		return "", false
	}
	return v.words[id-1], true
}

// ID returns the id of word.
func (v *Vocab) ID(word string) (int, bool) {
	id, ok := v.ids[word]
	return id, ok
}

// Decode renders a token sequence as space separated words, stopping at the
// first end token or 0. Padding renders as nothing.
func (v *Vocab) Decode(seq []int) string {
	var sb strings.Builder
	for _, id := range seq {
		if id == 0 || id == v.EndToken() {
			break
		}
		w, ok := v.Word(id)
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(w)
	}
	return sb.String()
}

type fileFormat struct {
	IdxToToken map[string]string `json:"idx_to_token"`
}

// Load reads a vocab.json file of the form {"idx_to_token": {"1": "a", ...}}.
func Load(path string) (*Vocab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes the vocab.json format.
func Parse(data []byte) (*Vocab, error) {
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("vocab: parse: %w", err)
	}
	if len(f.IdxToToken) == 0 {
		return nil, ErrEmpty
	}
	ids := make([]int, 0, len(f.IdxToToken))
	byID := make(map[int]string, len(f.IdxToToken))
	for k, w := range f.IdxToToken {
		id, err := strconv.Atoi(k)
		if err != nil || id < 1 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKey, k)
		}
		ids = append(ids, id)
		byID[id] = w
	}
	sort.Ints(ids)
	words := make([]string, len(ids))
	for i, id := range ids {
		if id != i+1 {
			return nil, fmt.Errorf("%w: missing id %d", ErrMissingID, i+1)
		}
		words[i] = byID[id]
	}
	return New(words)
}

// Marshal encodes v in the vocab.json format.
func (v *Vocab) Marshal() ([]byte, error) {
	f := fileFormat{IdxToToken: make(map[string]string, len(v.words))}
	for i, w := range v.words {
		f.IdxToToken[strconv.Itoa(i+1)] = w
	}
	return json.MarshalIndent(f, "", "  ")
}

// Save writes v to path in the vocab.json format.
func (v *Vocab) Save(path string) error {
	data, err := v.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
