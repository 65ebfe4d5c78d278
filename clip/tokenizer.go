package clip

import (
	"encoding/json"
	"fmt"
	"html"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const wordSuffix = "</w>"

var (
	wordPattern  = regexp.MustCompile(`(?i)<\|startoftext\|>|<\|endoftext\|>|'s|'t|'re|'ve|'m|'ll|'d|\p{L}+|\p{N}|[^\s\p{L}\p{N}]+`)
	spacePattern = regexp.MustCompile(`\s+`)
	byteEncoder  = bytesToUnicode()
)

type mergePair struct {
	left, right string
}

// Tokenizer is a CLIP byte-level BPE tokenizer. It is immutable after
// construction and safe for concurrent use.
type Tokenizer struct {
	vocab  map[string]int
	ranks  map[mergePair]int
	maxLen int
}

// NewTokenizer builds a tokenizer from a vocabulary and merges in rank
// order. maxLen bounds the token count of one sequence including the start
// and end tokens; 0 means unbounded.
func NewTokenizer(vocab map[string]int, merges [][2]string, maxLen int) *Tokenizer {
	t := &Tokenizer{
		vocab:  make(map[string]int, len(vocab)),
		ranks:  make(map[mergePair]int, len(merges)),
		maxLen: maxLen,
	}
	for k, v := range vocab {
		t.vocab[k] = v
	}
	for i, m := range merges {
		p := mergePair{m[0], m[1]}
		if _, ok := t.ranks[p]; !ok {
			t.ranks[p] = i
		}
	}
	return t
}

type tokenizerFile struct {
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
	} `json:"added_tokens"`
	Model struct {
		Type   string            `json:"type"`
		Vocab  map[string]int    `json:"vocab"`
		Merges []json.RawMessage `json:"merges"`
	} `json:"model"`
}

// LoadTokenizer reads a Hugging Face tokenizer.json holding a BPE model.
func LoadTokenizer(path string, maxLen int) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTokenizer(data, maxLen)
}

func ParseTokenizer(data []byte, maxLen int) (*Tokenizer, error) {
	var f tokenizerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if f.Model.Type != "" && f.Model.Type != "BPE" {
		return nil, fmt.Errorf("unsupported tokenizer model %q", f.Model.Type)
	}
	if len(f.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer.json has an empty vocabulary")
	}

	vocab := f.Model.Vocab
	for _, at := range f.AddedTokens {
		vocab[at.Content] = at.ID
	}

	merges := make([][2]string, 0, len(f.Model.Merges))
	for i, raw := range f.Model.Merges {
		m, err := parseMerge(raw)
		if err != nil {
			return nil, fmt.Errorf("merge %d: %w", i, err)
		}
		merges = append(merges, m)
	}
	return NewTokenizer(vocab, merges, maxLen), nil
}

// merges are either "a b" strings or ["a", "b"] pairs depending on the
// tokenizers version that wrote the file.
func parseMerge(raw json.RawMessage) ([2]string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		left, right, ok := strings.Cut(s, " ")
		if !ok {
			return [2]string{}, fmt.Errorf("malformed merge %q", s)
		}
		return [2]string{left, right}, nil
	}
	var pair []string
	if err := json.Unmarshal(raw, &pair); err != nil {
		return [2]string{}, err
	}
	if len(pair) != 2 {
		return [2]string{}, fmt.Errorf("merge has %d parts", len(pair))
	}
	return [2]string{pair[0], pair[1]}, nil
}

// PadID looks up the end-of-text token used for padding.
func (t *Tokenizer) PadID() (int64, error) {
	id, ok := t.vocab[PadToken]
	if !ok {
		return 0, ErrMissingPadToken
	}
	return int64(id), nil
}

// Encode returns <|startoftext|> tokens... <|endoftext|> for one string.
func (t *Tokenizer) Encode(text string) ([]int64, error) {
	start, ok := t.vocab[StartToken]
	if !ok {
		return nil, &VocabularyError{Token: StartToken}
	}
	end, err := t.PadID()
	if err != nil {
		return nil, err
	}

	ids := []int64{int64(start)}
	for _, word := range wordPattern.FindAllString(normalize(text), -1) {
		if word == StartToken || word == PadToken {
			ids = append(ids, int64(t.vocab[word]))
			continue
		}
		for _, sym := range t.bpe(encodeBytes(word)) {
			id, ok := t.vocab[sym]
			if !ok {
				return nil, &VocabularyError{Token: sym}
			}
			ids = append(ids, int64(id))
		}
	}
	return append(ids, end), nil
}

// Tokenize encodes every topic and right-pads each sequence to the longest
// one with the pad id. Any failure fails the whole batch.
func (t *Tokenizer) Tokenize(topics []string) (*TokenBatch, []string, error) {
	if len(topics) == 0 {
		return nil, nil, ErrEmptyBatch
	}
	pad, err := t.PadID()
	if err != nil {
		return nil, nil, err
	}

	batch := &TokenBatch{
		IDs:     make([][]int64, len(topics)),
		Lengths: make([]int, len(topics)),
		PadID:   pad,
	}
	maxLen := 0
	for i, topic := range topics {
		ids, err := t.Encode(topic)
		if err != nil {
			return nil, nil, err
		}
		if t.maxLen > 0 && len(ids) > t.maxLen {
			return nil, nil, &SequenceTooLongError{Index: i, Length: len(ids), Max: t.maxLen}
		}
		batch.IDs[i] = ids
		batch.Lengths[i] = len(ids)
		maxLen = max(maxLen, len(ids))
	}

	for i, ids := range batch.IDs {
		for len(ids) < maxLen {
			ids = append(ids, pad)
		}
		batch.IDs[i] = ids
	}

	originals := make([]string, len(topics))
	copy(originals, topics)
	return batch, originals, nil
}

func (t *Tokenizer) bpe(word []string) []string {
	if len(word) == 0 {
		return nil
	}
	word[len(word)-1] += wordSuffix

	for len(word) > 1 {
		best := -1
		bestRank := 0
		for i := 0; i < len(word)-1; i++ {
			rank, ok := t.ranks[mergePair{word[i], word[i+1]}]
			if ok && (best < 0 || rank < bestRank) {
				best, bestRank = i, rank
			}
		}
		if best < 0 {
			break
		}
		left, right := word[best], word[best+1]
		merged := word[:0:0]
		for i := 0; i < len(word); i++ {
			if i < len(word)-1 && word[i] == left && word[i+1] == right {
				merged = append(merged, left+right)
				i++
				continue
			}
			merged = append(merged, word[i])
		}
		word = merged
	}
	return word
}

func normalize(text string) string {
	text = html.UnescapeString(html.UnescapeString(text))
	text = norm.NFC.String(text)
	text = spacePattern.ReplaceAllString(text, " ")
	return strings.ToLower(strings.TrimSpace(text))
}

// encodeBytes maps each byte of s to its printable stand-in symbol.
func encodeBytes(s string) []string {
	out := make([]string, len(s))
	for i := 0; i < len(s); i++ {
		out[i] = string(byteEncoder[s[i]])
	}
	return out
}

// bytesToUnicode is the GPT-2/CLIP reversible byte to rune table: printable
// latin-1 bytes map to themselves, the rest to runes from U+0100 upward.
func bytesToUnicode() [256]rune {
	var table [256]rune
	printable := func(b int) bool {
		return (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
	}
	n := 0
	for b := 0; b < 256; b++ {
		if printable(b) {
			table[b] = rune(b)
		} else {
			table[b] = rune(256 + n)
			n++
		}
	}
	return table
}
