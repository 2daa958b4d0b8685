// Package extractive implements engine.Backend without an ML runtime. It
// tokenizes with a word/punctuation pattern and "generates" by selecting the
// highest scoring source sentences, which keeps output deterministic and
// lets the service run anywhere.
package extractive

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/localrivet/summaryservice/internal/engine"
)

// BackendName is reported by Name.
const BackendName = "extractive"

// Special and reserved token ids shared by every vocabulary.
const (
	BOS int64 = iota
	PAD
	EOS
	UNK
	period
	exclamation
	question
	firstWordID
)

var reserved = []string{"<s>", "<pad>", "</s>", "<unk>", ".", "!", "?"}

var tokenPattern = regexp.MustCompile(`\w+(?:[-_']\w+)*|[^\w\s]`)

// Backend hands out tokenizers and models. Every tokenizer owns its own
// vocabulary, so the backend keeps no per-identifier state and nothing
// outlives the handles it returned.
type Backend struct {
	allowed map[string]bool
}

// New creates a backend. When identifiers are given, loading any other
// identifier fails with engine.ErrUnknownModel.
func New(identifiers ...string) *Backend {
	b := &Backend{}
	if len(identifiers) > 0 {
		b.allowed = make(map[string]bool, len(identifiers))
		for _, id := range identifiers {
			b.allowed[id] = true
		}
	}
	return b
}

// Name implements engine.Backend.
func (b *Backend) Name() string { return BackendName }

// Devices implements engine.Backend. Only the CPU is offered.
func (b *Backend) Devices(ctx context.Context) ([]engine.Device, error) {
	return []engine.Device{engine.DeviceCPU}, nil
}

// LoadTokenizer implements engine.Backend.
func (b *Backend) LoadTokenizer(ctx context.Context, identifier string) (engine.Tokenizer, error) {
	if err := b.check(ctx, identifier); err != nil {
		return nil, err
	}
	return &Tokenizer{vocab: newVocabulary()}, nil
}

// LoadModel implements engine.Backend. The model only relies on the reserved
// ids, which every vocabulary shares.
func (b *Backend) LoadModel(ctx context.Context, identifier string, device engine.Device) (engine.Model, error) {
	if device != engine.DeviceCPU {
		return nil, fmt.Errorf("extractive: device %q is not available", device)
	}
	if err := b.check(ctx, identifier); err != nil {
		return nil, err
	}
	return &Model{identifier: identifier}, nil
}

func (b *Backend) check(ctx context.Context, identifier string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if identifier == "" || (b.allowed != nil && !b.allowed[identifier]) {
		return fmt.Errorf("%w: %q", engine.ErrUnknownModel, identifier)
	}
	return nil
}

type vocabulary struct {
	mu     sync.RWMutex
	ids    map[string]int64
	tokens []string
}

func newVocabulary() *vocabulary {
	v := &vocabulary{ids: make(map[string]int64, len(reserved))}
	for _, tok := range reserved {
		v.ids[tok] = int64(len(v.tokens))
		v.tokens = append(v.tokens, tok)
	}
	return v
}

func (v *vocabulary) id(token string) int64 {
	v.mu.RLock()
	id, ok := v.ids[token]
	v.mu.RUnlock()
	if ok {
		return id
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.ids[token]; ok {
		return id
	}
	id = int64(len(v.tokens))
	v.ids[token] = id
	v.tokens = append(v.tokens, token)
	return id
}

func (v *vocabulary) size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.tokens)
}

func (v *vocabulary) token(id int64) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if id < 0 || id >= int64(len(v.tokens)) {
		return "", false
	}
	return v.tokens[id], true
}

// Tokenizer implements engine.Tokenizer. Ids are assigned on first sight and
// are only meaningful to the tokenizer that produced them.
type Tokenizer struct {
	vocab  *vocabulary
	mu     sync.Mutex
	closed bool
}

// vocabulary returns nil once the tokenizer is closed.
func (t *Tokenizer) vocabulary() *vocabulary {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	return t.vocab
}

// VocabularySize reports how many distinct tokens the tokenizer has seen,
// reserved tokens included. It is 0 once the tokenizer is closed.
func (t *Tokenizer) VocabularySize() int {
	v := t.vocabulary()
	if v == nil {
		return 0
	}
	return v.size()
}

// Encode wraps the token ids of text in BOS/EOS. A positive maxTokens caps
// the result length, EOS included.
func (t *Tokenizer) Encode(ctx context.Context, text string, maxTokens int) ([]int64, error) {
	vocab := t.vocabulary()
	if vocab == nil {
		return nil, engine.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := tokenPattern.FindAllString(text, -1)
	ids := make([]int64, 0, len(words)+2)
	ids = append(ids, BOS)
	for _, w := range words {
		ids = append(ids, vocab.id(w))
	}

	if maxTokens > 0 && len(ids)+1 > maxTokens {
		if maxTokens < 2 {
			maxTokens = 2
		}
		ids = ids[:maxTokens-1]
	}
	return append(ids, EOS), nil
}

// Decode renders ids as text. Reserved control tokens are dropped when
// skipSpecial is set.
func (t *Tokenizer) Decode(ctx context.Context, ids []int64, skipSpecial bool) (string, error) {
	vocab := t.vocabulary()
	if vocab == nil {
		return "", engine.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	prev := ""
	for _, id := range ids {
		tok, ok := vocab.token(id)
		if !ok {
			tok = reserved[UNK]
			id = UNK
		}
		if id <= UNK && skipSpecial {
			continue
		}
		if b.Len() > 0 && !attachesLeft(tok) && !attachesRight(prev) {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
		prev = tok
	}
	return b.String(), nil
}

// Close implements engine.Tokenizer and drops the vocabulary.
func (t *Tokenizer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.vocab = nil
	return nil
}

func attachesLeft(tok string) bool {
	return len(tok) == 1 && strings.ContainsAny(tok, ".,!?;:%)]}")
}

func attachesRight(tok string) bool {
	return len(tok) == 1 && strings.ContainsAny(tok, "([{$")
}

// Model implements engine.Model by sentence selection.
type Model struct {
	identifier string
	mu         sync.Mutex
	closed     bool
}

// Device implements engine.Model.
func (m *Model) Device() engine.Device { return engine.DeviceCPU }

// Close implements engine.Model.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type sentence struct {
	index int
	ids   []int64
	score float64
}

// Generate selects whole sentences from ids. Sentences are ranked by the
// average corpus frequency of their tokens, chosen greedily while they fit in
// MaxLength and introduce no n-gram already emitted, and returned in source
// order wrapped in BOS/EOS.
func (m *Model) Generate(ctx context.Context, ids []int64, params engine.GenerationParams) ([]int64, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, engine.ErrClosed
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sentences := splitSentences(ids)
	if len(sentences) == 0 {
		return nil, engine.ErrEmptyGeneration
	}
	scoreSentences(sentences)

	ranked := make([]*sentence, len(sentences))
	for i := range sentences {
		ranked[i] = &sentences[i]
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].index < ranked[j].index
	})

	budget := params.MaxLength - 2
	if budget < 1 {
		budget = 1
	}

	chosen := make(map[int]bool)
	seen := make(map[string]bool)
	used := 0

	pick := func(s *sentence, checkNgrams bool) {
		if chosen[s.index] || used+len(s.ids) > budget {
			return
		}
		grams := ngrams(s.ids, params.NoRepeatNgramSize)
		if checkNgrams {
			for _, g := range grams {
				if seen[g] {
					return
				}
			}
		}
		for _, g := range grams {
			seen[g] = true
		}
		chosen[s.index] = true
		used += len(s.ids)
	}

	for _, s := range ranked {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pick(s, true)
	}
	if used < params.MinLength {
		for _, s := range ranked {
			pick(s, false)
		}
	}

	out := make([]int64, 0, used+2)
	out = append(out, BOS)
	if len(chosen) == 0 {
		first := sentences[0].ids
		if len(first) > budget {
			first = first[:budget]
		}
		out = append(out, first...)
	} else {
		for _, s := range sentences {
			if chosen[s.index] {
				out = append(out, s.ids...)
			}
		}
	}
	return append(out, EOS), nil
}

func splitSentences(ids []int64) []sentence {
	var (
		out []sentence
		cur []int64
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, sentence{index: len(out), ids: cur})
			cur = nil
		}
	}
	for _, id := range ids {
		if id == BOS || id == PAD || id == EOS {
			continue
		}
		cur = append(cur, id)
		if id == period || id == exclamation || id == question {
			flush()
		}
	}
	flush()
	return out
}

func scoreSentences(sentences []sentence) {
	freq := make(map[int64]int)
	for _, s := range sentences {
		for _, id := range s.ids {
			if id >= firstWordID {
				freq[id]++
			}
		}
	}
	for i := range sentences {
		total, words := 0, 0
		for _, id := range sentences[i].ids {
			if id >= firstWordID {
				total += freq[id]
				words++
			}
		}
		if words > 0 {
			sentences[i].score = float64(total) / float64(words)
		}
	}
}

func ngrams(ids []int64, n int) []string {
	if n <= 0 || len(ids) < n {
		return nil
	}
	out := make([]string, 0, len(ids)-n+1)
	for i := 0; i+n <= len(ids); i++ {
		out = append(out, fmt.Sprint(ids[i:i+n]))
	}
	return out
}
