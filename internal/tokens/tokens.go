// Package tokens provides token counting for budget accounting. It uses the
// tiktoken BPE tables when they can be initialized and falls back to a
// chars/4 approximation otherwise.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// CharsPerToken is the approximation ratio used when no encoder is available.
const CharsPerToken = 4

// Counter counts tokens in text. The zero value is not usable; construct
// with NewCounter.
type Counter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewCounter returns a counter backed by the cl100k_base encoding when it
// initializes, or the approximation fallback when it does not (the encoding
// tables may be unavailable offline).
func NewCounter() *Counter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Counter{}
	}
	return &Counter{enc: enc}
}

// Count returns the token count of text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc == nil {
		return approximate(text)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// Exact reports whether counts come from a real tokenizer rather than the
// approximation.
func (c *Counter) Exact() bool { return c.enc != nil }

func approximate(text string) int {
	n := (len(text) + CharsPerToken - 1) / CharsPerToken
	if n < 1 {
		n = 1
	}
	return n
}
