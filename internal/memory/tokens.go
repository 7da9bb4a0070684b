package memory

import (
	"log"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures prompt text against the context budget.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with the cl100k_base encoding, matching what the
// chat models actually tokenize.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

func NewTiktokenCounter() (*TiktokenCounter, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{encoding: encoding}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// HeuristicCounter approximates four characters per token. Used when the
// encoding cannot be loaded (it is fetched on first use).
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	count := len(text) / 4
	if count == 0 {
		count = 1
	}
	return count
}

// NewTokenCounter returns the tiktoken counter, falling back to the
// heuristic when the encoding is unavailable.
func NewTokenCounter() TokenCounter {
	counter, err := NewTiktokenCounter()
	if err != nil {
		log.Printf("cl100k_base encoding unavailable, using heuristic token counter: %v", err)
		return HeuristicCounter{}
	}
	return counter
}
