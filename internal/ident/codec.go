package ident

import (
	"fmt"

	"github.com/sqids/sqids-go"
)

// MinLength is the shortest code Generate will produce.
const MinLength = 5

// Codec encodes sequence numbers into codes over Alphabet. It is immutable
// after construction and safe for concurrent use.
type Codec struct {
	enc *sqids.Sqids
}

// NewCodec builds the encoder once.
func NewCodec() (*Codec, error) {
	enc, err := sqids.New(sqids.Options{
		Alphabet:  alphabet,
		MinLength: MinLength,
	})
	if err != nil {
		return nil, fmt.Errorf("ident: build encoder: %w", err)
	}
	return &Codec{enc: enc}, nil
}

// MustCodec is NewCodec that panics on error. The alphabet is a constant so
// this only fails on a programming mistake.
func MustCodec() *Codec {
	c, err := NewCodec()
	if err != nil {
		panic(err)
	}
	return c
}

// Generate returns the code for seq. The same seq always yields the same code.
func (c *Codec) Generate(seq uint64) (string, error) {
	id, err := c.enc.Encode([]uint64{seq})
	if err != nil {
		return "", fmt.Errorf("ident: encode %d: %w", seq, err)
	}
	return id, nil
}

// Decode reverses Generate, so a generated id maps back to the sequence value
// it was allocated from. ok is false when id is not a canonical code, which
// includes every custom id outside the generated shape. The request path
// never needs the sequence value back.
func (c *Codec) Decode(id string) (seq uint64, ok bool) {
	nums := c.enc.Decode(id)
	if len(nums) != 1 {
		return 0, false
	}
	if again, err := c.Generate(nums[0]); err != nil || again != id {
		return 0, false
	}
	return nums[0], true
}
