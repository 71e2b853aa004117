package urcode

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Parts look like "ur:bytes/2-5/<data>": one-based sequence number, total
// fragment count, then the fragment body.
const partPrefix = "ur:bytes/"

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Encoder splits a payload into bounded fragments and cycles through them
// endlessly. One full cycle carries the whole payload.
type Encoder struct {
	parts []string
	idx   int
}

// NewEncoder fragments payload so no fragment body exceeds
// maxFragmentLen payload bytes.
func NewEncoder(payload []byte, maxFragmentLen int) (*Encoder, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	if maxFragmentLen <= 0 {
		return nil, fmt.Errorf("invalid fragment length %d", maxFragmentLen)
	}

	total := (len(payload) + maxFragmentLen - 1) / maxFragmentLen
	parts := make([]string, 0, total)
	for i := 0; i < total; i++ {
		lo := i * maxFragmentLen
		hi := min(lo+maxFragmentLen, len(payload))
		body := encoding.EncodeToString(payload[lo:hi])
		parts = append(parts, fmt.Sprintf("%s%d-%d/%s", partPrefix, i+1, total, strings.ToLower(body)))
	}
	return &Encoder{parts: parts}, nil
}

// Len returns the fragment count of one full cycle.
func (e *Encoder) Len() int { return len(e.parts) }

// CurrentPart returns the fragment the cycle is positioned on.
func (e *Encoder) CurrentPart() string { return e.parts[e.idx] }

// NextPart advances the cycle and returns the new fragment. The sequence
// wraps around and never ends.
func (e *Encoder) NextPart() string {
	e.idx = (e.idx + 1) % len(e.parts)
	return e.parts[e.idx]
}

// Decode reassembles the payload from one full cycle of parts, in any
// order. Duplicate parts are fine; missing ones are an error.
func Decode(parts []string) ([]byte, error) {
	if len(parts) == 0 {
		return nil, errors.New("no parts")
	}

	total := 0
	frags := map[int][]byte{}
	for _, part := range parts {
		seq, n, body, err := splitPart(part)
		if err != nil {
			return nil, err
		}
		if total == 0 {
			total = n
		} else if n != total {
			return nil, fmt.Errorf("part claims %d fragments, others claim %d", n, total)
		}
		raw, err := encoding.DecodeString(strings.ToUpper(body))
		if err != nil {
			return nil, fmt.Errorf("fragment %d: %w", seq, err)
		}
		frags[seq] = raw
	}

	var out []byte
	for i := 1; i <= total; i++ {
		raw, ok := frags[i]
		if !ok {
			return nil, fmt.Errorf("missing fragment %d of %d", i, total)
		}
		out = append(out, raw...)
	}
	return out, nil
}

func splitPart(part string) (seq, total int, body string, err error) {
	rest, ok := strings.CutPrefix(part, partPrefix)
	if !ok {
		return 0, 0, "", fmt.Errorf("not a ur part: %q", part)
	}
	head, body, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, "", fmt.Errorf("malformed part: %q", part)
	}
	a, b, ok := strings.Cut(head, "-")
	if !ok {
		return 0, 0, "", fmt.Errorf("malformed sequence in %q", part)
	}
	seq, err = strconv.Atoi(a)
	if err != nil {
		return 0, 0, "", err
	}
	total, err = strconv.Atoi(b)
	if err != nil {
		return 0, 0, "", err
	}
	if seq < 1 || total < 1 || seq > total {
		return 0, 0, "", fmt.Errorf("sequence %d-%d out of range", seq, total)
	}
	return seq, total, body, nil
}
