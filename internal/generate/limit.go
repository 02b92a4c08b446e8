package generate

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
	"golang.org/x/time/rate"
)

// RateLimited spaces calls to the wrapped generator.
type RateLimited struct {
	next    Generator
	limiter *rate.Limiter
}

// NewRateLimited allows at most perMinute calls per minute through to next.
// A non-positive perMinute returns next unchanged.
func NewRateLimited(next Generator, perMinute int) Generator {
	if perMinute <= 0 {
		return next
	}
	every := time.Minute / time.Duration(perMinute)
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Every(every), 1)}
}

// Generate waits for the limiter, then calls the wrapped generator.
func (r *RateLimited) Generate(ctx context.Context, signature, body string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", &Error{Op: "rate limit", Err: err}
	}
	return r.next.Generate(ctx, signature, body)
}

// truncationMarker replaces the part of a body cut by Truncating.
const truncationMarker = "\n    # ... (truncated)"

// Truncating caps the size of function bodies sent to the wrapped generator.
type Truncating struct {
	next      Generator
	maxTokens int
	codec     tokenizer.Codec
}

// NewTruncating trims bodies to maxTokens tokens (o200k_base encoding) before
// calling next. A non-positive maxTokens returns next unchanged.
func NewTruncating(next Generator, maxTokens int) (Generator, error) {
	if maxTokens <= 0 {
		return next, nil
	}
	codec, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		return nil, err
	}
	return &Truncating{next: next, maxTokens: maxTokens, codec: codec}, nil
}

// Generate calls the wrapped generator with a possibly shortened body.
func (t *Truncating) Generate(ctx context.Context, signature, body string) (string, error) {
	return t.next.Generate(ctx, signature, t.truncate(body))
}

func (t *Truncating) truncate(body string) string {
	ids, _, err := t.codec.Encode(body)
	if err != nil {
		// Fall back to the usual ~4 bytes per token estimate.
		if limit := t.maxTokens * 4; len(body) > limit {
			return cutAtRune(body, limit) + truncationMarker
		}
		return body
	}
	if len(ids) <= t.maxTokens {
		return body
	}
	text, err := t.codec.Decode(ids[:t.maxTokens])
	if err != nil {
		return body
	}
	// A token boundary can fall inside a multi-byte character.
	return strings.ToValidUTF8(text, "") + truncationMarker
}

// cutAtRune returns at most n leading bytes of s without splitting a UTF-8
// sequence.
func cutAtRune(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
