package completion

import "strings"

const defaultCollectorMinChars = 16

// DeltaCollector coalesces token-sized streamed deltas into phrase-ish chunks
// so browser clients don't receive a firehose of single-token frames.
type DeltaCollector struct {
	minChars int
	firstMin int

	pending string
	emitted string
}

func NewDeltaCollector(minChars int) *DeltaCollector {
	if minChars <= 0 {
		minChars = defaultCollectorMinChars
	}
	// First emission happens as soon as there is "something" so the UI starts
	// updating quickly; later chunks can be larger for smoother flow.
	firstMin := minChars / 4
	if firstMin < 2 {
		firstMin = 2
	}
	if firstMin > minChars {
		firstMin = minChars
	}
	return &DeltaCollector{
		minChars: minChars,
		firstMin: firstMin,
	}
}

// Consume buffers a delta and returns any chunks ready to emit.
func (c *DeltaCollector) Consume(delta string) []string {
	if delta == "" {
		return nil
	}
	c.pending += delta
	return c.flush(false)
}

// Finalize drains whatever is still buffered at end of stream.
func (c *DeltaCollector) Finalize() []string {
	return c.flush(true)
}

func (c *DeltaCollector) flush(force bool) []string {
	var out []string
	for {
		threshold := c.minChars
		if c.emitted == "" {
			threshold = c.firstMin
		}

		segment, rest, ok := nextStreamSegment(c.pending, threshold, force)
		if !ok {
			break
		}
		c.pending = rest
		if c.emitted == "" && len(out) == 0 {
			segment = strings.TrimLeft(segment, " \t\r\n")
		}
		if strings.TrimSpace(segment) == "" {
			continue
		}
		out = append(out, segment)
		c.emitted += segment
	}
	return out
}

func nextStreamSegment(input string, minChars int, force bool) (segment, rest string, ok bool) {
	if input == "" {
		return "", "", false
	}
	if force {
		return input, "", true
	}

	if idx := boundaryAfterMin(input, minChars); idx >= 0 {
		return input[:idx+1], input[idx+1:], true
	}

	// Enough text buffered without punctuation: flush at a whitespace cut to
	// keep first-chunk latency low.
	if len(input) >= minChars*2 {
		cut := whitespaceCut(input, minChars)
		return input[:cut], input[cut:], true
	}
	return "", input, false
}

func boundaryAfterMin(input string, minChars int) int {
	if minChars < 1 {
		minChars = 1
	}
	for i := minChars - 1; i < len(input); i++ {
		switch input[i] {
		case '.', '!', '?', '\n':
			return i
		}
	}
	return -1
}

func whitespaceCut(input string, minChars int) int {
	if minChars < 1 {
		minChars = 1
	}
	if len(input) <= minChars {
		return len(input)
	}
	limit := minChars + 20
	if limit > len(input) {
		limit = len(input)
	}
	for i := minChars; i < limit; i++ {
		switch input[i] {
		case ' ', '\t', '\n', '\r':
			return i
		}
	}
	return minChars
}
