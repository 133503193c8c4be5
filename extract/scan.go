package extract

import (
	"errors"
	"strings"
)

var errMissingFields = errors.New("form payload has no fields")

// fencedBlock is one complete fenced code block found in a text blob.
type fencedBlock struct {
	info  string
	body  string
	start int // offset of the opening fence
	end   int // offset just past the closing fence line
}

// findFencedBlock returns the first complete fenced block whose info string
// satisfies match. A block is complete only when both fences are present; a
// dangling opening fence (the normal case mid-stream) does not match.
func findFencedBlock(text string, match func(info string) bool) (fencedBlock, bool) {
	offset := 0
	for {
		idx := strings.Index(text[offset:], "```")
		if idx < 0 {
			return fencedBlock{}, false
		}
		start := offset + idx
		if start > 0 && text[start-1] != '\n' {
			offset = start + 3
			continue
		}

		nl := strings.IndexByte(text[start:], '\n')
		if nl < 0 {
			// Opening fence whose line has not finished streaming.
			return fencedBlock{}, false
		}
		info := strings.TrimSpace(text[start+3 : start+nl])
		bodyStart := start + nl + 1

		if !match(info) {
			offset = bodyStart
			continue
		}

		bodyEnd, end, ok := findClosingFence(text, bodyStart)
		if !ok {
			// Open fence with no closing fence yet: not a block.
			return fencedBlock{}, false
		}
		return fencedBlock{
			info:  info,
			body:  text[bodyStart:bodyEnd],
			start: start,
			end:   end,
		}, true
	}
}

// findClosingFence scans line by line from offset for a bare ``` line. It
// returns the offset where the body ends and the offset just past the fence
// line.
func findClosingFence(text string, offset int) (bodyEnd, end int, ok bool) {
	for i := offset; i <= len(text); {
		lineEnd := strings.IndexByte(text[i:], '\n')
		var line string
		var next int
		if lineEnd < 0 {
			line = text[i:]
			next = len(text)
		} else {
			line = text[i : i+lineEnd]
			next = i + lineEnd + 1
		}

		if strings.TrimSpace(line) == "```" {
			return i, next, true
		}
		if lineEnd < 0 {
			break
		}
		i = next
	}
	return 0, 0, false
}
