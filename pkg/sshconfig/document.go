package sshconfig

import (
	"fmt"
	"strings"
)

// Document is an SSH config file split around one managed block.
//
// Prologue + Block + Epilogue is always the original content. Block runs from
// the first byte of the start marker line through the line terminator of the
// end marker line.
type Document struct {
	Prologue string
	Block    string
	Epilogue string

	// HasBlock reports whether both markers were found.
	HasBlock bool

	// LineEnding is "\r\n" when the content contains any CRLF, "\n" when it
	// is non-empty otherwise, and "" for empty content.
	LineEnding string
}

// Parse splits content around the block delimited by startMarker and
// endMarker. Markers are matched against whole lines with surrounding
// whitespace ignored, so markers belonging to other deployments never match.
func Parse(content, startMarker, endMarker string) (*Document, error) {
	doc := &Document{LineEnding: detectLineEnding(content)}

	startAt, endAt := -1, -1
	blockEnd := 0
	starts, ends := 0, 0

	offset := 0
	for offset < len(content) {
		next := strings.IndexByte(content[offset:], '\n')
		lineEnd := len(content)
		if next >= 0 {
			lineEnd = offset + next + 1
		}

		switch strings.TrimSpace(content[offset:lineEnd]) {
		case startMarker:
			starts++
			if startAt < 0 {
				startAt = offset
			}
		case endMarker:
			ends++
			if endAt < 0 {
				endAt = offset
				blockEnd = lineEnd
			}
		}

		offset = lineEnd
	}

	switch {
	case starts == 0 && ends == 0:
		doc.Prologue = content
		return doc, nil
	case starts > 1:
		return nil, &MalformedConfigError{Reason: fmt.Sprintf("found %d start markers %q", starts, startMarker)}
	case ends > 1:
		return nil, &MalformedConfigError{Reason: fmt.Sprintf("found %d end markers %q", ends, endMarker)}
	case ends == 0:
		return nil, &MalformedConfigError{Reason: fmt.Sprintf("start marker %q has no matching end marker", startMarker)}
	case starts == 0:
		return nil, &MalformedConfigError{Reason: fmt.Sprintf("end marker %q has no matching start marker", endMarker)}
	case endAt < startAt:
		return nil, &MalformedConfigError{Reason: fmt.Sprintf("end marker %q appears before start marker", endMarker)}
	}

	doc.Prologue = content[:startAt]
	doc.Block = content[startAt:blockEnd]
	doc.Epilogue = content[blockEnd:]
	doc.HasBlock = true

	return doc, nil
}

// WithBlock returns the content with the managed block replaced by block, or
// with block appended when the document has none. block must not carry a
// trailing line terminator; eol is used for every terminator added here.
func (d *Document) WithBlock(block, eol string) string {
	if d.HasBlock {
		return d.Prologue + block + eol + d.Epilogue
	}

	if d.Prologue == "" {
		return block + eol
	}

	var b strings.Builder
	b.WriteString(d.Prologue)
	if !strings.HasSuffix(d.Prologue, "\n") {
		b.WriteString(eol)
	}
	if !endsWithBlankLine(b.String()) {
		b.WriteString(eol)
	}
	b.WriteString(block)
	b.WriteString(eol)
	return b.String()
}

// WithoutBlock returns the content with the managed block removed. Trailing
// blank lines left behind collapse to a single line terminator. Without a
// block the content is returned unchanged.
func (d *Document) WithoutBlock(eol string) string {
	if !d.HasBlock {
		return d.Prologue
	}

	if strings.TrimSpace(d.Epilogue) != "" {
		return d.Prologue + d.Epilogue
	}

	rest := strings.TrimRight(d.Prologue, "\r\n")
	if strings.TrimSpace(rest) == "" {
		return ""
	}
	return rest + eol
}

func detectLineEnding(content string) string {
	switch {
	case strings.Contains(content, "\r\n"):
		return "\r\n"
	case content != "":
		return "\n"
	default:
		return ""
	}
}

func endsWithBlankLine(s string) bool {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.HasSuffix(s, "\n\n")
}
