// Copyright (c) 2016, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package syntax

// byteReader is the low-level cursor the parser scans source bytes
// with. It is kept separate from the grammar in parser.go so that the
// "this is the lexical layer" boundary from spec.md §1 stays visible,
// even though, unlike a token-stream lexer, shell syntax requires
// scanning words character by character interleaved with grammar
// decisions (quoting changes what counts as an operator).
type byteReader struct {
	src []byte
	pos int // next unread byte
}

func (b *byteReader) eof() bool { return b.pos >= len(b.src) }

// at returns the byte at pos+off, or 0 past the end.
func (b *byteReader) at(off int) byte {
	i := b.pos + off
	if i < 0 || i >= len(b.src) {
		return 0
	}
	return b.src[i]
}

func (b *byteReader) cur() byte { return b.at(0) }

func (b *byteReader) advance() byte {
	c := b.cur()
	if !b.eof() {
		b.pos++
	}
	return c
}

func (b *byteReader) pposition() Pos { return Pos(b.pos + 1) }

// skipBlank consumes spaces and tabs, but not newlines.
func (b *byteReader) skipBlank() {
	for !b.eof() {
		switch b.cur() {
		case ' ', '\t':
			b.pos++
		case '\\':
			if b.at(1) == '\n' {
				b.pos += 2
				continue
			}
			return
		default:
			return
		}
	}
}

// skipBlankAndComment consumes spaces/tabs, and a single trailing
// comment if one starts at the resulting position.
func (b *byteReader) skipBlankAndComment() {
	b.skipBlank()
	if !b.eof() && b.cur() == '#' {
		for !b.eof() && b.cur() != '\n' {
			b.pos++
		}
	}
}

func isOperatorByte(c byte) bool {
	switch c {
	case ';', '&', '|', '<', '>', '(', ')', '\n':
		return true
	}
	return false
}

func isWordBreak(c byte) bool {
	switch c {
	case 0, ' ', '\t', '\n', ';', '&', '|', '<', '>', '(', ')':
		return true
	}
	return false
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameByte(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
