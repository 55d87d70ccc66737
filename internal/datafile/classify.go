package datafile

import "strings"

// Kind is the read/write classification of a SQL string.
type Kind int

const (
	// KindWrite statements run through Exec and report changes.
	KindWrite Kind = iota
	// KindRead statements run through Query and return rows.
	KindRead
)

// String returns "read" or "write".
func (k Kind) String() string {
	if k == KindRead {
		return "read"
	}
	return "write"
}

// Classification is the result of Classify.
type Classification struct {
	Kind Kind
	// Keyword is the lower-cased leading keyword of the first statement.
	Keyword string
	// Statements is the number of non-empty statements in the input.
	Statements int
	// SQL is the input with empty statements and comments between statements
	// removed, so the driver never prepares a blank tail.
	SQL string
}

type tokenType int

const (
	tokEOF tokenType = iota
	tokWord
	tokString
	tokSymbol
)

type token struct {
	typ  tokenType
	text string
	// start and end are byte offsets into the source
	start, end int
}

type statement struct {
	toks []token
}

// source returns the text from the first to the last token of st.
func (st statement) source(src string) string {
	return src[st.toks[0].start:st.toks[len(st.toks)-1].end]
}

// lexer splits SQL into words, quoted literals and single-byte symbols,
// dropping whitespace and comments.
type lexer struct {
	src string
	pos int
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			l.pos++
		case strings.HasPrefix(l.src[l.pos:], "--"):
			if idx := strings.IndexByte(l.src[l.pos:], '\n'); idx >= 0 {
				l.pos += idx + 1
			} else {
				l.pos = len(l.src)
			}
		case strings.HasPrefix(l.src[l.pos:], "/*"):
			if idx := strings.Index(l.src[l.pos+2:], "*/"); idx >= 0 {
				l.pos += idx + 4
			} else {
				l.pos = len(l.src)
			}
		default:
			return
		}
	}
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (l *lexer) readQuoted(closing byte) {
	// opening quote
	l.pos++
	for l.pos < len(l.src) {
		if l.src[l.pos] == closing {
			// doubled quote is an escaped quote
			if closing != ']' && l.pos+1 < len(l.src) && l.src[l.pos+1] == closing {
				l.pos += 2
				continue
			}
			l.pos++
			return
		}
		l.pos++
	}
}

func (l *lexer) next() token {
	l.skipSpaceAndComments()
	if l.pos >= len(l.src) {
		return token{typ: tokEOF, start: l.pos, end: l.pos}
	}

	start := l.pos
	c := l.src[l.pos]
	switch {
	case isWordByte(c):
		for l.pos < len(l.src) && isWordByte(l.src[l.pos]) {
			l.pos++
		}
		return token{typ: tokWord, text: strings.ToLower(l.src[start:l.pos]), start: start, end: l.pos}
	case c == '\'' || c == '"' || c == '`':
		l.readQuoted(c)
		return token{typ: tokString, text: l.src[start:l.pos], start: start, end: l.pos}
	case c == '[':
		l.readQuoted(']')
		return token{typ: tokString, text: l.src[start:l.pos], start: start, end: l.pos}
	default:
		l.pos++
		return token{typ: tokSymbol, text: string(c), start: start, end: l.pos}
	}
}

// splitStatements tokenizes sql and groups the tokens by top-level semicolons,
// empty statements are dropped.
func splitStatements(sql string) []statement {
	l := &lexer{src: sql}
	var (
		stmts   []statement
		current []token
	)
	for {
		tok := l.next()
		if tok.typ == tokEOF {
			break
		}
		if tok.typ == tokSymbol && tok.text == ";" {
			if len(current) > 0 {
				stmts = append(stmts, statement{toks: current})
			}
			current = nil
			continue
		}
		current = append(current, tok)
	}
	if len(current) > 0 {
		stmts = append(stmts, statement{toks: current})
	}
	return stmts
}

// Classify decides whether sql reads or writes.
//
// SELECT, VALUES, EXPLAIN, PRAGMA without assignment and WITH ... SELECT are
// reads. Everything else, including any multi-statement batch, is a write.
// Input without any statement has Statements == 0 and an empty SQL.
func Classify(sql string) Classification {
	stmts := splitStatements(sql)
	cls := Classification{Kind: KindWrite, Statements: len(stmts)}
	if len(stmts) == 0 {
		return cls
	}

	parts := make([]string, 0, len(stmts))
	for _, st := range stmts {
		parts = append(parts, st.source(sql))
	}
	cls.SQL = strings.Join(parts, ";\n")

	toks := stmts[0].toks
	i := 0
	for i < len(toks) && toks[i].typ == tokSymbol && toks[i].text == "(" {
		i++
	}
	if i >= len(toks) || toks[i].typ != tokWord {
		return cls
	}
	cls.Keyword = toks[i].text
	if len(stmts) > 1 {
		return cls
	}

	switch cls.Keyword {
	case "select", "values", "explain":
		cls.Kind = KindRead
	case "pragma":
		if !hasSymbol(toks[i+1:], "=") {
			cls.Kind = KindRead
		}
	case "with":
		if mainVerb(toks[i+1:]) == "select" {
			cls.Kind = KindRead
		}
	}

	return cls
}

func hasSymbol(toks []token, sym string) bool {
	for _, tok := range toks {
		if tok.typ == tokSymbol && tok.text == sym {
			return true
		}
	}
	return false
}

// mainVerb returns the first DML keyword outside parentheses, which is the
// statement a WITH clause feeds.
func mainVerb(toks []token) string {
	depth := 0
	for _, tok := range toks {
		switch {
		case tok.typ == tokSymbol && tok.text == "(":
			depth++
		case tok.typ == tokSymbol && tok.text == ")":
			if depth > 0 {
				depth--
			}
		case depth == 0 && tok.typ == tokWord:
			switch tok.text {
			case "select", "values", "insert", "update", "delete", "replace":
				if tok.text == "values" {
					return "select"
				}
				return tok.text
			}
		}
	}
	return ""
}
