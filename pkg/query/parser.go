package query

import (
	"strconv"

	"github.com/serengeti-db/serengeti/pkg/errs"
)

// Parser turns a token stream into a Statement. It determines the
// statement type from the leading keyword, then dispatches to one
// clause-by-clause recursive-descent routine per statement kind, per
// a leading-keyword probe and clause-by-clause descent.
type Parser struct {
	toks []Token
	pos  int
	src  string
}

// Parse tokenizes and parses one SQL statement.
func Parse(src string) (*Statement, error) {
	toks := NewLexer(src).Tokenize()
	p := &Parser{toks: toks, src: src}
	return p.parseStatement()
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.toks) {
		return Token{Type: TokenEOF, Pos: len(p.src)}
	}
	return p.toks[p.pos]
}

func (p *Parser) peekAt(offset int) Token {
	idx := p.pos + offset
	if idx >= len(p.toks) {
		return Token{Type: TokenEOF, Pos: len(p.src)}
	}
	return p.toks[idx]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.peek()
	if tok.Type != tt {
		return tok, &errs.ParseError{Message: "expected " + tt.String() + ", got " + tok.Type.String(), Position: tok.Pos}
	}
	return p.advance(), nil
}

func (p *Parser) parseStatement() (*Statement, error) {
	switch p.peek().Type {
	case TokenSelect:
		return p.parseSelect()
	case TokenInsert:
		return p.parseInsert()
	case TokenUpdate:
		return p.parseUpdate()
	case TokenDelete:
		return p.parseDelete()
	case TokenCreate:
		return p.parseCreate()
	case TokenDrop:
		return p.parseDrop()
	case TokenShow:
		return p.parseShow()
	default:
		return nil, &errs.ParseError{Message: "unrecognized statement", Position: p.peek().Pos}
	}
}

// parseTableRef parses `db.table`.
func (p *Parser) parseTableRef() (TableRef, error) {
	db, err := p.expect(TokenIdentifier)
	if err != nil {
		return TableRef{}, err
	}
	if _, err := p.expect(TokenDot); err != nil {
		return TableRef{}, err
	}
	table, err := p.expect(TokenIdentifier)
	if err != nil {
		return TableRef{}, err
	}
	return TableRef{Database: db.Value, Table: table.Value}, nil
}

// SELECT cols FROM db.table [WHERE ...] [ORDER BY ...] [LIMIT ...]
func (p *Parser) parseSelect() (*Statement, error) {
	p.advance() // SELECT
	stmt := &Statement{Type: StmtSelect}

	cols, err := p.parseColumnList()
	if err != nil {
		return nil, err
	}
	stmt.Columns = cols

	if _, err := p.expect(TokenFrom); err != nil {
		return nil, err
	}
	table, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	stmt.Table = table

	// Joins are not part of this grammar, so parsing stays single-FROM;
	// a two-table join is a Statement built with Join and JoinColumn set
	// and run through Executor.ExecuteStatement.

	if p.peek().Type == TokenWhere {
		p.advance()
		pred, pred2, err := p.parseWhereClause()
		if err != nil {
			return nil, err
		}
		stmt.Where = pred
		stmt.Where2 = pred2
	}

	if p.peek().Type == TokenOrder {
		p.advance()
		if _, err := p.expect(TokenBy); err != nil {
			return nil, err
		}
		terms, err := p.parseOrderByList()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = terms
	}

	if p.peek().Type == TokenLimit {
		lim, err := p.parseLimit()
		if err != nil {
			return nil, err
		}
		stmt.Limit = lim
	}

	return stmt, nil
}

func (p *Parser) parseColumnList() ([]string, error) {
	if p.peek().Type == TokenStar {
		p.advance()
		return []string{"*"}, nil
	}
	var cols []string
	for {
		id, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		cols = append(cols, id.Value)
		if p.peek().Type != TokenComma {
			break
		}
		p.advance()
	}
	return cols, nil
}

func (p *Parser) parseOrderByList() ([]OrderTerm, error) {
	var terms []OrderTerm
	for {
		id, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		term := OrderTerm{Column: id.Value}
		switch p.peek().Type {
		case TokenAsc:
			p.advance()
		case TokenDesc:
			p.advance()
			term.Desc = true
		}
		terms = append(terms, term)
		if p.peek().Type != TokenComma {
			break
		}
		p.advance()
	}
	return terms, nil
}

// parseLimit handles both `LIMIT n` and `LIMIT offset, n`.
func (p *Parser) parseLimit() (LimitClause, error) {
	p.advance() // LIMIT
	first, err := p.expect(TokenNumber)
	if err != nil {
		return LimitClause{}, err
	}
	n1, _ := strconv.Atoi(first.Value)

	if p.peek().Type == TokenComma {
		p.advance()
		second, err := p.expect(TokenNumber)
		if err != nil {
			return LimitClause{}, err
		}
		n2, _ := strconv.Atoi(second.Value)
		return LimitClause{Offset: n1, Count: n2, Set: true}, nil
	}
	return LimitClause{Count: n1, Set: true}, nil
}

// parseWhereClause parses one predicate, optionally AND-ed with a second
// (the two-sided range form `col>=lo AND col<hi`); the grammar does not
// support arbitrary boolean trees beyond that.
func (p *Parser) parseWhereClause() (*Predicate, *Predicate, error) {
	first, err := p.parsePredicate()
	if err != nil {
		return nil, nil, err
	}
	if p.peek().Type != TokenAnd {
		return first, nil, nil
	}
	p.advance()
	second, err := p.parsePredicate()
	if err != nil {
		return nil, nil, err
	}
	return first, second, nil
}

// parsePredicate parses `column op value`. The operator is
// located as the leftmost operator token after the column identifier,
// with multi-char operators (<=, >=, <>) matched before single-char ones
// — the lexer already performs that longest-match, so here it is just
// "next token after the column is the operator."
func (p *Parser) parsePredicate() (*Predicate, error) {
	if p.peek().Type == TokenFuzzy {
		p.advance()
		return p.parseFuzzyCall("")
	}

	col, err := p.expect(TokenIdentifier)
	if err != nil {
		return nil, err
	}
	opTok := p.advance()
	op, ok := operatorFor(opTok.Type)
	if !ok {
		return nil, &errs.ParseError{Message: "expected comparison operator, got " + opTok.Type.String(), Position: opTok.Pos}
	}

	pred := &Predicate{Column: col.Value, Op: op}

	if op == OpIn {
		list, err := p.parseLiteralList()
		if err != nil {
			return nil, err
		}
		pred.Value = Literal{List: list}
		return pred, nil
	}

	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	pred.Value = lit
	return pred, nil
}

// parseFuzzyCall parses `FUZZY(col, val[, distance])`; the distance
// defaults to 2 when omitted.
func (p *Parser) parseFuzzyCall(fallbackCol string) (*Predicate, error) {
	if _, err := p.expect(TokenLeftParen); err != nil {
		return nil, err
	}
	col, err := p.expect(TokenIdentifier)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenComma); err != nil {
		return nil, err
	}
	val, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	dist := 2
	if p.peek().Type == TokenComma {
		p.advance()
		distTok, err := p.expect(TokenNumber)
		if err != nil {
			return nil, err
		}
		d, _ := strconv.Atoi(distTok.Value)
		dist = d
	}
	if _, err := p.expect(TokenRightParen); err != nil {
		return nil, err
	}
	return &Predicate{Column: col.Value, Op: OpFuzzy, Value: val, FuzzyDistance: dist}, nil
}

func (p *Parser) parseLiteralList() ([]Literal, error) {
	if _, err := p.expect(TokenLeftParen); err != nil {
		return nil, err
	}
	var out []Literal
	for {
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		out = append(out, lit)
		if p.peek().Type != TokenComma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(TokenRightParen); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Parser) parseLiteral() (Literal, error) {
	tok := p.advance()
	switch tok.Type {
	case TokenString:
		return Literal{Str: tok.Value, IsStr: true}, nil
	case TokenNumber:
		n, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return Literal{}, &errs.ParseError{Message: "invalid number " + tok.Value, Position: tok.Pos}
		}
		return Literal{Num: n, IsNum: true}, nil
	case TokenTrue:
		return Literal{Bool: true, IsBool: true}, nil
	case TokenFalse:
		return Literal{Bool: false, IsBool: true}, nil
	case TokenNull:
		return Literal{}, nil
	default:
		return Literal{}, &errs.ParseError{Message: "expected literal, got " + tok.Type.String(), Position: tok.Pos}
	}
}

func operatorFor(tt TokenType) (Operator, bool) {
	switch tt {
	case TokenEquals:
		return OpEquals, true
	case TokenNotEquals:
		return OpNotEquals, true
	case TokenLessThan:
		return OpLessThan, true
	case TokenGreaterThan:
		return OpGreaterThan, true
	case TokenLessEquals:
		return OpLessEquals, true
	case TokenGreaterEquals:
		return OpGreaterEquals, true
	case TokenLike:
		return OpLike, true
	case TokenIn:
		return OpIn, true
	case TokenContains:
		return OpContains, true
	case TokenRegex:
		return OpRegex, true
	case TokenFuzzy:
		return OpFuzzy, true
	default:
		return 0, false
	}
}

// INSERT INTO db.table (cols) VALUES (vals)
func (p *Parser) parseInsert() (*Statement, error) {
	p.advance() // INSERT
	if _, err := p.expect(TokenInto); err != nil {
		return nil, err
	}
	table, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	stmt := &Statement{Type: StmtInsert, Table: table}

	if _, err := p.expect(TokenLeftParen); err != nil {
		return nil, err
	}
	cols, err := p.parseIdentList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRightParen); err != nil {
		return nil, err
	}
	stmt.InsertColumns = cols

	if _, err := p.expect(TokenValues); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLeftParen); err != nil {
		return nil, err
	}
	vals, err := p.parseLiteralCommaList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRightParen); err != nil {
		return nil, err
	}
	stmt.InsertValues = vals

	if len(stmt.InsertColumns) != len(stmt.InsertValues) {
		return nil, &errs.ParseError{Message: "column/value count mismatch", Position: p.peek().Pos}
	}
	return stmt, nil
}

func (p *Parser) parseIdentList() ([]string, error) {
	var out []string
	for {
		id, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		out = append(out, id.Value)
		if p.peek().Type != TokenComma {
			break
		}
		p.advance()
	}
	return out, nil
}

func (p *Parser) parseLiteralCommaList() ([]Literal, error) {
	var out []Literal
	for {
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		out = append(out, lit)
		if p.peek().Type != TokenComma {
			break
		}
		p.advance()
	}
	return out, nil
}

// UPDATE db.table SET col=val[, ...] WHERE col op val
func (p *Parser) parseUpdate() (*Statement, error) {
	p.advance() // UPDATE
	table, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	stmt := &Statement{Type: StmtUpdate, Table: table}

	if _, err := p.expect(TokenSet); err != nil {
		return nil, err
	}
	for {
		col, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenEquals); err != nil {
			return nil, err
		}
		val, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		stmt.SetColumns = append(stmt.SetColumns, col.Value)
		stmt.SetValues = append(stmt.SetValues, val)
		if p.peek().Type != TokenComma {
			break
		}
		p.advance()
	}

	if p.peek().Type == TokenWhere {
		p.advance()
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		stmt.Where = pred
	}
	return stmt, nil
}

// DELETE FROM db.table [WHERE col op val] — the WHERE is one predicate
// with any operator, as in UPDATE; unlike SELECT, no AND-ed second
// predicate is parsed.
func (p *Parser) parseDelete() (*Statement, error) {
	p.advance() // DELETE
	if _, err := p.expect(TokenFrom); err != nil {
		return nil, err
	}
	table, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	stmt := &Statement{Type: StmtDelete, Table: table}

	if p.peek().Type == TokenWhere {
		p.advance()
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		stmt.Where = pred
	}
	return stmt, nil
}

// CREATE DATABASE name | CREATE TABLE db.table | CREATE INDEX ON db.table(col)
func (p *Parser) parseCreate() (*Statement, error) {
	p.advance() // CREATE
	switch p.peek().Type {
	case TokenDatabase:
		p.advance()
		name, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		return &Statement{Type: StmtCreateDatabase, Name: name.Value}, nil
	case TokenTable:
		p.advance()
		table, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		return &Statement{Type: StmtCreateTable, Table: table}, nil
	case TokenIndex:
		p.advance()
		if _, err := p.expect(TokenOn); err != nil {
			return nil, err
		}
		table, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenLeftParen); err != nil {
			return nil, err
		}
		col, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRightParen); err != nil {
			return nil, err
		}
		return &Statement{Type: StmtCreateIndex, Table: table, IndexColumn: col.Value}, nil
	default:
		return nil, &errs.ParseError{Message: "expected DATABASE, TABLE, or INDEX after CREATE", Position: p.peek().Pos}
	}
}

// DROP DATABASE name | DROP TABLE db.table | DROP INDEX db.table(col)
func (p *Parser) parseDrop() (*Statement, error) {
	p.advance() // DROP
	switch p.peek().Type {
	case TokenDatabase:
		p.advance()
		name, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		return &Statement{Type: StmtDropDatabase, Name: name.Value}, nil
	case TokenTable:
		p.advance()
		table, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		return &Statement{Type: StmtDropTable, Table: table}, nil
	case TokenIndex:
		p.advance()
		table, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenLeftParen); err != nil {
			return nil, err
		}
		col, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRightParen); err != nil {
			return nil, err
		}
		return &Statement{Type: StmtDropIndex, Table: table, IndexColumn: col.Value}, nil
	default:
		return nil, &errs.ParseError{Message: "expected DATABASE, TABLE, or INDEX after DROP", Position: p.peek().Pos}
	}
}

// SHOW DATABASES | SHOW TABLES | SHOW INDEXES
// parseShow handles SHOW DATABASES, SHOW TABLES FROM db, and
// SHOW INDEXES FROM db.table. There is no session-scoped current
// database, so TABLES and INDEXES name their target explicitly.
func (p *Parser) parseShow() (*Statement, error) {
	p.advance() // SHOW
	switch p.peek().Type {
	case TokenDatabases:
		p.advance()
		return &Statement{Type: StmtShowDatabases}, nil
	case TokenTables:
		p.advance()
		if _, err := p.expect(TokenFrom); err != nil {
			return nil, &errs.ParseError{Message: "SHOW TABLES requires FROM <database>", Position: p.peek().Pos}
		}
		db, err := p.expect(TokenIdentifier)
		if err != nil {
			return nil, err
		}
		return &Statement{Type: StmtShowTables, Table: TableRef{Database: db.Value}}, nil
	case TokenIndexes:
		p.advance()
		if _, err := p.expect(TokenFrom); err != nil {
			return nil, &errs.ParseError{Message: "SHOW INDEXES requires FROM <database>.<table>", Position: p.peek().Pos}
		}
		ref, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		return &Statement{Type: StmtShowIndexes, Table: ref}, nil
	default:
		return nil, &errs.ParseError{Message: "expected DATABASES, TABLES, or INDEXES after SHOW", Position: p.peek().Pos}
	}
}
