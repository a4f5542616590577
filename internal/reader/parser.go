package reader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/qploader/qploader/internal/item"
	"github.com/qploader/qploader/loaderrors"
)

// parser turns one file's source text into a tree of *item.Item rooted
// at a single top-level item, per spec §4.1. Script expression bodies
// are never tokenized: parseExprText slices them directly out of the
// source so arbitrary expression syntax reaches the evaluator untouched.
type parser struct {
	lex  *lexer
	src  string
	path string
	pool *item.Pool
	file *item.FileContext
	cur  token
}

func newParser(path, src string, pool *item.Pool) *parser {
	return &parser{lex: newLexer(src), src: src, path: path, pool: pool}
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) skipNewlines() error {
	for p.cur.kind == tokNewline || p.cur.kind == tokSemicolon {
		if err := p.advance(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) loc() item.CodeLocation {
	return item.CodeLocation{FilePath: p.path, Line: p.cur.line, Column: p.cur.column}
}

func (p *parser) parseErr(format string, args ...any) error {
	return &loaderrors.ParseError{Location: p.loc(), Message: fmt.Sprintf(format, args...)}
}

// Parse reads the whole file: leading `import` statements followed by
// exactly one top-level item (spec §4.1, §3 "FileContext").
func (p *parser) Parse() (*item.Item, *item.FileContext, error) {
	if err := p.advance(); err != nil {
		return nil, nil, err
	}
	var imports []item.Import
	for {
		if err := p.skipNewlines(); err != nil {
			return nil, nil, err
		}
		if p.cur.kind == tokIdent && p.cur.text == "import" {
			imp, err := p.parseImport()
			if err != nil {
				return nil, nil, err
			}
			imports = append(imports, imp)
			continue
		}
		break
	}

	p.file = item.NewFileContext(p.path, p.src, imports)

	root, err := p.parseItem(nil)
	if err != nil {
		return nil, nil, err
	}
	return root, p.file, nil
}

func (p *parser) parseImport() (item.Import, error) {
	loc := p.loc()
	if err := p.advance(); err != nil { // consume 'import'
		return item.Import{}, err
	}
	if p.cur.kind != tokString && p.cur.kind != tokIdent {
		return item.Import{}, p.parseErr("expected import path after 'import'")
	}
	path := p.cur.text
	if err := p.advance(); err != nil {
		return item.Import{}, err
	}
	scopeName := path
	if p.cur.kind == tokIdent && p.cur.text == "as" {
		if err := p.advance(); err != nil {
			return item.Import{}, err
		}
		if p.cur.kind != tokIdent {
			return item.Import{}, p.parseErr("expected identifier after 'as'")
		}
		scopeName = p.cur.text
		if err := p.advance(); err != nil {
			return item.Import{}, err
		}
	}
	return item.Import{ScopeName: scopeName, Files: []string{path}, Location: loc}, nil
}

// parseItem parses `TypeName { member* }`, where scope is the enclosing
// item used for unqualified identifier resolution (nil for the file's
// root item).
func (p *parser) parseItem(scope *item.Item) (*item.Item, error) {
	if p.cur.kind != tokIdent {
		return nil, p.parseErr("expected item type name, got %q", p.cur.text)
	}
	typeName := p.cur.text
	loc := p.loc()
	if err := p.advance(); err != nil {
		return nil, err
	}

	t, known := item.TypeFromName(typeName)
	if !known {
		t = item.TypeModulePrefix
	}

	it := p.pool.New(t, loc)
	it.Scope = scope
	it.File = p.file
	if !known {
		it.SetProperty("__componentName", item.NewVariant(typeName))
	}

	if err := p.skipNewlines(); err != nil {
		return nil, err
	}
	if p.cur.kind != tokLBrace {
		return nil, p.parseErr("expected '{' after item type %q", typeName)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	for {
		if err := p.skipNewlines(); err != nil {
			return nil, err
		}
		if p.cur.kind == tokRBrace {
			if err := p.advance(); err != nil {
				return nil, err
			}
			break
		}
		if p.cur.kind == tokEOF {
			return nil, p.parseErr("unexpected end of file inside %q", typeName)
		}
		if err := p.parseMember(it); err != nil {
			return nil, err
		}
	}

	return it, nil
}

// parseMember parses one property assignment, property declaration, id
// field, or nested item inside parent's body.
func (p *parser) parseMember(parent *item.Item) error {
	if p.cur.kind == tokIdent && p.cur.text == "property" {
		return p.parsePropertyDecl(parent)
	}

	if p.cur.kind != tokIdent {
		return p.parseErr("expected property name or item type, got %q", p.cur.text)
	}

	nameParts := []string{p.cur.text}
	first := p.cur.text
	loc := p.loc()
	if err := p.advance(); err != nil {
		return err
	}
	for p.cur.kind == tokDot {
		if err := p.advance(); err != nil {
			return err
		}
		if p.cur.kind != tokIdent {
			return p.parseErr("expected identifier after '.'")
		}
		nameParts = append(nameParts, p.cur.text)
		if err := p.advance(); err != nil {
			return err
		}
	}

	switch {
	case p.cur.kind == tokColon:
		if err := p.advance(); err != nil {
			return err
		}
		return p.parsePropertyAssignment(parent, nameParts, first, loc)
	case p.cur.kind == tokLBrace:
		return p.parseNestedItemOrModulePrefix(parent, nameParts, first, loc)
	default:
		return p.parseErr("expected ':' or '{' after %q", strings.Join(nameParts, "."))
	}
}

func (p *parser) parsePropertyAssignment(parent *item.Item, nameParts []string, first string, loc item.CodeLocation) error {
	exprText, err := p.sliceExpression()
	if err != nil {
		return err
	}
	if err := p.advance(); err != nil {
		return err
	}

	if len(nameParts) == 1 && first == "id" {
		parent.ItemID = strings.TrimSpace(strings.Trim(exprText, `"'`))
		return nil
	}

	if len(nameParts) > 1 {
		// A dotted assignment like `cpp.defines: ...` on a Group/Product is
		// a module-property override (spec §4.8 "Group"), stored under a
		// dotted key rather than as a nested item.
		dotted := strings.Join(nameParts, ".")
		parent.SetProperty(dotted, item.NewJSSource(exprText, loc, parent))
		return nil
	}

	parent.SetProperty(first, item.NewJSSource(exprText, loc, parent))
	return nil
}

// sliceExpression consumes raw source text starting at the lexer's
// current byte position up to (but not including) the statement
// terminator: a newline or ';' at bracket depth 0, or the '}' that
// closes the enclosing item.
func (p *parser) sliceExpression() (string, error) {
	start := p.lex.pos - len(p.cur.text)
	if p.cur.kind == tokString {
		// cur.text holds the *decoded* string; re-derive the raw slice
		// start by scanning backward isn't reliable for escaped strings,
		// so string-literal properties are handled as a fast path.
		return strconv.Quote(p.cur.text), nil
	}
	pos := start
	depth := 0
	for pos < len(p.src) {
		b := p.src[pos]
		switch b {
		case '[', '(', '{':
			depth++
		case ']', ')':
			depth--
		case '}':
			if depth == 0 {
				goto done
			}
			depth--
		case ';':
			if depth == 0 {
				goto done
			}
		case '\n':
			if depth == 0 {
				goto done
			}
		}
		pos++
	}
done:
	text := strings.TrimSpace(p.src[start:pos])
	// Resynchronize the lexer to just past the consumed expression text
	// so subsequent tokenization continues correctly.
	for p.lex.pos < pos {
		p.lex.advance()
	}
	return text, nil
}

func (p *parser) parseNestedItemOrModulePrefix(parent *item.Item, nameParts []string, first string, loc item.CodeLocation) error {
	// A bare capitalized identifier followed by '{' is a nested item
	// (Group, Depends, Rule, ...). A lower-case dotted prefix followed by
	// '{' is a grouped module-property-override block, e.g.
	// `cpp { defines: [...]; cxxLanguageVersion: "c++17" }`.
	if known, ok := item.TypeFromName(first); ok && known != item.TypeUnknown {
		child, err := p.parseItemBodyAs(parent, known, loc)
		if err != nil {
			return err
		}
		parent.AddChild(child)
		return nil
	}
	if len(first) > 0 && first[0] >= 'A' && first[0] <= 'Z' {
		child, err := p.parseItemBodyAs(parent, item.TypeModulePrefix, loc)
		if err != nil {
			return err
		}
		child.SetProperty("__componentName", item.NewVariant(first))
		parent.AddChild(child)
		return nil
	}
	return p.parseModulePrefixBlock(parent, first)
}

// parseItemBodyAs parses a `{ ... }` body for an item whose type and
// location are already known (the leading identifier was already
// consumed by parseMember).
func (p *parser) parseItemBodyAs(scope *item.Item, t item.Type, loc item.CodeLocation) (*item.Item, error) {
	it := p.pool.New(t, loc)
	it.Scope = scope
	it.File = p.file

	if err := p.advance(); err != nil { // consume '{'
		return nil, err
	}
	for {
		if err := p.skipNewlines(); err != nil {
			return nil, err
		}
		if p.cur.kind == tokRBrace {
			return it, p.advance()
		}
		if p.cur.kind == tokEOF {
			return nil, p.parseErr("unexpected end of file")
		}
		if err := p.parseMember(it); err != nil {
			return nil, err
		}
	}
}

// parseModulePrefixBlock parses `moduleName { prop: expr; ... }`,
// flattening each member into a dotted `moduleName.prop` property
// assignment on parent rather than creating a child item.
func (p *parser) parseModulePrefixBlock(parent *item.Item, prefix string) error {
	if err := p.advance(); err != nil { // consume '{'
		return err
	}
	for {
		if err := p.skipNewlines(); err != nil {
			return err
		}
		if p.cur.kind == tokRBrace {
			return p.advance()
		}
		if p.cur.kind == tokEOF {
			return p.parseErr("unexpected end of file in module prefix block %q", prefix)
		}
		if p.cur.kind != tokIdent {
			return p.parseErr("expected property name in %q block", prefix)
		}
		name := p.cur.text
		loc := p.loc()
		if err := p.advance(); err != nil {
			return err
		}
		if p.cur.kind != tokColon {
			return p.parseErr("expected ':' after %q", name)
		}
		if err := p.advance(); err != nil {
			return err
		}
		exprText, err := p.sliceExpression()
		if err != nil {
			return err
		}
		if err := p.advance(); err != nil {
			return err
		}
		parent.SetProperty(prefix+"."+name, item.NewJSSource(exprText, loc, parent))
	}
}

var propertyTypeNames = map[string]item.PropertyType{
	"bool":        item.PropertyTypeBool,
	"int":         item.PropertyTypeInt,
	"string":      item.PropertyTypeString,
	"path":        item.PropertyTypePath,
	"pathList":    item.PropertyTypePathList,
	"stringList":  item.PropertyTypeStringList,
	"variantList": item.PropertyTypeVariantList,
	"variant":     item.PropertyTypeVariant,
}

// parsePropertyDecl parses `property <type> <name>[: default]`.
func (p *parser) parsePropertyDecl(parent *item.Item) error {
	if err := p.advance(); err != nil { // consume 'property'
		return err
	}
	if p.cur.kind != tokIdent {
		return p.parseErr("expected property type after 'property'")
	}
	typeName := p.cur.text
	pt, ok := propertyTypeNames[typeName]
	if !ok {
		return p.parseErr("unknown property type %q", typeName)
	}
	if err := p.advance(); err != nil {
		return err
	}
	if p.cur.kind != tokIdent {
		return p.parseErr("expected property name")
	}
	name := p.cur.text
	if err := p.advance(); err != nil {
		return err
	}

	decl := item.PropertyDeclaration{Name: name, Type: pt}
	if p.cur.kind == tokColon {
		if err := p.advance(); err != nil {
			return err
		}
		exprText, err := p.sliceExpression()
		if err != nil {
			return err
		}
		decl.DefaultExpr = exprText
		if err := p.advance(); err != nil {
			return err
		}
	}
	parent.SetPropertyDeclarations(map[string]item.PropertyDeclaration{name: decl})
	return nil
}
