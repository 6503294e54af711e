// Package route compiles project descriptors into per-domain routing
// configuration units for the shared nginx proxy.
//
// Generation is a typed builder: blocks and directives are assembled as
// values and serialized only at the end, keeping compilation testable
// independently of the wire format.
// Following ADR-002: Values as Boundaries - this package contains NO I/O.
package route

import (
	"strings"
)

// =============================================================================
// Directive Tree
// =============================================================================

// Item is a node of an nginx configuration tree: either a Directive or a
// nested Block.
type Item interface {
	write(sb *strings.Builder, depth int)
}

// Directive is a single "name arg1 arg2;" line.
type Directive struct {
	Name string
	Args []string
}

func (d Directive) write(sb *strings.Builder, depth int) {
	writeIndent(sb, depth)
	sb.WriteString(d.Name)
	for _, a := range d.Args {
		sb.WriteByte(' ')
		sb.WriteString(a)
	}
	sb.WriteString(";\n")
}

// Block is a "name args { ... }" section containing directives and
// nested blocks in order.
type Block struct {
	Name  string
	Args  []string
	Items []Item
}

// Add appends items to the block and returns it for chaining.
func (b *Block) Add(items ...Item) *Block {
	b.Items = append(b.Items, items...)
	return b
}

func (b Block) write(sb *strings.Builder, depth int) {
	writeIndent(sb, depth)
	sb.WriteString(b.Name)
	for _, a := range b.Args {
		sb.WriteByte(' ')
		sb.WriteString(a)
	}
	sb.WriteString(" {\n")
	for _, item := range b.Items {
		item.write(sb, depth+1)
	}
	writeIndent(sb, depth)
	sb.WriteString("}\n")
}

func writeIndent(sb *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		sb.WriteString("    ")
	}
}

// dir is a shorthand constructor used by the compiler.
func dir(name string, args ...string) Directive {
	return Directive{Name: name, Args: args}
}

// =============================================================================
// Route Unit
// =============================================================================

// Unit is the compiled routing configuration for one domain: a secure
// server block plus an insecure redirect block.
type Unit struct {
	// Domain is the bare domain this unit routes.
	Domain string

	// Upstream is the address:port embedded in the secure block.
	Upstream string

	// Secure terminates TLS and proxies to the upstream.
	Secure Block

	// Insecure redirects all plaintext traffic to HTTPS.
	Insecure Block
}

// FileName is the file the unit occupies in the proxy config directory.
func (u *Unit) FileName() string {
	return u.Domain + ".conf"
}

// Serialize renders the unit into nginx configuration text. Output is
// deterministic: compiling the same project twice yields identical text
// except for the embedded upstream address.
func (u *Unit) Serialize() string {
	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(u.Domain)
	sb.WriteString(" - managed by berth, do not edit\n")
	u.Secure.write(&sb, 0)
	sb.WriteByte('\n')
	u.Insecure.write(&sb, 0)
	return sb.String()
}
