// Package structure detects and applies drift between an incoming field
// structure and the one stored on a record space.
package structure

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/zeebo/xxh3"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Hash returns the fingerprint of a field structure. Declaration order and
// slug case do not change it; any change to a field's type, flags or
// default does.
func Hash(fields []types.FieldDeclaration) string {
	lines := make([]string, len(fields))
	for i, f := range fields {
		lines[i] = canonicalLine(f)
	}
	sort.Strings(lines)

	h := xxh3.New()
	for _, line := range lines {
		_, _ = h.Write([]byte(line))
	}
	return hex.EncodeToString(uint128Bytes(h.Sum128()))
}

// HashDefinitions returns the fingerprint of a stored field list.
func HashDefinitions(defs []types.FieldDefinition) string {
	return Hash(Declarations(defs))
}

// Declarations returns the declarations the definitions satisfy.
func Declarations(defs []types.FieldDefinition) []types.FieldDeclaration {
	decls := make([]types.FieldDeclaration, len(defs))
	for i, d := range defs {
		decls[i] = d.Declaration()
	}
	return decls
}

func uint128Bytes(u xxh3.Uint128) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], u.Hi)
	binary.BigEndian.PutUint64(b[8:16], u.Lo)
	return b
}

func canonicalLine(f types.FieldDeclaration) string {
	var b strings.Builder
	b.WriteString(types.SlugKey(f.Slug))
	b.WriteByte(0)
	b.WriteString(string(f.Type))
	for _, flag := range []bool{f.Required, f.Unique, f.Hashed} {
		b.WriteByte(0)
		b.WriteString(strconv.FormatBool(flag))
	}
	b.WriteByte(0)
	b.WriteString(canonicalDefault(f.Default))
	b.WriteByte('\n')
	return b.String()
}

// canonicalDefault encodes a default value with sorted object keys, so
// equal defaults decoded from different payloads hash the same.
func canonicalDefault(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "!"
	}
	return string(data)
}

// sameDeclaration reports whether two declarations hash identically.
func sameDeclaration(a, b types.FieldDeclaration) bool {
	return canonicalLine(a) == canonicalLine(b)
}
