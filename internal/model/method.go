package model

import (
	"fmt"
	"strings"
)

// Method is one of the HTTP methods a draft can be sent with.
type Method int

const (
	GET Method = iota
	POST
	PUT
	PATCH
	DELETE
)

var methodNames = [...]string{
	GET:    "GET",
	POST:   "POST",
	PUT:    "PUT",
	PATCH:  "PATCH",
	DELETE: "DELETE",
}

// Methods lists every method in index order.
func Methods() []Method {
	return []Method{GET, POST, PUT, PATCH, DELETE}
}

// String returns the canonical uppercase name.
func (m Method) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// Valid reports whether m is one of the known methods.
func (m Method) Valid() bool {
	return m >= GET && int(m) < len(methodNames)
}

// Index returns the stable ordinal of m (0..4).
func (m Method) Index() int {
	return int(m)
}

// MethodFromIndex maps an ordinal back to its method. Out of range indexes
// fall back to GET, the same way a selector with no selection would.
func MethodFromIndex(i int) Method {
	m := Method(i)
	if !m.Valid() {
		return GET
	}
	return m
}

// ParseMethod parses a method name. Matching is case-insensitive so that
// CLI input like "post" works; stored values are always uppercase.
func ParseMethod(s string) (Method, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range methodNames {
		if name == upper {
			return Method(i), nil
		}
	}
	return GET, fmt.Errorf("unsupported method: %q", s)
}

// HasBody reports whether requests with this method carry the draft body.
func (m Method) HasBody() bool {
	switch m {
	case POST, PUT, PATCH:
		return true
	}
	return false
}
