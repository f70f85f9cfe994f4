package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Address uniquely identifies one managed resource as "type.name".
// Instances of an expanded collection carry an index suffix:
// "type.name[2]" for count expansion, `type.name["key"]` for for_each.
type Address string

// MakeAddress builds the address for a resource type and local name.
func MakeAddress(typ, name string) Address {
	return Address(typ + "." + name)
}

// Indexed returns the address of the i-th instance of a count collection.
func (a Address) Indexed(i int) Address {
	return Address(fmt.Sprintf("%s[%d]", a, i))
}

// Keyed returns the address of the instance for a for_each key.
func (a Address) Keyed(key string) Address {
	return Address(fmt.Sprintf("%s[%q]", a, key))
}

// HasIndex reports whether the address names a concrete collection instance.
func (a Address) HasIndex() bool {
	return strings.HasSuffix(string(a), "]") && strings.Contains(string(a), "[")
}

// Base strips any index suffix, returning the collection address.
func (a Address) Base() Address {
	s := string(a)
	if i := strings.Index(s, "["); i >= 0 {
		return Address(s[:i])
	}
	return a
}

// Split breaks the address into its type and name parts. The name keeps
// any index suffix.
func (a Address) Split() (typ, name string) {
	s := string(a)
	end := len(s)
	if i := strings.Index(s, "["); i >= 0 {
		end = i
	}
	dot := strings.LastIndex(s[:end], ".")
	if dot < 0 {
		return s, ""
	}
	return s[:dot], s[dot+1:]
}

// Type returns the resource type part of the address.
func (a Address) Type() string {
	typ, _ := a.Split()
	return typ
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return string(a)
}

// ParseAddress validates the textual form of a resource address.
func ParseAddress(s string) (Address, error) {
	a := Address(s)
	typ, name := a.Split()
	if typ == "" || name == "" {
		return "", fmt.Errorf("invalid resource address %q, expected type.name", s)
	}
	if i := strings.Index(s, "["); i >= 0 {
		inner := strings.TrimSuffix(s[i+1:], "]")
		if !strings.HasSuffix(s, "]") || inner == "" {
			return "", fmt.Errorf("invalid index in resource address %q", s)
		}
		// "${count.index}" and friends stay symbolic until expansion
		// substitutes them.
		symbolic := strings.HasPrefix(inner, "${") && strings.HasSuffix(inner, "}")
		if inner != "*" && !strings.HasPrefix(inner, `"`) && !symbolic {
			if _, err := strconv.Atoi(inner); err != nil {
				return "", fmt.Errorf("invalid index in resource address %q", s)
			}
		}
	}
	return a, nil
}
