/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package jmtalksdk

import (
	"fmt"
	"strings"
)

// Address is a hierarchical JMTalk identity of the form
// "account@domain" (bare) or "account@domain/resource" (fully qualified).
// A bare address identifies the account; the platform fans messages sent
// to a bare address out to every connected resource of that account. A
// fully-qualified address selects one specific connected client instance.
//
// Address values are plain comparable strings; == compares the full
// address including the resource suffix.
type Address string

// ParseAddress validates and returns an Address. The account part must be
// non-empty and contain exactly one '@'; the resource suffix is optional.
func ParseAddress(s string) (Address, error) {
	bare := s
	if i := strings.IndexByte(s, '/'); i >= 0 {
		if i == len(s)-1 {
			return "", fmt.Errorf("address %q has an empty resource", s)
		}
		bare = s[:i]
	}
	at := strings.IndexByte(bare, '@')
	if at <= 0 || at == len(bare)-1 || strings.IndexByte(bare[at+1:], '@') >= 0 {
		return "", fmt.Errorf("address %q is not of the form account@domain", s)
	}
	return Address(s), nil
}

// Bare strips the resource suffix, returning the coarse account identity.
func (a Address) Bare() Address {
	if i := strings.IndexByte(string(a), '/'); i >= 0 {
		return a[:i]
	}
	return a
}

// Resource returns the resource suffix, or "" for a bare address.
func (a Address) Resource() string {
	if i := strings.IndexByte(string(a), '/'); i >= 0 {
		return string(a[i+1:])
	}
	return ""
}

// IsFull reports whether the address selects a specific resource.
func (a Address) IsFull() bool {
	return a.Resource() != ""
}

// WithResource returns the address qualified with the given resource.
// Any existing resource suffix is replaced.
func (a Address) WithResource(resource string) Address {
	if resource == "" {
		return a.Bare()
	}
	return a.Bare() + Address("/"+resource)
}

// SameAccount reports whether both addresses belong to the same account,
// ignoring resource suffixes. This is the check sibling resources use to
// recognize a self-addressed message from another instance of their own
// account.
func (a Address) SameAccount(other Address) bool {
	return a != "" && a.Bare() == other.Bare()
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return string(a)
}
