/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package jmtalksdk

import (
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expectError bool
		bare        Address
		resource    string
		isFull      bool
	}{
		{
			name:     "Bare address",
			input:    "alice@jmtalk.io",
			bare:     "alice@jmtalk.io",
			resource: "",
			isFull:   false,
		},
		{
			name:     "Full address",
			input:    "alice@jmtalk.io/mobile-4f2a",
			bare:     "alice@jmtalk.io",
			resource: "mobile-4f2a",
			isFull:   true,
		},
		{
			name:        "Missing domain",
			input:       "alice",
			expectError: true,
		},
		{
			name:        "Missing account",
			input:       "@jmtalk.io",
			expectError: true,
		},
		{
			name:        "Empty resource",
			input:       "alice@jmtalk.io/",
			expectError: true,
		},
		{
			name:        "Empty string",
			input:       "",
			expectError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := ParseAddress(tc.input)

			if tc.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
				}
				return
			}

			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}

			if addr.Bare() != tc.bare {
				t.Errorf("Expected bare %q, got %q", tc.bare, addr.Bare())
			}
			if addr.Resource() != tc.resource {
				t.Errorf("Expected resource %q, got %q", tc.resource, addr.Resource())
			}
			if addr.IsFull() != tc.isFull {
				t.Errorf("Expected IsFull %v, got %v", tc.isFull, addr.IsFull())
			}
		})
	}
}

func TestAddressWithResource(t *testing.T) {
	addr := Address("alice@jmtalk.io").WithResource("tablet-9c")
	if addr != "alice@jmtalk.io/tablet-9c" {
		t.Errorf("Expected alice@jmtalk.io/tablet-9c, got %s", addr)
	}

	// Re-binding replaces the existing resource
	addr = addr.WithResource("mobile-4f2a")
	if addr != "alice@jmtalk.io/mobile-4f2a" {
		t.Errorf("Expected alice@jmtalk.io/mobile-4f2a, got %s", addr)
	}
}

func TestAddressSameAccount(t *testing.T) {
	tests := []struct {
		name string
		a    Address
		b    Address
		want bool
	}{
		{
			name: "Same account different resources",
			a:    "alice@jmtalk.io/mobile-4f2a",
			b:    "alice@jmtalk.io/tablet-9c",
			want: true,
		},
		{
			name: "Bare and full of same account",
			a:    "alice@jmtalk.io",
			b:    "alice@jmtalk.io/mobile-4f2a",
			want: true,
		},
		{
			name: "Different accounts",
			a:    "alice@jmtalk.io/mobile-4f2a",
			b:    "bob@jmtalk.io/mobile-4f2a",
			want: false,
		},
		{
			name: "Same account different domains",
			a:    "alice@jmtalk.io",
			b:    "alice@example.org",
			want: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.SameAccount(tc.b); got != tc.want {
				t.Errorf("SameAccount(%s, %s) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}
