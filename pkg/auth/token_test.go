// Spool is a print dispatch service for networked receipt printers.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package auth

import (
	"strings"
	"testing"
)

func TestHashToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{
			name:    "Valid token",
			token:   "operator-token-123",
			wantErr: false,
		},
		{
			name:    "Complex token",
			token:   "T0k3n!#$%^&*()_+-=[]{}|;:,.<>?",
			wantErr: false,
		},
		{
			name:    "Long token (within bcrypt limit)",
			token:   strings.Repeat("a", 72), // bcrypt has a 72-byte limit
			wantErr: false,
		},
		{
			name:    "Token exceeding bcrypt limit",
			token:   strings.Repeat("a", 100),
			wantErr: true, // bcrypt will error on inputs > 72 bytes
		},
		{
			name:    "Empty token",
			token:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashToken(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				if hash == "" {
					t.Error("HashToken() returned empty hash")
				}
				if hash == tt.token {
					t.Error("HashToken() returned plaintext token")
				}
				if !IsHashed(hash) {
					t.Error("HashToken() returned invalid hash format")
				}
			}
		})
	}
}

func TestVerifyToken(t *testing.T) {
	// First, create a known hash
	token := "test-token-123"
	hash, err := HashToken(token)
	if err != nil {
		t.Fatalf("Failed to create test hash: %v", err)
	}

	tests := []struct {
		name    string
		token   string
		hash    string
		wantErr bool
	}{
		{
			name:    "Correct token",
			token:   token,
			hash:    hash,
			wantErr: false,
		},
		{
			name:    "Wrong token",
			token:   "wrong-token",
			hash:    hash,
			wantErr: true,
		},
		{
			name:    "Empty token",
			token:   "",
			hash:    hash,
			wantErr: true,
		},
		{
			name:    "Empty hash",
			token:   token,
			hash:    "",
			wantErr: true,
		},
		{
			name:    "Invalid hash",
			token:   token,
			hash:    "not-a-valid-hash",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyToken(tt.token, tt.hash)
			if (err != nil) != tt.wantErr {
				t.Errorf("VerifyToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHashUniqueness(t *testing.T) {
	token := "test-token"

	// Hash the same token twice
	hash1, err := HashToken(token)
	if err != nil {
		t.Fatalf("First hash failed: %v", err)
	}

	hash2, err := HashToken(token)
	if err != nil {
		t.Fatalf("Second hash failed: %v", err)
	}

	// Hashes should be different due to random salt
	if hash1 == hash2 {
		t.Error("Multiple hashes of the same token should be different")
	}

	// But both should verify correctly
	if err := VerifyToken(token, hash1); err != nil {
		t.Errorf("First hash verification failed: %v", err)
	}

	if err := VerifyToken(token, hash2); err != nil {
		t.Errorf("Second hash verification failed: %v", err)
	}
}

func TestIsHashed(t *testing.T) {
	// Create a real hash for testing
	realHash, err := HashToken("test")
	if err != nil {
		t.Fatalf("Failed to create test hash: %v", err)
	}

	tests := []struct {
		name string
		s    string
		want bool
	}{
		{
			name: "Real bcrypt hash",
			s:    realHash,
			want: true,
		},
		{
			name: "Plaintext token",
			s:    "token123",
			want: false,
		},
		{
			name: "Empty string",
			s:    "",
			want: false,
		},
		{
			name: "Too short",
			s:    "$2a$12$short",
			want: false,
		},
		{
			name: "Wrong prefix",
			s:    "$1a$12$" + strings.Repeat("x", 53),
			want: false,
		},
		{
			name: "Valid $2b$ prefix",
			s:    "$2b$12$" + strings.Repeat("x", 53),
			want: true,
		},
		{
			name: "Valid $2y$ prefix",
			s:    "$2y$12$" + strings.Repeat("x", 53),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHashed(tt.s); got != tt.want {
				t.Errorf("IsHashed() = %v, want %v", got, tt.want)
			}
		})
	}
}
