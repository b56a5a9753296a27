package crypto

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// в тестах минимальный cost, иначе bcrypt заметно тормозит прогон
const testCost = bcrypt.MinCost

func TestHashPasswordWithCost(t *testing.T) {
	tests := []struct {
		name     string
		password string
		cost     int
		wantCost int
		wantErr  error
	}{
		{"simple password", "s3cret", testCost, testCost, nil},
		{"unicode password", "пароль-оператора", testCost, testCost, nil},
		{"cost below minimum is raised", "s3cret", 1, bcrypt.MinCost, nil},
		{"empty password", "", testCost, 0, ErrEmptyPassword},
		{"too long", strings.Repeat("a", MaxPasswordLength+1), testCost, 0, ErrPasswordTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPasswordWithCost(tt.password, tt.cost)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr != nil {
				return
			}

			cost, err := ValidateHash(hash)
			if err != nil {
				t.Fatalf("hash must be valid: %v", err)
			}
			if cost != tt.wantCost {
				t.Errorf("expected cost %d, got %d", tt.wantCost, cost)
			}
			if err := VerifyPassword(tt.password, hash); err != nil {
				t.Errorf("password must verify: %v", err)
			}
		})
	}
}

func TestHashPasswordDifferentSalts(t *testing.T) {
	h1, err := HashPasswordWithCost("s3cret", testCost)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashPasswordWithCost("s3cret", testCost)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("hashes of the same password must differ by salt")
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPasswordWithCost("s3cret", testCost)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		password string
		hash     string
		want     error
	}{
		{"match", "s3cret", hash, nil},
		{"mismatch", "wrong", hash, ErrPasswordMismatch},
		{"empty password", "", hash, ErrEmptyPassword},
		{"empty hash", "s3cret", "", ErrInvalidHash},
		{"garbage hash", "s3cret", "not-a-hash", ErrInvalidHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := VerifyPassword(tt.password, tt.hash); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateHash(t *testing.T) {
	weak, err := HashPasswordWithCost("s3cret", testCost)
	if err != nil {
		t.Fatal(err)
	}
	strong, err := HashPasswordWithCost("s3cret", MinOperatorCost)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ValidateHash("plaintext"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("plaintext must be rejected, got %v", err)
	}
	if _, err := ValidateHash("$2a$broken"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("truncated hash must be rejected, got %v", err)
	}

	if !IsWeakHash(weak) {
		t.Error("min-cost hash must be reported as weak")
	}
	if IsWeakHash(strong) {
		t.Error("hash with MinOperatorCost must not be weak")
	}
	if !IsWeakHash("") {
		t.Error("invalid hash must be reported as weak")
	}
}

func BenchmarkVerifyPassword(b *testing.B) {
	hash, _ := HashPasswordWithCost("s3cret", testCost)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = VerifyPassword("s3cret", hash)
	}
}
