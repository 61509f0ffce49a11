package oauth2

import (
	"strings"
	"testing"
)

func TestGenerateStateLength(t *testing.T) {
	state := GenerateState()
	if len(state) != StateLength {
		t.Fatalf("expected state of length %d, got %d", StateLength, len(state))
	}
	for _, r := range state {
		if !strings.ContainsRune(alphabet, r) {
			t.Fatalf("state contains character outside alphabet: %q", r)
		}
	}
}

func TestGenerateCodeVerifierLength(t *testing.T) {
	verifier := GenerateCodeVerifier()
	if len(verifier) != VerifierLength {
		t.Fatalf("expected verifier of length %d, got %d", VerifierLength, len(verifier))
	}
	for _, r := range verifier {
		if !strings.ContainsRune(alphabet, r) {
			t.Fatalf("verifier contains character outside alphabet: %q", r)
		}
	}
}

func TestGeneratedValuesDiffer(t *testing.T) {
	if GenerateState() == GenerateState() {
		t.Fatal("two generated states are identical")
	}
	if GenerateCodeVerifier() == GenerateCodeVerifier() {
		t.Fatal("two generated verifiers are identical")
	}
}

func TestS256Challenge(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := S256ChallengeFromVerifier(verifier)

	// RFC 7636 appendix B example
	if challenge != "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM" {
		t.Fatalf("unexpected S256 challenge: %s", challenge)
	}
}

func TestChallengeFromVerifier(t *testing.T) {
	verifier := GenerateCodeVerifier()

	s256, err := ChallengeFromVerifier(verifier, ChallengeMethodS256)
	if err != nil {
		t.Fatal(err)
	}
	if s256 == verifier {
		t.Fatal("S256 challenge must not equal the verifier")
	}

	plain, err := ChallengeFromVerifier(verifier, ChallengeMethodPlain)
	if err != nil {
		t.Fatal(err)
	}
	if plain != verifier {
		t.Fatal("plain challenge must equal the verifier")
	}

	if _, err := ChallengeFromVerifier(verifier, ChallengeMethod("bogus")); err == nil {
		t.Fatal("expected error for unsupported challenge method")
	}
}
