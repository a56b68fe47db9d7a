package crypto

import "testing"

func TestHashAccessCode(t *testing.T) {
	// sha256("secret")
	const want = "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b"

	if got := HashAccessCode("secret"); got != want {
		t.Fatalf("HashAccessCode() = %q, want %q", got, want)
	}
	if got := HashAccessCode("  secret \n"); got != want {
		t.Errorf("HashAccessCode() should trim input, got %q", got)
	}
	if got := HashAccessCode("   "); got != "" {
		t.Errorf("HashAccessCode(blank) = %q, want empty", got)
	}
}

func TestAccessCodeMatches(t *testing.T) {
	stored := HashAccessCode("open-sesame")

	if !AccessCodeMatches("open-sesame", stored) {
		t.Error("expected correct code to match")
	}
	if AccessCodeMatches("open-sesam", stored) {
		t.Error("expected wrong code not to match")
	}
	if AccessCodeMatches("", stored) {
		t.Error("expected empty code not to match")
	}
	if AccessCodeMatches("open-sesame", "") {
		t.Error("expected empty stored hash never to match")
	}
}

func TestIDs(t *testing.T) {
	if NewSessionID() == NewSessionID() {
		t.Error("session ids should be unique")
	}
	if len(NewInstanceID()) != 36 {
		t.Error("instance id should be a canonical uuid")
	}
}
