package safety

import "testing"

func TestGuardBlocksLegalAdvice(t *testing.T) {
	r := Check("Should I file an appeal?")
	if r.IsSafe {
		t.Fatal("expected blocked")
	}
	if r.ViolationType != ViolationLegalAdvice {
		t.Fatalf("got %s, want %s", r.ViolationType, ViolationLegalAdvice)
	}
}

func TestGuardPassesFactualQuestion(t *testing.T) {
	r := Check("What does Section 138 say?")
	if !r.IsSafe {
		t.Fatalf("expected safe, got violation %s", r.ViolationType)
	}
}

func TestGuardCaseInsensitive(t *testing.T) {
	r := Check("SHOULD i FILE an Appeal?")
	if r.IsSafe {
		t.Fatal("expected blocked regardless of case")
	}
}

func TestSanitizePolicingRewrite(t *testing.T) {
	in := "The evidence proves that defendant violated Section 138. The court will rule against him and he must pay damages."
	res := Sanitize(in)

	for _, want := range []string{"suggests that", "affected by Section 138", "may consider", "may be required to pay"} {
		if !contains(res.SanitizedText, want) {
			t.Errorf("expected sanitized text to contain %q, got %q", want, res.SanitizedText)
		}
	}
	if len(res.ReplacementsMade) < 4 {
		t.Errorf("expected >=4 replacements, got %d", len(res.ReplacementsMade))
	}
	if res.SanitizationTimeMs >= 5 {
		t.Errorf("expected sanitization under 5ms, got %v", res.SanitizationTimeMs)
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	in := "The evidence proves that defendant violated Section 138."
	once := Sanitize(in)
	twice := Sanitize(once.SanitizedText)
	if len(twice.ReplacementsMade) != 0 {
		t.Fatalf("expected no-op on already-sanitized text, got %d replacements", len(twice.ReplacementsMade))
	}
	if twice.SanitizedText != once.SanitizedText {
		t.Fatalf("expected stable fixpoint, got %q vs %q", twice.SanitizedText, once.SanitizedText)
	}
}

func TestSanitizePreservesQuotedPassages(t *testing.T) {
	in := `The witness said "the defendant is guilty" during testimony, which proves that liability exists.`
	res := Sanitize(in)
	if !contains(res.SanitizedText, `"the defendant is guilty"`) {
		t.Fatalf("expected quoted passage preserved verbatim, got %q", res.SanitizedText)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
