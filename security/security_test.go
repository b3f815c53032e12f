package security

import (
	"context"
	"strings"
	"testing"
)

func TestAppKeySealer_SealOpenRoundTrip(t *testing.T) {
	sealer, err := NewAppKeySealer([]byte("super-secret-test-key"), WithKeyID("connectors-v1"), WithVersion(3))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	sealed, err := sealer.Seal(context.Background(), "token-value-123")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !strings.HasPrefix(sealed, EnvelopePrefix) || strings.Contains(sealed, "token-value-123") {
		t.Fatalf("unexpected sealed value %q", sealed)
	}
	opened, err := sealer.Open(context.Background(), sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened != "token-value-123" {
		t.Fatalf("expected roundtrip plaintext, got %q", opened)
	}
}

func TestAppKeySealer_RejectsMetadataMismatch(t *testing.T) {
	issuer, _ := NewAppKeySealer([]byte("super-secret-test-key"), WithKeyID("connectors-v1"))
	receiver, _ := NewAppKeySealer([]byte("super-secret-test-key"), WithKeyID("connectors-v2"), WithVersion(2))

	sealed, err := issuer.Seal(context.Background(), "payload")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := receiver.Open(context.Background(), sealed); err == nil {
		t.Fatalf("expected metadata mismatch error")
	}
	if _, err := NewAppKeySealer([]byte("  ")); err == nil {
		t.Fatalf("expected empty key material to be rejected")
	}
}

func TestSecretResolver_ResolvesPlaceholdersAndSealedValues(t *testing.T) {
	ctx := context.Background()
	sealer, _ := NewAppKeySealer([]byte("0123456789abcdef0123456789abcdef"))
	sealedHMAC, _ := sealer.Seal(ctx, "hmac-secret")
	sealedInline, _ := sealer.Seal(ctx, "inline")

	resolver := NewSecretResolver(sealer, map[string]string{
		"GITHUB_HMAC": sealedHMAC,
		"PLAIN":       "not-sealed",
	})

	cases := map[string]string{
		"{{secrets.GITHUB_HMAC}}": "hmac-secret",
		"{{ secrets.PLAIN }}":     "not-sealed",
		sealedInline:              "inline",
		"literal":                 "literal",
	}
	for input, want := range cases {
		got, err := resolver.Resolve(ctx, input)
		if err != nil {
			t.Fatalf("resolve %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("resolve %q: expected %q, got %q", input, want, got)
		}
	}

	if _, err := resolver.Resolve(ctx, "{{secrets.MISSING}}"); err == nil {
		t.Fatalf("expected undefined secret error")
	}
	if _, err := NewSecretResolver(nil, nil).Resolve(ctx, sealedInline); err == nil {
		t.Fatalf("expected sealed value without key to fail")
	}
}
