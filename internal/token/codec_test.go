package token

import (
	"testing"
	"time"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	c := NewCodec("test-secret")
	for _, kind := range []Kind{KindAccess, KindRefresh, KindEmailVerify} {
		raw, err := c.Sign(kind, "42", "user@example.com")
		if err != nil {
			t.Fatalf("Sign(%s): %v", kind, err)
		}
		claims, ok := c.Verify(kind, raw)
		if !ok {
			t.Fatalf("Verify(%s): rejected freshly signed token", kind)
		}
		if claims.UserID() != "42" || claims.Email != "user@example.com" {
			t.Errorf("claims = userID %q email %q", claims.UserID(), claims.Email)
		}
	}
}

func TestVerify_KindMismatch(t *testing.T) {
	c := NewCodec("test-secret")
	refresh, err := c.Sign(KindRefresh, "42", "user@example.com")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	// Valid signature, wrong kind: a refresh token must not pass as access.
	if _, ok := c.Verify(KindAccess, refresh); ok {
		t.Fatal("refresh token verified as access")
	}
	if _, ok := c.Verify(KindEmailVerify, refresh); ok {
		t.Fatal("refresh token verified as email-verify")
	}
}

func TestVerify_Expired(t *testing.T) {
	c := NewCodec("test-secret")
	c.now = func() time.Time { return time.Now().Add(-RefreshTokenTTL - time.Minute) }
	raw, err := c.Sign(KindRefresh, "42", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, ok := c.Verify(KindRefresh, raw); ok {
		t.Fatal("expired token verified")
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	raw, err := NewCodec("secret-a").Sign(KindAccess, "42", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, ok := NewCodec("secret-b").Verify(KindAccess, raw); ok {
		t.Fatal("token signed with different secret verified")
	}
}

func TestVerify_Malformed(t *testing.T) {
	c := NewCodec("test-secret")
	for _, raw := range []string{"", "garbage", "a.b.c"} {
		if _, ok := c.Verify(KindAccess, raw); ok {
			t.Fatalf("malformed token %q verified", raw)
		}
	}
}

func TestSign_DistinctWithinSameSecond(t *testing.T) {
	c := NewCodec("test-secret")
	a, _ := c.Sign(KindRefresh, "42", "user@example.com")
	b, _ := c.Sign(KindRefresh, "42", "user@example.com")
	if a == b {
		t.Fatal("two tokens issued back to back are identical")
	}
}
