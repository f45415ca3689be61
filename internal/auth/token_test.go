package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nd-se/auth-service/internal/domain"
)

func testIssuer() *TokenIssuer {
	return NewTokenIssuer("test-secret-32-bytes-long-enough", 30*time.Minute, 7*24*time.Hour)
}

func tokenTestUser() *domain.User {
	return &domain.User{
		ID:       "user-1",
		Username: "alice",
		Role:     domain.RoleUser,
		Active:   true,
	}
}

func TestTokenIssuer_IssueAndVerifyAccess(t *testing.T) {
	issuer := testIssuer()
	user := tokenTestUser()

	token, err := issuer.IssueAccess(user)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	claims, ok := issuer.Verify(token, TokenTypeAccess)
	if !ok {
		t.Fatal("Access token should verify as access type")
	}
	if claims.Subject != "alice" {
		t.Errorf("Expected subject alice, got %s", claims.Subject)
	}
	if claims.UserID != "user-1" {
		t.Errorf("Expected user_id user-1, got %s", claims.UserID)
	}
	if claims.Role != domain.RoleUser {
		t.Errorf("Expected role user, got %s", claims.Role)
	}
}

func TestTokenIssuer_TypeConfusion(t *testing.T) {
	issuer := testIssuer()
	user := tokenTestUser()

	access, err := issuer.IssueAccess(user)
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	refresh, err := issuer.IssueRefresh(user)
	if err != nil {
		t.Fatalf("IssueRefresh failed: %v", err)
	}

	if _, ok := issuer.Verify(access, TokenTypeRefresh); ok {
		t.Error("Access token must not verify as refresh type")
	}
	if _, ok := issuer.Verify(refresh, TokenTypeAccess); ok {
		t.Error("Refresh token must not verify as access type")
	}
	if _, ok := issuer.Verify(refresh, TokenTypeRefresh); !ok {
		t.Error("Refresh token should verify as refresh type")
	}
}

func TestTokenIssuer_WrongSecret(t *testing.T) {
	issuer := testIssuer()
	other := NewTokenIssuer("a-completely-different-secret!!!", 30*time.Minute, 7*24*time.Hour)

	token, err := issuer.IssueAccess(tokenTestUser())
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	if _, ok := other.Verify(token, TokenTypeAccess); ok {
		t.Error("Token signed with a different secret must not verify")
	}
}

func TestTokenIssuer_Malformed(t *testing.T) {
	issuer := testIssuer()

	for _, token := range []string{"", "garbage", "a.b.c", "eyJhbGciOiJIUzI1NiJ9.e30."} {
		if _, ok := issuer.Verify(token, TokenTypeAccess); ok {
			t.Errorf("Malformed token %q must not verify", token)
		}
	}
}

func TestTokenIssuer_Expiry(t *testing.T) {
	issuer := testIssuer()

	sign := func(exp time.Time) string {
		claims := &Claims{
			UserID:    "user-1",
			Role:      domain.RoleUser,
			TokenType: TokenTypeAccess,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "alice",
				IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
				ExpiresAt: jwt.NewNumericDate(exp),
			},
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString(issuer.secret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return signed
	}

	expired := sign(time.Now().Add(-time.Second))
	if _, ok := issuer.Verify(expired, TokenTypeAccess); ok {
		t.Error("Token expired one second ago must not verify")
	}

	valid := sign(time.Now().Add(time.Second))
	if _, ok := issuer.Verify(valid, TokenTypeAccess); !ok {
		t.Error("Token expiring one second from now should verify")
	}

	atExpiry := sign(time.Now())
	if _, ok := issuer.Verify(atExpiry, TokenTypeAccess); !ok {
		t.Error("Token at its exact expiry instant should still verify")
	}
}

func TestTokenIssuer_NoneAlgorithmRejected(t *testing.T) {
	issuer := testIssuer()

	claims := &Claims{
		UserID:    "user-1",
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, ok := issuer.Verify(signed, TokenTypeAccess); ok {
		t.Error("Unsigned token must not verify")
	}
}
