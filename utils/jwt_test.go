package utils

import (
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("secret", 7, 3, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	claims, err := ParseJWTToken("secret", token)
	if err != nil {
		t.Fatalf("ParseJWTToken: %v", err)
	}
	if claims.CompanyID != 7 || claims.UserID != 3 {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseJWTTokenRejects(t *testing.T) {
	valid, _ := GenerateAccessToken("secret", 7, 3, time.Hour)
	expired, _ := GenerateAccessToken("secret", 7, 3, -time.Minute)
	noCompany, _ := GenerateAccessToken("secret", 0, 3, time.Hour)

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"wrong secret", "other", valid},
		{"expired", "secret", expired},
		{"no company", "secret", noCompany},
		{"garbage", "secret", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJWTToken(tt.secret, tt.token); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
