package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/xela07ax/soc-response-gateway/internal/domain"
	"github.com/xela07ax/soc-response-gateway/internal/infra/auth"
	"golang.org/x/crypto/bcrypt"
)

type staticOperators map[string]domain.Operator

func (s staticOperators) Operator(username string) (domain.Operator, bool) {
	op, ok := s[username]
	return op, ok
}

func testOperators(t *testing.T) staticOperators {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return staticOperators{
		"alice": {
			ID:           "U123",
			Username:     "alice",
			Name:         "Alice",
			PasswordHash: string(hash),
			Role:         "SOC_TIER2",
		},
	}
}

// Полный круг: выдача токена закрытым ключом, проверка открытым,
// личность и роль доезжают до claims.
func TestGenerateTokenRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	svc := NewAuthService(testOperators(t), key, time.Hour)

	resp, err := svc.GenerateToken(context.Background(), "alice", "correct-horse")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if resp.TokenType != "Bearer" || resp.AccessToken == "" || resp.ExpiresIn <= 0 {
		t.Errorf("resp = %+v", resp)
	}

	claims, err := auth.NewBaseValidator(&key.PublicKey).VerifyToken("Bearer " + resp.AccessToken)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.OperatorID != "U123" || claims.Role != "SOC_TIER2" || claims.Name != "Alice" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestGenerateTokenRejects(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	svc := NewAuthService(testOperators(t), key, time.Hour)
	ctx := context.Background()

	if _, err := svc.GenerateToken(ctx, "alice", "wrong"); err == nil {
		t.Error("неверный пароль прошел аутентификацию")
	}
	if _, err := svc.GenerateToken(ctx, "mallory", "correct-horse"); err == nil {
		t.Error("неизвестный оператор прошел аутентификацию")
	}
}

// Токен, подписанный чужим ключом, не проходит проверку.
func TestVerifyRejectsForeignKey(t *testing.T) {
	signer, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	svc := NewAuthService(testOperators(t), signer, time.Hour)
	resp, err := svc.GenerateToken(context.Background(), "alice", "correct-horse")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := auth.NewBaseValidator(&other.PublicKey).VerifyToken(resp.AccessToken); err == nil {
		t.Error("токен с чужой подписью прошел проверку")
	}
}
