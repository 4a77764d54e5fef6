package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bugreport-api/internal/models"
	"github.com/noah-isme/bugreport-api/pkg/clock"
	"github.com/noah-isme/bugreport-api/pkg/config"
	appErrors "github.com/noah-isme/bugreport-api/pkg/errors"
)

func TestTokenRoundTrip(t *testing.T) {
	clk := clock.NewFake(time.Now().UTC())
	svc := NewTokenService(config.JWTConfig{Secret: "s3cret", Issuer: "identity", Expiration: time.Hour}, clk)

	token, expiresAt, err := svc.IssueToken("stu", models.RoleStudent, 0)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(time.Hour), expiresAt)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "stu", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)

	clk.Advance(2 * time.Hour)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestTokenRejectsForeignIssuerAndRole(t *testing.T) {
	clk := clock.NewFake(time.Now().UTC())
	svc := NewTokenService(config.JWTConfig{Secret: "s3cret", Issuer: "identity"}, clk)
	other := NewTokenService(config.JWTConfig{Secret: "s3cret", Issuer: "elsewhere"}, clk)

	token, _, err := other.IssueToken("stu", models.RoleStudent, time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	token, _, err = svc.IssueToken("stu", models.UserRole("ROOT"), time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, models.JWTClaims{UserID: "stu", Role: models.RoleAdmin})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unsigned)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
