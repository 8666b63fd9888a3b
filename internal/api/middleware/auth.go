package middleware

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/slicer/internal/db"
)

const (
	cookieName           = "slicer_auth"
	settingsKeyPassword  = "admin_password"
	settingsKeyJWTSecret = "jwt_secret"
	issuer               = "slicerd"
)

type Claims struct {
	jwt.RegisteredClaims
	Authenticated bool `json:"authenticated"`
}

// AuthMiddleware guards the admin routes with a single admin password
// and HS256 tokens carried in a cookie or a Bearer header.
type AuthMiddleware struct {
	secret        []byte
	tokenDuration time.Duration
}

type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=6"`
}

type SetupRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

type StatusResponse struct {
	Authenticated bool `json:"authenticated"`
	SetupRequired bool `json:"setup_required"`
}

func NewAuthMiddleware(ctx context.Context, tokenDuration time.Duration) (*AuthMiddleware, error) {
	if tokenDuration <= 0 {
		tokenDuration = 24 * time.Hour
	}
	a := &AuthMiddleware{tokenDuration: tokenDuration}

	secret, err := getOrCreateSecret(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load token secret: %w", err)
	}
	a.secret = secret
	return a, nil
}

func getOrCreateSecret(ctx context.Context) ([]byte, error) {
	setting, err := db.Settings.GetSetting(ctx, settingsKeyJWTSecret)
	if err == nil {
		return hex.DecodeString(setting.Value)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := db.Settings.SetSetting(ctx, settingsKeyJWTSecret, hex.EncodeToString(secret), true); err != nil {
		return nil, err
	}
	return secret, nil
}

func (a *AuthMiddleware) isSetupRequired(ctx context.Context) bool {
	_, err := db.Settings.GetSetting(ctx, settingsKeyPassword)
	return errors.Is(err, sql.ErrNoRows)
}

func (a *AuthMiddleware) generateToken() (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenDuration)),
			Issuer:    issuer,
		},
		Authenticated: true,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func (a *AuthMiddleware) getTokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func (a *AuthMiddleware) setAuthCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cookieName, token, int(a.tokenDuration.Seconds()), "/", "", c.Request.TLS != nil, true)
}

func (a *AuthMiddleware) clearAuthCookie(c *gin.Context) {
	c.SetCookie(cookieName, "", -1, "/", "", c.Request.TLS != nil, true)
}

func authError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": message, "error_code": code})
}

func authOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// issue signs a fresh token, sets the cookie and returns the token so API
// clients can use it as a Bearer header.
func (a *AuthMiddleware) issue(c *gin.Context) {
	token, err := a.generateToken()
	if err != nil {
		authError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate token")
		return
	}
	a.setAuthCookie(c, token)
	authOK(c, gin.H{"token": token, "expires_in": int(a.tokenDuration.Seconds())})
}

func (a *AuthMiddleware) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, "INVALID_REQUEST", "password is required")
		return
	}

	ctx := c.Request.Context()
	if a.isSetupRequired(ctx) {
		authError(c, http.StatusForbidden, "SETUP_REQUIRED", "setup required")
		return
	}

	setting, err := db.Settings.GetSetting(ctx, settingsKeyPassword)
	if err != nil {
		authError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "server error")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(setting.Value), []byte(req.Password)); err != nil {
		authError(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid password")
		return
	}

	a.issue(c)
}

func (a *AuthMiddleware) LogoutHandler(c *gin.Context) {
	a.clearAuthCookie(c)
	authOK(c, gin.H{"logged_out": true})
}

func (a *AuthMiddleware) StatusHandler(c *gin.Context) {
	setupRequired := a.isSetupRequired(c.Request.Context())
	token := a.getTokenFromRequest(c)
	if token == "" {
		authOK(c, StatusResponse{SetupRequired: setupRequired})
		return
	}
	claims, err := a.validateToken(token)
	if err != nil {
		authOK(c, StatusResponse{SetupRequired: setupRequired})
		return
	}
	authOK(c, StatusResponse{Authenticated: claims.Authenticated, SetupRequired: setupRequired})
}

func (a *AuthMiddleware) ChangePasswordHandler(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, "INVALID_REQUEST", "new password must be at least 6 characters")
		return
	}

	ctx := c.Request.Context()
	setting, err := db.Settings.GetSetting(ctx, settingsKeyPassword)
	if err != nil {
		authError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "server error")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(setting.Value), []byte(req.CurrentPassword)); err != nil {
		authError(c, http.StatusUnauthorized, "UNAUTHORIZED", "current password is incorrect")
		return
	}

	if !a.storePassword(c, req.NewPassword) {
		return
	}
	a.issue(c)
}

func (a *AuthMiddleware) SetupHandler(c *gin.Context) {
	if !a.isSetupRequired(c.Request.Context()) {
		authError(c, http.StatusBadRequest, "INVALID_REQUEST", "setup already completed")
		return
	}

	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, "INVALID_REQUEST", "password must be at least 6 characters")
		return
	}

	if !a.storePassword(c, req.Password) {
		return
	}
	a.issue(c)
}

func (a *AuthMiddleware) storePassword(c *gin.Context, password string) bool {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		authError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to hash password")
		return false
	}
	if err := db.Settings.SetSetting(c.Request.Context(), settingsKeyPassword, string(hashed), false); err != nil {
		authError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to save password")
		return false
	}
	return true
}

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := a.getTokenFromRequest(c)
		if token == "" {
			authError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}

		claims, err := a.validateToken(token)
		if err != nil || !claims.Authenticated {
			authError(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}

		c.Set("authenticated", true)
		c.Set("claims", claims)
		c.Next()
	}
}

func (a *AuthMiddleware) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/auth/status", a.StatusHandler)
	r.POST("/auth/setup", a.SetupHandler)
	r.POST("/auth/login", a.LoginHandler)
	r.POST("/auth/logout", a.LogoutHandler)
	r.POST("/auth/password", a.RequireAuth(), a.ChangePasswordHandler)
}
