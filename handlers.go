package main

import (
	"errors"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"spendwise/models"
)

const accessTokenTTL = 24 * time.Hour

func setupRoutes(r *gin.Engine) {
	api := r.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := api.Group("/auth")
	auth.POST("/register", registerHandler)
	auth.POST("/login", loginHandler)
	auth.POST("/refresh", refreshHandler)
	auth.POST("/logout", logoutHandler)
	auth.GET("/me", jwtAuthMiddleware(), meHandler)

	tx := api.Group("/transactions")
	tx.Use(jwtAuthMiddleware())
	tx.GET("/dashboard", dashboardHandler)
	tx.GET("/categories", categoriesHandler)
	tx.POST("/receipt", scanReceiptHandler)
	tx.GET("", listTransactionsHandler)
	tx.GET("/:id", getTransactionHandler)
	tx.POST("", createTransactionHandler)
	tx.PUT("/:id", updateTransactionHandler)
	tx.DELETE("/:id", deleteTransactionHandler)
}

// respondError writes the uniform error body. Unhandled failures map to
// 500; the stack is exposed only outside production.
func respondError(c *gin.Context, status int, message string) {
	body := gin.H{"message": message}
	if status == http.StatusInternalServerError && os.Getenv("APP_ENV") != "production" {
		body["stack"] = string(debug.Stack())
	}
	c.JSON(status, body)
}

func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			respondError(c, http.StatusUnauthorized, "Not authorized, no token")
			c.Abort()
			return
		}
		token, err := jwt.Parse(authHeader[7:], func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			msg := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token expired"
			}
			respondError(c, http.StatusUnauthorized, msg)
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			respondError(c, http.StatusUnauthorized, "Invalid token")
			c.Abort()
			return
		}
		sub, _ := claims["sub"].(string)
		uid, err := strconv.ParseUint(sub, 10, 64)
		if err != nil {
			respondError(c, http.StatusUnauthorized, "Invalid token")
			c.Abort()
			return
		}
		c.Set("userID", uint(uid))
		c.Next()
	}
}

// currentUser fetches the authenticated user resolved by jwtAuthMiddleware.
func currentUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get("userID")
	if !ok {
		return models.User{}, false
	}
	var user models.User
	if err := db.First(&user, v.(uint)).Error; err != nil {
		return models.User{}, false
	}
	return user, true
}

func authPayload(user models.User, token, refresh string) gin.H {
	return gin.H{
		"_id":          user.ID,
		"name":         user.Name,
		"email":        user.Email,
		"token":        token,
		"refreshToken": refresh,
	}
}

func registerHandler(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Name, email and password are required")
		return
	}
	user, err := RegisterUser(req.Name, req.Email, req.Password)
	if err != nil {
		// Duplicate email is a 400 like every other bad request; it must
		// not get its own status that probes could distinguish remotely.
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	token, err := signAccessToken(user, accessTokenTTL)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to generate token")
		return
	}
	refresh, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to create refresh token")
		return
	}
	c.JSON(http.StatusCreated, authPayload(user, token, refresh))
}

func loginHandler(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Email and password are required")
		return
	}
	user, err := Authenticate(req.Email, req.Password)
	if err != nil {
		respondError(c, http.StatusUnauthorized, err.Error())
		return
	}
	token, err := signAccessToken(user, accessTokenTTL)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to generate token")
		return
	}
	refresh, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to create refresh token")
		return
	}
	c.JSON(http.StatusOK, authPayload(user, token, refresh))
}

// refreshHandler exchanges a refresh token for a new access token and
// rotates the refresh token.
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "refreshToken is required")
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		respondError(c, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	var user models.User
	if err := db.First(&user, rt.UserID).Error; err != nil {
		respondError(c, http.StatusUnauthorized, "user not found")
		return
	}
	token, err := signAccessToken(user, accessTokenTTL)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to generate token")
		return
	}
	// rotate: revoke the used token and hand out a fresh one
	db.Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked", true)
	newRefresh, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to rotate refresh token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "refreshToken": newRefresh})
}

// logoutHandler revokes the supplied refresh token. Access tokens simply
// expire; there is no server-side session beyond the refresh token row.
func logoutHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "refreshToken is required")
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil {
		respondError(c, http.StatusNotFound, "refresh token not found")
		return
	}
	rt.Revoked = true
	if err := db.Save(rt).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "failed to revoke token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func meHandler(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "user not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"_id": user.ID, "name": user.Name, "email": user.Email})
}
