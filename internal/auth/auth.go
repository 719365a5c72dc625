package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"fleamarket/internal/actions"
	"fleamarket/internal/models"
)

const (
	bcryptCost = 10
	tokenTTL   = 24 * time.Hour

	viewerKey = "user_id"
)

var (
	ErrInvalidCredentials = errors.New("account name or password is wrong")
	ErrAccountExists      = errors.New("account name is already taken")
	ErrInvalidToken       = errors.New("invalid token")
)

type Service struct {
	db     *gorm.DB
	secret []byte
	now    func() time.Time
}

type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.StandardClaims
}

func NewService(db *gorm.DB, secret string) *Service {
	return &Service{
		db:     db,
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Register creates an account with a bcrypt hashed password
func (s *Service) Register(ctx context.Context, accountName, password, address string) (*models.User, error) {
	if accountName == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, err
	}

	if taken, err := s.accountTaken(ctx, accountName); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrAccountExists
	}

	user := models.User{
		AccountName:    accountName,
		HashedPassword: hashed,
		Address:        address,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		// a concurrent registration took the name after the check above
		if taken, _ := s.accountTaken(ctx, accountName); taken {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

func (s *Service) accountTaken(ctx context.Context, accountName string) (bool, error) {
	var existing int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("account_name = ?", accountName).Count(&existing).Error
	return existing > 0, err
}

// Login checks the password and returns the matching account
func (s *Service) Login(ctx context.Context, accountName, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("account_name = ?", accountName).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

func (s *Service) GenerateToken(userID int64) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: userID,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(tokenTTL).Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Viewer identifies the caller from a bearer token. Requests without a valid
// token continue as the anonymous viewer.
func Viewer(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(viewerKey, actions.AnonymousUserID)

		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.Next()
			return
		}

		if claims, err := s.ParseToken(parts[1]); err == nil {
			c.Set(viewerKey, claims.UserID)
		}
		c.Next()
	}
}

// RequireViewer rejects anonymous callers. It must run after Viewer.
func RequireViewer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ViewerID(c) == actions.AnonymousUserID {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "login required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func ViewerID(c *gin.Context) int64 {
	if id, ok := c.Get(viewerKey); ok {
		if v, ok := id.(int64); ok {
			return v
		}
	}
	return actions.AnonymousUserID
}
