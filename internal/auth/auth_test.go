package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"fleamarket/internal/actions"
	"fleamarket/internal/database"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	return NewService(db, "test-secret")
}

func TestRegisterNameTakenConcurrently(t *testing.T) {
	s := newService(t)

	// another request inserts the same account right before ours does
	inserted := false
	err := s.db.Callback().Create().Before("gorm:create").Register("test:concurrent_register", func(tx *gorm.DB) {
		if inserted || tx.Statement.Table != "users" {
			return
		}
		inserted = true
		assert.NoError(t, s.db.Exec("INSERT INTO users (account_name, hashed_password) VALUES (?, ?)", "carol", []byte("x")).Error)
	})
	require.NoError(t, err)

	_, err = s.Register(context.Background(), "carol", "pw", "")
	assert.True(t, inserted)
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestRegisterAndLogin(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "alice", "pa55word", "Tokyo")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.NotEqual(t, []byte("pa55word"), user.HashedPassword)

	t.Run("duplicate account", func(t *testing.T) {
		_, err := s.Register(ctx, "alice", "other", "")
		assert.ErrorIs(t, err, ErrAccountExists)
	})

	t.Run("empty credentials", func(t *testing.T) {
		_, err := s.Register(ctx, "", "x", "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("good password", func(t *testing.T) {
		got, err := s.Login(ctx, "alice", "pa55word")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("bad password", func(t *testing.T) {
		_, err := s.Login(ctx, "alice", "nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := s.Login(ctx, "bob", "pa55word")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestTokens(t *testing.T) {
	s := NewService(nil, "test-secret")

	token, err := s.GenerateToken(42)
	require.NoError(t, err)

	claims, err := s.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewService(nil, "other").ParseToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewService(nil, "test-secret")
		old.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
		expired, err := old.GenerateToken(42)
		require.NoError(t, err)

		_, err = s.ParseToken(expired)
		assert.Error(t, err)
	})
}

func TestViewerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewService(nil, "test-secret")
	token, err := s.GenerateToken(7)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Viewer(s))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"viewer": ViewerID(c)})
	})
	r.GET("/private", RequireViewer(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(path, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("bearer token sets the viewer", func(t *testing.T) {
		w := do("/whoami", "Bearer "+token)
		assert.JSONEq(t, `{"viewer":7}`, w.Body.String())
	})

	t.Run("no token is anonymous", func(t *testing.T) {
		w := do("/whoami", "")
		assert.JSONEq(t, `{"viewer":0}`, w.Body.String())
		assert.Equal(t, actions.AnonymousUserID, int64(0))
	})

	t.Run("garbage token is anonymous", func(t *testing.T) {
		w := do("/whoami", "Bearer nope")
		assert.JSONEq(t, `{"viewer":0}`, w.Body.String())
	})

	t.Run("private route rejects anonymous", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("/private", "").Code)
		assert.Equal(t, http.StatusNoContent, do("/private", "Bearer "+token).Code)
	})
}
