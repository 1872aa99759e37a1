package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email string `json:"email" binding:"required,email,max=254"`
}

type verifyRequest struct {
	Email string `json:"email" binding:"required,email,max=254"`
	OTP   string `json:"otp" binding:"required,len=6,numeric"`
}

// RegisterRoutes mounts the login endpoints. Routes under /api/auth that
// need a session use Middleware.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api/auth")
	api.POST("/login", s.handleLogin)
	api.POST("/verify", s.handleVerify)
	secured := api.Group("", s.Middleware())
	secured.POST("/logout", s.handleLogout)
	secured.GET("/me", s.handleMe)

	r.GET("/auth/magic-link/:token", s.handleMagicLink)
}

func (s *Service) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a valid email is required"})
		return
	}
	if err := s.Login(c.Request.Context(), req.Email); err != nil {
		s.log.Errorf("login: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Service) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and 6 digit code are required"})
		return
	}
	sess, err := s.VerifyOTP(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		s.renderLoginError(c, err)
		return
	}
	s.setCookie(c, sess)
	c.JSON(http.StatusOK, gin.H{"token": sess.Token, "expiresAt": sess.ExpiresAt, "user": publicUser(sess)})
}

func (s *Service) handleMagicLink(c *gin.Context) {
	sess, err := s.VerifyMagicLink(c.Request.Context(), c.Param("token"))
	if err != nil {
		s.renderLoginError(c, err)
		return
	}
	s.setCookie(c, sess)
	c.Redirect(http.StatusFound, "/")
}

func (s *Service) handleLogout(c *gin.Context) {
	claims, _ := ClaimsFrom(c)
	if err := s.Logout(c.Request.Context(), claims); err != nil {
		s.log.Errorf("logout: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cfg.CookieName, "", -1, "/", "", s.cfg.CookieSecure, true)
	c.Status(http.StatusNoContent)
}

func (s *Service) handleMe(c *gin.Context) {
	claims, _ := ClaimsFrom(c)
	user, err := s.User(c.Request.Context(), claims)
	if err != nil {
		s.log.Errorf("me: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "email": user.Email})
}

func (s *Service) renderLoginError(c *gin.Context, err error) {
	if errors.Is(err, ErrLoginExpired) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	s.log.Errorf("verify login: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (s *Service) setCookie(c *gin.Context, sess Session) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cfg.CookieName, sess.Token, int(s.cfg.sessionTTL().Seconds()), "/", "", s.cfg.CookieSecure, true)
}

func publicUser(sess Session) gin.H {
	return gin.H{"id": sess.User.ID, "email": sess.User.Email}
}
