package mockapi

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nuwan94/leaf/internal/session"
	"github.com/nuwan94/leaf/pkg/types"
)

const minPasswordLen = 6

// fieldErrors collects validation failures in the list-shaped detail format.
type fieldErrors []types.FieldError

func (fe *fieldErrors) add(field, msg string) {
	*fe = append(*fe, types.FieldError{Loc: []any{"body", field}, Msg: msg, Type: "value_error"})
}

func (fe fieldErrors) respond(c *gin.Context) bool {
	if len(fe) == 0 {
		return false
	}
	detail, _ := json.Marshal([]types.FieldError(fe))
	c.JSON(http.StatusUnprocessableEntity, types.ErrorResponse{Detail: detail})
	return true
}

func detailMessage(msg string) json.RawMessage {
	b, _ := json.Marshal(msg)
	return b
}

// POST /auth/login
func (s *Server) postLogin(c *gin.Context) {
	var req types.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[s.byEmail[strings.ToLower(req.Email)]]
	if !ok || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, types.ErrorResponse{Detail: detailMessage("Incorrect email or password")})
		return
	}

	pair, err := s.issuePairLocked(u)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "failed to create token"})
		return
	}
	c.JSON(http.StatusOK, types.LoginResponse{TokenPair: pair, User: u.User})
}

// POST /auth/register
func (s *Server) postRegister(c *gin.Context) {
	var req types.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
		return
	}

	var fe fieldErrors
	if strings.TrimSpace(req.Name) == "" {
		fe.add("name", "Name is required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		fe.add("email", "value is not a valid email address")
	}
	if len(req.Password) < minPasswordLen {
		fe.add("password", "Password must be at least 6 characters")
	}
	role, err := session.RoleFromID(req.RoleID)
	if err != nil {
		fe.add("role_id", "Unknown role")
	}
	if fe.respond(c) {
		return
	}

	email := strings.ToLower(req.Email)
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "failed to hash password"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[email]; taken {
		c.JSON(http.StatusConflict, types.ErrorResponse{
			Error:  "Email already registered",
			Errors: map[string]string{"email": "Email already registered"},
		})
		return
	}

	u := &user{
		User: types.User{
			ID:      uuid.NewString(),
			Name:    strings.TrimSpace(req.Name),
			Email:   email,
			Phone:   req.Phone,
			Address: req.Address,
			RoleID:  req.RoleID,
			Role:    string(role),
		},
		passwordHash: hash,
	}
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	c.JSON(http.StatusCreated, u.User)
}

// POST /auth/refresh
func (s *Server) postRefresh(c *gin.Context) {
	s.refreshCalls.Add(1)

	var req types.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusUnprocessableEntity, types.ErrorResponse{Detail: detailMessage("refresh_token is required")})
		return
	}

	s.mu.Lock()
	delay, fail := s.refreshDelay, s.refreshFail
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail != 0 {
		c.JSON(fail, types.ErrorResponse{Error: "refresh unavailable"})
		return
	}

	claims, err := s.tokens.verify(req.RefreshToken, tokenRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, types.ErrorResponse{Detail: detailMessage("Invalid refresh token")})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.refreshValid[req.RefreshToken]
	u, exists := s.users[userID]
	if !ok || !exists || userID != claims.Subject {
		c.JSON(http.StatusUnauthorized, types.ErrorResponse{Detail: detailMessage("Invalid refresh token")})
		return
	}
	// Refresh tokens rotate: each one is good for exactly one exchange.
	delete(s.refreshValid, req.RefreshToken)

	pair, err := s.issuePairLocked(u)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "failed to create token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// POST /auth/logout
func (s *Server) postLogout(c *gin.Context) {
	s.logoutCalls.Add(1)
	if s.failLogout.Load() {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "logout failed"})
		return
	}

	u := currentUser(c)
	s.mu.Lock()
	for tok, id := range s.refreshValid {
		if id == u.ID {
			delete(s.refreshValid, tok)
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, types.MessageResponse{Message: "Successfully logged out"})
}

// GET /auth/me
func (s *Server) getMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

// PUT /users/me
func (s *Server) putProfile(c *gin.Context) {
	var req types.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[currentUser(c).ID]
	if req.Name != "" {
		u.Name = req.Name
	}
	if req.Phone != "" {
		u.Phone = req.Phone
	}
	if req.Address != "" {
		u.Address = req.Address
	}
	c.JSON(http.StatusOK, u.User)
}

// PUT /users/me/password
func (s *Server) putPassword(c *gin.Context) {
	var req types.PasswordChange
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
		return
	}
	var fe fieldErrors
	if len(req.NewPassword) < minPasswordLen {
		fe.add("new_password", "Password must be at least 6 characters")
	}
	if fe.respond(c) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[currentUser(c).ID]
	if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(req.CurrentPassword)) != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:  "Current password is incorrect",
			Errors: map[string]string{"current_password": "Current password is incorrect"},
		})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "failed to hash password"})
		return
	}
	u.passwordHash = hash
	c.JSON(http.StatusOK, types.MessageResponse{Message: "Password updated"})
}
