package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"authd/internal/domain/models"
	"authd/internal/lib/sl"
	authservice "authd/internal/services/auth"
)

const minPasswordLen = 8

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

type Auth interface {
	Register(
		ctx context.Context,
		username string,
		email string,
		password string,
	) (*models.User, error)
	Login(
		ctx context.Context,
		login string,
		password string,
	) (*models.TokenPair, error)
	Refresh(
		ctx context.Context,
		refreshToken string,
	) (*models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) (int64, error)
	UserByID(ctx context.Context, userID string) (*models.User, error)
	VerifyAccessToken(token string) (string, error)
}

type Server struct {
	logger *slog.Logger
	auth   Auth
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type messageResponse struct {
	Message string `json:"message"`
	Count   *int64 `json:"count,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Register attaches all auth routes to the mux.
func Register(mux *http.ServeMux, logger *slog.Logger, auth Auth) {
	s := &Server{logger: logger, auth: auth}

	mux.HandleFunc("POST /signup", s.signup)
	mux.HandleFunc("POST /login", s.login)
	mux.HandleFunc("POST /refresh", s.refresh)
	mux.HandleFunc("POST /logout", s.logout)
	mux.Handle("POST /logout-all", s.requireAuth(s.logoutAll))
	mux.Handle("GET /me", s.requireAuth(s.me))
	mux.Handle("GET /profile", s.requireAuth(s.profile))
	mux.HandleFunc("GET /health", s.health)
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validateSignupRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, authservice.ErrUsernameTaken) {
			writeError(w, http.StatusBadRequest, "username already taken")
			return
		}
		s.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	pair, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, authservice.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "incorrect username/email or password")
			return
		}
		if errors.Is(err, authservice.ErrInactiveAccount) {
			writeError(w, http.StatusUnauthorized, "account is inactive")
			return
		}
		s.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh token is required")
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, authservice.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "refresh token is invalid or expired")
			return
		}
		s.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, authservice.ErrInvalidToken) {
			writeError(w, http.StatusBadRequest, "invalid refresh token")
			return
		}
		s.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "successfully logged out"})
}

func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	count, err := s.auth.LogoutAll(r.Context(), userID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("successfully logged out from %d devices", count),
		Count:   &count,
	})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// profile additionally rejects inactive accounts.
func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusUnauthorized, "account is inactive")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	userID := UserIDFromContext(r.Context())

	user, err := s.auth.UserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, authservice.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid access token")
			return nil, false
		}
		s.internalError(w, r, err)
		return nil, false
	}
	return user, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed",
		slog.String("path", r.URL.Path),
		sl.Err(err),
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func validateSignupRequest(req *signupRequest) error {
	if req.Username == "" {
		return errors.New("username is required")
	}
	if req.Email == "" {
		return errors.New("email is required")
	}
	if !emailRegex.MatchString(req.Email) {
		return errors.New("invalid email format")
	}
	if req.Password == "" {
		return errors.New("password is required")
	}
	if len(req.Password) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
