package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/shelter/internal/apperr"
	"github.com/shelter/internal/auth"
	"github.com/shelter/internal/email"
	"github.com/shelter/internal/logger"
	"github.com/shelter/internal/middleware"
	"github.com/shelter/internal/model"
	"github.com/shelter/internal/repository"
	"github.com/shelter/internal/session"
	"github.com/shelter/internal/snowflake"
	"github.com/shelter/internal/storage"
	"github.com/shelter/internal/token"
)

// UserStore is the slice of the user repository the auth surface needs.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	SetVerified(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

type AuthHandler struct {
	users       UserStore
	sessions    *session.Manager
	codec       *token.Codec
	ids         *snowflake.Generator
	mailer      email.Mailer
	frontendURL string
}

func NewAuthHandler(users UserStore, sessions *session.Manager, codec *token.Codec, ids *snowflake.Generator, mailer email.Mailer, frontendURL string) *AuthHandler {
	return &AuthHandler{
		users:       users,
		sessions:    sessions,
		codec:       codec,
		ids:         ids,
		mailer:      mailer,
		frontendURL: strings.TrimSuffix(frontendURL, "/"),
	}
}

type registerRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

// Register creates an account, starts a session for the registering device
// and emails a verification link.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}
	if _, err := mail.ParseAddress(req.Email); err != nil || req.Username == "" || len(req.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid email, username or password"})
		return
	}

	if exists, err := h.users.ExistsByEmail(r.Context(), req.Email); err != nil {
		logger.Errorf("register: %v", err)
		writeAppError(w, apperr.RegistrationFailed)
		return
	} else if exists {
		writeAppError(w, apperr.EmailExists)
		return
	}
	if exists, err := h.users.ExistsByUsername(r.Context(), req.Username); err != nil {
		logger.Errorf("register: %v", err)
		writeAppError(w, apperr.RegistrationFailed)
		return
	} else if exists {
		writeAppError(w, apperr.UsernameTaken)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Errorf("register: hash password: %v", err)
		writeAppError(w, apperr.RegistrationFailed)
		return
	}
	u := &model.User{
		ID:           h.ids.Generate(),
		Email:        req.Email,
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		logger.Errorf("register: %v", err)
		writeAppError(w, apperr.RegistrationFailed)
		return
	}

	h.sendVerificationMail(r.Context(), u)

	pair, err := h.sessions.Issue(r.Context(), u.ID, u.Email, auth.DeviceIDFrom(r), r.UserAgent(), auth.ClientAddr(r))
	if err != nil {
		logger.Errorf("register: issue session: %v", err)
		writeAppError(w, apperr.SessionPersistFailed)
		return
	}
	auth.SetTokenCookies(w, pair)
	writeJSON(w, http.StatusCreated, u)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies the credentials and issues a fresh pair for this device,
// superseding whatever refresh token the device held before.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	u, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeAppError(w, apperr.InvalidEmailPassword)
			return
		}
		logger.Errorf("login: %v", err)
		writeAppError(w, apperr.SessionPersistFailed)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		writeAppError(w, apperr.InvalidEmailPassword)
		return
	}

	pair, err := h.sessions.Issue(r.Context(), u.ID, u.Email, auth.DeviceIDFrom(r), r.UserAgent(), auth.ClientAddr(r))
	if err != nil {
		logger.Errorf("login: issue session: %v", err)
		writeAppError(w, apperr.SessionPersistFailed)
		return
	}
	auth.SetTokenCookies(w, pair)
	writeJSON(w, http.StatusOK, u)
}

// Logout revokes this device's session and clears the credential cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.sessions.Revoke(r.Context(), userID, auth.DeviceIDFrom(r)); err != nil {
		logger.Errorf("logout: %v", err)
	}
	auth.ClearTokenCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// Refresh rotates the refresh token explicitly. The presented token is
// consumed whether or not the client keeps the response.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refresh := auth.RefreshTokenFrom(r)
	if refresh == "" {
		writeAppError(w, apperr.NoRefreshToken)
		return
	}
	pair, _, err := h.sessions.Rotate(r.Context(), auth.DeviceIDFrom(r), r.UserAgent(), auth.ClientAddr(r), refresh)
	if err != nil {
		if errors.Is(err, session.ErrPersistFailed) {
			writeAppError(w, apperr.SessionPersistFailed)
			return
		}
		auth.ClearTokenCookies(w)
		writeAppError(w, apperr.InvalidOrExpiredRefreshToken)
		return
	}
	auth.SetTokenCookies(w, pair)
	w.WriteHeader(http.StatusNoContent)
}

type verifyRequest struct {
	Token string `json:"token"`
}

// VerifyEmail redeems an email-verification token.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	claims, ok := h.codec.Verify(token.KindEmailVerify, req.Token)
	if !ok {
		writeAppError(w, apperr.InvalidVerificationToken)
		return
	}
	if err := h.users.SetVerified(r.Context(), claims.UserID()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeAppError(w, apperr.UserNotFound)
			return
		}
		logger.Errorf("verify email: %v", err)
		writeAppError(w, apperr.InvalidVerificationToken)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type forgotRequest struct {
	Email string `json:"email"`
}

// ForgotPassword emails a reset link. Always answers 204 so the endpoint
// does not reveal which addresses exist.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	u, err := h.users.GetByEmail(r.Context(), req.Email)
	if err == nil {
		h.sendResetMail(r.Context(), u)
	} else if !errors.Is(err, repository.ErrNotFound) {
		logger.Errorf("forgot password: %v", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ResetPassword redeems a reset token, replaces the password and revokes
// every device session of the user.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password too short"})
		return
	}
	claims, ok := h.codec.Verify(token.KindEmailVerify, req.Token)
	if !ok {
		writeAppError(w, apperr.InvalidVerificationToken)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Errorf("reset password: hash: %v", err)
		writeAppError(w, apperr.SessionPersistFailed)
		return
	}
	if err := h.users.UpdatePassword(r.Context(), claims.UserID(), string(hash)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeAppError(w, apperr.UserNotFound)
			return
		}
		logger.Errorf("reset password: %v", err)
		writeAppError(w, apperr.SessionPersistFailed)
		return
	}
	if err := h.sessions.RevokeAll(r.Context(), claims.UserID()); err != nil {
		logger.Errorf("reset password: revoke sessions: %v", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDevices returns the caller's device sessions.
func (h *AuthHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.sessions.ListDevices(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		logger.Errorf("list devices: %v", err)
		writeAppError(w, apperr.SessionPersistFailed)
		return
	}
	if devices == nil {
		devices = []storage.DeviceInfo{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// RevokeAllDevices signs the caller out everywhere, including this device.
func (h *AuthHandler) RevokeAllDevices(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.RevokeAll(r.Context(), middleware.GetUserID(r.Context())); err != nil {
		logger.Errorf("revoke devices: %v", err)
		writeAppError(w, apperr.SessionPersistFailed)
		return
	}
	auth.ClearTokenCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeAppError(w, apperr.UserNotFound)
			return
		}
		logger.Errorf("me: %v", err)
		writeAppError(w, apperr.SessionPersistFailed)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *AuthHandler) sendVerificationMail(ctx context.Context, u *model.User) {
	if h.mailer == nil {
		return
	}
	t, err := h.codec.Sign(token.KindEmailVerify, u.ID, u.Email)
	if err != nil {
		logger.Errorf("verification mail: sign token: %v", err)
		return
	}
	link := fmt.Sprintf("%s/verify-email?token=%s", h.frontendURL, t)
	html := fmt.Sprintf(`<p>Hi %s,</p><p>Confirm your email address by following <a href="%s">this link</a>. The link expires in 10 minutes.</p>`, u.DisplayName, link)
	if err := h.mailer.Send(ctx, u.Email, "Verify your email", html); err != nil {
		logger.Errorf("verification mail: %v", err)
	}
}

func (h *AuthHandler) sendResetMail(ctx context.Context, u *model.User) {
	if h.mailer == nil {
		return
	}
	t, err := h.codec.Sign(token.KindEmailVerify, u.ID, u.Email)
	if err != nil {
		logger.Errorf("reset mail: sign token: %v", err)
		return
	}
	link := fmt.Sprintf("%s/reset-password?token=%s", h.frontendURL, t)
	html := fmt.Sprintf(`<p>Hi %s,</p><p>Reset your password by following <a href="%s">this link</a>. The link expires in 10 minutes.</p>`, u.DisplayName, link)
	if err := h.mailer.Send(ctx, u.Email, "Reset your password", html); err != nil {
		logger.Errorf("reset mail: %v", err)
	}
}
