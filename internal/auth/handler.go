package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/veltix/auth-api/internal/config"
	"github.com/veltix/auth-api/internal/httputil"
	"github.com/veltix/auth-api/internal/logging"
	"github.com/veltix/auth-api/internal/ratelimit"
)

// SessionManager is the slice of the session store the handler needs.
type SessionManager interface {
	SessionStore
	Create(ctx context.Context, w http.ResponseWriter, userID uuid.UUID) error
	Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) bool
}

// Handler contains the HTTP handlers for the auth endpoints.
type Handler struct {
	service     *Service
	rateLimiter *ratelimit.Limiter
	sessions    SessionManager
	logger      *logging.Logger
	cfg         config.AuthConfig
}

func NewHandler(service *Service, rateLimiter *ratelimit.Limiter, sessions SessionManager, logger *logging.Logger, cfg config.AuthConfig) *Handler {
	return &Handler{
		service:     service,
		rateLimiter: rateLimiter,
		sessions:    sessions,
		logger:      logger,
		cfg:         cfg,
	}
}

// SocialRequest carries the temporal token minted at provider callback time.
type SocialRequest struct {
	AccessToken string `json:"access_token"`
}

// RefreshRequest represents the token refresh request body
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ForgotPasswordRequest represents the password reset request
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest represents the password reset confirmation
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ConfirmEmailRequest carries the emailed verification token.
type ConfirmEmailRequest struct {
	Token string `json:"email_verification_token"`
}

// TwoFactorRequest carries a one-time code.
type TwoFactorRequest struct {
	Token string `json:"token"`
}

// Register handles user registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	// Rate limit by IP
	ip := getClientIP(r)
	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, "register")
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
	} else if exceeded {
		logger.Warn("IP rate limit exceeded for register", "ip", ip)
		respondError(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return
	}

	var req RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid registration request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, "register"); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}

	payload, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, logger, "registration failed", err)
		return
	}

	logger.Info("user registered successfully", "user_id", payload.User.ID)

	h.respondPayload(w, r, payload, http.StatusCreated)
}

// Login handles user login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	// Rate limit by IP
	ip := getClientIP(r)
	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, "login")
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
	} else if exceeded {
		logger.Warn("IP rate limit exceeded for login", "ip", ip)
		respondError(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return
	}

	var req LoginInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, "login"); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}

	payload, err := h.service.Login(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, logger, "login failed", err)
		return
	}

	logger.Info("user logged in successfully")

	h.respondPayload(w, r, payload, http.StatusOK)
}

// SocialLogin completes a social login handoff.
func (h *Handler) SocialLogin(w http.ResponseWriter, r *http.Request) {
	h.social(w, r, SocialLogin, http.StatusOK)
}

// SocialRegister completes a social registration handoff.
func (h *Handler) SocialRegister(w http.ResponseWriter, r *http.Request) {
	h.social(w, r, SocialRegister, http.StatusCreated)
}

func (h *Handler) social(w http.ResponseWriter, r *http.Request, action SocialAction, status int) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req SocialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid social auth request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	payload, err := h.service.SocialAuth(r.Context(), req.AccessToken, action)
	if err != nil {
		h.respondServiceError(w, logger, "social auth failed", err)
		return
	}

	logger.Info("social auth succeeded", "action", string(action), "user_id", payload.User.ID)

	h.respondPayload(w, r, payload, status)
}

// Refresh redeems a refresh token for a fresh token pair.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	// Try to get refresh token from JSON body first
	var refreshToken string
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		refreshToken = req.RefreshToken
	}

	// Fallback to cookie if body empty/invalid
	if refreshToken == "" && !h.cfg.DisableCookies {
		refreshToken = RefreshTokenFromCookie(r, h.cfg)
	}

	refreshToken = strings.TrimSpace(refreshToken)

	payload, err := h.service.RefreshTokens(r.Context(), refreshToken)
	if err != nil {
		h.respondServiceError(w, logger, "token refresh failed", err)
		return
	}

	logger.Info("tokens refreshed successfully", "user_id", payload.User.ID)

	h.respondPayload(w, r, payload, http.StatusOK)
}

// Logout expires the principal's refresh tokens and tears down the session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if principal, ok := PrincipalFromContext(r.Context()); ok && principal.Authenticated() {
		if err := h.service.RemoveRefreshTokens(r.Context(), principal.User); err != nil {
			logger.Warn("failed to expire refresh tokens", "error", err.Error())
			// Continue - still clear cookies
		}
	}

	success := false
	if !h.cfg.DisableCookies {
		success = h.sessions.Destroy(r.Context(), w, r)
		ClearRefreshTokenCookie(w, h.cfg)
	}

	logger.Info("user logged out")

	respondJSON(w, map[string]bool{"success": success}, http.StatusOK)
}

// Me returns the authenticated principal.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok || !principal.Authenticated() {
		respondError(w, "Unauthorized.", httputil.CodeUnauthorized, http.StatusUnauthorized)
		return
	}

	respondJSON(w, map[string]any{"user": principal.User}, http.StatusOK)
}

// ForgotPassword starts the password reset flow.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid forgot password request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	// Get client IP for rate limiting
	ip := getClientIP(r)

	exceeded, err := h.rateLimiter.CheckIPRateLimit(r.Context(), ip)
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
		// Continue despite error to avoid blocking legitimate requests
	} else if exceeded {
		logger.Warn("IP rate limit exceeded", "ip", ip)
		respondError(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return
	}

	onCooldown, err := h.rateLimiter.CheckEmailCooldown(r.Context(), req.Email)
	if err != nil {
		logger.Error("failed to check email cooldown", "error", err.Error())
		// Continue despite error
	} else if onCooldown {
		logger.Warn("email on cooldown", "email", req.Email)
		respondError(w, "please wait before requesting another reset", httputil.CodeCooldownActive, http.StatusTooManyRequests)
		return
	}

	if err := h.rateLimiter.RecordIPRequest(r.Context(), ip); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		h.respondServiceError(w, logger, "forgot password failed", err)
		return
	}

	if err := h.rateLimiter.SetEmailCooldown(r.Context(), req.Email); err != nil {
		logger.Error("failed to set email cooldown", "error", err.Error())
	}

	respondJSON(w, map[string]string{
		"message": "Please check your email for password reset instructions.",
	}, http.StatusOK)
}

// ResetPassword completes the password reset flow.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid reset password request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	success, err := h.service.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		h.respondServiceError(w, logger, "password reset failed", err)
		return
	}

	if success {
		logger.Info("password reset successfully")
	}

	respondJSON(w, map[string]bool{"success": success}, http.StatusOK)
}

// ConfirmEmail verifies the principal's email with the emailed token.
func (h *Handler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	principal, ok := PrincipalFromContext(r.Context())
	if !ok || !principal.Authenticated() {
		respondError(w, "Unauthorized.", httputil.CodeUnauthorized, http.StatusUnauthorized)
		return
	}

	var req ConfirmEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid confirm email request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	confirmed, err := h.service.ConfirmEmail(r.Context(), principal.User, req.Token)
	if err != nil {
		h.respondServiceError(w, logger, "email confirmation failed", err)
		return
	}

	logger.Info("email verified successfully", "user_id", confirmed.ID)

	respondJSON(w, map[string]any{"user": confirmed}, http.StatusOK)
}

// ResendVerification resends the pending verification token.
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	principal, ok := PrincipalFromContext(r.Context())
	if !ok || !principal.Authenticated() {
		respondError(w, "Unauthorized.", httputil.CodeUnauthorized, http.StatusUnauthorized)
		return
	}

	// Get client IP for rate limiting
	ip := getClientIP(r)

	exceeded, err := h.rateLimiter.CheckIPRateLimit(r.Context(), ip)
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
		// Continue despite error
	} else if exceeded {
		logger.Warn("IP rate limit exceeded", "ip", ip)
		respondError(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return
	}

	onCooldown, err := h.rateLimiter.CheckEmailCooldown(r.Context(), principal.User.Email)
	if err != nil {
		logger.Error("failed to check email cooldown", "error", err.Error())
		// Continue despite error
	} else if onCooldown {
		logger.Warn("email on cooldown", "email", principal.User.Email)
		respondError(w, "please wait before requesting another email", httputil.CodeCooldownActive, http.StatusTooManyRequests)
		return
	}

	if err := h.rateLimiter.RecordIPRequest(r.Context(), ip); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}

	sent, err := h.service.ResendVerificationEmail(r.Context(), principal.User)
	if err != nil {
		h.respondServiceError(w, logger, "resend verification failed", err)
		return
	}

	if sent {
		if err := h.rateLimiter.SetEmailCooldown(r.Context(), principal.User.Email); err != nil {
			logger.Error("failed to set email cooldown", "error", err.Error())
		}
	}

	respondJSON(w, map[string]bool{"success": sent}, http.StatusOK)
}

// EnableTwoFactor starts two factor enrollment.
func (h *Handler) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	principal, ok := PrincipalFromContext(r.Context())
	if !ok || !principal.Authenticated() {
		respondError(w, "Unauthorized.", httputil.CodeUnauthorized, http.StatusUnauthorized)
		return
	}

	payload, err := h.service.EnableTwoFactor(r.Context(), principal.User)
	if err != nil {
		h.respondServiceError(w, logger, "two factor enrollment failed", err)
		return
	}

	respondJSON(w, payload, http.StatusOK)
}

// ConfirmEnableTwoFactor completes two factor enrollment.
func (h *Handler) ConfirmEnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	principal, ok := PrincipalFromContext(r.Context())
	if !ok || !principal.Authenticated() {
		respondError(w, "Unauthorized.", httputil.CodeUnauthorized, http.StatusUnauthorized)
		return
	}

	var req TwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid two factor request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	confirmed, err := h.service.ConfirmEnableTwoFactor(r.Context(), principal.User, req.Token)
	if err != nil {
		h.respondServiceError(w, logger, "two factor confirmation failed", err)
		return
	}

	logger.Info("two factor enabled", "user_id", confirmed.ID)

	respondJSON(w, map[string]any{"user": confirmed}, http.StatusOK)
}

// DisableTwoFactor tears down two factor enrollment.
func (h *Handler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	principal, ok := PrincipalFromContext(r.Context())
	if !ok || !principal.Authenticated() {
		respondError(w, "Unauthorized.", httputil.CodeUnauthorized, http.StatusUnauthorized)
		return
	}

	var req TwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid two factor request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	updated, err := h.service.DisableTwoFactor(r.Context(), principal.User, req.Token)
	if err != nil {
		h.respondServiceError(w, logger, "two factor disable failed", err)
		return
	}

	logger.Info("two factor disabled", "user_id", updated.ID)

	respondJSON(w, map[string]any{"user": updated}, http.StatusOK)
}

// respondPayload writes a successful auth payload. With cookies enabled the
// session is seeded, the refresh token moves into an http-only cookie and the
// raw tokens never reach the response body.
func (h *Handler) respondPayload(w http.ResponseWriter, r *http.Request, payload *AuthPayload, status int) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.cfg.DisableCookies {
		respondJSON(w, payload, status)
		return
	}

	if err := h.sessions.Create(r.Context(), w, payload.User.ID); err != nil {
		logger.Error("failed to create session", "error", err.Error())
		respondError(w, "internal error", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	SetRefreshTokenCookie(w, h.cfg, payload.RefreshToken, payload.RefreshTokenExpiresAt)

	respondJSON(w, map[string]any{"user": payload.User}, status)
}

// respondServiceError maps the error taxonomy onto transport responses.
func (h *Handler) respondServiceError(w http.ResponseWriter, logger *logging.Logger, action string, err error) {
	var validationErr *ValidationError
	var authErr *AuthenticationError
	var forbiddenErr *ForbiddenError
	var configErr *ConfigurationError

	switch {
	case errors.As(err, &validationErr):
		logger.Warn(action+": validation error", "error", validationErr.Message)
		fields := make([]httputil.FieldError, 0, len(validationErr.Fields))
		for _, fe := range validationErr.Fields {
			fields = append(fields, httputil.FieldError{Field: fe.Field, Message: fe.Message})
		}
		httputil.RespondValidationError(w, validationErr.Message, fields)
	case errors.As(err, &authErr):
		logger.Warn(action + ": authentication error")
		respondError(w, authErr.Message, httputil.CodeInvalidCredentials, http.StatusUnauthorized)
	case errors.As(err, &forbiddenErr):
		logger.Warn(action + ": forbidden")
		respondError(w, forbiddenErr.Message, httputil.CodeForbidden, http.StatusForbidden)
	case errors.As(err, &configErr):
		logger.Error(action+": configuration error", "error", configErr.Message)
		respondError(w, "internal error", httputil.CodeInternalError, http.StatusInternalServerError)
	default:
		logger.Error(action+": internal error", "error", err.Error())
		respondError(w, "internal error", httputil.CodeInternalError, http.StatusInternalServerError)
	}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data any, statusCode int) {
	httputil.RespondJSON(w, data, statusCode)
}

// respondError sends an error response with a machine-readable code
func respondError(w http.ResponseWriter, message string, code string, statusCode int) {
	httputil.RespondErrorWithCode(w, message, code, statusCode)
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (behind proxy/load balancer)
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		// X-Forwarded-For can contain multiple IPs, take the first one
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header
	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fallback to RemoteAddr
	ip := r.RemoteAddr
	// RemoteAddr format is "IP:port", extract just the IP
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
