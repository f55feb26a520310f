package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/veltix/auth-api/internal/config"
	"github.com/veltix/auth-api/internal/logging"
	"github.com/veltix/auth-api/internal/user"
)

// SocialAction selects the social auth flow variant.
type SocialAction string

const (
	SocialLogin    SocialAction = "login"
	SocialRegister SocialAction = "register"
)

// Service composes the codecs, the rotation manager, the two factor engine
// and the repositories into the login, registration, social, password reset
// and verification flows.
type Service struct {
	users     *user.Repository
	rotation  *RotationManager
	oauth     *OAuthRepository
	resets    *PasswordResetRepository
	codec     TokenService
	twoFactor *TwoFactorEngine
	mailer    Mailer
	logger    *logging.Logger
	cfg       config.AuthConfig
	validate  *validator.Validate
}

func NewService(
	users *user.Repository,
	rotation *RotationManager,
	oauth *OAuthRepository,
	resets *PasswordResetRepository,
	codec TokenService,
	twoFactor *TwoFactorEngine,
	mailer Mailer,
	logger *logging.Logger,
	cfg config.AuthConfig,
) *Service {
	return &Service{
		users:     users,
		rotation:  rotation,
		oauth:     oauth,
		resets:    resets,
		codec:     codec,
		twoFactor: twoFactor,
		mailer:    mailer,
		logger:    logger,
		cfg:       cfg,
		validate:  validator.New(),
	}
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8"`
}

// LoginInput is the login payload. Token is the optional two factor code.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Token    string `json:"token"`
}

// AuthPayload is the response envelope for login, registration, social auth
// and refresh. Token fields are stripped by the handler when cookie-based
// transport is active.
type AuthPayload struct {
	User         *user.User `json:"user"`
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresIn    int64      `json:"expires_in,omitempty"`

	// RefreshTokenExpiresAt bounds the refresh cookie lifetime. Never
	// serialized.
	RefreshTokenExpiresAt time.Time `json:"-"`
}

// TwoFactorPayload carries the scannable enrollment artifact.
type TwoFactorPayload struct {
	DataURL string     `json:"dataURL"`
	User    *user.User `json:"user"`
}

// Register creates a new account, attaches the authenticated role when roles
// are enabled, optionally kicks off email verification and issues tokens.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*AuthPayload, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	var roleIDs []int64
	if s.cfg.RolesAndPermissions {
		role, err := s.users.GetRoleBySlug(ctx, "authenticated")
		if err != nil {
			if errors.Is(err, user.ErrRoleNotFound) {
				return nil, NewConfigurationError("the authenticated role must be created to use roles and permissions")
			}
			return nil, err
		}
		roleIDs = []int64{role.ID}
	}

	passwordHash, err := HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	params := user.CreateParams{
		Email:        input.Email,
		PasswordHash: &passwordHash,
		RoleIDs:      roleIDs,
	}

	var verificationToken string
	if s.cfg.VerifyEmails {
		verificationToken, err = GenerateOpaqueToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate verification token: %w", err)
		}
		params.EmailVerificationToken = &verificationToken
	}

	newUser, err := s.users.Create(ctx, params)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, NewValidationError("Validation failed.", FieldError{
				Field:   "email",
				Message: "A user already exists with this email.",
			})
		}
		return nil, err
	}

	if s.cfg.VerifyEmails && !s.cfg.SkipWelcomeEmail {
		s.sendMail(newUser.Email, fmt.Sprintf("Please verify your email using this link: %s", verificationToken))
	}

	return s.issueTokens(ctx, newUser)
}

// Login authenticates with email and password, enforcing the block state and
// two factor auth before any token is issued. Unknown email and wrong
// password produce the same error shape to prevent user enumeration.
func (s *Service) Login(ctx context.Context, input LoginInput) (*AuthPayload, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	u, err := s.users.GetByEmail(ctx, input.Email, s.cfg.RolesAndPermissions)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, NewAuthenticationError("Invalid credentials.")
		}
		return nil, err
	}

	if u.Blocked() {
		return nil, NewForbiddenError("Your account is temporarily disabled.")
	}

	if u.PasswordHash == nil || !VerifyPassword(*u.PasswordHash, input.Password) {
		return nil, NewAuthenticationError("Invalid credentials.")
	}

	if s.cfg.TwoFactorAuth && u.TwoFactorConfirmed() {
		if input.Token == "" {
			return nil, NewValidationError("The two factor authentication token is required.")
		}
		if u.TwoFactorSecret == nil || !s.twoFactor.VerifyCode(*u.TwoFactorSecret, input.Token) {
			return nil, NewValidationError("Invalid two factor authentication token.")
		}
	}

	return s.issueTokens(ctx, u)
}

// SocialAuth completes a social login or registration using the temporal
// token minted at provider callback time. The token is consumed exactly once.
func (s *Service) SocialAuth(ctx context.Context, temporalToken string, action SocialAction) (*AuthPayload, error) {
	invalid := NewValidationError("Validation failed.", FieldError{
		Field:   "access_token",
		Message: "Invalid access token provided.",
	})

	if temporalToken == "" {
		return nil, invalid
	}

	identity, err := s.oauth.FindByTemporalToken(ctx, temporalToken)
	if err != nil {
		if errors.Is(err, ErrOAuthIdentityNotFound) {
			return nil, invalid
		}
		return nil, err
	}

	u, err := s.users.GetByEmail(ctx, identity.Email, s.cfg.RolesAndPermissions)
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return nil, err
	}

	if u == nil && action == SocialLogin {
		return nil, NewValidationError("Validation failed.", FieldError{
			Field:   "email",
			Message: "Cannot find a user with these credentials.",
		})
	}

	if u != nil && action == SocialRegister {
		return nil, NewValidationError("Validation failed.", FieldError{
			Field:   "email",
			Message: fmt.Sprintf("A user already exists with email %s.", identity.Email),
		})
	}

	if u == nil {
		params := user.CreateParams{Email: identity.Email}
		if s.cfg.VerifyEmails {
			// The provider already verified this address.
			now := time.Now()
			params.EmailVerifiedAt = &now
		}
		if s.cfg.RolesAndPermissions {
			role, roleErr := s.users.GetRoleBySlug(ctx, "authenticated")
			if roleErr != nil {
				if errors.Is(roleErr, user.ErrRoleNotFound) {
					return nil, NewConfigurationError("the authenticated role must be created to use roles and permissions")
				}
				return nil, roleErr
			}
			params.RoleIDs = []int64{role.ID}
		}

		u, err = s.users.Create(ctx, params)
		if err != nil {
			return nil, err
		}
	}

	if err := s.oauth.Link(ctx, identity.ID, u.ID); err != nil {
		return nil, err
	}

	return s.issueTokens(ctx, u)
}

// RefreshTokens rotates a presented refresh token and returns a fresh token
// pair for its owner.
func (s *Service) RefreshTokens(ctx context.Context, presented string) (*AuthPayload, error) {
	result, err := s.rotation.Rotate(ctx, presented)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.codec.CreateToken(result.User.ID, s.cfg.AccessTokenDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	return &AuthPayload{
		User:                  result.User,
		AccessToken:           accessToken,
		RefreshToken:          result.RefreshToken,
		ExpiresIn:             int64(s.cfg.AccessTokenDuration.Seconds()),
		RefreshTokenExpiresAt: result.ExpiresAt,
	}, nil
}

// RemoveRefreshTokens force-expires every refresh token the user holds.
func (s *Service) RemoveRefreshTokens(ctx context.Context, u *user.User) error {
	return s.rotation.ExpireAll(ctx, u.ID)
}

// ForgotPassword upserts a reset record for the email and mails the token.
// The email must belong to an existing account.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	if email == "" {
		return NewValidationError("Validation failed.", FieldError{
			Field:   "email",
			Message: "The email is required.",
		})
	}

	existing, err := s.users.GetByEmail(ctx, email, false)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return NewValidationError("Validation failed.", FieldError{
				Field:   "email",
				Message: "Invalid email address.",
			})
		}
		return err
	}

	token, err := GenerateOpaqueToken()
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}

	if err := s.resets.Upsert(ctx, existing.Email, token); err != nil {
		return err
	}

	s.sendMail(existing.Email, fmt.Sprintf("Reset your password using this token: %s", token))

	return nil
}

// ResetPassword consumes a reset token and replaces the password hash. When
// the record points at a user that no longer exists, the stale record is
// deleted and the call reports failure without an error: a deliberately
// softer outcome than the validation failures.
func (s *Service) ResetPassword(ctx context.Context, token, password string) (bool, error) {
	if token == "" || len(password) < 8 {
		return false, NewValidationError("Validation failed.", FieldError{
			Field:   "password",
			Message: "The password must be at least 8 characters.",
		})
	}

	invalid := NewValidationError("Validation failed.", FieldError{
		Field:   "token",
		Message: "Invalid reset token.",
	})

	reset, err := s.resets.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrPasswordResetTokenNotFound) {
			return false, invalid
		}
		return false, err
	}

	if reset.ExpiresAt.Before(time.Now()) {
		return false, invalid
	}

	u, err := s.users.GetByEmail(ctx, reset.Email, false)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			if deleteErr := s.resets.Delete(ctx, reset.ID); deleteErr != nil {
				return false, deleteErr
			}
			return false, nil
		}
		return false, err
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, u.ID, passwordHash); err != nil {
		return false, err
	}

	if err := s.resets.Delete(ctx, reset.ID); err != nil {
		return false, err
	}

	// Outstanding refresh tokens die with the old password.
	if err := s.rotation.ExpireAll(ctx, u.ID); err != nil {
		s.logger.Warn("failed to expire refresh tokens after password reset", "user_id", u.ID, "error", err.Error())
	}

	return true, nil
}

// ConfirmEmail compares the submitted verification token with the stored one
// and stamps the verification time on match.
func (s *Service) ConfirmEmail(ctx context.Context, u *user.User, token string) (*user.User, error) {
	if u.EmailVerificationToken == nil || token == "" || *u.EmailVerificationToken != token {
		return nil, NewValidationError("Invalid email verification token.")
	}

	if err := s.users.MarkEmailVerified(ctx, u.ID); err != nil {
		return nil, err
	}

	return s.users.GetByID(ctx, u.ID, s.cfg.RolesAndPermissions)
}

// ResendVerificationEmail regenerates the pending verification token and
// resends it. A no-op returning false when nothing is pending.
func (s *Service) ResendVerificationEmail(ctx context.Context, u *user.User) (bool, error) {
	if u.EmailVerificationToken == nil {
		return false, nil
	}

	token, err := GenerateOpaqueToken()
	if err != nil {
		return false, fmt.Errorf("failed to generate verification token: %w", err)
	}

	if err := s.users.UpdateVerificationToken(ctx, u.ID, token); err != nil {
		return false, err
	}

	s.sendMail(u.Email, fmt.Sprintf("Please verify your email using this link: %s", token))

	return true, nil
}

// EnableTwoFactor starts (or restarts) enrollment: a fresh pending secret is
// stored and the provisioning QR code is returned. Idempotent until
// confirmed.
func (s *Service) EnableTwoFactor(ctx context.Context, u *user.User) (*TwoFactorPayload, error) {
	secret := s.twoFactor.GenerateSecret()

	if err := s.users.SetTwoFactorPending(ctx, u.ID, secret); err != nil {
		return nil, err
	}

	uri := s.twoFactor.ProvisioningURI(secret, u.Email)
	dataURL, err := s.twoFactor.QRCodeDataURL(uri)
	if err != nil {
		return nil, err
	}

	refreshed, err := s.users.GetByID(ctx, u.ID, s.cfg.RolesAndPermissions)
	if err != nil {
		return nil, err
	}

	return &TwoFactorPayload{DataURL: dataURL, User: refreshed}, nil
}

// ConfirmEnableTwoFactor verifies a code against the pending secret and
// flips enrollment to enabled. A failed code keeps the pending secret.
func (s *Service) ConfirmEnableTwoFactor(ctx context.Context, u *user.User, code string) (*user.User, error) {
	if code == "" {
		return nil, NewValidationError("The two factor authentication token is required.")
	}

	if u.TwoFactorSecret == nil {
		return nil, NewValidationError("You must enable two factor authentication first.")
	}

	if !s.twoFactor.VerifyCode(*u.TwoFactorSecret, code) {
		return nil, NewValidationError("Invalid two factor token.")
	}

	if err := s.users.ConfirmTwoFactor(ctx, u.ID); err != nil {
		return nil, err
	}

	return s.users.GetByID(ctx, u.ID, s.cfg.RolesAndPermissions)
}

// DisableTwoFactor verifies a fresh code and tears enrollment down. Requires
// two factor to actually be enabled.
func (s *Service) DisableTwoFactor(ctx context.Context, u *user.User, code string) (*user.User, error) {
	if !u.TwoFactorConfirmed() {
		return nil, NewValidationError("You do not have two factor authentication enabled.")
	}

	if code == "" {
		return nil, NewValidationError("The two factor authentication token is required.")
	}

	if u.TwoFactorSecret == nil || !s.twoFactor.VerifyCode(*u.TwoFactorSecret, code) {
		return nil, NewValidationError("Invalid two factor authentication code.")
	}

	if err := s.users.DisableTwoFactor(ctx, u.ID); err != nil {
		return nil, err
	}

	return s.users.GetByID(ctx, u.ID, s.cfg.RolesAndPermissions)
}

// issueTokens mints the access token and a fresh refresh token chain for
// the user.
func (s *Service) issueTokens(ctx context.Context, u *user.User) (*AuthPayload, error) {
	refreshToken, expiresAt, err := s.rotation.Issue(ctx, u.ID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	accessToken, err := s.codec.CreateToken(u.ID, s.cfg.AccessTokenDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	return &AuthPayload{
		User:                  u,
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		ExpiresIn:             int64(s.cfg.AccessTokenDuration.Seconds()),
		RefreshTokenExpiresAt: expiresAt,
	}, nil
}

// sendMail fires the message off in a goroutine; delivery is best effort and
// never rolls back the flow that triggered it.
func (s *Service) sendMail(address, body string) {
	go func() {
		ctx := context.Background()
		if err := s.mailer.To(address).SendRaw(ctx, body); err != nil {
			s.logger.Warn("failed to send mail", "email", address, "error", err.Error())
		}
	}()
}

// validateInput converts validator failures into the typed taxonomy.
func (s *Service) validateInput(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}

	var invalids validator.ValidationErrors
	if !errors.As(err, &invalids) {
		return NewValidationError("Validation failed.")
	}

	fields := make([]FieldError, 0, len(invalids))
	for _, fe := range invalids {
		fields = append(fields, FieldError{
			Field:   fe.Field(),
			Message: fmt.Sprintf("The %s field failed the %s rule.", fe.Field(), fe.Tag()),
		})
	}

	return NewValidationError("Validation failed.", fields...)
}
