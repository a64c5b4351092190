package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pinprompt/backend/internal/auth"
	"github.com/pinprompt/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrUnauthenticated indicates no profile row exists for the session
	// identity. Callers treat this as terminal for the current view.
	ErrUnauthenticated = errors.New("profiles: unauthenticated")
	// ErrHandleTaken indicates the requested handle is already in use.
	ErrHandleTaken = errors.New("profiles: handle already taken")
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("profiles: email already registered")
	// ErrInvalidCredentials covers both unknown emails and bad passwords.
	ErrInvalidCredentials = errors.New("profiles: invalid credentials")
	// ErrInvalidHandle indicates an empty or oversized handle.
	ErrInvalidHandle = errors.New("profiles: invalid handle")
)

const maxHandleLength = 64

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "profiles.service.new"
	opRegister       = "profiles.register"
	opLogin          = "profiles.login"
	opResolveSession = "profiles.resolve_session"
	opUpdateProfile  = "profiles.update_profile"
	opGetProfile     = "profiles.get"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies for account management and
// session resolution.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service manages profile rows and resolves authenticated sessions.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
	cache      sync.Map
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// RegisterInput carries the sign-up payload.
type RegisterInput struct {
	Handle   string
	Email    string
	Password string
}

// Register creates a profile row with a hashed credential.
func (s *Service) Register(ctx context.Context, input RegisterInput) (Profile, error) {
	handle := normalize(input.Handle)
	email := strings.ToLower(normalize(input.Email))
	if handle == "" || len(handle) > maxHandleLength {
		return Profile{}, newServiceError(opRegister, "invalid_handle", ErrInvalidHandle)
	}
	if email == "" {
		return Profile{}, newServiceError(opRegister, "invalid_email", ErrInvalidCredentials)
	}

	var existing Profile
	err := s.db.WithContext(ctx).Where("handle = ?", handle).Take(&existing).Error
	if err == nil {
		return Profile{}, newServiceError(opRegister, "handle_taken", ErrHandleTaken)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opRegister, "handle_lookup_failed", err)
		return Profile{}, newServiceError(opRegister, "handle_lookup_failed", err)
	}
	err = s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return Profile{}, newServiceError(opRegister, "email_taken", ErrEmailTaken)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opRegister, "email_lookup_failed", err)
		return Profile{}, newServiceError(opRegister, "email_lookup_failed", err)
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return Profile{}, newServiceError(opRegister, "password_hash_failed", err)
	}
	profileID, err := s.idProvider.NewID()
	if err != nil {
		return Profile{}, newServiceError(opRegister, "id_generation_failed", err)
	}

	profile := Profile{
		ProfileID:        profileID,
		Handle:           handle,
		Email:            email,
		PasswordHash:     hash,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		s.logError(opRegister, "insert_failed", err, zap.String("handle", handle))
		return Profile{}, newServiceError(opRegister, "insert_failed", err)
	}
	return profile, nil
}

// Login verifies credentials and returns the matching profile.
func (s *Service) Login(ctx context.Context, email, password string) (Profile, error) {
	email = strings.ToLower(normalize(email))

	var profile Profile
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, newServiceError(opLogin, "unknown_email", ErrInvalidCredentials)
	}
	if err != nil {
		s.logError(opLogin, "lookup_failed", err)
		return Profile{}, newServiceError(opLogin, "lookup_failed", err)
	}
	if err := auth.CheckPassword(profile.PasswordHash, password); err != nil {
		return Profile{}, newServiceError(opLogin, "password_mismatch", ErrInvalidCredentials)
	}
	return profile, nil
}

// ResolveSession returns the profile for an authenticated identity. A
// missing row yields ErrUnauthenticated; there is no retry, failure is
// terminal for the view.
func (s *Service) ResolveSession(ctx context.Context, profileID string) (Profile, error) {
	if profileID == "" {
		return Profile{}, newServiceError(opResolveSession, "missing_profile_id", ErrUnauthenticated)
	}

	if cached, ok := s.cache.Load(profileID); ok {
		if profile, ok := cached.(Profile); ok {
			return profile, nil
		}
	}

	var profile Profile
	err := s.db.WithContext(ctx).Where("profile_id = ?", profileID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, newServiceError(opResolveSession, "profile_not_found", ErrUnauthenticated)
	}
	if err != nil {
		s.logError(opResolveSession, "lookup_failed", err, zap.String("profile_id", profileID))
		return Profile{}, newServiceError(opResolveSession, "lookup_failed", err)
	}

	s.cache.Store(profileID, profile)
	return profile, nil
}

// Get loads a profile by identifier.
func (s *Service) Get(ctx context.Context, profileID string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("profile_id = ?", profileID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, newServiceError(opGetProfile, "not_found", err)
	}
	if err != nil {
		s.logError(opGetProfile, "lookup_failed", err, zap.String("profile_id", profileID))
		return Profile{}, newServiceError(opGetProfile, "lookup_failed", err)
	}
	return profile, nil
}

// GetByHandle loads a profile by its unique handle.
func (s *Service) GetByHandle(ctx context.Context, handle string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("handle = ?", normalize(handle)).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, newServiceError(opGetProfile, "not_found", err)
	}
	if err != nil {
		s.logError(opGetProfile, "lookup_failed", err, zap.String("handle", handle))
		return Profile{}, newServiceError(opGetProfile, "lookup_failed", err)
	}
	return profile, nil
}

// ProfileUpdate carries the mutable profile fields. Nil pointers leave the
// stored value untouched.
type ProfileUpdate struct {
	Bio        *string
	AvatarPath *string
}

// UpdateProfile applies avatar/bio changes and invalidates the session cache.
func (s *Service) UpdateProfile(ctx context.Context, profileID string, update ProfileUpdate) (Profile, error) {
	updates := map[string]interface{}{}
	if update.Bio != nil {
		updates["bio"] = normalize(*update.Bio)
	}
	if update.AvatarPath != nil {
		updates["avatar_path"] = normalize(*update.AvatarPath)
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&Profile{}).
			Where("profile_id = ?", profileID).
			Updates(updates).Error; err != nil {
			s.logError(opUpdateProfile, "update_failed", err, zap.String("profile_id", profileID))
			return Profile{}, newServiceError(opUpdateProfile, "update_failed", err)
		}
	}
	s.cache.Delete(profileID)
	return s.Get(ctx, profileID)
}

// InvalidateCache drops the cached session row for a profile. The social
// service calls this after touching the denormalized counters.
func (s *Service) InvalidateCache(profileID string) {
	s.cache.Delete(profileID)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("profiles service error", attrs...)
}
