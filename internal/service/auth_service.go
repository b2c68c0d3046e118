package service

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
	"github.com/vedran77/chatten/internal/repository"
	"github.com/vedran77/chatten/pkg/validator"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

var (
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrInvalidState   = errors.New("invalid oauth state")
	ErrInvalidProfile = errors.New("invalid oauth profile")
	ErrOAuthDisabled  = errors.New("oauth provider not configured")
)

const stateTTL = 10 * time.Minute

// Profile is the identity returned by an OAuth provider.
type Profile struct {
	Subject string `json:"sub"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

// OAuthProvider performs the provider side of the authorization code flow.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Profile, error)
}

type AuthService struct {
	userRepo  repository.UserRepository
	provider  OAuthProvider
	jwtSecret []byte
	stateAEAD cipher.AEAD
	ttl       time.Duration
	now       func() time.Time
}

func NewAuthService(userRepo repository.UserRepository, jwtSecret string, ttl time.Duration) *AuthService {
	key := sha256.Sum256([]byte("oauth-state:" + jwtSecret))
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		// A 32-byte key cannot be rejected.
		panic(err)
	}

	return &AuthService{
		userRepo:  userRepo,
		jwtSecret: []byte(jwtSecret),
		stateAEAD: aead,
		ttl:       ttl,
		now:       time.Now,
	}
}

// SetProvider sets the OAuth provider (optional dependency).
func (s *AuthService) SetProvider(p OAuthProvider) {
	s.provider = p
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.ttl
}

type sealedState struct {
	Nonce   string `json:"n"`
	Expires int64  `json:"e"`
}

// BeginLogin returns the provider redirect URL and the sealed state value the
// caller must store (cookie) for the callback to verify.
func (s *AuthService) BeginLogin() (redirectURL, sealed string, err error) {
	if s.provider == nil {
		return "", "", ErrOAuthDisabled
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(raw)

	sealed, err = s.sealState(sealedState{Nonce: state, Expires: s.now().Add(stateTTL).Unix()})
	if err != nil {
		return "", "", err
	}

	return s.provider.AuthCodeURL(state), sealed, nil
}

// CompleteLogin verifies the state, exchanges the code and returns the
// (lazily created) user with a fresh session token.
func (s *AuthService) CompleteLogin(ctx context.Context, code, state, sealed string) (*domain.User, string, error) {
	if s.provider == nil {
		return nil, "", ErrOAuthDisabled
	}

	st, err := s.openState(sealed)
	if err != nil || st.Nonce != state || s.now().Unix() > st.Expires {
		return nil, "", ErrInvalidState
	}

	profile, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("exchanging code: %w", err)
	}

	user, err := s.UpsertFromProfile(ctx, profile)
	if err != nil {
		return nil, "", err
	}

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("generating token: %w", err)
	}

	return user, token, nil
}

// UpsertFromProfile returns the user bound to the profile's subject,
// creating it on first login and refreshing name and avatar afterwards.
func (s *AuthService) UpsertFromProfile(ctx context.Context, p *Profile) (*domain.User, error) {
	if p == nil || validator.ValidateProfile(p.Subject, p.Name, p.Email).HasErrors() {
		return nil, ErrInvalidProfile
	}

	var avatar *string
	if p.Picture != "" {
		avatar = &p.Picture
	}

	user, err := s.userRepo.GetByExternalID(ctx, p.Subject)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if user != nil {
		if user.Name != p.Name || !sameAvatar(user.AvatarURL, avatar) {
			user.Name = p.Name
			user.AvatarURL = avatar
			user.UpdatedAt = now
			if err := s.userRepo.Update(ctx, user); err != nil {
				return nil, fmt.Errorf("updating user: %w", err)
			}
		}
		return user, nil
	}

	user = &domain.User{
		ID:           uuid.New(),
		ExternalID:   p.Subject,
		Name:         p.Name,
		Email:        p.Email,
		AvatarURL:    avatar,
		BlockedUsers: []uuid.UUID{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Concurrent first login for the same subject.
			existing, lookupErr := s.userRepo.GetByExternalID(ctx, p.Subject)
			if lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	log.Info("user created", "user_id", user.ID, "email", user.Email)
	return user, nil
}

// CurrentUser loads the authenticated user.
func (s *AuthService) CurrentUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *AuthService) IssueToken(userID uuid.UUID) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken returns the user id carried by a session token.
func (s *AuthService) ValidateToken(tokenStr string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return userID, nil
}

func (s *AuthService) sealState(st sealedState) (string, error) {
	plain, err := json.Marshal(st)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, s.stateAEAD.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	out := s.stateAEAD.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *AuthService) openState(sealed string) (*sealedState, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, err
	}
	ns := s.stateAEAD.NonceSize()
	if len(raw) < ns {
		return nil, ErrInvalidState
	}

	plain, err := s.stateAEAD.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, err
	}

	var st sealedState
	if err := json.Unmarshal(plain, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func sameAvatar(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// GoogleProvider implements OAuthProvider against Google's OAuth 2.0 endpoints.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     endpoints.Google,
		},
		userInfoURL: "https://www.googleapis.com/oauth2/v3/userinfo",
	}
}

func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (g *GoogleProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	tok, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.config.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching userinfo: status %d", resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding userinfo: %w", err)
	}
	return &p, nil
}
