package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller. Subject scopes operation
// ownership, Admin unlocks administrative calls such as force-releasing
// a lock held by another owner.
type Identity struct {
	Subject string
	Admin   bool
	Claims  jwt.MapClaims
}

// Error is an authentication failure with the HTTP response to send.
type Error struct {
	Status  int
	Message string
	Headers map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("authentication failed with status %d", e.Status)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Authenticator validates inbound requests.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, *Error)
}

// New creates an Authenticator from configuration, or nil when
// authentication is disabled.
func New(config *Config) (Authenticator, error) {
	if config == nil {
		return nil, nil
	}

	provider := strings.TrimSpace(strings.ToLower(config.Provider))
	if provider == "" && len(config.Basic) > 0 {
		provider = "basic"
	}

	admins := map[string]bool{}
	for _, subject := range config.Admins {
		admins[subject] = true
	}

	switch provider {
	case "":
		return nil, nil
	case "basic":
		if len(config.Basic) == 0 {
			return nil, errors.New("basic auth provider requires credentials")
		}
		return &basicAuthenticator{credentials: config.Basic, admins: admins}, nil
	case "jwt":
		return newJwtAuthenticator(&config.JWT, admins)
	default:
		return nil, fmt.Errorf("unsupported auth provider %q", config.Provider)
	}
}

type basicAuthenticator struct {
	credentials map[string]string
	admins      map[string]bool
}

func (a *basicAuthenticator) Authenticate(r *http.Request) (*Identity, *Error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, unauthorized(`Basic realm="Restricted"`, errors.New("missing basic auth header"))
	}

	expected, exists := a.credentials[username]
	if !exists || expected != password {
		return nil, unauthorized(`Basic realm="Restricted"`, errors.New("invalid credentials"))
	}

	return &Identity{Subject: username, Admin: a.admins[username]}, nil
}

type jwtAuthenticator struct {
	key    any
	parser *jwt.Parser
	admins map[string]bool
}

func newJwtAuthenticator(config *JWTConfig, admins map[string]bool) (Authenticator, error) {
	algorithm := config.Algorithm
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	if jwt.GetSigningMethod(algorithm) == nil {
		return nil, fmt.Errorf("unknown jwt signing algorithm %q", algorithm)
	}

	material, err := keyMaterial(config)
	if err != nil {
		return nil, err
	}
	key, err := verificationKey(algorithm, material)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{algorithm})}
	if config.ClockSkew > 0 {
		opts = append(opts, jwt.WithLeeway(config.ClockSkew))
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if len(config.Audience) > 0 {
		opts = append(opts, jwt.WithAudience(config.Audience...))
	}

	return &jwtAuthenticator{
		key:    key,
		parser: jwt.NewParser(opts...),
		admins: admins,
	}, nil
}

func (a *jwtAuthenticator) Authenticate(r *http.Request) (*Identity, *Error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, unauthorized("Bearer", errors.New("missing authorization header"))
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, unauthorized("Bearer", errors.New("expected bearer token"))
	}

	token, err := a.parser.ParseWithClaims(parts[1], jwt.MapClaims{}, func(*jwt.Token) (any, error) {
		return a.key, nil
	})
	if err != nil {
		return nil, unauthorized("Bearer", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, unauthorized("Bearer", errors.New("unexpected token claims"))
	}

	subject, _ := claims["sub"].(string)
	admin, _ := claims["admin"].(bool)

	return &Identity{
		Subject: subject,
		Admin:   admin || a.admins[subject],
		Claims:  claims,
	}, nil
}

func keyMaterial(config *JWTConfig) ([]byte, error) {
	if config.KeyFile != "" {
		data, err := os.ReadFile(config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt key file: %w", err)
		}
		return data, nil
	}
	if config.Key != "" {
		return []byte(config.Key), nil
	}
	return nil, errors.New("jwt key or keyFile must be provided")
}

func verificationKey(algorithm string, material []byte) (any, error) {
	switch algorithm {
	case jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg():
		return material, nil
	case jwt.SigningMethodRS256.Alg(), jwt.SigningMethodRS384.Alg(), jwt.SigningMethodRS512.Alg():
		return jwt.ParseRSAPublicKeyFromPEM(material)
	case jwt.SigningMethodES256.Alg(), jwt.SigningMethodES384.Alg(), jwt.SigningMethodES512.Alg():
		return jwt.ParseECPublicKeyFromPEM(material)
	case jwt.SigningMethodEdDSA.Alg():
		return jwt.ParseEdPublicKeyFromPEM(material)
	default:
		return nil, fmt.Errorf("unsupported jwt algorithm %q", algorithm)
	}
}

func unauthorized(challenge string, cause error) *Error {
	return &Error{
		Status:  http.StatusUnauthorized,
		Message: "unauthorized",
		Headers: map[string]string{"WWW-Authenticate": challenge},
		Err:     cause,
	}
}
