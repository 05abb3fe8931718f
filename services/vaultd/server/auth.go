package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"strategyvaults/observability/logging"
	vaultdconfig "strategyvaults/services/vaultd/config"
)

// Principal describes an authenticated API caller. Vault calls made on its
// behalf use Address as the account, settler or liquidator.
type Principal struct {
	Name    string
	Address common.Address
	Admin   bool
}

type principalContextKey struct{}

// PrincipalFromContext extracts the authenticated principal from the request context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}

type credential struct {
	token     []byte
	principal *Principal
}

// Authenticator maps API tokens onto principals.
type Authenticator struct {
	credentials []credential
}

// NewAuthenticator builds an authenticator from the configured principals.
func NewAuthenticator(principals []vaultdconfig.Principal) (*Authenticator, error) {
	if len(principals) == 0 {
		return nil, fmt.Errorf("at least one principal must be configured")
	}
	auth := &Authenticator{credentials: make([]credential, 0, len(principals))}
	for _, p := range principals {
		token := strings.TrimSpace(p.Token)
		if token == "" {
			return nil, fmt.Errorf("principal %s: token required", p.Name)
		}
		auth.credentials = append(auth.credentials, credential{
			token:     []byte(token),
			principal: &Principal{Name: p.Name, Address: p.AddressOf(), Admin: p.Admin},
		})
	}
	return auth, nil
}

// Middleware rejects requests without a known token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			writeMessage(w, http.StatusInternalServerError, "authentication unavailable")
			return
		}
		principal, token := a.authenticate(r)
		if principal == nil {
			slog.Debug("authentication failed",
				slog.String("path", r.URL.Path),
				logging.MaskSecret("token", token))
			writeMessage(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*Principal, string) {
	token := parseBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-API-Token"))
	}
	if token == "" {
		return nil, ""
	}
	provided := []byte(token)
	var match *Principal
	for _, c := range a.credentials {
		if subtle.ConstantTimeCompare(provided, c.token) == 1 {
			match = c.principal
		}
	}
	return match, token
}

func parseBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// requireAdmin rejects principals without the admin bit.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok || !principal.Admin {
			writeMessage(w, http.StatusForbidden, "admin principal required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
