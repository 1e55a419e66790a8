package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/nedpals/supabase-go"
	"github.com/samber/lo"

	"github.com/snowskill/snowskill-backend/pkg/config"
)

const (
	RoleAffiliate = "affiliate"

	tempPasswordAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"
	tempPasswordLength   = 12

	disabledBanDuration = "876000h"
)

// NewSupabaseClient builds the service-role client shared by the verifier and admin helpers.
func NewSupabaseClient(cfg config.SupabaseConfig) (*supabase.Client, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.ServiceKey) == "" {
		return nil, fmt.Errorf("supabase url and service key are required")
	}
	client := supabase.CreateClient(cfg.URL, cfg.ServiceKey)
	if client == nil {
		return nil, fmt.Errorf("failed to create supabase client")
	}
	return client, nil
}

// NewVerifier prefers local JWT validation when a secret is configured and falls
// back to asking Supabase about the token otherwise.
func NewVerifier(cfg config.SupabaseConfig, client *supabase.Client) (Verifier, error) {
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		return NewJWTVerifier(cfg.JWTSecret)
	}
	if client == nil {
		return nil, fmt.Errorf("supabase client required when no jwt secret is configured")
	}
	return &SupabaseVerifier{client: client}, nil
}

// SupabaseVerifier resolves tokens through the Supabase auth API.
type SupabaseVerifier struct {
	client *supabase.Client
}

func NewSupabaseVerifier(client *supabase.Client) *SupabaseVerifier {
	return &SupabaseVerifier{client: client}
}

func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	user, err := v.client.Auth.User(ctx, token)
	if err != nil {
		return nil, classifyAuthError(err)
	}
	if user == nil {
		return nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: user id is not a uuid", ErrInvalidToken)
	}
	return &Identity{
		UserID:    userID,
		Email:     strings.ToLower(strings.TrimSpace(user.Email)),
		CreatedAt: user.CreatedAt.UTC(),
	}, nil
}

// classifyAuthError keeps transport failures apart from a rejected token.
// supabase-go reports non-JSON error bodies as "unknown, status code: N".
func classifyAuthError(err error) error {
	var urlErr *url.Error
	switch {
	case errors.As(err, &urlErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		strings.HasPrefix(err.Error(), "unknown, status code"):
		return fmt.Errorf("supabase auth unreachable: %w", err)
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}

// Admin provisions auth accounts through the Supabase admin API.
type Admin struct {
	client *supabase.Client
}

func NewAdmin(client *supabase.Client) (*Admin, error) {
	if client == nil {
		return nil, fmt.Errorf("supabase client required")
	}
	return &Admin{client: client}, nil
}

// CreateAffiliateUser registers a confirmed affiliate login with the given password.
func (a *Admin) CreateAffiliateUser(ctx context.Context, email, password, partnerName string) (uuid.UUID, error) {
	user, err := a.client.Admin.CreateUser(ctx, supabase.AdminUserParams{
		Email:        email,
		Password:     lo.ToPtr(password),
		EmailConfirm: true,
		AppMetadata: map[string]interface{}{
			"role":         RoleAffiliate,
			"partner_name": partnerName,
		},
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("create supabase user: %w", err)
	}
	if user == nil {
		return uuid.Nil, fmt.Errorf("create supabase user: empty response")
	}
	id, err := uuid.Parse(user.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create supabase user: invalid id %q", user.ID)
	}
	return id, nil
}

// DisableAffiliateUser bans the login and strips its affiliate role.
// supabase-go exposes no admin delete, so a ban is the closest undo.
func (a *Admin) DisableAffiliateUser(ctx context.Context, userID uuid.UUID) error {
	_, err := a.client.Admin.UpdateUser(ctx, userID.String(), supabase.AdminUserParams{
		BanDuration: disabledBanDuration,
		AppMetadata: map[string]interface{}{"role": nil},
	})
	if err != nil {
		return fmt.Errorf("disable supabase user: %w", err)
	}
	return nil
}

// TempPassword returns a random password from an alphabet without look-alike characters.
func TempPassword() (string, error) {
	max := big.NewInt(int64(len(tempPasswordAlphabet)))
	out := make([]byte, tempPasswordLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i] = tempPasswordAlphabet[n.Int64()]
	}
	return string(out), nil
}
