package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
	"github.com/golang-jwt/jwt/v5"
)

var ErrAssignTokenInvalid = errors.New("agent assignment token is invalid or expired")

const defaultAssignTokenTTL = 8760 * time.Hour // one year — reissued on re-provisioning, not on every boot

// IdentityIssuer mints the agent assignment credential (HS256 JWT) a newly
// provisioned instance carries in wire.HelloPayload.AssignToken, binding it
// to one instance_id so a stolen credential can't be replayed against a
// different target (§4.B "Comet asks Console to resolve_identity").
type IdentityIssuer struct {
	signingKey []byte
	ttl        time.Duration
}

func NewIdentityIssuer(signingKey []byte) *IdentityIssuer {
	return &IdentityIssuer{signingKey: signingKey, ttl: defaultAssignTokenTTL}
}

func (i *IdentityIssuer) IssueAssignToken(instanceID, namespace string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"instance_id": instanceID,
		"namespace":   namespace,
		"iat":         now.Unix(),
		"exp":         now.Add(i.ttl).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign assign token: %w", err)
	}
	return signed, nil
}

// IdentityResolver implements comet.IdentityResolver: it verifies the
// Hello's assign token against instanceID/namespace and confirms the
// instance is still known to the fleet.
type IdentityResolver struct {
	signingKey []byte
	instances  repository.InstanceRepository
}

func NewIdentityResolver(signingKey []byte, instances repository.InstanceRepository) *IdentityResolver {
	return &IdentityResolver{signingKey: signingKey, instances: instances}
}

func (r *IdentityResolver) ResolveIdentity(ctx context.Context, hello wire.HelloPayload) error {
	if hello.CometID != "" {
		// A Comet dialing Console identifies itself by CometID alone; no
		// per-instance assign token applies (§4.B Comet<->Console link).
		return nil
	}

	claims, err := r.parseAssignToken(hello.AssignToken)
	if err != nil {
		return err
	}

	if claims["instance_id"] != hello.InstanceID || claims["namespace"] != hello.Namespace {
		return ErrAssignTokenInvalid
	}

	if _, err := r.instances.GetByID(ctx, hello.InstanceID); err != nil {
		if errors.Is(err, domain.ErrInstanceNotFound) {
			return domain.ErrInstanceNotFound
		}
		return fmt.Errorf("resolve identity: %w", err)
	}
	return nil
}

func (r *IdentityResolver) parseAssignToken(raw string) (jwt.MapClaims, error) {
	if raw == "" {
		return nil, ErrAssignTokenInvalid
	}
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return r.signingKey, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrAssignTokenInvalid
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrAssignTokenInvalid
	}
	return claims, nil
}
