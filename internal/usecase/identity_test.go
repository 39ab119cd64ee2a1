package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/usecase"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
)

type fakeInstanceRepo struct {
	byID map[string]*domain.Instance
}

func (f *fakeInstanceRepo) Upsert(ctx context.Context, i *domain.Instance) (*domain.Instance, error) {
	return i, nil
}
func (f *fakeInstanceRepo) GetByID(ctx context.Context, instanceID string) (*domain.Instance, error) {
	if i, ok := f.byID[instanceID]; ok {
		return i, nil
	}
	return nil, domain.ErrInstanceNotFound
}
func (f *fakeInstanceRepo) SetOnline(ctx context.Context, instanceID, cometID string) error  { return nil }
func (f *fakeInstanceRepo) SetOffline(ctx context.Context, instanceID string) error           { return nil }
func (f *fakeInstanceRepo) CreateGroup(ctx context.Context, g *domain.InstanceGroup) (*domain.InstanceGroup, error) {
	return g, nil
}
func (f *fakeInstanceRepo) GetGroup(ctx context.Context, id string) (*domain.InstanceGroup, error) {
	return nil, nil
}
func (f *fakeInstanceRepo) Resolve(ctx context.Context, sel domain.TargetSelector) ([]*domain.Instance, error) {
	return nil, nil
}

const testSigningKey = "test-assign-token-secret-32-bytes!!"

func TestIdentityResolver_AcceptsValidAssignToken(t *testing.T) {
	issuer := usecase.NewIdentityIssuer([]byte(testSigningKey))
	token, err := issuer.IssueAssignToken("inst-1", "default")
	if err != nil {
		t.Fatalf("IssueAssignToken() error = %v", err)
	}

	repo := &fakeInstanceRepo{byID: map[string]*domain.Instance{
		"inst-1": {InstanceID: "inst-1", Namespace: "default"},
	}}
	resolver := usecase.NewIdentityResolver([]byte(testSigningKey), repo)

	err = resolver.ResolveIdentity(context.Background(), wire.HelloPayload{
		InstanceID: "inst-1", Namespace: "default", AssignToken: token,
	})
	if err != nil {
		t.Fatalf("ResolveIdentity() error = %v, want nil", err)
	}
}

func TestIdentityResolver_RejectsTokenForDifferentInstance(t *testing.T) {
	issuer := usecase.NewIdentityIssuer([]byte(testSigningKey))
	token, err := issuer.IssueAssignToken("inst-1", "default")
	if err != nil {
		t.Fatalf("IssueAssignToken() error = %v", err)
	}

	repo := &fakeInstanceRepo{byID: map[string]*domain.Instance{
		"inst-2": {InstanceID: "inst-2", Namespace: "default"},
	}}
	resolver := usecase.NewIdentityResolver([]byte(testSigningKey), repo)

	err = resolver.ResolveIdentity(context.Background(), wire.HelloPayload{
		InstanceID: "inst-2", Namespace: "default", AssignToken: token,
	})
	if !errors.Is(err, usecase.ErrAssignTokenInvalid) {
		t.Fatalf("ResolveIdentity() error = %v, want ErrAssignTokenInvalid", err)
	}
}

func TestIdentityResolver_RejectsUnknownInstance(t *testing.T) {
	issuer := usecase.NewIdentityIssuer([]byte(testSigningKey))
	token, err := issuer.IssueAssignToken("inst-unregistered", "default")
	if err != nil {
		t.Fatalf("IssueAssignToken() error = %v", err)
	}

	repo := &fakeInstanceRepo{byID: map[string]*domain.Instance{}}
	resolver := usecase.NewIdentityResolver([]byte(testSigningKey), repo)

	err = resolver.ResolveIdentity(context.Background(), wire.HelloPayload{
		InstanceID: "inst-unregistered", Namespace: "default", AssignToken: token,
	})
	if !errors.Is(err, domain.ErrInstanceNotFound) {
		t.Fatalf("ResolveIdentity() error = %v, want ErrInstanceNotFound", err)
	}
}

func TestIdentityResolver_CometHelloSkipsAssignToken(t *testing.T) {
	repo := &fakeInstanceRepo{byID: map[string]*domain.Instance{}}
	resolver := usecase.NewIdentityResolver([]byte(testSigningKey), repo)

	err := resolver.ResolveIdentity(context.Background(), wire.HelloPayload{CometID: "comet-1"})
	if err != nil {
		t.Fatalf("ResolveIdentity() error = %v, want nil for comet hello", err)
	}
}
