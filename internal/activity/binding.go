package activity

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/certflow/internal/model"
	"github.com/edvin/certflow/internal/retry"
)

// Bindings applies certificates to resource TLS bindings and manages the
// temporary configuration HTTP-01 proofs need.
type Bindings struct {
	logger    zerolog.Logger
	resources ResourceManager
}

// NewBindings creates a new Bindings activity struct.
func NewBindings(logger zerolog.Logger, resources ResourceManager) *Bindings {
	return &Bindings{logger: logger.With().Str("activity", "bindings").Logger(), resources: resources}
}

// BindCertificateParams holds parameters for the BindCertificate activity.
type BindCertificateParams struct {
	ResourceID string   `json:"resource_id"`
	HostNames  []string `json:"host_names"`
	Thumbprint string   `json:"thumbprint"`
	// SSLState overrides the binding mode when set. Otherwise an enabled
	// binding keeps its mode and a disabled one becomes SNI.
	SSLState model.SSLState `json:"ssl_state,omitempty"`
}

// BindCertificate points the bindings of the listed host names at the
// certificate. Bindings for other host names are left untouched.
func (a *Bindings) BindCertificate(ctx context.Context, params BindCertificateParams) error {
	resource, err := a.getResource(ctx, params.ResourceID)
	if err != nil {
		return err
	}
	if resource == nil {
		return retry.NotFound("resource %s not found", params.ResourceID)
	}

	wanted := make(map[string]bool, len(params.HostNames))
	for _, h := range params.HostNames {
		wanted[strings.ToLower(h)] = true
	}

	update := *resource
	update.Bindings = nil
	for _, b := range resource.Bindings {
		if !wanted[strings.ToLower(b.HostName)] {
			continue
		}
		delete(wanted, strings.ToLower(b.HostName))
		b.Thumbprint = params.Thumbprint
		switch {
		case params.SSLState != "":
			b.SSLState = params.SSLState
		case b.SSLState == "" || b.SSLState == model.SSLStateDisabled:
			b.SSLState = model.SSLStateSNI
		}
		update.Bindings = append(update.Bindings, b)
	}
	if len(update.Bindings) == 0 {
		return retry.NotFound("resource %s has no binding for %s", resource.ID, strings.Join(params.HostNames, ", "))
	}

	if err := a.resources.UpdateBindings(ctx, update); err != nil {
		return retry.NotYet("update bindings on %s: %v", resource.ID, err)
	}
	if len(wanted) > 0 {
		var missing []string
		for h := range wanted {
			missing = append(missing, h)
		}
		a.logger.Warn().Str("resource", resource.ID).Strs("host_names", missing).Msg("host names without a binding")
	}
	a.logger.Info().Str("resource", resource.ID).Str("thumbprint", params.Thumbprint).
		Int("bindings", len(update.Bindings)).Msg("bound certificate")
	return nil
}

// ResourceParams identifies a hosting resource.
type ResourceParams struct {
	ResourceID string `json:"resource_id"`
}

// EnsureChallengeVirtualPath adds the virtual path HTTP-01 proofs are
// served from. It is a no-op when the path is already configured.
func (a *Bindings) EnsureChallengeVirtualPath(ctx context.Context, params ResourceParams) error {
	resource, err := a.getResource(ctx, params.ResourceID)
	if err != nil {
		return err
	}
	if resource == nil {
		return retry.NotFound("resource %s not found", params.ResourceID)
	}
	marker := challengeVirtualPath()
	if resource.HasVirtualPath(marker) {
		return nil
	}
	for _, vp := range resource.VirtualPaths {
		if vp.Path == marker.Path {
			return retry.Precondition("resource %s already maps %s to %s", resource.ID, vp.Path, vp.PhysicalPath)
		}
	}
	if err := a.resources.SetVirtualPath(ctx, resource.ID, marker); err != nil {
		return retry.NotYet("set virtual path on %s: %v", resource.ID, err)
	}
	return nil
}

// CleanupTemporaryConfig removes the challenge virtual path if it still
// points at the exact physical path certflow created.
func (a *Bindings) CleanupTemporaryConfig(ctx context.Context, params ResourceParams) error {
	resource, err := a.getResource(ctx, params.ResourceID)
	if err != nil {
		return err
	}
	if resource == nil {
		return nil
	}
	marker := challengeVirtualPath()
	if !resource.HasVirtualPath(marker) {
		return nil
	}
	if err := a.resources.RemoveVirtualPath(ctx, resource.ID, marker); err != nil {
		return retry.NotYet("remove virtual path on %s: %v", resource.ID, err)
	}
	return nil
}

func (a *Bindings) getResource(ctx context.Context, id string) (*model.HostingResource, error) {
	r, err := a.resources.GetResource(ctx, id)
	if err != nil {
		return nil, retry.NotYet("get resource %s: %v", id, err)
	}
	return r, nil
}

func challengeVirtualPath() model.VirtualPath {
	return model.VirtualPath{Path: model.ChallengeVirtualPath, PhysicalPath: model.ChallengePhysicalPath}
}
