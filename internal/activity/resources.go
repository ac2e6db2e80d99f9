package activity

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/edvin/certflow/internal/model"
	"github.com/edvin/certflow/internal/retry"
)

// listConcurrency bounds concurrent resource-group listings.
const listConcurrency = 4

// Resources reads hosting resources for the workflows.
type Resources struct {
	resources ResourceManager
}

// NewResources creates a new Resources activity struct.
func NewResources(resources ResourceManager) *Resources {
	return &Resources{resources: resources}
}

// GetResource returns the resource or a NotFound error.
func (a *Resources) GetResource(ctx context.Context, id string) (*model.HostingResource, error) {
	r, err := a.resources.GetResource(ctx, id)
	if err != nil {
		return nil, retry.NotYet("get resource %s: %v", id, err)
	}
	if r == nil {
		return nil, retry.NotFound("resource %s not found", id)
	}
	return r, nil
}

// ListAllResourcesParams holds parameters for the ListAllResources activity.
type ListAllResourcesParams struct {
	// ResourceGroups restricts the listing. Empty lists every group.
	ResourceGroups []string `json:"resource_groups,omitempty"`
}

// ListAllResources lists the resources of every requested resource group.
// Groups are listed concurrently; the result is ordered by group then by
// the order the resource manager returned.
func (a *Resources) ListAllResources(ctx context.Context, params ListAllResourcesParams) ([]model.HostingResource, error) {
	groups := params.ResourceGroups
	if len(groups) == 0 {
		var err error
		if groups, err = a.resources.ListResourceGroups(ctx); err != nil {
			return nil, retry.NotYet("list resource groups: %v", err)
		}
	}
	groups = slices.Compact(slices.Sorted(slices.Values(groups)))

	var mu sync.Mutex
	byGroup := make(map[string][]model.HostingResource, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for _, group := range groups {
		g.Go(func() error {
			list, err := a.resources.ListResources(gctx, group)
			if err != nil {
				return err
			}
			mu.Lock()
			byGroup[group] = list
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, retry.NotYet("list resources: %v", err)
	}

	var out []model.HostingResource
	for _, group := range groups {
		out = append(out, byGroup[group]...)
	}
	return out, nil
}
