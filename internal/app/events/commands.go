package events

import "context"

// IdentityProvider supplies the current session's user id; false means
// there is no authenticated session.
type IdentityProvider interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

type IdentityFunc func(ctx context.Context) (string, bool)

func (f IdentityFunc) CurrentUserID(ctx context.Context) (string, bool) {
	return f(ctx)
}

// CreateRequest is the body of a create command.
type CreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
}

// Commands maps view commands onto repository operations for whichever
// user the identity provider reports.
type Commands struct {
	Repo     *Repository
	Identity IdentityProvider
}

func NewCommands(repo *Repository, identity IdentityProvider) *Commands {
	return &Commands{Repo: repo, Identity: identity}
}

func (c *Commands) owner(ctx context.Context) (string, error) {
	if c.Identity == nil {
		return "", ErrUnauthenticated
	}
	id, ok := c.Identity.CurrentUserID(ctx)
	if !ok || id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}

func (c *Commands) OnCreate(ctx context.Context, req CreateRequest) (Event, error) {
	owner, err := c.owner(ctx)
	if err != nil {
		return Event{}, err
	}
	return c.Repo.Create(ctx, owner, req.Title, req.Description, req.Date)
}

func (c *Commands) OnUpdate(ctx context.Context, eventID string, patch EventPatch) (Event, error) {
	owner, err := c.owner(ctx)
	if err != nil {
		return Event{}, err
	}
	return c.Repo.Update(ctx, owner, eventID, patch)
}

func (c *Commands) OnDelete(ctx context.Context, eventID string) error {
	owner, err := c.owner(ctx)
	if err != nil {
		return err
	}
	return c.Repo.Delete(ctx, owner, eventID)
}

func (c *Commands) OnToggleFavorite(ctx context.Context, eventID string) (Event, error) {
	owner, err := c.owner(ctx)
	if err != nil {
		return Event{}, err
	}
	return c.Repo.ToggleFavorite(ctx, owner, eventID)
}

func (c *Commands) OnListRequest(ctx context.Context) ([]Event, error) {
	owner, err := c.owner(ctx)
	if err != nil {
		return nil, err
	}
	return c.Repo.List(ctx, owner)
}

func (c *Commands) OnFavoritesRequest(ctx context.Context) ([]Event, error) {
	owner, err := c.owner(ctx)
	if err != nil {
		return nil, err
	}
	return c.Repo.ListFavorites(ctx, owner)
}

func (c *Commands) OnViewRequest(ctx context.Context) ([]Event, error) {
	owner, err := c.owner(ctx)
	if err != nil {
		return nil, err
	}
	return c.Repo.View(owner)
}

func (c *Commands) OnReconcileRequest(ctx context.Context) (ReconcileReport, error) {
	owner, err := c.owner(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}
	return c.Repo.ReconcileFavorites(ctx, owner)
}
