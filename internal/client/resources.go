package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/turna/console/internal/models"
)

// Resource is the CRUD surface shared by tenants, accounts, memberships and
// demands.
type Resource[T any] struct {
	c    *Client
	name string
}

// Name returns the resource path segment, e.g. "tenant".
func (r *Resource[T]) Name() string {
	return r.name
}

func (r *Resource[T]) itemPath(id string) string {
	return "/api/" + r.name + "/" + url.PathEscape(id)
}

// List returns one page of the resource.
func (r *Resource[T]) List(ctx context.Context, query url.Values) (*models.Page[T], error) {
	return getPage[T](ctx, r.c, "/api/"+r.name+"/list", query)
}

// Get returns one item.
func (r *Resource[T]) Get(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, &ValidationError{Field: r.name + " id", Message: "is required"}
	}
	var out T
	if err := r.c.do(ctx, request{method: http.MethodGet, path: r.itemPath(id)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create posts a new item and returns the stored version.
func (r *Resource[T]) Create(ctx context.Context, item *T) (*T, error) {
	req, err := jsonRequest(http.MethodPost, "/api/"+r.name, item)
	if err != nil {
		return nil, err
	}
	var out T
	if err := r.c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update replaces an item.
func (r *Resource[T]) Update(ctx context.Context, id string, item *T) (*T, error) {
	if id == "" {
		return nil, &ValidationError{Field: r.name + " id", Message: "is required"}
	}
	req, err := jsonRequest(http.MethodPut, r.itemPath(id), item)
	if err != nil {
		return nil, err
	}
	var out T
	if err := r.c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes an item.
func (r *Resource[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return &ValidationError{Field: r.name + " id", Message: "is required"}
	}
	return r.c.do(ctx, request{method: http.MethodDelete, path: r.itemPath(id)}, nil)
}

// Tenants returns the tenant resource.
func (c *Client) Tenants() *Resource[models.Tenant] {
	return &Resource[models.Tenant]{c: c, name: "tenant"}
}

// Accounts returns the account resource.
func (c *Client) Accounts() *Resource[models.Account] {
	return &Resource[models.Account]{c: c, name: "account"}
}

// Memberships returns the membership resource.
func (c *Client) Memberships() *Resource[models.Membership] {
	return &Resource[models.Membership]{c: c, name: "membership"}
}

// Demands returns the demand resource.
func (c *Client) Demands() *Resource[models.Demand] {
	return &Resource[models.Demand]{c: c, name: "demand"}
}
