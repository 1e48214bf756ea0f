package models

import "time"

// Tenant is a clinic or organization account.
type Tenant struct {
	ID        string    `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string    `json:"name" yaml:"name"`
	Slug      string    `json:"slug,omitempty" yaml:"slug,omitempty"`
	Status    string    `json:"status,omitempty" yaml:"status,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Account is a person who can sign in.
type Account struct {
	ID        string    `json:"id,omitempty" yaml:"id,omitempty"`
	Email     string    `json:"email" yaml:"email"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	Status    string    `json:"status,omitempty" yaml:"status,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Membership links an account to a tenant with a role.
type Membership struct {
	ID        string    `json:"id,omitempty" yaml:"id,omitempty"`
	AccountID string    `json:"account_id" yaml:"account_id"`
	TenantID  string    `json:"tenant_id" yaml:"tenant_id"`
	Role      string    `json:"role" yaml:"role"`
	Status    string    `json:"status,omitempty" yaml:"status,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Demand is a surgical scheduling request.
type Demand struct {
	ID          string     `json:"id,omitempty" yaml:"id,omitempty"`
	TenantID    string     `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	HospitalID  string     `json:"hospital_id,omitempty" yaml:"hospital_id,omitempty"`
	PatientName string     `json:"patient_name" yaml:"patient_name"`
	Procedure   string     `json:"procedure" yaml:"procedure"`
	Surgeon     string     `json:"surgeon,omitempty" yaml:"surgeon,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty" yaml:"scheduled_at,omitempty"`
	Status      string     `json:"status,omitempty" yaml:"status,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Page is one page of a paginated list response.
type Page[T any] struct {
	Items  []T `json:"items" yaml:"items"`
	Total  int `json:"total" yaml:"total"`
	Limit  int `json:"limit" yaml:"limit"`
	Offset int `json:"offset" yaml:"offset"`
}

// HasMore reports whether another page follows this one.
func (p Page[T]) HasMore() bool {
	return p.Offset+len(p.Items) < p.Total
}
