package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/turna/console/internal/client"
	"github.com/turna/console/internal/listing"
	"github.com/turna/console/internal/models"
	"github.com/turna/console/internal/output"
)

// resourceKind describes how one CRUD entity is reached and rendered.
type resourceKind[T any] struct {
	use      string
	short    string
	resource func(*client.Client) *client.Resource[T]
	headers  []string
	row      func(T) []string
}

func resourceCmd[T any](kind resourceKind[T]) *cobra.Command {
	cmd := &cobra.Command{
		Use:   kind.use,
		Short: kind.short,
	}

	table := func(items ...T) func() output.Table {
		return func() output.Table {
			t := output.Table{Headers: kind.headers}
			for _, it := range items {
				t.Rows = append(t.Rows, kind.row(it))
			}
			return t
		}
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List " + kind.use,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			entity, _ := cmd.Flags().GetString("entity")
			search, _ := cmd.Flags().GetString("search")

			q := listing.Filter{EntityID: entity, Search: search}.Values()
			p := listing.NewParams(limit, offset)
			q.Set("limit", strconv.Itoa(p.Limit))
			q.Set("offset", strconv.Itoa(p.Offset))

			page, err := kind.resource(a.client).List(cmd.Context(), q)
			if err != nil {
				return err
			}
			return a.out.Print(page, table(page.Items...))
		},
	}
	list.Flags().Int("limit", listing.DefaultLimit, "page size")
	list.Flags().Int("offset", 0, "page offset")
	list.Flags().String("entity", "", "parent entity id")
	list.Flags().String("search", "", "free-text search")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one record",
		Args:  exactArgs(1, "an id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			item, err := kind.resource(a.client).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.out.Print(item, table(*item))
		},
	}

	create := &cobra.Command{
		Use:   "create -f <file>",
		Short: "Create a record from a JSON or YAML document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			var item T
			path, _ := cmd.Flags().GetString("file")
			if err := output.DecodeFile(path, &item); err != nil {
				return err
			}
			created, err := kind.resource(a.client).Create(cmd.Context(), &item)
			if err != nil {
				return err
			}
			return a.out.Print(created, table(*created))
		},
	}
	create.Flags().StringP("file", "f", "-", "document path, - for stdin")

	update := &cobra.Command{
		Use:   "update <id> -f <file>",
		Short: "Replace a record from a JSON or YAML document",
		Args:  exactArgs(1, "an id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			var item T
			path, _ := cmd.Flags().GetString("file")
			if err := output.DecodeFile(path, &item); err != nil {
				return err
			}
			updated, err := kind.resource(a.client).Update(cmd.Context(), args[0], &item)
			if err != nil {
				return err
			}
			return a.out.Print(updated, table(*updated))
		},
	}
	update.Flags().StringP("file", "f", "-", "document path, - for stdin")

	del := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			res := listing.BulkDelete(cmd.Context(), args, kind.resource(a.client).Delete)
			return a.out.Print(res, func() output.Table {
				return output.Table{
					Headers: []string{"DELETED", "FAILED"},
					Rows:    [][]string{{strconv.Itoa(res.Deleted), strconv.Itoa(res.Failed)}},
				}
			})
		},
	}

	cmd.AddCommand(list, get, create, update, del)
	return cmd
}

func dateOrDash(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateOnly)
}

func tenantsCmd() *cobra.Command {
	return resourceCmd(resourceKind[models.Tenant]{
		use:      "tenants",
		short:    "Manage tenants",
		resource: (*client.Client).Tenants,
		headers:  []string{"ID", "NAME", "SLUG", "STATUS", "CREATED"},
		row: func(t models.Tenant) []string {
			return []string{t.ID, t.Name, output.Dash(t.Slug), output.Dash(t.Status), dateOrDash(t.CreatedAt)}
		},
	})
}

func accountsCmd() *cobra.Command {
	return resourceCmd(resourceKind[models.Account]{
		use:      "accounts",
		short:    "Manage accounts",
		resource: (*client.Client).Accounts,
		headers:  []string{"ID", "EMAIL", "NAME", "STATUS", "CREATED"},
		row: func(a models.Account) []string {
			return []string{a.ID, a.Email, output.Dash(a.Name), output.Dash(a.Status), dateOrDash(a.CreatedAt)}
		},
	})
}

func membershipsCmd() *cobra.Command {
	return resourceCmd(resourceKind[models.Membership]{
		use:      "memberships",
		short:    "Manage memberships",
		resource: (*client.Client).Memberships,
		headers:  []string{"ID", "ACCOUNT", "TENANT", "ROLE", "STATUS"},
		row: func(m models.Membership) []string {
			return []string{m.ID, m.AccountID, m.TenantID, m.Role, output.Dash(m.Status)}
		},
	})
}

func demandsCmd() *cobra.Command {
	return resourceCmd(resourceKind[models.Demand]{
		use:      "demands",
		short:    "Manage surgical scheduling demands",
		resource: (*client.Client).Demands,
		headers:  []string{"ID", "PATIENT", "PROCEDURE", "SURGEON", "SCHEDULED", "STATUS"},
		row: func(d models.Demand) []string {
			scheduled := "-"
			if d.ScheduledAt != nil {
				scheduled = d.ScheduledAt.Local().Format(time.DateTime)
			}
			return []string{d.ID, d.PatientName, d.Procedure, output.Dash(d.Surgeon), scheduled, output.Dash(d.Status)}
		},
	})
}
