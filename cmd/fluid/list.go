package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/lemmego/fluid"
	"github.com/spf13/cobra"
)

func collectionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List the registered collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ALIAS\tID\tDELETED FIELD\tSORT\tPAGE SIZE\tSEARCHABLE")
			for _, c := range a.registry.Collections() {
				sort := "-"
				if c.SortField() != "" {
					sort = c.SortField() + " " + string(c.SortDirection())
				}
				deleted := c.DeletedField()
				if deleted == "" {
					deleted = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%v\n",
					c.Alias(), c.IDField(), deleted, sort, c.PageSize(), c.SearchableFields())
			}
			return w.Flush()
		},
	}
}

func listCmd(a *app) *cobra.Command {
	var (
		page     int
		pageSize int
		sortBy   string
		desc     bool
		where    []string
		search   string
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "List one page of a collection",
		Long: `List one page of a collection. Without --where the collection's default
filter applies; without --sort its default order.

  fluid list articles --where "Views>=100" --sort Title --page 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.repository(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if all {
				items, err := repo.List(ctx)
				if err != nil {
					return err
				}
				return a.printJSON(items)
			}

			c := repo.Collection()
			req := fluid.QueryRequest{Page: page, PageSize: pageSize}
			var conds []fluid.Condition
			if len(where) > 0 {
				cond, err := parseWhere(c, where)
				if err != nil {
					return err
				}
				conds = append(conds, cond)
			}
			if search != "" {
				cond, err := searchCondition(c, search)
				if err != nil {
					return err
				}
				conds = append(conds, cond)
			}
			req.Filter = fluid.And(conds...)
			if sortBy != "" {
				direction := fluid.Ascending
				if desc {
					direction = fluid.Descending
				}
				req.Sort = &fluid.Order{Field: sortBy, Direction: direction}
			}

			result, err := repo.ListPaged(ctx, req)
			if err != nil {
				return err
			}
			return a.printJSON(result)
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number, starting at 1")
	cmd.Flags().IntVar(&pageSize, "size", 0, "page size (default: the collection page size)")
	cmd.Flags().StringVar(&sortBy, "sort", "", "field to sort by")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	cmd.Flags().StringArrayVar(&where, "where", nil, `filter expression such as "Views>=10" or "Title~%go%" (repeatable)`)
	cmd.Flags().StringVar(&search, "search", "", "match text in the searchable fields")
	cmd.Flags().BoolVar(&all, "all", false, "list every record with the default filter and order")
	return cmd
}
