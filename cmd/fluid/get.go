package main

import (
	"fmt"

	"github.com/lemmego/fluid"
	"github.com/spf13/cobra"
)

func getCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>...",
		Short: "Show records by id",
		Long: `Show records by id. Get ignores the default filter and returns soft-deleted
records too.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.repository(args[0])
			if err != nil {
				return err
			}

			ids := make([]interface{}, 0, len(args)-1)
			for _, arg := range args[1:] {
				id, err := parseID(repo.Collection(), arg)
				if err != nil {
					return fluid.NewErrorWithCause(fluid.ErrorTypeInvalidArgument, fmt.Sprintf("invalid id %q", arg), err)
				}
				ids = append(ids, id)
			}

			if len(ids) > 1 {
				items, err := repo.GetMany(cmd.Context(), ids)
				if err != nil {
					return err
				}
				return a.printJSON(items)
			}

			entity, found, err := repo.Get(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%s %s not found", repo.Collection().NameSingular(), args[1])
			}
			return a.printJSON(entity)
		},
	}
}

func countCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count <collection>",
		Short: "Count the records a plain list would return",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.repository(args[0])
			if err != nil {
				return err
			}
			n, err := repo.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, n)
			return nil
		},
	}
}
