package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/lemmego/fluid"
	"github.com/spf13/cobra"
)

func saveCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "save <collection> [json]",
		Short: "Insert or update a record",
		Long: `Insert or update a record given as JSON, inline or with --file ("-" reads
stdin). A record without an id, or with an id that is not stored yet, is
inserted.

  fluid save articles '{"title":"Hello","published":true}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.repository(args[0])
			if err != nil {
				return err
			}

			data, err := readPayload(cmd, args, file)
			if err != nil {
				return err
			}
			entity := repo.New()
			if err := json.Unmarshal(data, entity); err != nil {
				return fluid.NewErrorWithCause(fluid.ErrorTypeInvalidArgument, "invalid record JSON", err)
			}

			saved, err := repo.Save(cmd.Context(), entity)
			if err != nil {
				return err
			}
			return a.printJSON(saved)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", `read the record from a file ("-" for stdin)`)
	return cmd
}

func readPayload(cmd *cobra.Command, args []string, file string) ([]byte, error) {
	switch {
	case len(args) == 2 && file != "":
		return nil, fmt.Errorf("pass the record inline or with --file, not both")
	case len(args) == 2:
		return []byte(args[1]), nil
	case file == "-":
		return io.ReadAll(cmd.InOrStdin())
	case file != "":
		return os.ReadFile(file)
	}
	return nil, fmt.Errorf("no record given")
}

func deleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a record",
		Long: `Delete a record. Collections with a deleted field mark the record instead
of removing it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.repository(args[0])
			if err != nil {
				return err
			}
			id, err := parseID(repo.Collection(), args[1])
			if err != nil {
				return fluid.NewErrorWithCause(fluid.ErrorTypeInvalidArgument, fmt.Sprintf("invalid id %q", args[1]), err)
			}

			deleted, err := repo.Delete(cmd.Context(), id)
			if err != nil {
				return err
			}
			if deleted {
				fmt.Fprintf(a.out, "deleted %s %s\n", repo.Collection().NameSingular(), args[1])
			} else {
				fmt.Fprintf(a.out, "nothing deleted for %s %s\n", repo.Collection().NameSingular(), args[1])
			}
			return nil
		},
	}
}
