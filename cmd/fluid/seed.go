package main

import (
	"fmt"
	"math/rand"

	"github.com/lemmego/fluid"
	"github.com/spf13/cobra"
)

var seedAuthors = []Author{
	{Handle: "ada", Name: "Ada Lovelace", Email: "ada@example.com"},
	{Handle: "grace", Name: "Grace Hopper", Email: "grace@example.com"},
	{Handle: "linus", Name: "Linus Torvalds", Email: "linus@example.com"},
}

var seedTopics = []string{"Generics", "Channels", "Interfaces", "Context", "Errors", "Testing", "Modules"}

func seedCmd(a *app) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the demo collections with sample records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			authors, err := fluid.RepositoryOf[Author](a.registry, "authors")
			if err != nil {
				return err
			}
			articles, err := fluid.RepositoryOf[Article](a.registry, "articles")
			if err != nil {
				return err
			}

			for i := range seedAuthors {
				author := seedAuthors[i]
				if _, err := authors.Save(ctx, &author); err != nil {
					return err
				}
			}

			rng := rand.New(rand.NewSource(int64(count)))
			for i := 0; i < count; i++ {
				article := &Article{
					Title:     fmt.Sprintf("%s in Go, part %d", seedTopics[i%len(seedTopics)], i/len(seedTopics)+1),
					Author:    seedAuthors[i%len(seedAuthors)].Handle,
					Views:     rng.Intn(1000),
					Published: i%5 != 0,
				}
				if _, err := articles.Save(ctx, article); err != nil {
					return err
				}
			}

			fmt.Fprintf(a.out, "seeded %d authors and %d articles\n", len(seedAuthors), count)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 25, "number of articles to create")
	return cmd
}
