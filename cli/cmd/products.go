package cmd

import (
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/catalogsync/cli/render"
	"github.com/pithecene-io/catalogsync/query"
)

// ProductsCommand returns the products command.
// Products prints one aggregated catalog page.
func ProductsCommand() *cli.Command {
	return &cli.Command{
		Name:      "products",
		Usage:     "List catalog products, one row per location offer",
		ArgsUsage: "[search text]",
		Flags: append(OutputFlags(),
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Search text matched against SKU, name and brand",
			},
			&cli.IntFlag{
				Name:  "page",
				Usage: "Page number (starts at 1)",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Products per page (1-100, default 50)",
			},
		),
		Action: productsAction,
	}
}

// searchText returns --query, or the positional args joined.
func searchText(c *cli.Context) string {
	if q := c.String("query"); q != "" {
		return q
	}
	return strings.Join(c.Args().Slice(), " ")
}

func productsAction(c *cli.Context) error {
	if c.Int("page") < 1 {
		return cli.Exit("--page must be >= 1", exitConfig)
	}

	s, err := newSession(c)
	if err != nil {
		return exitError(err)
	}
	defer s.Close()

	display, err := s.display(c)
	if err != nil {
		return exitError(err)
	}
	r, err := render.NewRenderer(c, display)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	controller := query.NewController(resolveInt(c, "page-size", s.config.Catalog.PageSize))
	controller.SetQuery(searchText(c))
	controller.SetPage(c.Int("page"))

	catalog := s.newCache()
	defer catalog.Close()

	page, err := catalog.Fetch(commandContext(c), controller.Key())
	if err != nil {
		return exitError(err)
	}
	return exitError(r.RenderPage(page))
}
