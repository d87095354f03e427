package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"ipauth/internal/client"
)

func newClient(c *cli.Context) *client.Client {
	return client.New(c.String("server"), c.String("token"))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireArg(c *cli.Context, name string) (string, error) {
	v := c.Args().First()
	if v == "" {
		return "", cli.Exit(fmt.Sprintf("missing %s argument", name), 2)
	}
	return v, nil
}

func main() {
	app := &cli.App{
		Name:  "ipauthctl",
		Usage: "Manage the IP allow-lists of an ipauth server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "http://localhost:8080",
				Usage:   "Server address",
				EnvVars: []string{"IPAUTH_SERVER"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Administrator bearer token (see the login command)",
				EnvVars: []string{"IPAUTH_TOKEN"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Authenticate and print a bearer token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true},
					&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Required: true, EnvVars: []string{"IPAUTH_PASSWORD"}},
				},
				Action: func(c *cli.Context) error {
					res, err := newClient(c).Login(c.Context, c.String("user"), c.String("password"))
					if err != nil {
						return err
					}
					fmt.Println(res.Token)
					return nil
				},
			},
			{
				Name:  "accounts",
				Usage: "List and create accounts",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "Show every account with its allow-list",
						Action: func(c *cli.Context) error {
							accounts, err := newClient(c).ListAccounts(c.Context)
							if err != nil {
								return err
							}
							w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
							fmt.Fprintln(w, "ID\tLOGIN\tROLE\tLISTE DES IP")
							for _, a := range accounts {
								fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Login, a.Role, a.AllowedIPs)
							}
							return w.Flush()
						},
					},
					{
						Name:  "create",
						Usage: "Create an account",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "login", Required: true},
							&cli.StringFlag{Name: "password", Required: true},
							&cli.StringFlag{Name: "email"},
							&cli.StringFlag{Name: "name", Usage: "Display name"},
							&cli.StringFlag{Name: "role", Value: "subscriber"},
							&cli.StringFlag{Name: "ips", Usage: "Comma separated allow-list"},
						},
						Action: func(c *cli.Context) error {
							account, err := newClient(c).CreateAccount(c.Context, client.NewAccount{
								Login:       c.String("login"),
								Password:    c.String("password"),
								Email:       c.String("email"),
								DisplayName: c.String("name"),
								Role:        c.String("role"),
								AllowedIPs:  c.String("ips"),
							})
							if err != nil {
								return err
							}
							return printJSON(account)
						},
					},
				},
			},
			{
				Name:  "ips",
				Usage: "Read or change the allow-list of an account",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						ArgsUsage: "<account-id>",
						Action: func(c *cli.Context) error {
							id, err := requireArg(c, "account-id")
							if err != nil {
								return err
							}
							list, err := newClient(c).GetAllowedIPs(c.Context, id)
							if err != nil {
								return err
							}
							if list == "" {
								fmt.Println("Pas d'IP")
								return nil
							}
							fmt.Println(list)
							return nil
						},
					},
					{
						Name:      "set",
						ArgsUsage: "<account-id> <ip,ip,...>",
						Action: func(c *cli.Context) error {
							id, err := requireArg(c, "account-id")
							if err != nil {
								return err
							}
							if c.Args().Len() < 2 {
								return cli.Exit("missing allow-list argument", 2)
							}
							list, err := newClient(c).SetAllowedIPs(c.Context, id, c.Args().Get(1))
							if err != nil {
								return err
							}
							fmt.Println(list)
							return nil
						},
					},
					{
						Name:      "clear",
						ArgsUsage: "<account-id>",
						Action: func(c *cli.Context) error {
							id, err := requireArg(c, "account-id")
							if err != nil {
								return err
							}
							return newClient(c).ClearAllowedIPs(c.Context, id)
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
