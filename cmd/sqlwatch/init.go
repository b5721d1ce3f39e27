package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/sqlwatch/sqlwatch/internal/config"
	"github.com/sqlwatch/sqlwatch/internal/sqlexec"
	"github.com/sqlwatch/sqlwatch/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Create a sqlwatch.yaml config file",
	Long: `Create sqlwatch.yaml in the working directory.

In a terminal the settings are asked for interactively. Otherwise, or with
--yes, the values of the global flags are written as they are.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		yes, _ := cmd.Flags().GetBool("yes")

		path := config.FileName + ".yaml"
		if configFile != "" {
			path = configFile
		}
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		c := config.Default()
		flags := cmd.Flags()
		c.Root, _ = flags.GetString("root")
		c.Extension, _ = flags.GetString("extension")
		c.Database.Driver, _ = flags.GetString("driver")
		c.Database.Connection, _ = flags.GetString("connection")
		c.Database.Schema, _ = flags.GetString("schema")

		if !yes && ui.IsTerminal(os.Stdin) && ui.IsTerminal(os.Stdout) {
			if err := askConfig(c); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Println("Aborted")
					return nil
				}
				return err
			}
		}

		if err := c.Write(path); err != nil {
			return err
		}
		abs, _ := filepath.Abs(path)
		fmt.Printf("%s wrote %s\n", ui.RenderPass("✓"), ui.RenderAccent(abs))
		if c.Database.Connection == "" {
			fmt.Println(ui.RenderWarn("  database.connection is empty; set it or SQLWATCH_DATABASE_CONNECTION before watching"))
		}
		return nil
	},
}

func askConfig(c *config.Config) error {
	port := strconv.Itoa(c.Dashboard.Port)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Definitions directory").
				Value(&c.Root).
				Validate(func(s string) error {
					info, err := os.Stat(s)
					if err != nil {
						return err
					}
					if !info.IsDir() {
						return fmt.Errorf("%s is not a directory", s)
					}
					return nil
				}),
			huh.NewInput().
				Title("File extension").
				Value(&c.Extension),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Database").
				Options(
					huh.NewOption("SQL Server", sqlexec.SQLServer),
					huh.NewOption("PostgreSQL", sqlexec.Postgres),
					huh.NewOption("MySQL / MariaDB", sqlexec.MySQL),
					huh.NewOption("Oracle", sqlexec.Oracle),
					huh.NewOption("SQLite", sqlexec.SQLite),
				).
				Value(&c.Database.Driver),
			huh.NewInput().
				Title("Connection string").
				Value(&c.Database.Connection),
			huh.NewInput().
				Title("Schema").
				Value(&c.Database.Schema).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("schema is required")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Only track schema-bound objects?").
				Value(&c.Graph.SchemaBoundOnly),
			huh.NewInput().
				Title("Dashboard port (0 disables)").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 0 || n > 65535 {
						return errors.New("enter a port between 0 and 65535")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	c.Dashboard.Port, _ = strconv.Atoi(port)
	return nil
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite an existing config file")
	initCmd.Flags().BoolP("yes", "y", false, "write the flag values without asking")
	rootCmd.AddCommand(initCmd)
}
