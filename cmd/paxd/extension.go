package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	badColor  = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

func newExtensionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "extension",
		Aliases: []string{"ext"},
		Short:   "Manage installed extensions",
	}
	cmd.AddCommand(
		newExtInstallCmd(),
		newExtUpdateCmd(),
		newExtUninstallCmd(),
		newExtListCmd(),
		newExtEnableCmd(),
		newExtDisableCmd(),
	)
	return cmd
}

func newExtInstallCmd() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "install <archive-path-or-url>",
		Short: "Install an extension from a zip archive or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}

			host, err := a.manager.Install(cmd.Context(), args[0], overwrite)
			if err != nil {
				return err
			}

			man := host.Manifest()
			okColor.Printf("Installed %s v%s\n", man.Name, man.Version)
			if len(man.Triggers) > 0 {
				dimColor.Printf("  triggers: %s\n", strings.Join(man.Triggers, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing extension with the same name")
	return cmd
}

func newExtUpdateCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Update an extension from its source_url or a given archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}

			host, err := a.manager.Update(cmd.Context(), args[0], source)
			if err != nil {
				return err
			}

			okColor.Printf("Updated %s to v%s\n", host.Name(), host.Manifest().Version)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "archive path or URL (defaults to the manifest's source_url)")
	return cmd
}

func newExtUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <name>",
		Short: "Remove an extension and its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}

			if err := a.manager.Uninstall(args[0]); err != nil {
				return err
			}
			okColor.Printf("Uninstalled %s\n", args[0])
			return nil
		},
	}
}

func newExtListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed extensions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}

			infos := a.manager.List()
			if len(infos) == 0 {
				dimColor.Println("No extensions installed.")
				return nil
			}

			for _, info := range infos {
				fmt.Printf("%-24s v%-10s %s\n", info.Name, info.Version, stateLabel(info.State))
				if len(info.Triggers) > 0 {
					dimColor.Printf("  triggers: %s\n", strings.Join(info.Triggers, ", "))
				}
			}
			return nil
		},
	}
}

func newExtEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>",
		Short: "Re-enable a disabled extension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}

			if err := a.manager.SetEnabled(args[0], true); err != nil {
				return err
			}
			okColor.Printf("Enabled %s\n", args[0])
			return nil
		},
	}
}

func newExtDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <name>",
		Short: "Disable an extension without removing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}

			if err := a.manager.SetEnabled(args[0], false); err != nil {
				return err
			}
			warnColor.Printf("Disabled %s\n", args[0])
			return nil
		},
	}
}

func stateLabel(state string) string {
	switch state {
	case "installed":
		return okColor.Sprint(state)
	case "disabled":
		return warnColor.Sprint(state)
	case "failed":
		return badColor.Sprint(state)
	default:
		return state
	}
}
