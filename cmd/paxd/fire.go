package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mralfiem591/paxd/internal/trigger"
)

func newFireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fire <trigger> [key=value...]",
		Short: "Fire a trigger at every subscribed extension",
		Long: `Fire dispatches one trigger with the given context fields. Subscribers run
sequentially in registration order; a failing or hanging handler never stops
the rest.`,
		Example: `  paxd fire post_install package=ripgrep version=14.1.0
  paxd fire app_exit`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}

			name := args[0]
			payload, err := parsePayload(args[1:])
			if err != nil {
				return err
			}

			if !trigger.Known(name) {
				warnColor.Printf("Warning: %q is not a documented trigger\n", name)
			}

			res := a.dispatcher.Fire(cmd.Context(), name, payload)
			if len(res.Outcomes) == 0 {
				dimColor.Printf("No subscribers for %s\n", name)
				return nil
			}

			for _, out := range res.Outcomes {
				switch out.Status {
				case trigger.StatusSuccess:
					okColor.Printf("  %-24s ok (%s)\n", out.Extension, out.Duration().Round(0))
				case trigger.StatusTimeout:
					badColor.Printf("  %-24s timeout after %s\n", out.Extension, out.Duration().Round(0))
				default:
					badColor.Printf("  %-24s error: %v\n", out.Extension, out.Err)
				}
			}
			return nil
		},
	}
}

// parsePayload turns key=value arguments into a dispatch payload.
func parsePayload(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}

	payload := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("context field %q is not key=value", arg)
		}
		payload[key] = value
	}
	return payload, nil
}

func newTriggersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "triggers",
		Short: "List the documented trigger catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := trigger.CatalogNames()
			sort.Strings(names)

			for _, name := range names {
				fields, _ := trigger.ContextFields(name)
				if len(fields) == 0 {
					fmt.Println(name)
					continue
				}
				fmt.Printf("%-20s %s\n", name, dimColor.Sprint(strings.Join(fields, ", ")))
			}
			return nil
		},
	}
}
