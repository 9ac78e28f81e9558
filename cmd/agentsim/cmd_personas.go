package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sns-vibe/agentsim/internal/persona"
)

func newPersonasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "List the available personas",
		Long: `Personas prints the persona catalog the simulation draws from, either
the built-in personas or the catalog named by --personas.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("personas")

			personas, err := persona.Load(path)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(personas)
			}

			for _, p := range personas {
				fmt.Printf("%s (%s)\n", p.ID, p.Name)
				fmt.Printf("  bias=%s engagement=%s tone=%s\n", p.ReactionBias, p.Engagement, p.Tone)
				fmt.Printf("  interests: %s\n", strings.Join(p.Interests, ", "))
			}
			return nil
		},
	}

	cmd.Flags().String("personas", "", "YAML persona catalog overriding the built-in personas")

	return cmd
}
