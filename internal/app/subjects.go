package wrapper

import (
	"fmt"
	"sort"

	config "titrain-wrapper/internal/config"

	"github.com/spf13/cobra"
)

// newSubjectsCommand lists the subject presets the wrapper would resolve,
// including user entries from ~/.titrain/subjects.json.
func newSubjectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "subjects [name...]",
		Short:         "List subject presets",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				names = config.SubjectPresetNames()
				sort.Strings(names)
			}
			for _, name := range names {
				if err := config.ValidateSubjectName(name); err != nil {
					return err
				}
				preset := config.ResolveSubjectPreset(name)
				fmt.Printf("%s:\n", name)
				fmt.Printf("  placeholder: %s\n", preset.Placeholder)
				if preset.InitWords != "" {
					fmt.Printf("  init_words: %s\n", preset.InitWords)
				}
				if preset.ClsDeltaToken != "" {
					fmt.Printf("  cls_delta_token: %s\n", preset.ClsDeltaToken)
				}
				if preset.BroadClass != nil {
					fmt.Printf("  broad_class: %d\n", *preset.BroadClass)
				}
				if preset.DataRoot != "" {
					fmt.Printf("  data_root: %s\n", preset.DataRoot)
				}
				if preset.Description != "" {
					fmt.Printf("  description: %s\n", preset.Description)
				}
			}
			return nil
		},
	}
}
