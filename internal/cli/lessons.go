package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contextcore/coyote/internal/knowledge"
)

var lessonsCmd = &cobra.Command{
	Use:   "lessons",
	Short: "Browse lessons learned from resolved incidents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		book, err := lessonsBook(cfg)
		if err != nil {
			return err
		}

		category, _ := cmd.Flags().GetString("category")
		var lessons []knowledge.Lesson
		if category != "" {
			got, err := book.ByCategory(category)
			if err != nil {
				return err
			}
			lessons = got
		} else {
			got, err := book.List()
			if err != nil {
				return err
			}
			lessons = got
		}

		w := cmd.OutOrStdout()
		if len(lessons) == 0 {
			fmt.Fprintln(w, "No lessons recorded.")
			return nil
		}
		for _, l := range lessons {
			fmt.Fprintf(w, "%s [%s] %s\n", l.ID, l.Category, l.Title)
			fmt.Fprintf(w, "  Lesson:     %s\n", l.Lesson)
			if l.Prevention != "" {
				fmt.Fprintf(w, "  Prevention: %s\n", l.Prevention)
			}
		}
		return nil
	},
}

func init() {
	lessonsCmd.Flags().String("category", "", "Filter by lesson category")
}
