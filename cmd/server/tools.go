// cmd/server/tools.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Corphon/ScreenplayStudio/internal/heading"
	"github.com/Corphon/ScreenplayStudio/internal/services"
	"github.com/spf13/cobra"
)

type classifyOutput struct {
	Heading    string             `json:"heading"`
	Descriptor heading.Descriptor `json:"descriptor"`
	Badges     heading.Badges     `json:"badges"`
}

func addClassify(topLevel *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "classify <heading>...",
		Short: "解析场景标题并输出 JSON",
		Example: `
screenplay-studio classify "INT. KITCHEN - NIGHT" "EXT. ROOFTOP"
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := make([]classifyOutput, 0, len(args))
			for _, raw := range args {
				d := heading.Classify(raw)
				out = append(out, classifyOutput{Heading: raw, Descriptor: d, Badges: heading.BadgesFor(d)})
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	topLevel.AddCommand(cmd)
}

func addRenumber(topLevel *cobra.Command) {
	var ref services.ScreenplayRef

	cmd := &cobra.Command{
		Use:   "renumber",
		Short: "按当前顺序重新编号场景",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(ref.ProjectID) == "" || strings.TrimSpace(ref.ScreenplayID) == "" {
				return errors.New("--project 和 --screenplay 不能为空")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Shutdown()

			changed, err := a.Scenes.Renumber(context.Background(), ref)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renumbered %d scene(s) in %s/%s\n", changed, ref.ProjectID, ref.ScreenplayID)
			return nil
		},
	}

	cmd.Flags().StringVar(&ref.ProjectID, "project", "", "项目 ID")
	cmd.Flags().StringVar(&ref.ScreenplayID, "screenplay", "", "剧本 ID")
	topLevel.AddCommand(cmd)
}
