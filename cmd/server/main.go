// cmd/server/main.go
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "screenplay-studio",
	Short: "Screenplay Studio 后端服务",
	Long:  "Screenplay Studio 后端：场景标题分类、场景排序和实时同步。不带子命令时启动 HTTP 服务。",
	Example: `
screenplay-studio
screenplay-studio classify "INT. KITCHEN - NIGHT"
screenplay-studio renumber --project p1 --screenplay s1
`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func main() {
	addServe(rootCmd)
	addClassify(rootCmd)
	addRenumber(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
