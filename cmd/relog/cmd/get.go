// Package cmd 提供 relog 命令行工具的所有子命令实现。
// 本文件实现 get 与 list 命令，用于读取已记录的错误。
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/relog/internal/domain"
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a logged error",
	Long: `Show a single logged error by id.

Examples:
  relog get 42
  relog get 42 -o xml`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List logged errors",
	Long: `List one page of logged errors, newest first.

For the remote backend the reported count is the number of errors in the
returned page; local backends report the total number of stored errors.

Examples:
  relog list
  relog list --page 2 --size 50 -o json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var (
	listPage int
	listSize int
)

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().IntVarP(&listPage, "page", "p", 0, "Page index, starting at 0")
	listCmd.Flags().IntVarP(&listSize, "size", "n", 15, "Page size")
}

func runGet(cmd *cobra.Command, args []string) error {
	printer, err := NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	entry, err := s.log.GetError(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get error %s: %w", args[0], err)
	}
	return printer.PrintEntry(entry)
}

func runList(cmd *cobra.Command, args []string) error {
	printer, err := NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var entries []*domain.ErrorLogEntry
	count, err := s.log.GetErrors(ctx, listPage, listSize, &entries)
	if err != nil {
		return fmt.Errorf("failed to list errors: %w", err)
	}
	return printer.PrintEntries(entries, count)
}
