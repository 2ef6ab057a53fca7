package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

// docDir is where the markdown reference of all commands is written.
const docDir = "./doc"

func newDocCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "doc",
		Short:  "Generate the markdown documentation of all commands",
		Hidden: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return doc.GenMarkdownTree(rootCmd, docDir)
		},
	}
}
