package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Embed curated metadata records into a DocumentDB vector index",
	Long: `ingest reads metadata records from the source collection, splits the
embeddable sections of every record that is not indexed yet into bounded
chunks, embeds them and writes them to the destination collection.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
