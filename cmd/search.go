package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/archive-indexer/internal/index"
)

const excerptRunes = 72

func newSearchCmd() *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Queries the chapter index from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			reader, err := index.OpenReader(e.cfg.Index.Path)
			if err != nil {
				return err
			}
			defer reader.Close()

			query := strings.Join(args, " ")
			serp, err := index.NewSearcher(reader, e.logger).Search(cmd.Context(), query, offset, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(serp.Hits) == 0 {
				fmt.Fprintf(out, "no hits for %q (%s total)\n", query, humanize.Comma(int64(serp.NumHits)))
				return nil
			}
			rows := make([][]string, 0, len(serp.Hits))
			for i, hit := range serp.Hits {
				rows = append(rows, []string{
					strconv.Itoa(offset + i + 1),
					strconv.FormatFloat(hit.Score, 'f', 3, 64),
					strconv.FormatUint(hit.Doc.StoryID, 10),
					strconv.FormatUint(hit.Doc.ChapterID, 10),
					excerpt(hit.Doc.Content),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Score", "Story", "Chapter", "Excerpt"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "%s hits for %q\n", humanize.Comma(int64(serp.NumHits)), query)
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "number of hits to skip")
	cmd.Flags().IntVar(&limit, "limit", index.DefaultLimit, "hits per page")
	return cmd
}

// excerpt collapses whitespace and truncates to excerptRunes.
func excerpt(content string) string {
	flat := strings.Join(strings.Fields(content), " ")
	rs := []rune(flat)
	if len(rs) <= excerptRunes {
		return flat
	}
	return string(rs[:excerptRunes]) + "…"
}
