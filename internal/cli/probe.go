package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/e7canasta/rov-host/video"
)

// ProbeCommand reports which decoder and encoder elements are installed.
func ProbeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "List available video decoders and encoders",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: table, json",
				Value:   "table",
			},
			&cli.BoolFlag{
				Name:  "available",
				Usage: "Only list available elements",
			},
		},
		Action: func(c *cli.Context) error {
			results := video.Probe()
			if c.Bool("available") {
				kept := results[:0]
				for _, r := range results {
					if r.Available {
						kept = append(kept, r)
					}
				}
				results = kept
			}
			return renderProbe(c, results)
		},
	}
}

func renderProbe(c *cli.Context, results []video.ProbeResult) error {
	switch c.String("format") {
	case "json":
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case "table":
		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROLE\tCODEC\tPROVIDER\tELEMENT\tAVAILABLE")
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\n", r.Role, r.Codec, r.Provider, r.Element, r.Available)
		}
		return tw.Flush()
	default:
		return cli.Exit(fmt.Sprintf("unknown format %q", c.String("format")), 2)
	}
}
