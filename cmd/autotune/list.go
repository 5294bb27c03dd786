package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/banshee-data/autotune/internal/costfn"
	"github.com/banshee-data/autotune/internal/optimizer"
)

func handleList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COST FUNCTION\tVERSION\tSHAPE\tOPTIONS\tDESCRIPTION")
	for _, info := range costfn.Default().List() {
		names := make([]string, len(info.Options))
		for i, o := range info.Options {
			names[i] = o.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", info.Name, info.Version, info.Shape, strings.Join(names, ","), info.Description)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "ALGORITHM")
	for _, name := range optimizer.Names() {
		fmt.Fprintln(w, name)
	}
	return w.Flush()
}
