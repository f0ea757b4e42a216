// Command tableid prints the silver table identifier for each source name,
// one per line. Names come from the arguments, or from stdin when there are
// none. Downstream loaders use it to address artifacts without the catalog.
//
// Usage:
//
//	go run ./cmd/tableid "Eco-Sensitive Zones 2015" visitors
//	ls data/bronze | go run ./cmd/tableid -pairs
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/couchcryptid/open-data-etl/internal/domain"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tableid", flag.ContinueOnError)
	fs.SetOutput(stderr)
	pairs := fs.Bool("pairs", false, "print \"<identifier>\\t<source name>\" instead of the identifier alone")
	version := fs.Bool("version", false, "print the naming version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *version {
		fmt.Fprintln(stdout, domain.NamingVersion)
		return 0
	}

	w := bufio.NewWriter(stdout)
	defer w.Flush()

	emit := func(name string) {
		id := domain.TableName(name)
		if *pairs {
			fmt.Fprintf(w, "%s\t%s\n", id, name)
			return
		}
		fmt.Fprintln(w, id)
	}

	if fs.NArg() > 0 {
		for _, name := range fs.Args() {
			emit(name)
		}
		return 0
	}

	sc := bufio.NewScanner(stdin)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			emit(line)
		}
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintf(stderr, "read stdin: %v\n", err)
		return 1
	}
	return 0
}
