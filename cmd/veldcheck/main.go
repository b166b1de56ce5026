// veldcheck runs the region checker over elaborated program files and
// prints the diagnostics.
//
//	veldcheck [-cache file] [-no-color] program.yaml [program.yaml...]
//
// Exit status is 1 when any program is rejected, 2 on usage or input
// errors.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/veld-lang/veld/internal/cache"
	"github.com/veld-lang/veld/internal/checker"
	"github.com/veld-lang/veld/internal/config"
	"github.com/veld-lang/veld/internal/diagnostics"
	"github.com/veld-lang/veld/internal/ir"
)

const (
	colorRed   = "\x1b[31m"
	colorBold  = "\x1b[1m"
	colorReset = "\x1b[0m"
)

func main() {
	log.SetFlags(0) // disable timestamp in logs
	log.SetOutput(os.Stderr)

	cachePath := flag.String("cache", "", "path to a verdict cache database")
	noColor := flag.Bool("no-color", false, "disable colored output")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: veldcheck [-cache file] [-no-color] program.yaml [program.yaml...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	for _, f := range files {
		if !isSourceFile(f) {
			log.Printf("%s: not a program file (expected %s)",
				f, strings.Join(config.SourceFileExtensions, " or "))
			os.Exit(2)
		}
	}

	color := !*noColor && isatty.IsTerminal(os.Stdout.Fd())

	var store *cache.Cache
	if *cachePath != "" {
		var err error
		store, err = cache.Open(*cachePath)
		if err != nil {
			log.Fatal(err)
		}
		defer store.Close()
	}

	rejected := false
	for _, file := range files {
		diags, err := checkFile(file, store)
		if err != nil {
			log.Fatal(err)
		}
		for _, d := range diags {
			fmt.Println(render(d, color))
		}
		if len(diags) > 0 {
			rejected = true
		}
	}
	if rejected {
		os.Exit(1)
	}
}

// isSourceFile checks if a file has a recognized program extension.
func isSourceFile(path string) bool {
	for _, ext := range config.SourceFileExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// checkFile analyzes one program, going through the verdict cache per
// function when one is open.
func checkFile(path string, store *cache.Cache) ([]*diagnostics.DiagnosticError, error) {
	prog, err := ir.LoadFile(path)
	if err != nil {
		return nil, err
	}

	c := checker.New(prog)
	var out []*diagnostics.DiagnosticError
	for i := range prog.Funcs {
		fn := &prog.Funcs[i]
		diags, err := checkFunc(c, fn, store)
		if err != nil {
			return nil, err
		}
		for _, d := range diags {
			d.File = path
			out = append(out, d)
		}
	}
	return out, nil
}

func checkFunc(c *checker.Checker, fn *ir.Function, store *cache.Cache) ([]*diagnostics.DiagnosticError, error) {
	if store == nil {
		return c.CheckFunction(fn), nil
	}
	key, err := cache.Key(fn)
	if err != nil {
		return nil, err
	}
	if diags, hit, err := store.Lookup(key); err != nil {
		return nil, err
	} else if hit {
		return diags, nil
	}
	diags := c.CheckFunction(fn)
	if err := store.Store(key, fn.Sig.Name, diags); err != nil {
		return nil, err
	}
	return diags, nil
}

// render formats one diagnostic as file:line:col: [CODE] message, with the
// code highlighted when writing to a terminal.
func render(d *diagnostics.DiagnosticError, color bool) string {
	loc := d.Pos.String()
	if d.File != "" {
		loc = d.File + ":" + loc
	}
	code := fmt.Sprintf("[%s]", d.Code)
	if color {
		code = colorBold + colorRed + code + colorReset
	}
	subject := ""
	if d.Var != "" {
		subject = " (" + d.Var
		if d.Field != "" {
			subject += "." + d.Field
		}
		subject += ")"
	}
	return fmt.Sprintf("%s: %s %s: %s%s", loc, code, d.Fn, d.Message, subject)
}
