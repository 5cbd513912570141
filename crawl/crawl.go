package main

/* crawl indexes scene metadata documents (analysis ready dataset yaml
   or static STAC items) found under a directory tree. Records are
   printed as JSON lines, or loaded into the archive table read by the
   "archive" provider when -load is given. */

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	extr "github.com/nci/vegindex/crawl/extractor"
	"github.com/nci/vegindex/provider"
)

var (
	conc          = flag.Int("conc", 8, "Directories read concurrently.")
	pattern       = flag.String("pattern", extr.DefaultPattern, "Filter expression over path, name and type ('d' or 'f').")
	followSymlink = flag.Bool("follow_symlink", false, "Follow symbolic links.")
	outputFormat  = flag.String("fmt", "json", "Output format when not loading: json or tsv.")
	load          = flag.Bool("load", false, "Load records into the archive database named by ARCHIVE_DSN.")
	table         = flag.String("table", "scenes", "Archive table.")
	batchSize     = flag.Int("batch", 500, "Records per COPY batch.")
	envFile       = flag.String("env", ".env", "Optional dotenv file holding ARCHIVE_DSN.")
)

func ensure(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func printRecord(rec *extr.SceneRecord) error {
	out, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line := string(out)
	if *outputFormat == "tsv" {
		line = fmt.Sprintf("%s\tscene\t%s", rec.Source, line)
	}
	_, err = fmt.Println(line)
	return err
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("Please provide the root directory to crawl")
	}

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("Error in loading %s: %v", *envFile, err)
	}

	ctx := context.Background()
	handle := printRecord

	var loader *extr.Loader
	if *load {
		db, err := provider.OpenArchive(1)
		ensure(err)
		if db == nil {
			log.Fatal("ARCHIVE_DSN is not set")
		}
		defer db.Close()

		loader = extr.NewLoader(db, *table, *batchSize)
		ensure(loader.EnsureSchema(ctx))
		handle = func(rec *extr.SceneRecord) error {
			return loader.Add(ctx, rec)
		}
	}

	crawler, err := extr.NewPosixCrawler(*conc, *pattern, *followSymlink)
	ensure(err)

	err = crawler.Crawl(flag.Arg(0), func(filePath string) error {
		rec, err := extr.Extract(filePath)
		if err != nil {
			return err
		}
		return handle(rec)
	})
	if err != nil {
		os.Stderr.Write([]byte(err.Error() + "\n"))
	}

	if loader != nil {
		ensure(loader.Flush(ctx))
		log.Printf("loaded %d scenes into %s", loader.Loaded, *table)
	}
}
