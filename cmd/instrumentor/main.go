// Command instrumentor adds edge coverage to Go source files in place so a
// package can be linked into greybox as a target.
package main

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"alma.local/greybox/internal/instrument"
	"alma.local/greybox/internal/osutil"
)

var (
	flagFile = flag.String("file", "", "Go file to instrument")
	flagDir  = flag.String("dir", "", "instrument every non-test Go file of this directory")
	flagMeta = flag.String("meta", "corpus/metadata.json", "where to write the site metadata")
)

// Metadata describes every instrumented site, keyed by edge id.
type Metadata struct {
	Sites []instrument.Site `json:"sites"`
	Edges int               `json:"edges"`
}

func main() {
	flag.Parse()

	files, err := collect(*flagFile, *flagDir)
	if err != nil {
		logrus.Fatalf("collect files: %v", err)
	}
	if len(files) == 0 {
		logrus.Fatalf("nothing to instrument: pass -file or -dir")
	}

	var meta Metadata
	for _, path := range files {
		sites, err := instrumentFile(path)
		if err != nil {
			logrus.Fatalf("instrument %s: %v", path, err)
		}
		logrus.WithFields(logrus.Fields{"file": path, "sites": len(sites)}).Info("instrumented")
		meta.Sites = append(meta.Sites, sites...)
	}
	sort.Slice(meta.Sites, func(i, j int) bool { return meta.Sites[i].ID < meta.Sites[j].ID })
	meta.Edges = distinct(meta.Sites)

	if err := saveMetadata(*flagMeta, meta); err != nil {
		logrus.Fatalf("save metadata: %v", err)
	}
	logrus.Infof("saved metadata for %d sites (%d distinct edges) to %s", len(meta.Sites), meta.Edges, *flagMeta)
}

func collect(file, dir string) ([]string, error) {
	var files []string
	if file != "" {
		files = append(files, file)
	}
	if dir != "" {
		matches, err := filepath.Glob(filepath.Join(dir, "*.go"))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !strings.HasSuffix(m, "_test.go") {
				files = append(files, m)
			}
		}
	}
	return files, nil
}

func instrumentFile(path string) ([]instrument.Site, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out, sites, err := instrument.Source(path, src)
	if err != nil {
		return nil, err
	}
	if len(sites) == 0 {
		return nil, nil
	}
	return sites, osutil.WriteFileAtomic(path, out)
}

func distinct(sites []instrument.Site) int {
	ids := make(map[uint32]bool, len(sites))
	for _, s := range sites {
		ids[s.ID] = true
	}
	return len(ids)
}

func saveMetadata(path string, meta Metadata) error {
	if err := osutil.MkdirAll(filepath.Dir(path)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}
	return osutil.WriteFileAtomic(path, data)
}
