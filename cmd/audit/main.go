// audit reads the rotated JSONL audit logs and prints matching entries, for
// answering "who claimed this" without the sqlite index.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	auditlog "actionforge.gg/internal/persistence/log"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory")
		kind       = flag.String("kind", "", "entry kind filter (trigger|anchor|authoring|import)")
		definition = flag.String("definition", "", "definition id filter")
		principal  = flag.String("principal", "", "principal id filter")
		location   = flag.String("location", "", "location id filter")
		failed     = flag.Bool("failed", false, "only entries with ok=false")
		limit      = flag.Int("limit", 0, "stop after this many matches (0: no limit)")
	)
	flag.Parse()

	files, err := listAuditFiles(filepath.Join(*dataDir, "audit"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list audit logs:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no audit logs found")
		os.Exit(2)
	}

	matched := 0
	for _, path := range files {
		if *limit > 0 && matched >= *limit {
			break
		}
		if err := scanFile(path, func(e auditlog.Entry) bool {
			if *kind != "" && e.Kind != *kind {
				return true
			}
			if *definition != "" && e.DefinitionID != *definition {
				return true
			}
			if *principal != "" && e.PrincipalID != *principal {
				return true
			}
			if *location != "" && e.LocationID != *location {
				return true
			}
			if *failed && e.OK {
				return true
			}
			b, _ := json.Marshal(e)
			fmt.Println(string(b))
			matched++
			return *limit == 0 || matched < *limit
		}); err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}
	fmt.Fprintf(os.Stderr, "%d matching entries\n", matched)
}

func listAuditFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "audit-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func scanFile(path string, visit func(auditlog.Entry) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e auditlog.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if !visit(e) {
			return nil
		}
	}
	return sc.Err()
}
