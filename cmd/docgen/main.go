// docgen builds the node RPC reference from the @Method annotations on
// the handlers in internal/node.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

type Endpoint struct {
	Method      string
	Description string
	Params      string
	Result      string
}

var (
	reMethod = regexp.MustCompile(`// @Method: (.*)`)
	reDesc   = regexp.MustCompile(`// @Description: (.*)`)
	reParams = regexp.MustCompile(`// @Params: (.*)`)
	reResult = regexp.MustCompile(`// @Result: (.*)`)
)

func main() {
	srcDir := flag.String("src", "internal/node", "directory holding annotated handlers")
	out := flag.String("out", "internal/docs/rpc.adoc", "output AsciiDoc file")
	flag.Parse()

	endpoints, err := collect(*srcDir)
	if err != nil {
		log.Fatalf("docgen: %v", err)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("docgen: %v", err)
	}
	defer f.Close()

	if err := writeAsciiDoc(f, endpoints); err != nil {
		log.Fatalf("docgen: %v", err)
	}
	fmt.Printf("Generated %s (%d endpoints)\n", *out, len(endpoints))
}

func collect(dir string) ([]Endpoint, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var endpoints []Endpoint
	for _, file := range files {
		name := file.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		found, err := parseFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, found...)
	}

	sort.SliceStable(endpoints, func(i, j int) bool {
		return rank(endpoints[i]) < rank(endpoints[j])
	})
	return endpoints, nil
}

// rank lists JSON-RPC methods before plain HTTP routes.
func rank(ep Endpoint) int {
	if isHTTPRoute(ep.Method) {
		return 1
	}
	return 0
}

func isHTTPRoute(method string) bool {
	return strings.HasPrefix(method, "GET ") || strings.HasPrefix(method, "POST ")
}

func parseFile(path string) ([]Endpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var endpoints []Endpoint
	var current Endpoint
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		if match := reMethod.FindStringSubmatch(line); len(match) > 1 {
			current = Endpoint{Method: strings.TrimSpace(match[1])}
		}
		if match := reDesc.FindStringSubmatch(line); len(match) > 1 {
			current.Description = strings.TrimSpace(match[1])
		}
		if match := reParams.FindStringSubmatch(line); len(match) > 1 {
			current.Params = strings.TrimSpace(match[1])
		}
		if match := reResult.FindStringSubmatch(line); len(match) > 1 {
			current.Result = strings.TrimSpace(match[1])
			// end of block
			if current.Method != "" {
				endpoints = append(endpoints, current)
			}
			current = Endpoint{}
		}
	}
	return endpoints, scanner.Err()
}

func writeAsciiDoc(w io.Writer, endpoints []Endpoint) error {
	b := &strings.Builder{}
	b.WriteString("= tdm node RPC reference\n")
	b.WriteString(":toc:\n\n")
	b.WriteString("Generated by `go run ./cmd/docgen` from handler annotations in `internal/node`.\n\n")
	b.WriteString("JSON-RPC 2.0 methods are called with `POST /rpc` and a body of\n")
	b.WriteString("`{\"jsonrpc\": \"2.0\", \"id\": 1, \"method\": \"<name>\", \"params\": {...}}`.\n\n")

	section := ""
	for _, ep := range endpoints {
		want := "JSON-RPC methods"
		if isHTTPRoute(ep.Method) {
			want = "HTTP routes"
		}
		if want != section {
			section = want
			fmt.Fprintf(b, "== %s\n\n", section)
		}
		fmt.Fprintf(b, "=== `%s`\n\n", ep.Method)
		fmt.Fprintf(b, "%s\n\n", ep.Description)
		fmt.Fprintf(b, "Params:: `%s`\n", ep.Params)
		fmt.Fprintf(b, "Result:: `%s`\n\n", ep.Result)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
