package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 3 {
		usage(args, stderr)
		return 1
	}

	switch args[1] {
	case "artifact":
		switch args[2] {
		case "verify":
			return runArtifactVerify(args[3:], stdout, stderr)
		case "open":
			return runArtifactOpen(args[3:], stdout, stderr)
		}
	case "audit":
		if args[2] == "verify" {
			return runAuditVerify(args[3:], stdout, stderr)
		}
	}

	usage(args, stderr)
	return 1
}

func usage(args []string, stderr io.Writer) {
	name := "grantdesk-admin"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(stderr, "usage:\n")
	fmt.Fprintf(stderr, "  %s artifact verify --in <file> --hash <sha256 hex> [--sealed] [--key-base64 <b64>]\n", name)
	fmt.Fprintf(stderr, "  %s artifact open --in <file.pdf.sealed> --out <file.pdf> [--key-base64 <b64>]\n", name)
	fmt.Fprintf(stderr, "  %s audit verify --org <organization id>\n", name)
	fmt.Fprintf(stderr, "the key defaults to ARTIFACT_ENCRYPTION_KEY; audit verify reads POSTGRES_DSN\n")
}
