package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	cryptoinfra "grantdesk/internal/infra/crypto"
	"grantdesk/internal/infra/pdf"
)

func runArtifactVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("artifact verify", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var inPath string
	var hash string
	var sealed bool
	var keyB64 string
	fs.StringVar(&inPath, "in", "", "artifact file")
	fs.StringVar(&hash, "hash", "", "expected sha256 hex of the plaintext pdf")
	fs.BoolVar(&sealed, "sealed", false, "artifact is encrypted (implied by a .sealed suffix)")
	fs.StringVar(&keyB64, "key-base64", os.Getenv("ARTIFACT_ENCRYPTION_KEY"), "artifact encryption key")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if inPath == "" || hash == "" {
		fmt.Fprintln(stderr, "artifact verify requires --in and --hash")
		return 1
	}
	sealed = sealed || strings.HasSuffix(inPath, ".sealed")

	stored, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(stderr, "read artifact: %v\n", err)
		return 1
	}
	var sealer *cryptoinfra.Sealer
	if sealed {
		if sealer, err = cryptoinfra.NewSealerFromBase64(keyB64); err != nil {
			fmt.Fprintf(stderr, "load key: %v\n", err)
			return 1
		}
	}
	ok, err := cryptoinfra.Verify(stored, strings.ToLower(strings.TrimSpace(hash)), sealed, sealer)
	if err != nil {
		fmt.Fprintf(stderr, "verify artifact: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(stdout, "status=mismatch")
		return 1
	}
	fmt.Fprintln(stdout, "status=ok")
	return 0
}

func runArtifactOpen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("artifact open", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var inPath string
	var outPath string
	var keyB64 string
	fs.StringVar(&inPath, "in", "", "sealed artifact file")
	fs.StringVar(&outPath, "out", "", "output pdf file")
	fs.StringVar(&keyB64, "key-base64", os.Getenv("ARTIFACT_ENCRYPTION_KEY"), "artifact encryption key")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if inPath == "" || outPath == "" {
		fmt.Fprintln(stderr, "artifact open requires --in and --out")
		return 1
	}

	sealer, err := cryptoinfra.NewSealerFromBase64(keyB64)
	if err != nil {
		fmt.Fprintf(stderr, "load key: %v\n", err)
		return 1
	}
	stored, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(stderr, "read artifact: %v\n", err)
		return 1
	}
	plain, err := sealer.Open(stored)
	if err != nil {
		fmt.Fprintf(stderr, "unseal artifact: %v\n", err)
		return 1
	}
	pages, err := pdf.Inspector{}.PageCount(plain)
	if err != nil {
		fmt.Fprintf(stderr, "unsealed artifact is not a readable pdf: %v\n", err)
		return 1
	}
	if err := os.WriteFile(outPath, plain, 0o600); err != nil {
		fmt.Fprintf(stderr, "write pdf: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "sha256=%s pages=%d\n", cryptoinfra.HashHex(plain), pages)
	return 0
}
