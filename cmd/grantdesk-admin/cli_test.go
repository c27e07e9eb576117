package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"grantdesk/internal/domain"
	cryptoinfra "grantdesk/internal/infra/crypto"
	"grantdesk/internal/infra/memdb"
	"grantdesk/internal/infra/pdf"
)

func buildPDF(t *testing.T) []byte {
	t.Helper()
	hours := 10
	data, err := pdf.NewBuilder().Build(domain.ReportPayload{
		Activities: "Field work",
		Results:    "Samples logged",
		Hours:      &hours,
	}, domain.DocumentContext{
		Subject:      domain.Subject{ID: "s-1", FullName: "Ana Pereira"},
		Project:      domain.Project{ID: "p-1", Code: "OSF-12", Title: "Soil Carbon Survey", OrganizationID: "org-1"},
		Organization: domain.Organization{ID: "org-1", Name: "Open Science Fund"},
		Period:       domain.Period{Year: 2026, Month: 2},
		SubmittedAt:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	return data
}

func TestArtifactVerifyAndOpen(t *testing.T) {
	key := bytes.Repeat([]byte{3}, cryptoinfra.KeySize)
	keyB64 := base64.StdEncoding.EncodeToString(key)
	sealer, err := cryptoinfra.NewSealer(key)
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	plain := buildPDF(t)
	sealed, err := sealer.Seal(plain)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "monthly-report-v1-abcd1234.pdf.sealed")
	if err := os.WriteFile(in, sealed, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	hash := cryptoinfra.HashHex(plain)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"grantdesk-admin", "artifact", "verify", "--in", in, "--hash", hash, "--key-base64", keyB64}, &stdout, &stderr); code != 0 {
		t.Fatalf("verify exited %d: %s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != "status=ok" {
		t.Fatalf("unexpected output %q", stdout.String())
	}

	stdout.Reset()
	wrong := strings.Repeat("0", 64)
	if code := run([]string{"grantdesk-admin", "artifact", "verify", "--in", in, "--hash", wrong, "--key-base64", keyB64}, &stdout, &stderr); code == 0 {
		t.Fatal("a wrong hash must fail")
	}

	out := filepath.Join(dir, "report.pdf")
	stdout.Reset()
	if code := run([]string{"grantdesk-admin", "artifact", "open", "--in", in, "--out", out, "--key-base64", keyB64}, &stdout, &stderr); code != 0 {
		t.Fatalf("open exited %d: %s", code, stderr.String())
	}
	written, err := os.ReadFile(out)
	if err != nil || !bytes.Equal(written, plain) {
		t.Fatalf("expected the plaintext pdf, err=%v", err)
	}
	if !strings.Contains(stdout.String(), "sha256="+hash) {
		t.Fatalf("expected hash in output, got %q", stdout.String())
	}
}

func TestVerifyAuditChainOutput(t *testing.T) {
	ctx := context.Background()
	repo := memdb.NewAuditEventRepository()
	for i := 0; i < 3; i++ {
		if _, err := repo.Append(ctx, domain.AuditEvent{OrganizationID: "org-1", EventType: domain.AuditEventReportOpened}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var stdout bytes.Buffer
	if code := verifyAuditChain(ctx, repo, "org-1", &stdout); code != 0 {
		t.Fatalf("expected pass, got %q", stdout.String())
	}
	if strings.TrimSpace(stdout.String()) != "status=pass events=3" {
		t.Fatalf("unexpected output %q", stdout.String())
	}

	repo.Mutate(func(events []domain.AuditEvent) { events[2].EventHash = strings.Repeat("a", 64) })
	stdout.Reset()
	if code := verifyAuditChain(ctx, repo, "org-1", &stdout); code == 0 || !strings.HasPrefix(stdout.String(), "status=fail") {
		t.Fatalf("expected failure, got %q", stdout.String())
	}
}

func TestUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"grantdesk-admin", "nope"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "artifact verify") {
		t.Fatalf("expected usage, got %q", stderr.String())
	}
}
