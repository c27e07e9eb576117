package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"grantdesk/internal/config"
	cryptoinfra "grantdesk/internal/infra/crypto"
	"grantdesk/internal/infra/db"
	"grantdesk/internal/usecase"
)

func runAuditVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit verify", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var orgID string
	fs.StringVar(&orgID, "org", "", "organization id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if orgID == "" {
		fmt.Fprintln(stderr, "audit verify requires --org")
		return 1
	}

	cfg := config.FromEnv()
	store, err := db.NewStore(cfg.PostgresDSN, nil)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer store.Close()

	return verifyAuditChain(context.Background(), db.NewAuditEventRepository(store.DB), orgID, stdout)
}

func verifyAuditChain(ctx context.Context, repo usecase.AuditEventRepository, orgID string, stdout io.Writer) int {
	events, err := repo.ListByOrganization(ctx, orgID)
	if err != nil {
		fmt.Fprintf(stdout, "status=error reason=%q\n", err.Error())
		return 1
	}
	if err := usecase.VerifyOrganizationAuditChain(ctx, repo, cryptoinfra.AuditHasher{}, orgID); err != nil {
		fmt.Fprintf(stdout, "status=fail events=%d reason=%q\n", len(events), err.Error())
		return 1
	}
	fmt.Fprintf(stdout, "status=pass events=%d\n", len(events))
	return 0
}
