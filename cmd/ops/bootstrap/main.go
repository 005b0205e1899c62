// Package main implements the bootstrap CLI that provisions the API keys of
// one environment.
//
// It generates a service key and a cron key, stores only their bcrypt hashes
// and prints the plaintext keys once for the operator to hand to the calling
// services.
//
// Usage:
//
//	go run ./cmd/ops/bootstrap --env=local >> .env
//	go run ./cmd/ops/bootstrap --env=dev
//	go run ./cmd/ops/bootstrap --env=prod --profile=dinerbell-prod --region=eu-central-1 --overwrite
//
// For local the hashes are printed as .env lines. For other environments the
// active AWS identity is verified with STS, the hashes are written to SSM as
// SecureStrings under /{env}/dinerbell/security/, and the matching
// *_SSM_PARAM variables are printed. Existing parameters are kept unless
// --overwrite is set.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"dinerbell/internal/auth"
)

var validEnvironments = map[string]bool{
	"local":   true,
	"dev":     true,
	"staging": true,
	"prod":    true,
}

func main() {
	envFlag := flag.String("env", "", "Target environment (local/dev/staging/prod) [required]")
	profileFlag := flag.String("profile", "", "AWS CLI profile (default: uses default credential chain)")
	regionFlag := flag.String("region", "eu-central-1", "AWS region")
	overwriteFlag := flag.Bool("overwrite", false, "Replace existing key hashes in SSM")
	flag.Parse()

	if !validEnvironments[*envFlag] {
		fmt.Fprintf(os.Stderr, "error: --env must be one of local, dev, staging, prod\n\n")
		flag.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p := &Provisioner{
		Overwrite: *overwriteFlag,
		Hash:      auth.HashKey,
		Out:       os.Stdout,
		Logger:    logger,
	}

	if *envFlag != "local" {
		cfg, err := initializeSession(ctx, *profileFlag, *regionFlag, logger)
		if err != nil {
			logger.Error("initialization failed", "error", err)
			os.Exit(1)
		}
		if *envFlag == "prod" && !confirm(os.Stdin, os.Stderr, "prod") {
			fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
			return
		}
		p.SSM = NewSSMManager(ssm.NewFromConfig(cfg), *envFlag, logger)
	}

	if err := p.Run(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
}

// Provisioner generates the API keys and stores their hashes. With a nil SSM
// the hashes are printed as .env lines instead.
type Provisioner struct {
	SSM       *SSMManager
	Overwrite bool
	Hash      func(string) (string, error)
	Out       io.Writer
	Logger    *slog.Logger
}

// Run generates, stores and reports the keys.
func (p *Provisioner) Run(ctx context.Context) error {
	keys, err := GenerateAPIKeys(p.Hash)
	if err != nil {
		return err
	}

	if p.SSM == nil {
		writeLocalEnv(p.Out, keys)
		return nil
	}

	var written []APIKey
	for _, k := range keys {
		path := p.SSM.SSMPath("security/" + k.Name)
		if !p.Overwrite {
			exists, err := p.SSM.ParameterExists(ctx, path)
			if err != nil {
				return err
			}
			if exists {
				p.Logger.Info("key hash already provisioned, keeping it", "path", path)
				fmt.Fprintf(p.Out, "%s_SSM_PARAM=%s\n", k.EnvVar, path)
				continue
			}
		}
		if err := p.SSM.PutSecret(ctx, path, k.Hash, p.Overwrite); err != nil {
			return err
		}
		fmt.Fprintf(p.Out, "%s_SSM_PARAM=%s\n", k.EnvVar, path)
		written = append(written, k)
	}

	if len(written) > 0 {
		fmt.Fprintln(p.Out, "# New bearer keys. They are not stored anywhere; copy them now.")
		for _, k := range written {
			fmt.Fprintf(p.Out, "#   %s: %s\n", keyLabel(k), k.Plaintext)
		}
	}
	return nil
}

// writeLocalEnv prints .env lines. Hashes are single-quoted because bcrypt
// output contains '$', which godotenv would otherwise expand.
func writeLocalEnv(w io.Writer, keys []APIKey) {
	fmt.Fprintln(w, "# Bearer keys for local calls:")
	for _, k := range keys {
		fmt.Fprintf(w, "#   %s: %s\n", keyLabel(k), k.Plaintext)
	}
	for _, k := range keys {
		fmt.Fprintf(w, "%s='%s'\n", k.EnvVar, k.Hash)
	}
}

func keyLabel(k APIKey) string {
	return strings.TrimSuffix(k.Name, "_api_key_hash")
}

// initializeSession loads the AWS config and verifies the active identity
// with STS before anything is written.
func initializeSession(ctx context.Context, profile, region string, logger *slog.Logger) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}

	identityCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(identityCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return aws.Config{}, fmt.Errorf("verifying AWS identity (STS GetCallerIdentity): %w", err)
	}

	logger.Info("AWS identity verified",
		"account_id", aws.ToString(identity.Account),
		"arn", aws.ToString(identity.Arn),
		"region", region,
	)
	return cfg, nil
}

// confirm asks the operator to type "yes" before touching env.
func confirm(in io.Reader, out io.Writer, env string) bool {
	fmt.Fprintf(out, "You are about to provision API keys for %s. Type 'yes' to continue: ", strings.ToUpper(env))
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(scanner.Text()), "yes")
}
