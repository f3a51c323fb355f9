// agentctl is the operator's companion to the agent.
//
// Usage:
//
//	agentctl hash-password -password <pw>
//	agentctl token -subject <name> [-role operator|viewer]
//	agentctl close-all [-issuer <name>]
//	agentctl store-credentials -api-key <key> -secret-key <secret> [-testnet]
//	agentctl sample-config -out config.json
//
// Every subcommand except hash-password and sample-config reads the same
// configuration the agent does (config.json plus environment).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"

	"futures-agent/config"
	"futures-agent/internal/auth"
	"futures-agent/internal/command"
	"futures-agent/internal/database"
	"futures-agent/internal/logging"
	"futures-agent/internal/vault"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "hash-password":
		err = hashPassword(os.Args[2:])
	case "token":
		err = issueToken(os.Args[2:])
	case "close-all":
		err = closeAll(os.Args[2:])
	case "store-credentials":
		err = storeCredentials(os.Args[2:])
	case "sample-config":
		err = sampleConfig(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: agentctl <hash-password|token|close-all|store-credentials|sample-config> [flags]")
}

func hashPassword(args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	password := fs.String("password", "", "operator password (8-72 bytes)")
	fs.Parse(args)

	hash, err := auth.NewPasswordManager(bcrypt.DefaultCost).HashPassword(*password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func issueToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("subject", "", "operator name carried in the token")
	role := fs.String("role", auth.RoleOperator, "operator or viewer")
	ttl := fs.Duration("ttl", 0, "token lifetime (defaults to the API setting)")
	fs.Parse(args)

	if *subject == "" {
		return fmt.Errorf("-subject is required")
	}
	if *role != auth.RoleOperator && *role != auth.RoleViewer {
		return fmt.Errorf("unknown role %q", *role)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.API.JWTSecret == "" {
		return fmt.Errorf("api.jwt_secret is not configured")
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.API.TokenTTLMinutes) * time.Minute
	}

	tok, err := auth.NewJWTManager(cfg.API.JWTSecret, lifetime).IssueToken(auth.OperatorClaims{
		Subject: *subject,
		Role:    *role,
	})
	if err != nil {
		return err
	}
	fmt.Println(tok.AccessToken)
	return nil
}

// closeAll queues the command where the running agent will see it
func closeAll(args []string) error {
	fs := flag.NewFlagSet("close-all", flag.ExitOnError)
	issuer := fs.String("issuer", "", "name recorded with the command")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	name := "agentctl"
	if *issuer != "" {
		name += ":" + *issuer
	}
	cmd := command.NewCloseAll(name)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var submitter command.Submitter = command.NewFileChannel(cfg.Persistence.CommandFile)
	if cfg.Redis.Enabled {
		client := database.NewRedisClient(ctx, database.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: 1,
		}, logging.Nop())
		defer client.Close()
		submitter = command.NewRedisChannel(client, cfg.Redis.KeyPrefix)
	}

	if err := submitter.Submit(ctx, cmd); err != nil {
		return err
	}
	fmt.Printf("close-all queued by %s at %s\n", cmd.Issuer, cmd.IssuedAt.Format(time.RFC3339))
	return nil
}

func storeCredentials(args []string) error {
	fs := flag.NewFlagSet("store-credentials", flag.ExitOnError)
	apiKey := fs.String("api-key", "", "exchange API key")
	secretKey := fs.String("secret-key", "", "exchange secret key")
	testnet := fs.Bool("testnet", false, "credentials are for the testnet")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.Vault.Enabled {
		return fmt.Errorf("vault is disabled; set VAULT_ENABLED=true")
	}
	client, err := vault.NewClient(cfg.Vault)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	creds := vault.Credentials{APIKey: *apiKey, SecretKey: *secretKey, TestNet: *testnet}
	if !creds.Valid() {
		return fmt.Errorf("both -api-key and -secret-key are required")
	}
	if err := client.StoreCredentials(ctx, creds); err != nil {
		return err
	}
	fmt.Println("credentials stored")
	return nil
}

func sampleConfig(args []string) error {
	fs := flag.NewFlagSet("sample-config", flag.ExitOnError)
	out := fs.String("out", "config.json", "file to write")
	fs.Parse(args)
	if err := config.GenerateSampleConfig(*out); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", *out)
	return nil
}
