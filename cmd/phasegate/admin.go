package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/Strob0t/phasegate/internal/adapter/postgres"
	"github.com/Strob0t/phasegate/internal/config"
	"github.com/Strob0t/phasegate/internal/domain/policy"
	"github.com/Strob0t/phasegate/internal/service"
)

// runAdmin dispatches admin subcommands (hash-key, check-policy, migrate).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-key":
		return runAdminHashKey(args[1:])
	case "check-policy":
		return runAdminCheckPolicy(args[1:])
	case "migrate":
		return runAdminMigrate(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: phasegate admin <command> [options]

Commands:
  hash-key       Hash a reviewer key for the reviewers config section
  check-policy   Validate a phase policy file and print its phases
  migrate        Apply, roll back or inspect database migrations
  help           Show this help message

Examples:
  phasegate admin hash-key
  phasegate admin check-policy --file policy.yaml
  phasegate admin migrate
  phasegate admin migrate --down 1
  phasegate admin migrate --status
`)
}

func runAdminHashKey(args []string) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	key := fs.String("key", "", "reviewer key (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	k := *key
	if k == "" {
		var err error
		k, err = promptPassword("Reviewer key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		confirm, err := promptPassword("Confirm key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		if k != confirm {
			return fmt.Errorf("keys do not match")
		}
	}

	hash, err := service.HashKey(k)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func runAdminCheckPolicy(args []string) error {
	fs := flag.NewFlagSet("check-policy", flag.ContinueOnError)
	file := fs.String("file", "", "policy YAML file (built-in lifecycle if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		table *policy.Table
		err   error
	)
	if *file == "" {
		table = policy.DefaultLifecycle()
	} else if table, err = policy.LoadFromFile(*file); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Policy %s is valid\n", table.Source())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PHASE\tNEXT\tALLOWED_AGENTS\tPROMPT_KEYWORDS")
	for _, name := range table.Phases() {
		p, _ := table.Lookup(name)
		next, ok := table.NextPhase(name)
		if !ok {
			next = "-"
		}
		agents := make([]string, len(p.AllowedAgents))
		for i, a := range p.AllowedAgents {
			agents[i] = string(a)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, next, strings.Join(agents, ","), strings.Join(p.PromptKeywords, ","))
	}
	return w.Flush()
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	down := fs.Int("down", 0, "roll back N migrations")
	status := fs.Bool("status", false, "print the current schema version")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	dsn := cfg.Postgres.DSN

	switch {
	case *status:
		v, err := postgres.MigrationVersion(ctx, dsn)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		fmt.Printf("schema version %d\n", v)
	case *down > 0:
		if err := postgres.RollbackMigrations(ctx, dsn, *down); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *down)
	default:
		if err := postgres.RunMigrations(ctx, dsn); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintln(os.Stderr, "Migrations applied")
	}
	return nil
}

// promptPassword reads a secret from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
