package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/apstra"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/audit"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/blueprint"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/journal"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// auditRotation bounds the audit log: 10MB files, 10 kept
var auditRotation = audit.RotationConfig{MaxSize: 10 * 1024 * 1024, MaxBackups: 10}

// session holds what one command invocation connects to
type session struct {
	client  *apstra.Client
	journal journal.Journal
	audit   audit.Logger
}

func (s *session) Close() {
	if s.client != nil {
		s.client.Close()
	}
	if s.journal != nil {
		s.journal.Close()
	}
	if s.audit != nil {
		s.audit.Close()
	}
}

// readPassword prompts on the terminal when no password is configured
func readPassword(user, host string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password for %s@%s: set APSTRA_PASS or apstra_server.password", user, host)
	}
	fmt.Fprintf(os.Stderr, "Password for %s@%s: ", user, host)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// connect logs in to the controller. Mutating commands also open the
// journal and the audit log.
func connect(ctx context.Context, mutating bool) (*session, error) {
	if mutating {
		if err := cfg.ValidateMove(); err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	api := cfg.APIConfig()
	if api.Password == "" {
		pw, err := readPassword(api.Username, api.Host)
		if err != nil {
			return nil, err
		}
		api.Password = pw
	}
	if api.Jump != nil && api.Jump.Password == "" {
		pw, err := readPassword(api.Jump.User, api.Jump.Host)
		if err != nil {
			return nil, err
		}
		api.Jump.Password = pw
	}

	client, err := apstra.NewClient(api)
	if err != nil {
		return nil, err
	}
	s := &session{client: client, journal: journal.Nop{}, audit: audit.Nop{}}
	if err := client.Login(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if !mutating {
		return s, nil
	}

	s.journal = openJournal(ctx)
	if cfg.AuditLog != "" {
		l, err := audit.NewFileLogger(cfg.Resolve(cfg.AuditLog), auditRotation)
		if err != nil {
			util.Warnf("Could not initialize audit logging: %v", err)
		} else {
			s.audit = l
		}
	}
	return s, nil
}

// openJournal returns the Redis journal, or Nop when none is configured or
// reachable. The journal is a record of the run, not a requirement for it.
func openJournal(ctx context.Context) journal.Journal {
	if cfg.Journal.RedisAddr == "" {
		return journal.Nop{}
	}
	j := journal.NewRedisJournal(cfg.Journal.RedisAddr, cfg.Journal.RedisDB)
	if err := j.Ping(ctx); err != nil {
		util.Warnf("Run journal disabled: %v", err)
		j.Close()
		return journal.Nop{}
	}
	return j
}

// openPair opens the ToR (source) and main (target) blueprints
func (s *session) openPair(ctx context.Context) (source, target *blueprint.Blueprint, err error) {
	source, err = blueprint.Open(ctx, s.client, cfg.Blueprint.Tor.Name)
	if err != nil {
		return nil, nil, err
	}
	target, err = blueprint.Open(ctx, s.client, cfg.Blueprint.Main.Name)
	if err != nil {
		return nil, nil, err
	}
	return source, target, nil
}
