package agent

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"netwarden/internal/domain"
)

const firewallTimeout = 10 * time.Second

// Enforcer applies delivered directives on the local machine using the
// Windows Firewall. On other platforms directives are logged and skipped;
// the server keeps its derived blocked state either way.
type Enforcer struct {
	logger *zap.Logger
	goos   string

	// runCommand and lookupHost are swappable for tests.
	runCommand func(ctx context.Context, name string, args ...string) (string, error)
	lookupHost func(ctx context.Context, host string) ([]string, error)
}

// NewEnforcer creates a directive enforcer for the current platform.
func NewEnforcer(logger *zap.Logger) *Enforcer {
	return &Enforcer{
		logger:     logger,
		goos:       runtime.GOOS,
		runCommand: runExecCommand,
		lookupHost: net.DefaultResolver.LookupHost,
	}
}

// Execute applies one directive. Unknown actions are logged and skipped so
// an older agent survives newer directive types.
func (e *Enforcer) Execute(ctx context.Context, d domain.DeliveredDirective) error {
	switch d.Action {
	case domain.ActionBlockDomain:
		return e.blockDomain(ctx, d.Resource, d.Reason)
	case domain.ActionUnblockDomain:
		return e.unblockDomain(ctx, d.Resource)
	case domain.ActionPing:
		e.logger.Info("ping received")
		return nil
	default:
		e.logger.Warn("skipping unknown directive action", zap.String("action", string(d.Action)))
		return nil
	}
}

// blockDomain resolves the domain and adds one outbound block rule per
// resolved IP. Partial success still counts as blocked.
func (e *Enforcer) blockDomain(ctx context.Context, target, reason string) error {
	if e.goos != "windows" {
		e.logger.Warn("firewall blocking only supported on windows",
			zap.String("domain", target))
		return nil
	}

	ips, err := e.lookupHost(ctx, target)
	if err != nil || len(ips) == 0 {
		return fmt.Errorf("failed to resolve %s: %w", target, err)
	}

	e.logger.Info("blocking domain",
		zap.String("domain", target),
		zap.String("reason", reason),
		zap.Int("ips", len(ips)))

	blocked := 0
	for _, ip := range ips {
		ruleName := fmt.Sprintf("Block_%s_%s", target, ip)
		cmdCtx, cancel := context.WithTimeout(ctx, firewallTimeout)
		out, err := e.runCommand(cmdCtx, "netsh",
			"advfirewall", "firewall", "add", "rule",
			"name="+ruleName,
			"dir=out",
			"action=block",
			"remoteip="+ip)
		cancel()
		if err != nil {
			if strings.Contains(strings.ToLower(out), "access is denied") {
				return fmt.Errorf("administrator privileges required to manage firewall rules")
			}
			e.logger.Warn("failed to block ip",
				zap.String("ip", ip), zap.Error(err))
			continue
		}
		blocked++
	}

	if blocked == 0 {
		return fmt.Errorf("failed to block any of %d resolved ips for %s", len(ips), target)
	}
	return nil
}

// unblockDomain removes every firewall rule whose name references the
// domain. Finding no rules is not an error.
func (e *Enforcer) unblockDomain(ctx context.Context, target string) error {
	if e.goos != "windows" {
		e.logger.Warn("firewall management only supported on windows",
			zap.String("domain", target))
		return nil
	}

	listCtx, cancel := context.WithTimeout(ctx, firewallTimeout)
	out, err := e.runCommand(listCtx, "netsh",
		"advfirewall", "firewall", "show", "rule", "name=all")
	cancel()
	if err != nil {
		return fmt.Errorf("failed to list firewall rules: %w", err)
	}

	var removed int
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "Rule Name:") || !strings.Contains(line, target) {
			continue
		}
		ruleName := strings.TrimSpace(strings.SplitN(line, "Rule Name:", 2)[1])

		delCtx, cancel := context.WithTimeout(ctx, firewallTimeout)
		_, err := e.runCommand(delCtx, "netsh",
			"advfirewall", "firewall", "delete", "rule", "name="+ruleName)
		cancel()
		if err != nil {
			e.logger.Warn("failed to delete firewall rule",
				zap.String("rule", ruleName), zap.Error(err))
			continue
		}
		removed++
	}

	e.logger.Info("unblocked domain",
		zap.String("domain", target),
		zap.Int("rules_removed", removed))
	return nil
}

func runExecCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}
