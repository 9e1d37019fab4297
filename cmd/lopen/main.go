// Command lopen drives one autonomous build module to completion: wire
// every collaborator, then iterate until the workflow reports Complete.
//
// Grounded on the teacher's cmd/main.go / cmd/migrate split (a
// long-running server command vs. one-shot operational commands) and
// smilemakc-mbflow's cmd/cli/main.go (plain os.Args[1] subcommand
// dispatch with per-command flag.FlagSet parsing — no CLI framework
// appears in any example repo's go.mod, so stdlib flag is the idiomatic
// choice here, not a gap).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/DigiBanks99/lopen/internal/audit"
	"github.com/DigiBanks99/lopen/internal/budget"
	"github.com/DigiBanks99/lopen/internal/churn"
	"github.com/DigiBanks99/lopen/internal/clock"
	"github.com/DigiBanks99/lopen/internal/gitengine"
	"github.com/DigiBanks99/lopen/internal/guardrail"
	"github.com/DigiBanks99/lopen/internal/llmtransport"
	"github.com/DigiBanks99/lopen/internal/logging"
	"github.com/DigiBanks99/lopen/internal/metrics"
	"github.com/DigiBanks99/lopen/internal/oracle"
	"github.com/DigiBanks99/lopen/internal/orchestrator"
	"github.com/DigiBanks99/lopen/internal/section"
	"github.com/DigiBanks99/lopen/internal/session"
	"github.com/DigiBanks99/lopen/internal/settings"
	"github.com/DigiBanks99/lopen/internal/tasktree"
	"github.com/DigiBanks99/lopen/internal/workflow"
)

const usage = `lopen - autonomous LLM-driven module build engine

USAGE:
    lopen <command> [options]

COMMANDS:
    run <module>              Drive module to completion
    session list               List known sessions
    session show <id>          Print one session's state and metrics
    session resume <id>        Resume an in-progress session's module
    session delete <id>        Delete a session
    session prune <n>          Keep only the n most recently updated completed sessions
    revert <module> <sha>      Hard-reset the workspace to sha
    version                     Print version information
    help                        Show this help message

RUN OPTIONS:
    -spec <path>          Path to the module spec markdown file (default: spec.md)
    -workspace <dir>       Workspace/git repository root (default: settings.WorkspaceDir)
    -audit-db <path>       Optional path for the durable SQLite audit mirror
    -dry-run               Validate settings, spec file, and workspace, then exit without calling the LLM

Every setting also has an environment-variable and lopen.toml form; see
internal/settings.
`

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "session":
		err = sessionCommand(os.Args[2:])
	case "revert":
		err = revertCommand(os.Args[2:])
	case "version":
		fmt.Println(version)
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "lopen: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "lopen: %v\n", err)
		os.Exit(1)
	}
}

func loadAndValidateSettings() (settings.Settings, error) {
	cfg, err := settings.Load()
	if err != nil {
		return settings.Settings{}, fmt.Errorf("loading settings: %w", err)
	}
	// Three-part fail-fast message, matching the teacher's
	// secrets.MustValidateSecrets() startup idiom: what failed, why it
	// matters, how to fix it.
	if err := cfg.Validate(); err != nil {
		return settings.Settings{}, fmt.Errorf(
			"invalid configuration: %w\nthe engine refuses to start without a usable LLM credential and sane budget thresholds\nset OPENAI_API_KEY (and review LOPEN_* env vars or lopen.toml) and retry", err)
	}
	return cfg, nil
}

func runCommand(args []string) error {
	module, rest, err := requirePositional(args, "module")
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	specPath := fs.String("spec", "spec.md", "path to the module spec markdown file")
	workspaceDir := fs.String("workspace", "", "workspace/git repository root")
	auditDBPath := fs.String("audit-db", "", "optional path for the durable SQLite audit mirror")
	dryRun := fs.Bool("dry-run", false, "validate settings, spec file, and workspace, then exit without calling the LLM")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	cfg, err := loadAndValidateSettings()
	if err != nil {
		return err
	}

	dir := cfg.WorkspaceDir
	if *workspaceDir != "" {
		dir = *workspaceDir
	}

	if *dryRun {
		return runDryRun(module, *specPath, dir)
	}

	logging.Init(cfg, module)
	defer logging.Sync()

	engine, err := buildEngine(cfg, module, *specPath, dir, *auditDBPath)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("module %s did not complete: %w", module, err)
	}
	fmt.Printf("module %s complete\n", module)
	return nil
}

// runDryRun performs the preflight buildEngine would otherwise do implicitly
// (settings already validated by the caller, spec file presence, workspace
// git check), then exits without touching the LLM or the session store —
// matching the teacher's secrets.MustValidateSecrets()-style fail-fast
// startup check, but callable on demand instead of only at boot.
func runDryRun(module, specPath, workspaceDir string) error {
	absSpec := specPath
	if !filepath.IsAbs(absSpec) {
		absSpec = filepath.Join(workspaceDir, specPath)
	}
	if _, err := os.Stat(absSpec); err != nil {
		return fmt.Errorf("spec file: %w", err)
	}

	if _, err := os.Stat(filepath.Join(workspaceDir, ".git")); err != nil {
		return fmt.Errorf("workspace %s is not a git repository: %w", workspaceDir, err)
	}

	fmt.Printf("dry run ok: module=%s spec=%s workspace=%s\n", module, absSpec, workspaceDir)
	return nil
}

// buildEngine wires every collaborator for one module run. Shared between
// `run` and `session resume`, which differ only in whether a prior session
// already exists on disk (the orchestrator itself handles that distinction
// via loadPersisted/NextSessionID — see internal/orchestrator).
func buildEngine(cfg settings.Settings, module, specPath, workspaceDir, auditDBPath string) (*orchestrator.Engine, error) {
	absSpec := specPath
	if !filepath.IsAbs(absSpec) {
		absSpec = filepath.Join(workspaceDir, specPath)
	}
	if _, err := os.Stat(absSpec); err != nil {
		return nil, fmt.Errorf("spec file: %w", err)
	}

	storeRoot := filepath.Join(workspaceDir, cfg.SessionStoreDir)
	store, err := session.NewStore(storeRoot)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	auditLog := audit.New()
	if auditDBPath != "" {
		mirror, err := audit.OpenSQLiteMirror(auditDBPath)
		if err != nil {
			return nil, fmt.Errorf("audit mirror: %w", err)
		}
		auditLog.Mirror = mirror
	}

	tracker := budget.New(module, cfg.TokenBudgetPerModule, cfg.PremiumRequestBudget, cfg.BudgetWarningThreshold, cfg.BudgetConfirmThreshold)
	transport := llmtransport.NewOpenAITransport(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.LLMRatePerSecond, cfg.LLMBurst)
	tree := tasktree.NewTree(module, module)

	return &orchestrator.Engine{
		Settings: orchestrator.Settings{
			LLMTimeout:      cfg.LLMTimeout,
			OracleTimeout:   cfg.OracleTimeout,
			WarnFraction:    cfg.BudgetWarningThreshold,
			ConfirmFraction: cfg.BudgetConfirmThreshold,
		},
		Sessions:   store,
		Sections:   section.NewStore(storeRoot),
		Audit:      auditLog,
		Budget:     tracker,
		Churn:      churn.NewTracker(cfg.ChurnThreshold, cfg.MaxConsecutiveFailures*4),
		Circular:   churn.NewCircularDetector(cfg.CircularThreshold),
		Oracle:     oracle.New(transport, auditLog, cfg.OracleTimeout),
		Transport:  transport,
		Git:        gitengine.New(workspaceDir),
		Guardrails: guardrail.StandardPipeline(cfg.BudgetWarningThreshold, cfg.BudgetConfirmThreshold),
		Workflow:   workflow.NewEngine(tree, absSpec),
		Log:        logging.L(),
		Clock:      clock.System{},
		Metrics:    metrics.NewCollector(tracker),
		Module:     module,
		SpecPath:   absSpec,
		Tree:       tree,
	}, nil
}

func sessionCommand(args []string) error {
	sub, rest, err := requirePositional(args, "session subcommand")
	if err != nil {
		return err
	}

	cfg, err := settings.Load()
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	store, err := session.NewStore(filepath.Join(cfg.WorkspaceDir, cfg.SessionStoreDir))
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}

	switch sub {
	case "list":
		return sessionList(store)
	case "show":
		id, _, err := requirePositional(rest, "session id")
		if err != nil {
			return err
		}
		return sessionShow(store, id)
	case "resume":
		id, _, err := requirePositional(rest, "session id")
		if err != nil {
			return err
		}
		return sessionResume(cfg, store, id)
	case "delete":
		id, _, err := requirePositional(rest, "session id")
		if err != nil {
			return err
		}
		return store.Delete(id)
	case "prune":
		nStr, _, err := requirePositional(rest, "retention count")
		if err != nil {
			return err
		}
		var n int
		if _, err := fmt.Sscanf(nStr, "%d", &n); err != nil {
			return fmt.Errorf("retention count must be an integer: %w", err)
		}
		return store.Prune(n)
	default:
		return fmt.Errorf("unknown session subcommand %q", sub)
	}
}

func sessionList(store *session.Store) error {
	ids, err := store.List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		st, _, found, err := store.Load(id)
		if err != nil || !found {
			fmt.Printf("%s\t(unreadable)\n", id)
			continue
		}
		fmt.Printf("%s\t%s\t%s\tcomplete=%v\n", id, st.Module, st.Step, st.IsComplete)
	}
	return nil
}

func sessionShow(store *session.Store, id string) error {
	st, m, found, err := store.Load(id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no such session %q", id)
	}
	fmt.Printf("session:    %s\n", st.SessionID)
	fmt.Printf("module:     %s\n", st.Module)
	fmt.Printf("phase:      %s\n", st.Phase)
	fmt.Printf("step:       %s\n", st.Step)
	fmt.Printf("component:  %s\n", st.Component)
	fmt.Printf("task:       %s\n", st.Task)
	fmt.Printf("complete:   %v\n", st.IsComplete)
	fmt.Printf("iterations: %d\n", m.IterationCount)
	fmt.Printf("tokens:     %d in / %d out\n", m.CumulativeInputTokens, m.CumulativeOutputTokens)
	return nil
}

func sessionResume(cfg settings.Settings, store *session.Store, id string) error {
	st, _, found, err := store.Load(id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no such session %q", id)
	}
	if st.IsComplete {
		fmt.Printf("session %s is already complete\n", id)
		return nil
	}

	logging.Init(cfg, st.Module)
	defer logging.Sync()

	engine, err := buildEngine(cfg, st.Module, "spec.md", cfg.WorkspaceDir, "")
	if err != nil {
		return err
	}
	engine.Tree = st.TaskTree

	ctx, cancel := signalContext()
	defer cancel()
	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("module %s did not complete: %w", st.Module, err)
	}
	fmt.Printf("module %s complete\n", st.Module)
	return nil
}

func revertCommand(args []string) error {
	module, rest, err := requirePositional(args, "module")
	if err != nil {
		return err
	}
	sha, _, err := requirePositional(rest, "commit sha")
	if err != nil {
		return err
	}

	cfg, err := settings.Load()
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	g := gitengine.New(cfg.WorkspaceDir)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := g.ResetHard(ctx, sha); err != nil {
		return fmt.Errorf("reverting module %s to %s: %w", module, sha, err)
	}
	fmt.Printf("workspace reset to %s\n", sha)
	return nil
}

func requirePositional(args []string, name string) (string, []string, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("missing required argument: %s", name)
	}
	return args[0], args[1:], nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
