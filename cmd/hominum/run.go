package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/hominum/launcher/internal/engine"
)

const renderInterval = 250 * time.Millisecond

// passFunc is one orchestrator entry point.
type passFunc func(ctx context.Context, tr *engine.Tracker) (*engine.Outcome, error)

// runPass executes a pass with signal handling and live progress output,
// then prints its summary.
func runPass(name string, pass passFunc) error {
	if err := ensureSingleInstance(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr := engine.NewTracker()
	done := make(chan struct{})
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		if quiet {
			<-done
			return
		}
		renderProgress(tr, done)
	}()

	outcome, err := pass(ctx, tr)
	close(done)
	<-rendered

	if outcome != nil {
		printOutcome(name, outcome)
	}
	return err
}

// renderProgress redraws a single status line whenever the tracker changes,
// at most once per renderInterval.
func renderProgress(tr *engine.Tracker, done <-chan struct{}) {
	var last string
	for {
		ch := tr.Wait()
		line := progressLine(tr.Snapshot())
		if line != last {
			fmt.Fprintf(os.Stderr, "\r\033[K%s", line)
			last = line
		}
		select {
		case <-done:
			fmt.Fprintln(os.Stderr)
			return
		case <-ch:
		}
		select {
		case <-done:
			fmt.Fprintln(os.Stderr)
			return
		case <-time.After(renderInterval):
		}
	}
}

func progressLine(p engine.Progress) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", p.State)
	if p.Title != "" {
		fmt.Fprintf(&b, " %s", p.Title)
	}
	if p.Indeterminate {
		b.WriteString(" ...")
	} else {
		fmt.Fprintf(&b, " %3.0f%%", p.Fraction*100)
	}
	if p.SyncTotal > 0 {
		fmt.Fprintf(&b, " (%d/%d)", p.SyncCount, p.SyncTotal)
	}
	if p.Item != "" {
		fmt.Fprintf(&b, " %s", p.Item)
	}
	return b.String()
}

func printOutcome(name string, o *engine.Outcome) {
	totalDownloaded, totalSkipped, totalDeleted, totalFailed := 0, 0, 0, 0
	for _, r := range o.Reports {
		totalDownloaded += r.Downloaded
		totalSkipped += r.Skipped
		totalDeleted += r.Deleted
		totalFailed += len(r.Failed)

		fmt.Printf("\n%s:\n", r.Remote)
		fmt.Printf("  Downloaded: %d\n", r.Downloaded)
		fmt.Printf("  Skipped:    %d\n", r.Skipped)
		fmt.Printf("  Dirs:       %d\n", r.Dirs)
		fmt.Printf("  Deleted:    %d\n", r.Deleted)
		fmt.Printf("  Missing:    %d\n", r.Missing)
		fmt.Printf("  Failed:     %d\n", len(r.Failed))
		if len(r.Failed) > 0 {
			fmt.Println("  Failed files:")
			for _, ff := range r.Failed {
				fmt.Printf("    - %s: %s\n", ff.Path, ff.Error)
			}
		}
	}

	fmt.Printf("\n=== %s SUMMARY ===\n", strings.ToUpper(name))
	fmt.Printf("Run:        %s\n", o.RunID)
	if o.Descriptor != nil {
		fmt.Printf("Version:    %s\n", o.Descriptor.ID())
	}
	if o.Environment != nil {
		fmt.Printf("Main class: %s\n", o.Environment.MainClass)
	}
	fmt.Printf("Downloaded: %d\n", totalDownloaded)
	fmt.Printf("Skipped:    %d\n", totalSkipped)
	fmt.Printf("Deleted:    %d\n", totalDeleted)
	fmt.Printf("Failed:     %d\n", totalFailed)
	fmt.Printf("Duration:   %s\n", o.EndTime.Sub(o.StartTime).Round(time.Millisecond))
	if o.Success {
		fmt.Println("Result:     success")
	} else {
		fmt.Printf("Result:     failed (%s)\n", o.Reason)
	}
	fmt.Printf("Finished:   %s\n", humanize.Time(o.EndTime))
}

// ensureSingleInstance refuses to start when another hominum process is
// already running, since two passes must not share a work directory.
func ensureSingleInstance() error {
	self, err := os.Executable()
	if err != nil {
		logger.Debug("cannot resolve executable, skipping instance check", "error", err)
		return nil
	}
	procs, err := process.Processes()
	if err != nil {
		logger.Debug("cannot list processes, skipping instance check", "error", err)
		return nil
	}
	pid := int32(os.Getpid())
	for _, p := range procs {
		if p.Pid == pid {
			continue
		}
		name, err := p.Name()
		if err != nil {
			continue
		}
		if sameProgram(name, self) {
			return fmt.Errorf("another %s process is already running (pid %d)", name, p.Pid)
		}
	}
	return nil
}

// sameProgram compares a process name against our executable path. Process
// names may be truncated by the kernel, so a prefix match is enough.
func sameProgram(procName, exe string) bool {
	base := filepath.Base(exe)
	if procName == "" || base == "" {
		return false
	}
	return procName == base || (len(procName) >= 15 && strings.HasPrefix(base, procName))
}
