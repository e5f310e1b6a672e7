package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"isoflow/internal/config"
	"isoflow/internal/controller"
	"isoflow/internal/render"
	"isoflow/internal/runner"
	"isoflow/internal/storage"
	"isoflow/internal/traffic"
)

// Deps are the collaborators of a run. Store and Observer are optional.
type Deps struct {
	Launcher traffic.Launcher
	Renderer render.Renderer
	Store    *storage.Store
	Observer controller.Observer
	Out      io.Writer
}

func (d Deps) out() io.Writer {
	if d.Out == nil {
		return os.Stdout
	}
	return d.Out
}

// Prepare builds and configures the controller for cfg. Configuration
// errors are returned before anything is launched.
func Prepare(cfg config.Config, deps Deps, updates runner.UpdateChan) (*controller.Controller, error) {
	c := controller.New(controller.Options{
		Launcher: deps.Launcher,
		Runner:   runner.Config{TickInterval: 200 * time.Millisecond},
		Updates:  updates,
		Grace:    cfg.DeadlineGrace,
		Title:    cfg.Title,
		Observer: deps.Observer,
	})
	if err := c.Configure(cfg.Plan()); err != nil {
		return nil, err
	}
	return c, nil
}

// Start runs one experiment headless: progress on the console, then the
// summary, rendered histograms and a history entry.
func Start(ctx context.Context, cfg config.Config, deps Deps) (controller.Result, error) {
	out := deps.out()
	updates := make(runner.UpdateChan, 100)
	c, err := Prepare(cfg, deps, updates)
	if err != nil {
		return controller.Result{}, err
	}
	printHeader(out, cfg)

	type outcome struct {
		res controller.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.Run(ctx)
		done <- outcome{res, err}
	}()

	// Start Monitor Loop
	startTime := time.Now()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	latest := map[string]runner.Update{}

	for {
		select {
		case u := <-updates:
			latest[u.Flow] = u
		case <-ticker.C:
			fmt.Fprintf(out, "\r%s", progressLine(time.Since(startTime), cfg.Duration(), c.Phase(), latest))
		case o := <-done:
			fmt.Fprintln(out)
			if o.err != nil {
				return o.res, o.err
			}
			printSummary(out, o.res)
			if err := Finish(ctx, cfg, o.res, deps); err != nil {
				return o.res, err
			}
			return o.res, nil
		}
	}
}

// Finish renders the histograms of completed flows and records the run.
func Finish(ctx context.Context, cfg config.Config, res controller.Result, deps Deps) error {
	out := deps.out()
	title := render.Title(cfg.OfferedLoad, cfg.TOS, cfg.Title, cfg.Duration())
	if deps.Renderer != nil && len(res.Histograms) > 0 {
		paths, err := deps.Renderer.Render(ctx, title, cfg.OutputDirectory, res.Histograms)
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
		log.Info().Str("run_id", res.RunID).Int("files", len(paths)).Msg("histograms written")
	}
	if deps.Store != nil {
		if err := deps.Store.Save(storage.FromResult(res, cfg.OutputDirectory)); err != nil {
			// History is best effort.
			log.Warn().Err(err).Msg("saving run history failed")
		}
	}
	fmt.Fprintf(out, "Finished.  Results written to directory %s\n", cfg.OutputDirectory)
	return nil
}

func printHeader(out io.Writer, cfg config.Config) {
	fmt.Fprintf(out, "\n🚀 STARTING ISOFLOW RUN\n")
	fmt.Fprintf(out, "======================================================================\n")
	fmt.Fprintf(out, "Running isochronous traffic client=%s server=%s dest=%s with load %s for %s seconds\n",
		cfg.Client, cfg.Server, cfg.Dst, cfg.OfferedLoad, formatSeconds(cfg.Duration()))
	if cfg.StressEnabled() {
		fmt.Fprintf(out, "Running stress %s traffic client=%s server=%s dest=%s with load %s\n",
			cfg.Stress.Proto, cfg.Stress.Client, cfg.Stress.Server, cfg.Stress.Dst, cfg.Stress.OfferedLoad)
	}
	fmt.Fprintf(out, "Output     : %s\n", cfg.OutputDirectory)
	fmt.Fprintf(out, "======================================================================\n\n")
}

func progressLine(elapsed, total time.Duration, phase controller.Phase, latest map[string]runner.Update) string {
	pct := 0.0
	if total > 0 {
		pct = elapsed.Seconds() / total.Seconds()
	}
	if pct > 1.0 {
		pct = 1.0
	}

	names := make([]string, 0, len(latest))
	for name := range latest {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %3.0f%% | %s/%s | %s", progressBar(pct, 20), pct*100,
		elapsed.Round(time.Second), total, phase)
	for _, name := range names {
		u := latest[name]
		fmt.Fprintf(&b, " | %s %s rpt:%d", name, u.State, u.Reports)
		if u.P99LatencyMs > 0 {
			fmt.Fprintf(&b, " p99:%.2fms", u.P99LatencyMs)
		}
	}
	return b.String()
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func printSummary(out io.Writer, res controller.Result) {
	fmt.Fprintf(out, "\n📊 RUN RESULTS (%s)\n", res.RunID)
	fmt.Fprintf(out, "======================================================================\n")
	fmt.Fprintf(out, "Total Duration : %s\n", res.Duration().Round(time.Millisecond))
	for _, name := range res.Order {
		st := res.Status[name]
		fmt.Fprintf(out, "%-8s %-11s %-9s reports=%d bytes=%d elapsed=%s\n",
			name, st.Role, st.State, st.Reports, st.Bytes, st.Elapsed.Round(time.Millisecond))
		for _, h := range res.Histograms[name] {
			fmt.Fprintf(out, "   %-8s n=%-7d p50=%.3f%s p99=%.3f%s\n",
				h.Metric, h.Total(), h.Quantile(50), h.Unit, h.Quantile(99), h.Unit)
		}
	}

	if failed := res.Failed(); len(failed) > 0 {
		fmt.Fprintf(out, "\n❌ FAILURE SUMMARY\n")
		for _, name := range failed {
			fmt.Fprintf(out, "   %s: %v\n", name, res.Status[name].Err)
		}
	}
	fmt.Fprintf(out, "======================================================================\n")
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
