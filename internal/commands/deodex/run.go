// Package deodex implements the deodex batch command.
package deodex

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apex/log"
	"github.com/blacktop/deodex/internal/utils"
	"github.com/blacktop/deodex/pkg/classpath"
	"github.com/blacktop/deodex/pkg/deodex"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
)

// ErrAllFailed is returned by Run when no method of a non-empty bundle could be analyzed
var ErrAllFailed = errors.New("failed to deodex every method")

// Config is the deodex batch config
type Config struct {
	Oracle  classpath.Oracle
	Inline  classpath.InlineResolver
	Workers int
	// Progress, if set, receives a progress bar
	Progress io.Writer
}

// Report is the outcome of a batch. Results and Errors are indexed like the bundle's methods;
// exactly one of them is set per method.
type Report struct {
	Results  []*deodex.Result
	Errors   []error
	Warnings []string

	Resolved   int
	Dead       int
	Failed     int
	Incomplete int
}

// Run deodexes every method of b. A method that cannot be analyzed is logged and recorded in
// the report; the batch goes on with the next one.
func Run(ctx context.Context, b *Bundle, conf *Config) (*Report, error) {
	if conf.Oracle == nil {
		return nil, fmt.Errorf("no class hierarchy oracle")
	}
	workers := conf.Workers
	if workers < 1 {
		workers = 1
	}

	r := &Report{
		Results: make([]*deodex.Result, len(b.Methods)),
		Errors:  make([]error, len(b.Methods)),
	}
	analyzer := deodex.NewAnalyzer(conf.Oracle, conf.Inline)

	var (
		p   *mpb.Progress
		bar *mpb.Bar
	)
	if conf.Progress != nil && len(b.Methods) > 0 {
		p = mpb.New(mpb.WithWidth(80), mpb.WithOutput(conf.Progress))
		name := "      "
		bar = p.New(int64(len(b.Methods)),
			mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
			mpb.PrependDecorators(
				decor.Name(name, decor.WC{W: len(name), C: decor.DindentRight | decor.DextraSpace}),
				decor.OnComplete(
					decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "✅ ",
				),
			),
			mpb.AppendDecorators(
				decor.CountersNoUnit("%d/%d"),
				decor.Name(" ] "),
			),
		)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range b.Methods {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if bar != nil {
				defer bar.Increment()
			}
			m, err := b.Method(i)
			if err == nil {
				r.Results[i], err = analyzer.Deodex(m)
			}
			if err != nil {
				r.Errors[i] = err
				log.WithError(err).WithField("method", b.Methods[i].Method).Error("Failed to deodex method")
			}
			return nil
		})
	}
	err := g.Wait()
	if p != nil {
		if err != nil {
			bar.Abort(false)
		}
		p.Wait()
	}
	if err != nil {
		return nil, err
	}

	for _, res := range r.Results {
		if res == nil {
			r.Failed++
			continue
		}
		for _, l := range res.Lines {
			if l.Resolved {
				r.Resolved++
			}
			if l.Dead {
				r.Dead++
			}
		}
		if w := res.Warning(); w != "" {
			r.Incomplete++
			r.Warnings = append(r.Warnings, w)
		}
	}
	if len(b.Methods) > 0 && r.Failed == len(b.Methods) {
		return r, ErrAllFailed
	}
	return r, nil
}

// LogWarnings prints the collected warnings after a batch
func (r *Report) LogWarnings() {
	if len(r.Warnings) == 0 {
		return
	}
	log.Warnf("%d method(s) could not be fully deodexed", len(r.Warnings))
	for _, w := range r.Warnings {
		utils.Indent(log.Warn, 2)(w)
	}
}
