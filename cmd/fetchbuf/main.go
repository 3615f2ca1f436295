package main

import (
	"context"
	"net/http"
	_ "net/http/pprof" //nolint:gosec
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	mangokong "github.com/alecthomas/mango-kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ozontech/fetchbuf/consts"
	"github.com/ozontech/fetchbuf/metrics"
	"github.com/ozontech/fetchbuf/session/types"
)

var CLI struct {
	Get         GetCommand        `cmd:"" help:"Fetch a resource once and stream it to concurrent readers."`
	Man         mangokong.ManFlag `help:"Write man page." hidden:""`
	DebugServer string            `placeholder:":8081" help:"Listen address of debug server (pprof, /metrics)."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(
		&CLI,
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Vars{"timeout": consts.DefaultTimeout.String()},
		kong.Groups(map[string]string{
			"request": `Request flags:`,
			"report":  `Report flags:`,
		}),
		kong.ConfigureHelp(kong.HelpOptions{
			Tree:    true,
			Compact: true,
		}),
		kong.Description(`fetch once, read many

The fetchbuf downloads a resource a single time and serves it to any number of concurrent readers while the download is in progress.
		`),
	)

	var m types.Metrics = types.NopMetrics{}
	if CLI.DebugServer != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.NewCollector("fetchbuf", reg)
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			http.ListenAndServe(CLI.DebugServer, nil) //nolint:errcheck,gosec
		}()
	}
	kongCtx.BindTo(m, (*types.Metrics)(nil))

	err := kongCtx.Run()
	kongCtx.FatalIfErrorf(err)
}
