/*
Package health probes the gateway's dependencies in the background and
feeds the results into the readiness registry kept by pkg/metrics.

A Monitor owns a set of named checkers. Every interval it runs each one
with a timeout and records the outcome in a Status. A component is only
reported unhealthy after Retries consecutive failures, so a single slow
ping does not flip /ready.

Two checkers are provided:

  - TCPChecker dials an address, used for the MQTT broker
  - FuncChecker wraps a probe function such as BoltStore.Ping

Usage:

	monitor := health.NewMonitor(health.Config{Interval: 15 * time.Second})
	monitor.Add("storage", health.NewFuncChecker("open", func(context.Context) error {
		return store.Ping()
	}))
	monitor.Start()
	defer monitor.Stop()
*/
package health
