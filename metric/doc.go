// Package metric provides Prometheus-based metrics collection and an HTTP
// server for pipeline monitoring.
//
// The package offers a centralized registry managing both core platform
// metrics (service status, message processing, NATS health) and custom
// component-specific metrics. It includes an HTTP server exposing metrics
// in Prometheus format.
//
// Setting up metrics collection and the HTTP server:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        log.Printf("Metrics server error: %v", err)
//	    }
//	}()
//	defer server.Stop()
//
//	coreMetrics := registry.CoreMetrics()
//	coreMetrics.RecordServiceStatus("feature-processor", 2) // running
//
// Components register their own metrics through the MetricsRegistrar
// interface, which keeps them testable with mock registrars:
//
//	eventsCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
//	    Name: "events_total",
//	    Help: "Events handled by outcome",
//	}, []string{"outcome"})
//	err := registry.RegisterCounterVec("feature-processor", "events_total", eventsCounter)
//
// All core metrics use the namespace "machinehealth". Registration is
// thread-safe; metric recording is lock-free per the Prometheus client's
// guarantees.
package metric
