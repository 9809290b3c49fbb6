package main

import (
	"crypto/tls"
	"flag"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/kx0101/accesslog-replayer/internal/logging"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "Listen address")
	version := flag.String("version", "v1", "Server version identifier")
	slow := flag.Duration("slow", 3*time.Second, "Delay of the /slow endpoint")
	failRate := flag.Float64("fail-rate", 0.2, "Share of /flaky requests answered with 503")
	tlsCert := flag.String("tls-cert", "", "TLS certificate (serves https when set with --tls-key)")
	tlsKey := flag.String("tls-key", "", "TLS key")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if err := logging.InitializeLogger(*logLevel); err != nil {
		logging.L.Fatal("invalid log level", zap.Error(err))
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           newRouter(&handlers{version: *version, slow: *slow, failRate: *failRate}),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      *slow + 10*time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	var err error
	if *tlsCert != "" && *tlsKey != "" {
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		logging.L.Info("Mock server running", zap.String("url", "https://"+*addr), zap.String("version", *version))
		err = server.ListenAndServeTLS(*tlsCert, *tlsKey)
	} else {
		logging.L.Info("Mock server running", zap.String("url", "http://"+*addr), zap.String("version", *version))
		err = server.ListenAndServe()
	}

	if err != nil {
		logging.L.Error("mock server stopped", zap.Error(err))
		os.Exit(1)
	}
}
