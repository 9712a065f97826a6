// Command filexfer is a point-to-point reliable file transfer tool built
// on top of plain UDP. Run with no arguments to listen for an incoming
// file; run with a destination IP and a file path to send one.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"udpflow/internal/config"
	"udpflow/internal/driver"
	"udpflow/internal/engine"
	"udpflow/internal/logger"
	"udpflow/internal/metrics"
)

func main() {
	args := os.Args[1:]
	metricsAddr := ""
	args = extractMetricsFlag(args, &metricsAddr)

	log := logger.New(logger.INFO, os.Stdout, "")

	var sending bool
	var destIP, filePath string

	switch len(args) {
	case 0:
		sending = false
		ip, err := driver.OwnIP()
		if err != nil {
			log.Warn("could not determine own IP: %v", err)
		} else {
			log.Info("send files to %s to receive them here", ip)
		}
	case 2:
		sending = true
		destIP = args[0]
		filePath = args[1]
		if err := config.ValidateHost(destIP); err != nil {
			log.Fatal("invalid destination: %v", err)
		}
		if err := config.ValidateFilePath(filePath); err != nil {
			log.Fatal("invalid file path: %v", err)
		}
		log.Info("sending %s to %s", filePath, destIP)
	default:
		fmt.Println("Usage:")
		fmt.Println("  filexfer                   listen for an incoming file")
		fmt.Println("  filexfer <dest_ip> <file>  send <file> to <dest_ip>")
		os.Exit(1)
	}

	xferMetrics := metrics.NewTransfer()
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(xferMetrics))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Error("metrics server stopped: %v", err)
			}
		}()
		log.Info("metrics exposed on http://%s/metrics", metricsAddr)
	}

	ctx, err := engine.NewContext(sending, log, xferMetrics)
	if err != nil {
		log.Fatal("failed to set up networking: %v", err)
	}
	defer ctx.Close()

	go ctx.RunIngress()
	go ctx.RunEgress()
	go ctx.RunTimer()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("waiting for clean exit...")
		ctx.Stop()
	}()

	if sending {
		if err := driver.Send(ctx, destIP, filePath); err != nil {
			log.Fatal("transfer failed: %v", err)
		}
	} else {
		outPath, err := driver.Receive(ctx, ".")
		if err != nil {
			log.Fatal("transfer failed: %v", err)
		}
		if outPath != "" {
			log.Info("wrote %s", outPath)
		}
	}

	ctx.Stop()
	fmt.Println("Bye!")
}

// extractMetricsFlag pulls a "-metrics-addr <addr>" pair out of args,
// wherever it appears, without disturbing argc-based mode selection for everything after it.
func extractMetricsFlag(args []string, addr *string) []string {
	out := args[:0:0]
	for i := 0; i < len(args); i++ {
		if args[i] == "-metrics-addr" && i+1 < len(args) {
			*addr = args[i+1]
			i++
			continue
		}
		out = append(out, args[i])
	}
	return out
}
