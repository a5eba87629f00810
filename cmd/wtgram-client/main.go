package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"wtgram/pkg/client"
	"wtgram/pkg/codec"
	"wtgram/pkg/config"
	"wtgram/pkg/observability"
	"wtgram/pkg/session"
	"wtgram/pkg/wterr"
)

func main() {
	cfgPath := flag.String("config", "", "path to wtgram.yaml (optional)")
	target := flag.String("url", "", "target url, e.g. https://127.0.0.1:4433")
	message := flag.String("message", "hello wtgram", "datagram payload to send")
	count := flag.Int("count", 1, "number of datagrams to send")
	timeout := flag.Duration("timeout", 10*time.Second, "overall deadline")
	insecure := flag.Bool("insecure", false, "skip certificate verification for the target host")
	format := flag.String("format", "application/json", "event output content type")
	flag.Parse()

	if *target == "" {
		fatalf("missing -url")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	cfg.Unstable = true

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fatalf("setup logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := client.New(cfg, nil)

	cancelH, _, err := c.CheckPermissionAndCancelHandle(*target, "wtgram-client", true)
	if err != nil {
		fatalf("permission: %v (%s)", err, wterr.ClassOf(err))
	}

	if *insecure {
		host, err := hostOf(*target)
		if err != nil {
			fatalf("%v", err)
		}
		cfg.TLS.InsecureHosts = append(cfg.TLS.InsecureHosts, host)
	}

	h, err := c.Create(ctx, "wtgram-client", *target, nil, cancelH)
	if err != nil {
		fatalf("create: %v (%s)", err, wterr.ClassOf(err))
	}
	zap.L().Info("session ready", zap.Uint64("handle", uint64(h)))

	codecs, err := codec.NewRegistry()
	if err != nil {
		fatalf("codecs: %v", err)
	}
	enc := codecs.Get(*format)
	if enc == nil {
		fatalf("unknown format %q", *format)
	}

	for i := 0; i < *count; i++ {
		if err := c.Send(ctx, h, []byte(*message)); err != nil {
			fatalf("send: %v (%s)", err, wterr.ClassOf(err))
		}
		ev, err := c.NextEvent(ctx, h)
		if err != nil {
			fatalf("next event: %v (%s)", err, wterr.ClassOf(err))
		}
		b, err := enc.Marshal(ev)
		if err != nil {
			fatalf("encode event: %v", err)
		}
		fmt.Println(string(b))
		if ev.Kind != session.EventBinary {
			break
		}
	}

	if err := c.CloseHandle(h); err != nil {
		zap.L().Warn("close session handle", zap.Error(err))
	}
	if err := c.CloseHandle(cancelH); err != nil {
		zap.L().Warn("close cancel handle", zap.Error(err))
	}
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", rawURL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return u.Hostname(), nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
