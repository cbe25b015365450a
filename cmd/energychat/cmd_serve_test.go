package main

import (
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func waitServing(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server on %s not serving", addr)
}

func TestRestartServesAgainWhenExecFails(t *testing.T) {
	orig := execProcess
	execProcess = func(string, []string, []string) error { return errors.New("exec format error") }
	defer func() { execProcess = orig }()

	dir := t.TempDir()
	pidFile, err := writePIDFile(dir)
	if err != nil {
		t.Fatal(err)
	}

	addr := freeAddr(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	errCh := make(chan error, 1)
	first := listen(addr, handler, errCh)
	waitServing(t, addr)

	second := restart(first, dir, pidFile, errCh)
	defer second.Close()
	if second == first {
		t.Fatal("expected a fresh server")
	}
	waitServing(t, addr)

	select {
	case err := <-errCh:
		t.Fatalf("unexpected listen error: %v", err)
	default:
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("expected PID file to be rewritten: %v", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		t.Error("expected a PID in the file")
	}
}
