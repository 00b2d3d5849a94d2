package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInitWithoutCollectorStillLogs(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	shutdown, middleware, logger, err := Init(context.Background(), "roachplaned")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()
	if logger == nil || middleware == nil {
		t.Fatal("logger and middleware must work without a collector")
	}

	srv := httptest.NewServer(middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", resp.StatusCode)
	}
}

func TestJSONLogWriterEmitsStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	w := newJSONLogWriter("roachplaned", &buf)

	if _, err := w.Write([]byte("ERROR job 7: heartbeat lost\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var entry map[string]string
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %q", buf.String())
	}
	if entry["level"] != "ERROR" || entry["service"] != "roachplaned" {
		t.Fatalf("entry = %v", entry)
	}
	if entry["msg"] != "job 7: heartbeat lost" {
		t.Fatalf("msg = %q", entry["msg"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in        string
		wantLevel string
		wantMsg   string
	}{
		{in: "INFO starting dispatcher", wantLevel: "INFO", wantMsg: "starting dispatcher"},
		{in: "WARN: queue empty", wantLevel: "WARN", wantMsg: "queue empty"},
		{in: "[DEBUG] lease acquired", wantLevel: "DEBUG", wantMsg: "lease acquired"},
		{in: "plain message", wantLevel: "INFO", wantMsg: "plain message"},
		{in: "", wantLevel: "INFO", wantMsg: ""},
	}

	for _, tt := range tests {
		level, msg := parseLevel(tt.in)
		if level != tt.wantLevel || msg != tt.wantMsg {
			t.Errorf("parseLevel(%q) = %s/%q, want %s/%q", tt.in, level, msg, tt.wantLevel, tt.wantMsg)
		}
	}
}
